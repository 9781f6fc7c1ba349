// Package mail adapts external mailboxes to the ingestion pipeline:
// IMAP and POP3 sources on the inbound side, SMTP on the outbound one.
// All adapters speak plain text; HTML bodies are flattened on the way in.
package mail

import (
	"context"
	"fmt"
	"time"
)

// RawMessage is one inbound email, already parsed down to the fields the
// pipeline needs. SourceID is the stable external identity used for
// deduplication: the Message-ID header when present, otherwise an
// account-scoped identifier derived from the mailbox position.
type RawMessage struct {
	SourceID   string
	MessageID  string
	From       string
	FromName   string
	Subject    string
	Body       string
	InReplyTo  string
	ReceivedAt time.Time
}

// OutboundMessage is a reply to be delivered to the client. InReplyTo
// carries the Message-ID of the client's email so replies thread
// correctly.
type OutboundMessage struct {
	To        string
	ToName    string
	Subject   string
	Body      string
	InReplyTo string
}

// DeliveryReceipt reports a completed send.
type DeliveryReceipt struct {
	MessageID string
	SentAt    time.Time
}

// Source fetches unseen messages from a mailbox. Implementations limit
// the batch to at most limit messages and never return a message twice
// within one call.
type Source interface {
	FetchNew(ctx context.Context, mailbox string, limit int) ([]RawMessage, error)
}

// Sender delivers outbound replies.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) (*DeliveryReceipt, error)
}

// remoteID builds the fallback source identity for messages lacking a
// Message-ID header.
func remoteID(username, host, uid string) string {
	if username == "" {
		return fmt.Sprintf("%s:%s", host, uid)
	}
	return fmt.Sprintf("%s@%s:%s", username, host, uid)
}

// replySubject prefixes the original subject for threading, keeping an
// existing prefix intact.
func replySubject(subject string) string {
	if len(subject) >= 3 && (subject[:3] == "Re:" || subject[:3] == "RE:" || subject[:3] == "re:") {
		return subject
	}
	if subject == "" {
		return "Re: (без темы)"
	}
	return "Re: " + subject
}
