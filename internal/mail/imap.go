package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"
)

// IMAPSource fetches inbound mail over IMAP. Each poll reads the newest
// messages of the mailbox; messages seen on a previous poll are weeded
// out downstream by the ingestion deduplicator, so re-reading them here
// is harmless.
type IMAPSource struct {
	host        string
	addr        string
	username    string
	password    string
	dialTimeout time.Duration
	clock       func() time.Time
	logger      *zap.Logger
}

// NewIMAPSource builds an IMAP source for one account. The connection
// always uses implicit TLS.
func NewIMAPSource(host string, port int, username, password string, dialTimeout time.Duration, logger *zap.Logger) *IMAPSource {
	if dialTimeout <= 0 {
		dialTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IMAPSource{
		host:        host,
		addr:        fmt.Sprintf("%s:%d", host, port),
		username:    username,
		password:    password,
		dialTimeout: dialTimeout,
		clock:       time.Now,
		logger:      logger,
	}
}

func (s *IMAPSource) FetchNew(ctx context.Context, mailbox string, limit int) ([]RawMessage, error) {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if limit < 1 {
		limit = 1
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := s.connect()
	if err != nil {
		return nil, fmt.Errorf("imap connect: %w", err)
	}
	defer client.Close()

	if err := client.Login(s.username, s.password).Wait(); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	defer func() {
		if err := client.Logout().Wait(); err != nil {
			s.logger.Debug("imap logout failed", zap.Error(err))
		}
	}()

	selected, err := client.Select(mailbox, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap select %q: %w", mailbox, err)
	}
	if selected.NumMessages == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	total := selected.NumMessages
	from := uint32(1)
	if total > uint32(limit) {
		from = total - uint32(limit) + 1
	}
	var seqSet imap.SeqSet
	seqSet.AddRange(from, total)

	buffers, err := client.Fetch(seqSet, &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{{}},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	messages := make([]RawMessage, 0, len(buffers))
	for _, buffer := range buffers {
		var raw []byte
		for _, section := range buffer.BodySection {
			raw = section
			break
		}
		if len(raw) == 0 {
			s.logger.Warn("imap message without body section",
				zap.Uint32("seq", buffer.SeqNum), zap.String("mailbox", mailbox))
			continue
		}
		messages = append(messages, s.toRawMessage(raw, buffer.SeqNum, mailbox))
	}
	return messages, nil
}

func (s *IMAPSource) connect() (*imapclient.Client, error) {
	dialer := &net.Dialer{Timeout: s.dialTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", s.addr, &tls.Config{ServerName: s.host})
	if err != nil {
		return nil, err
	}
	return imapclient.New(conn, &imapclient.Options{}), nil
}

func (s *IMAPSource) toRawMessage(raw []byte, seq uint32, mailbox string) RawMessage {
	uid := fmt.Sprintf("%s-%d", mailbox, seq)

	parsed, err := ParseRaw(raw)
	if err != nil {
		s.logger.Warn("imap message parse failed, keeping raw body",
			zap.Uint32("seq", seq), zap.Error(err))
		return RawMessage{
			SourceID:   remoteID(s.username, s.host, uid),
			Body:       string(raw),
			ReceivedAt: s.clock(),
		}
	}

	sourceID := parsed.MessageID
	if sourceID == "" {
		sourceID = remoteID(s.username, s.host, uid)
	}
	receivedAt := parsed.Date
	if receivedAt.IsZero() {
		receivedAt = s.clock()
	}
	return RawMessage{
		SourceID:   sourceID,
		MessageID:  parsed.MessageID,
		From:       parsed.FromAddress,
		FromName:   parsed.FromName,
		Subject:    parsed.Subject,
		Body:       parsed.Body,
		InReplyTo:  parsed.InReplyTo,
		ReceivedAt: receivedAt,
	}
}
