package mail

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/knadh/go-pop3"
	"go.uber.org/zap"
)

// pop3Connection is the slice of the POP3 client the source relies on,
// kept narrow so tests can substitute a fake.
type pop3Connection interface {
	Auth(user, password string) error
	Quit() error
	Uidl(msgID int) ([]pop3.MessageID, error)
	List(msgID int) ([]pop3.MessageID, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
	Dele(msgIDs ...int) error
}

type pop3Options struct {
	deleteAfterFetch bool
	dialTimeout      time.Duration
	clock            func() time.Time
	connFactory      func() (pop3Connection, error)
	logger           *zap.Logger
}

// POP3Option tweaks the POP3 source.
type POP3Option func(*pop3Options)

// WithPOP3DeleteAfterFetch controls whether fetched messages are deleted
// from the server. Deletion is the default; without it every poll sees
// the same messages again and relies on deduplication alone.
func WithPOP3DeleteAfterFetch(enabled bool) POP3Option {
	return func(o *pop3Options) { o.deleteAfterFetch = enabled }
}

// WithPOP3DialTimeout bounds the TCP connect.
func WithPOP3DialTimeout(timeout time.Duration) POP3Option {
	return func(o *pop3Options) { o.dialTimeout = timeout }
}

// WithPOP3Clock overrides the clock used for messages without a Date
// header.
func WithPOP3Clock(clock func() time.Time) POP3Option {
	return func(o *pop3Options) { o.clock = clock }
}

// WithPOP3Logger sets the logger.
func WithPOP3Logger(logger *zap.Logger) POP3Option {
	return func(o *pop3Options) { o.logger = logger }
}

// withPOP3ConnFactory substitutes the connection factory in tests.
func withPOP3ConnFactory(factory func() (pop3Connection, error)) POP3Option {
	return func(o *pop3Options) { o.connFactory = factory }
}

// POP3Source fetches inbound mail over POP3. The protocol has a single
// mailbox, so the mailbox argument of FetchNew is ignored.
type POP3Source struct {
	host     string
	username string
	password string
	opts     pop3Options
}

// NewPOP3Source builds a POP3 source for one account.
func NewPOP3Source(host string, port int, tlsEnabled bool, username, password string, opts ...POP3Option) *POP3Source {
	options := pop3Options{
		deleteAfterFetch: true,
		dialTimeout:      15 * time.Second,
		clock:            time.Now,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.connFactory == nil {
		options.connFactory = func() (pop3Connection, error) {
			client := pop3.New(pop3.Opt{
				Host:        host,
				Port:        port,
				TLSEnabled:  tlsEnabled,
				DialTimeout: options.dialTimeout,
			})
			return client.NewConn()
		}
	}
	return &POP3Source{
		host:     host,
		username: username,
		password: password,
		opts:     options,
	}
}

func (s *POP3Source) FetchNew(ctx context.Context, _ string, limit int) ([]RawMessage, error) {
	if limit < 1 {
		limit = 1
	}

	conn, err := s.opts.connFactory()
	if err != nil {
		return nil, fmt.Errorf("pop3 connect: %w", err)
	}
	defer s.safeQuit(conn)

	if err := conn.Auth(s.username, s.password); err != nil {
		return nil, fmt.Errorf("pop3 auth: %w", err)
	}

	ids, err := conn.Uidl(0)
	if err != nil {
		s.opts.logger.Warn("pop3 uidl failed, falling back to list", zap.Error(err))
		ids, err = conn.List(0)
		if err != nil {
			return nil, fmt.Errorf("pop3 list: %w", err)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	messages := make([]RawMessage, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return messages, err
		}
		buf, err := conn.RetrRaw(id.ID)
		if err != nil {
			s.opts.logger.Warn("pop3 retr failed, skipping message",
				zap.Int("id", id.ID), zap.Error(err))
			continue
		}
		messages = append(messages, s.toRawMessage(buf.Bytes(), id))
		if s.opts.deleteAfterFetch {
			if err := conn.Dele(id.ID); err != nil {
				s.opts.logger.Warn("pop3 dele failed", zap.Int("id", id.ID), zap.Error(err))
			}
		}
	}
	return messages, nil
}

func (s *POP3Source) toRawMessage(raw []byte, id pop3.MessageID) RawMessage {
	uid := id.UID
	if uid == "" {
		uid = strconv.Itoa(id.ID)
	}

	parsed, err := ParseRaw(raw)
	if err != nil {
		s.opts.logger.Warn("pop3 message parse failed, keeping raw body",
			zap.String("uid", uid), zap.Error(err))
		return RawMessage{
			SourceID:   remoteID(s.username, s.host, uid),
			Body:       string(raw),
			ReceivedAt: s.opts.clock(),
		}
	}

	sourceID := parsed.MessageID
	if sourceID == "" {
		sourceID = remoteID(s.username, s.host, uid)
	}
	receivedAt := parsed.Date
	if receivedAt.IsZero() {
		receivedAt = s.opts.clock()
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

func (s *POP3Source) safeQuit(conn pop3Connection) {
	if err := conn.Quit(); err != nil {
		s.opts.logger.Warn("pop3 quit failed", zap.Error(err))
	}
}
