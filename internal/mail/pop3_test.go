package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/knadh/go-pop3"
	"github.com/stretchr/testify/require"
)

type fakePOP3Conn struct {
	uidl      []pop3.MessageID
	raw       map[int][]byte
	deleted   []int
	quitCalls int

	authErr error
	uidlErr error
	listErr error
	retrErr map[int]error
}

func (f *fakePOP3Conn) Auth(_, _ string) error {
	return f.authErr
}

func (f *fakePOP3Conn) Quit() error {
	f.quitCalls++
	return nil
}

func (f *fakePOP3Conn) Uidl(_ int) ([]pop3.MessageID, error) {
	if f.uidlErr != nil {
		return nil, f.uidlErr
	}
	out := make([]pop3.MessageID, len(f.uidl))
	copy(out, f.uidl)
	return out, nil
}

func (f *fakePOP3Conn) List(_ int) ([]pop3.MessageID, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]pop3.MessageID, len(f.uidl))
	copy(out, f.uidl)
	return out, nil
}

func (f *fakePOP3Conn) RetrRaw(id int) (*bytes.Buffer, error) {
	if err, ok := f.retrErr[id]; ok {
		return nil, err
	}
	payload, ok := f.raw[id]
	if !ok {
		return nil, fmt.Errorf("unknown message %d", id)
	}
	return bytes.NewBuffer(payload), nil
}

func (f *fakePOP3Conn) Dele(ids ...int) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

func testSource(conn pop3Connection, opts ...POP3Option) *POP3Source {
	all := append([]POP3Option{
		withPOP3ConnFactory(func() (pop3Connection, error) { return conn, nil }),
	}, opts...)
	return NewPOP3Source("mail.example", 995, true, "agent", "secret", all...)
}

func rawMail(messageID, subject, body string) []byte {
	msg := fmt.Sprintf("From: Client <client@example.com>\r\n"+
		"Subject: %s\r\n", subject)
	if messageID != "" {
		msg += fmt.Sprintf("Message-Id: <%s>\r\n", messageID)
	}
	msg += "Date: Mon, 17 Jun 2024 10:30:00 +0300\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n\r\n" + body
	return []byte(msg)
}

func TestPOP3FetchParsesAndDeletes(t *testing.T) {
	conn := &fakePOP3Conn{
		uidl: []pop3.MessageID{
			{ID: 1, UID: "uid-1", Size: 120},
			{ID: 2, UID: "uid-2", Size: 350},
		},
		raw: map[int][]byte{
			1: rawMail("m1@example.com", "first", "не работает принтер"),
			2: rawMail("m2@example.com", "second", "как подключить сканер"),
		},
	}
	source := testSource(conn)

	messages, err := source.FetchNew(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, []int{1, 2}, conn.deleted)
	require.Equal(t, 1, conn.quitCalls)

	require.Equal(t, "m1@example.com", messages[0].SourceID)
	require.Equal(t, "m1@example.com", messages[0].MessageID)
	require.Equal(t, "first", messages[0].Subject)
	require.Equal(t, "client@example.com", messages[0].From)
	require.Equal(t, "Client", messages[0].FromName)
	require.Equal(t, "не работает принтер", messages[0].Body)
}

func TestPOP3FetchSourceIDFallback(t *testing.T) {
	conn := &fakePOP3Conn{
		uidl: []pop3.MessageID{{ID: 1, UID: "uid-1"}},
		raw:  map[int][]byte{1: rawMail("", "no id", "body")},
	}
	source := testSource(conn)

	messages, err := source.FetchNew(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "agent@mail.example:uid-1", messages[0].SourceID)
	require.Empty(t, messages[0].MessageID)
}

func TestPOP3FetchRespectsLimit(t *testing.T) {
	conn := &fakePOP3Conn{
		uidl: []pop3.MessageID{{ID: 1, UID: "a"}, {ID: 2, UID: "b"}, {ID: 3, UID: "c"}},
		raw: map[int][]byte{
			1: rawMail("a@x", "1", "b1"),
			2: rawMail("b@x", "2", "b2"),
			3: rawMail("c@x", "3", "b3"),
		},
	}
	source := testSource(conn)

	messages, err := source.FetchNew(context.Background(), "INBOX", 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, []int{1, 2}, conn.deleted)
}

func TestPOP3FetchFallsBackToList(t *testing.T) {
	conn := &fakePOP3Conn{
		uidl:    []pop3.MessageID{{ID: 1, UID: "uid-1"}},
		raw:     map[int][]byte{1: rawMail("m@x", "s", "b")},
		uidlErr: errors.New("uidl unsupported"),
	}
	source := testSource(conn)

	messages, err := source.FetchNew(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
}

func TestPOP3FetchSkipsRetrFailures(t *testing.T) {
	conn := &fakePOP3Conn{
		uidl:    []pop3.MessageID{{ID: 1, UID: "a"}, {ID: 2, UID: "b"}},
		raw:     map[int][]byte{1: rawMail("a@x", "ok", "b")},
		retrErr: map[int]error{2: errors.New("-ERR no such message")},
	}
	source := testSource(conn)

	messages, err := source.FetchNew(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, []int{1}, conn.deleted)
}

func TestPOP3FetchKeepsMessagesWhenDeletionDisabled(t *testing.T) {
	conn := &fakePOP3Conn{
		uidl: []pop3.MessageID{{ID: 1, UID: "a"}},
		raw:  map[int][]byte{1: rawMail("a@x", "s", "b")},
	}
	source := testSource(conn, WithPOP3DeleteAfterFetch(false))

	_, err := source.FetchNew(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	require.Empty(t, conn.deleted)
}

func TestPOP3FetchAuthError(t *testing.T) {
	conn := &fakePOP3Conn{authErr: errors.New("bad creds")}
	source := testSource(conn)

	_, err := source.FetchNew(context.Background(), "INBOX", 10)
	require.ErrorContains(t, err, "pop3 auth")
}

func TestPOP3FetchConnectErrorWrapped(t *testing.T) {
	source := NewPOP3Source("mail.example", 995, true, "agent", "secret",
		withPOP3ConnFactory(func() (pop3Connection, error) {
			return nil, errors.New("dial failed")
		}))

	_, err := source.FetchNew(context.Background(), "INBOX", 10)
	require.ErrorContains(t, err, "pop3 connect")
}

func TestPOP3FetchEmptyMailbox(t *testing.T) {
	conn := &fakePOP3Conn{}
	source := testSource(conn)

	messages, err := source.FetchNew(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	require.Empty(t, messages)
	require.Equal(t, 1, conn.quitCalls)
}

func TestPOP3FetchUsesClockWhenDateMissing(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	raw := []byte("From: c@x\r\nSubject: nodate\r\n\r\nbody")
	conn := &fakePOP3Conn{
		uidl: []pop3.MessageID{{ID: 1, UID: "a"}},
		raw:  map[int][]byte{1: raw},
	}
	source := testSource(conn, WithPOP3Clock(func() time.Time { return now }))

	messages, err := source.FetchNew(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, now, messages[0].ReceivedAt)
}
