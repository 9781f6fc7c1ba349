package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supportops/mailtriage/pkg/apperrors"
)

// SMTPSender delivers replies. It first tries implicit TLS on the SSL
// port and falls back to STARTTLS on the submission port, the common
// pairing for 465/587 providers.
type SMTPSender struct {
	host        string
	portSSL     int
	portTLS     int
	username    string
	password    string
	from        string
	fromName    string
	dialTimeout time.Duration
	clock       func() time.Time
	logger      *zap.Logger
}

// NewSMTPSender builds a sender for one outbound account.
func NewSMTPSender(host string, portSSL, portTLS int, username, password, from, fromName string, dialTimeout time.Duration, logger *zap.Logger) *SMTPSender {
	if portSSL <= 0 {
		portSSL = 465
	}
	if portTLS <= 0 {
		portTLS = 587
	}
	if dialTimeout <= 0 {
		dialTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPSender{
		host:        host,
		portSSL:     portSSL,
		portTLS:     portTLS,
		username:    username,
		password:    password,
		from:        from,
		fromName:    fromName,
		dialTimeout: dialTimeout,
		clock:       time.Now,
		logger:      logger,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg OutboundMessage) (*DeliveryReceipt, error) {
	if msg.To == "" {
		return nil, apperrors.NewTransportError(errors.New("outbound message has no recipient"))
	}

	messageID := fmt.Sprintf("%s@%s", uuid.NewString(), s.host)
	raw, err := s.compose(msg, messageID)
	if err != nil {
		return nil, apperrors.NewTransportError(fmt.Errorf("compose message: %w", err))
	}

	if sslErr := s.sendImplicitTLS(ctx, msg.To, raw); sslErr != nil {
		s.logger.Warn("smtp ssl delivery failed, retrying with starttls",
			zap.Int("port", s.portSSL), zap.Error(sslErr))
		if tlsErr := s.sendSTARTTLS(ctx, msg.To, raw); tlsErr != nil {
			return nil, apperrors.NewTransportError(errors.Join(sslErr, tlsErr))
		}
	}
	return &DeliveryReceipt{MessageID: messageID, SentAt: s.clock()}, nil
}

func (s *SMTPSender) compose(msg OutboundMessage, messageID string) ([]byte, error) {
	var header gomail.Header
	header.SetDate(s.clock())
	header.SetAddressList("From", []*gomail.Address{{Name: s.fromName, Address: s.from}})
	header.SetAddressList("To", []*gomail.Address{{Name: msg.ToName, Address: msg.To}})
	header.SetSubject(replySubject(msg.Subject))
	header.SetMsgIDList("Message-Id", []string{messageID})
	if msg.InReplyTo != "" {
		header.SetMsgIDList("In-Reply-To", []string{msg.InReplyTo})
		header.SetMsgIDList("References", []string{msg.InReplyTo})
	}
	header.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	writer, err := gomail.CreateSingleInlineWriter(&buf, header)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(writer, msg.Body); err != nil {
		writer.Close()
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *SMTPSender) sendImplicitTLS(ctx context.Context, to string, raw []byte) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.portSSL)
	tlsDialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: s.dialTimeout},
		Config:    &tls.Config{ServerName: s.host},
	}
	conn, err := tlsDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()
	return s.deliver(client, to, raw)
}

func (s *SMTPSender) sendSTARTTLS(ctx context.Context, to string, raw []byte) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.portTLS)
	dialer := &net.Dialer{Timeout: s.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	return s.deliver(client, to, raw)
}

func (s *SMTPSender) deliver(client *smtp.Client, to string, raw []byte) error {
	if s.username != "" {
		auth := smtp.PlainAuth("", s.username, s.password, s.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := writer.Write(raw); err != nil {
		writer.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("smtp finish: %w", err)
	}
	return client.Quit()
}
