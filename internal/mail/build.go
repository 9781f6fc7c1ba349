package mail

import (
	"go.uber.org/zap"

	"github.com/supportops/mailtriage/internal/config"
)

// SourceFromConfig picks the inbound transport from configuration. A nil
// source disables ingestion; manual runs then fail with a transport error.
func SourceFromConfig(cfg config.MailConfig, logger *zap.Logger) Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Protocol {
	case "pop3":
		if cfg.POP3Host == "" {
			logger.Warn("POP3 host not configured, inbound mail disabled")
			return nil
		}
		return NewPOP3Source(cfg.POP3Host, cfg.POP3Port, cfg.POP3TLS,
			cfg.Username, cfg.Password,
			WithPOP3DeleteAfterFetch(cfg.POP3DeleteFetch),
			WithPOP3DialTimeout(cfg.DialTimeout()),
			WithPOP3Logger(logger),
		)
	default:
		if cfg.IMAPHost == "" {
			logger.Warn("IMAP host not configured, inbound mail disabled")
			return nil
		}
		return NewIMAPSource(cfg.IMAPHost, cfg.IMAPPort,
			cfg.Username, cfg.Password, cfg.DialTimeout(), logger)
	}
}

// SenderFromConfig builds the SMTP sender, or nil when no host is set.
func SenderFromConfig(cfg config.MailConfig, logger *zap.Logger) Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP host not configured, outbound mail disabled")
		return nil
	}
	return NewSMTPSender(cfg.SMTPHost, cfg.SMTPPortSSL, cfg.SMTPPortTLS,
		cfg.Username, cfg.Password, cfg.SMTPFrom, cfg.SMTPFromName,
		cfg.DialTimeout(), logger)
}
