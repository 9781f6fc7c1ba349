package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/supportops/mailtriage/internal/config"
	"github.com/supportops/mailtriage/internal/events"
	"github.com/supportops/mailtriage/internal/mail"
)

// NotificationService alerts the duty operator about tickets the
// pipeline routed away from auto-send and about delivery failures.
// Alerts are best effort; a broken alert channel never fails the
// pipeline that raised the event.
type NotificationService struct {
	dispatcher events.Dispatcher
	sender     mail.Sender
	logger     *zap.Logger
	cfg        config.NotifyConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, sender mail.Sender, logger *zap.Logger, cfg config.NotifyConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		sender:     sender,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketNeedsAttention, n.handleNeedsAttention)
	n.dispatcher.Subscribe(events.EventSendFailed, n.handleSendFailed)
}

func (n *NotificationService) handleNeedsAttention(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketNeedsAttentionPayload)
	if !ok {
		return nil
	}
	n.logger.Info("ticket needs operator attention",
		zap.String("ticket_id", event.TicketID),
		zap.String("reference", payload.Reference),
		zap.String("reason", payload.Reason))

	subject := fmt.Sprintf("Требуется внимание оператора: %s", payload.Reference)
	body := fmt.Sprintf(
		"Обращение %s ожидает оператора.\n\nТема: %s\nПричина: %s\nТон: %s\n",
		payload.Reference, payload.Subject, payload.Reason, payload.Tone)
	n.deliver(ctx, subject, body)
	return nil
}

func (n *NotificationService) handleSendFailed(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.SendFailedPayload)
	if !ok {
		return nil
	}
	n.logger.Warn("reply delivery failed",
		zap.String("ticket_id", event.TicketID),
		zap.String("reference", payload.Reference),
		zap.Int("attempts", payload.Attempts),
		zap.String("error", payload.Error))

	subject := fmt.Sprintf("Ошибка отправки ответа: %s", payload.Reference)
	body := fmt.Sprintf(
		"Не удалось отправить ответ по обращению %s.\n\nПолучатель: %s\nПопыток: %d\nОшибка: %s\n",
		payload.Reference, payload.To, payload.Attempts, payload.Error)
	n.deliver(ctx, subject, body)
	return nil
}

func (n *NotificationService) deliver(ctx context.Context, subject, body string) {
	if !n.cfg.Enabled || n.sender == nil {
		return
	}
	to := strings.TrimSpace(n.cfg.OperatorEmail)
	if to == "" {
		return
	}
	msg := mail.OutboundMessage{
		To:      to,
		Subject: subject,
		Body:    body,
	}
	if _, err := n.sender.Send(ctx, msg); err != nil {
		n.logger.Warn("operator alert delivery failed",
			zap.String("to", to),
			zap.Error(err))
	}
}
