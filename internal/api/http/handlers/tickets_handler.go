package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/supportops/mailtriage/internal/api/dto"
	"github.com/supportops/mailtriage/internal/auth"
	"github.com/supportops/mailtriage/internal/domain"
	"github.com/supportops/mailtriage/internal/events"
	"github.com/supportops/mailtriage/internal/repository"
	"github.com/supportops/mailtriage/internal/service"
	"github.com/supportops/mailtriage/pkg/apperrors"
)

// TicketsHandler exposes the operator ticket endpoints.
type TicketsHandler struct {
	tickets *service.TicketService
	kb      *service.KBService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService, kbService *service.KBService) *TicketsHandler {
	return &TicketsHandler{tickets: ticketService, kb: kbService}
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	filter := parseTicketFilter(c)
	tickets, err := h.tickets.List(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketSummary(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.tickets.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	citations, err := h.kb.Citations(c.UserContext(), ticket.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(ticket, citations)})
}

// UpdateTicket PATCH /tickets/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	operator, ok := auth.OperatorFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("operator required")
	}
	var req dto.UpdateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.ExpectedVersion <= 0 {
		return apperrors.NewValidationError("expected_version required", nil)
	}

	patch := service.TicketPatch{
		Status:      req.Status,
		Priority:    req.Priority,
		Category:    req.Category,
		AssigneeID:  req.AssigneeID,
		FinalAnswer: req.FinalAnswer,
	}
	ticket, err := h.tickets.Update(c.UserContext(), c.Params("id"), req.ExpectedVersion, patch, operatorActor(operator))
	if err != nil {
		return err
	}
	citations, err := h.kb.Citations(c.UserContext(), ticket.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(ticket, citations)})
}

// SendReply POST /tickets/:id/send.
func (h *TicketsHandler) SendReply(c *fiber.Ctx) error {
	operator, ok := auth.OperatorFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("operator required")
	}
	var req dto.SendReplyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.ExpectedVersion <= 0 {
		return apperrors.NewValidationError("expected_version required", nil)
	}

	ticket, err := h.tickets.SendReply(c.UserContext(), c.Params("id"), req.ExpectedVersion, req.Body, operatorActor(operator))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// PromoteToKB POST /tickets/:id/promote.
func (h *TicketsHandler) PromoteToKB(c *fiber.Ctx) error {
	operator, ok := auth.OperatorFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("operator required")
	}
	entry, err := h.kb.Promote(c.UserContext(), c.Params("id"), operatorActor(operator))
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": kbEntryResponse(entry)})
}

// History GET /tickets/:id/history.
func (h *TicketsHandler) History(c *fiber.Ctx) error {
	trail, err := h.tickets.History(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.TicketEventResponse, 0, len(trail))
	for i := range trail {
		items = append(items, ticketEventResponse(&trail[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// MailLog GET /tickets/:id/mail.
func (h *TicketsHandler) MailLog(c *fiber.Ctx) error {
	entries, err := h.tickets.MailHistory(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.MailLogResponse, 0, len(entries))
	for i := range entries {
		items = append(items, mailLogResponse(&entries[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

func parseTicketFilter(c *fiber.Ctx) repository.TicketFilter {
	filter := repository.TicketFilter{}
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				filter.Statuses = append(filter.Statuses, domain.TicketStatus(trimmed))
			}
		}
	}
	if raw := c.Query("priority"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				filter.Priorities = append(filter.Priorities, domain.TicketPriority(trimmed))
			}
		}
	}
	if raw := c.Query("category"); raw != "" {
		filter.Category = &raw
	}
	if raw := c.Query("needs_attention"); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			filter.NeedsAttention = &parsed
		}
	}
	if raw := c.Query("assignee_id"); raw != "" {
		filter.AssigneeID = &raw
	}
	if raw := c.Query("q"); raw != "" {
		filter.SearchTerm = &raw
	}
	if from := parseTime(c.Query("created_from")); from != nil {
		filter.CreatedFrom = from
	}
	if to := parseTime(c.Query("created_to")); to != nil {
		filter.CreatedTo = to
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	if pageSize > 100 {
		pageSize = 100
	}
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter
}

func parseTime(val string) *time.Time {
	if val == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil
	}
	return &t
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func operatorActor(operator *domain.Operator) events.Actor {
	return events.Actor{Type: events.ActorOperator, OperatorID: &operator.ID}
}

func ticketSummary(ticket *domain.Ticket) dto.TicketSummary {
	return dto.TicketSummary{
		ID:              ticket.ID,
		Reference:       ticket.Reference,
		Version:         ticket.Version,
		ClientEmail:     ticket.ClientEmail,
		Subject:         ticket.Subject,
		Status:          ticket.Status,
		Priority:        ticket.Priority,
		Category:        ticket.Category,
		Tone:            ticket.Tone,
		Confidence:      ticket.Confidence,
		NeedsAttention:  ticket.NeedsAttention,
		AutoSendAllowed: ticket.AutoSendAllowed,
		AssigneeID:      ticket.AssigneeID,
		ReceivedAt:      ticket.ReceivedAt,
		CreatedAt:       ticket.CreatedAt,
		UpdatedAt:       ticket.UpdatedAt,
	}
}

func ticketDetail(ticket *domain.Ticket, citations []domain.Citation) dto.TicketDetailResponse {
	cits := make([]dto.CitationResponse, 0, len(citations))
	for _, citation := range citations {
		cits = append(cits, dto.CitationResponse{
			Rank:      citation.Rank,
			KBEntryID: citation.KBEntryID,
			Snippet:   citation.Snippet,
		})
	}
	return dto.TicketDetailResponse{
		ID:              ticket.ID,
		Reference:       ticket.Reference,
		Version:         ticket.Version,
		ClientEmail:     ticket.ClientEmail,
		ClientName:      ticket.ClientName,
		Subject:         ticket.Subject,
		Question:        ticket.Question,
		SourceMessageID: ticket.SourceMessageID,
		InReplyTo:       ticket.InReplyTo,
		ReceivedAt:      ticket.ReceivedAt,
		Tone:            ticket.Tone,
		Category:        ticket.Category,
		Priority:        ticket.Priority,
		Confidence:      ticket.Confidence,
		DraftReply:      ticket.DraftReply,
		Reasoning:       ticket.Reasoning,
		ClassifierModel: ticket.ClassifierModel,
		TriageLatencyMS: ticket.TriageLatencyMS,
		PipelineVersion: ticket.PipelineVersion,
		NeedsAttention:  ticket.NeedsAttention,
		AutoSendAllowed: ticket.AutoSendAllowed,
		AutoSendReason:  ticket.AutoSendReason,
		Status:          ticket.Status,
		SendAttempts:    ticket.SendAttempts,
		FinalAnswer:     ticket.FinalAnswer,
		AssigneeID:      ticket.AssigneeID,
		ProcessedAt:     ticket.ProcessedAt,
		SentAt:          ticket.SentAt,
		ResolvedAt:      ticket.ResolvedAt,
		CreatedAt:       ticket.CreatedAt,
		UpdatedAt:       ticket.UpdatedAt,
		Citations:       cits,
	}
}

func ticketEventResponse(event *domain.TicketEvent) dto.TicketEventResponse {
	return dto.TicketEventResponse{
		ID:         event.ID,
		EventType:  event.EventType,
		FromStatus: event.FromStatus,
		ToStatus:   event.ToStatus,
		Actor:      event.Actor,
		Note:       event.Note,
		CreatedAt:  event.CreatedAt,
	}
}

func mailLogResponse(entry *domain.MailLogEntry) dto.MailLogResponse {
	return dto.MailLogResponse{
		ID:        entry.ID,
		Direction: entry.Direction,
		Address:   entry.Address,
		Subject:   entry.Subject,
		Body:      entry.Body,
		MessageID: entry.MessageID,
		InReplyTo: entry.InReplyTo,
		Status:    entry.Status,
		ErrorText: entry.ErrorText,
		CreatedAt: entry.CreatedAt,
	}
}
