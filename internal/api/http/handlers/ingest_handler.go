package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/supportops/mailtriage/internal/api/dto"
	"github.com/supportops/mailtriage/internal/service"
	"github.com/supportops/mailtriage/pkg/apperrors"
)

// IngestHandler triggers on-demand ingestion runs.
type IngestHandler struct {
	ingest         *service.IngestService
	defaultMailbox string
}

// NewIngestHandler constructs handler.
func NewIngestHandler(ingestService *service.IngestService, defaultMailbox string) *IngestHandler {
	return &IngestHandler{ingest: ingestService, defaultMailbox: defaultMailbox}
}

// Run POST /ingest/run. The body is optional; an empty request polls
// the default mailbox with the default batch limit.
func (h *IngestHandler) Run(c *fiber.Ctx) error {
	var req dto.IngestRunRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	mailbox := req.Mailbox
	if mailbox == "" {
		mailbox = h.defaultMailbox
	}

	report, err := h.ingest.IngestBatch(c.UserContext(), mailbox, req.Limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": report})
}
