package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/supportops/mailtriage/internal/api/dto"
	"github.com/supportops/mailtriage/internal/domain"
	"github.com/supportops/mailtriage/internal/service"
)

// KBHandler exposes the knowledge-base endpoints.
type KBHandler struct {
	kb *service.KBService
}

// NewKBHandler constructs handler.
func NewKBHandler(kbService *service.KBService) *KBHandler {
	return &KBHandler{kb: kbService}
}

// ListEntries GET /kb. With a q parameter the listing becomes a ranked
// search, optionally narrowed by category.
func (h *KBHandler) ListEntries(c *fiber.Ctx) error {
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	if pageSize > 100 {
		pageSize = 100
	}

	var (
		entries []domain.KBEntry
		err     error
	)
	if term := strings.TrimSpace(c.Query("q")); term != "" {
		entries, err = h.kb.Search(c.UserContext(), term, strings.TrimSpace(c.Query("category")), pageSize)
	} else {
		entries, err = h.kb.ListEntries(c.UserContext(), pageSize, (page-1)*pageSize)
	}
	if err != nil {
		return err
	}

	items := make([]dto.KBEntryResponse, 0, len(entries))
	for i := range entries {
		items = append(items, kbEntryResponse(&entries[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetEntry GET /kb/:id.
func (h *KBHandler) GetEntry(c *fiber.Ctx) error {
	entry, err := h.kb.GetEntry(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": kbEntryResponse(entry)})
}

func kbEntryResponse(entry *domain.KBEntry) dto.KBEntryResponse {
	tags := entry.Tags
	if tags == nil {
		tags = []string{}
	}
	return dto.KBEntryResponse{
		ID:              entry.ID,
		Title:           entry.Title,
		QuestionSummary: entry.QuestionSummary,
		Resolution:      entry.Resolution,
		Category:        entry.Category,
		Tags:            tags,
		SourceTicketID:  entry.SourceTicketID,
		CreatedAt:       entry.CreatedAt,
	}
}
