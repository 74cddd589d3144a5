package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/voiceagent/internal/domain"
)

type createContactRequest struct {
	WorkspaceID uuid.UUID      `json:"workspace_id"`
	Name        string         `json:"name"`
	PhoneNumber string         `json:"phone_number"`
	Metadata    map[string]any `json:"metadata"`
}

type contactResponse struct {
	ID          uuid.UUID      `json:"id"`
	WorkspaceID uuid.UUID      `json:"workspace_id"`
	Name        string         `json:"name"`
	PhoneNumber string         `json:"phone_number"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func toContactResponse(c *domain.Contact) contactResponse {
	return contactResponse{
		ID:          c.ID,
		WorkspaceID: c.WorkspaceID,
		Name:        c.Name,
		PhoneNumber: c.PhoneNumber,
		Metadata:    c.Metadata,
		CreatedAt:   c.CreatedAt,
	}
}

func (h *HandlerSet) createContact(ctx *fiber.Ctx) error {
	var req createContactRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.WorkspaceID == uuid.Nil {
		return fiber.NewError(http.StatusBadRequest, "workspace_id is required")
	}
	if req.PhoneNumber == "" {
		return fiber.NewError(http.StatusBadRequest, "phone_number is required")
	}

	contact := &domain.Contact{
		ID:          uuid.New(),
		WorkspaceID: req.WorkspaceID,
		Name:        req.Name,
		PhoneNumber: req.PhoneNumber,
		Metadata:    req.Metadata,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.container.Repositories().Contacts.Create(ctx.Context(), contact); err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(toContactResponse(contact))
}

func (h *HandlerSet) listContacts(ctx *fiber.Ctx) error {
	workspaceID, err := uuid.Parse(ctx.Query("workspace_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "workspace_id query parameter is required")
	}
	limit := ctx.QueryInt("limit")
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	contacts, err := h.container.Repositories().Contacts.ListByWorkspace(ctx.Context(), workspaceID, limit)
	if err != nil {
		return translateError(err)
	}

	resp := make([]contactResponse, 0, len(contacts))
	for _, c := range contacts {
		resp = append(resp, toContactResponse(c))
	}
	return ctx.JSON(fiber.Map{"contacts": resp})
}
