package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/voiceagent/internal/queue"
)

// callWebhookRequest is the payload providers and the voice agent runtime
// post when a call changes state. The identifying query parameters were
// embedded in the webhook URL at dispatch time.
type callWebhookRequest struct {
	Status          string `json:"status"`
	ProviderCallID  string `json:"provider_call_id"`
	DurationSeconds int64  `json:"duration_seconds"`
	Error           string `json:"error"`
}

func (h *HandlerSet) callWebhook(ctx *fiber.Ctx) error {
	agentID, err := uuid.Parse(ctx.Query("agent_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "agent_id query parameter is required")
	}
	campaignID, err := uuid.Parse(ctx.Query("campaign_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "campaign_id query parameter is required")
	}
	campaignContactID, err := uuid.Parse(ctx.Query("campaign_contact_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "campaign_contact_id query parameter is required")
	}

	var req callWebhookRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.Status == "" {
		return fiber.NewError(http.StatusBadRequest, "status is required")
	}

	// Stamp the current attempt so the compliance log carries it. The
	// contact lookup is best effort; resolution does not depend on it.
	attempt := 0
	if contact, err := h.container.Repositories().CampaignContacts.Get(ctx.Context(), campaignContactID); err == nil {
		attempt = contact.Attempts
	}

	msg := queue.CallEventMessage{
		CampaignID:        campaignID,
		CampaignContactID: campaignContactID,
		AgentID:           agentID,
		ProviderCallID:    req.ProviderCallID,
		Status:            req.Status,
		Attempt:           attempt,
		Error:             req.Error,
		DurationMs:        req.DurationSeconds * 1000,
		OccurredAt:        time.Now().UTC(),
	}
	if err := h.container.Publishers().CallEvents.Publish(ctx.Context(), msg); err != nil {
		h.container.Logger.Error("webhook: publish call event",
			zap.String("campaign_contact_id", campaignContactID.String()),
			zap.Error(err),
		)
		return fiber.NewError(http.StatusServiceUnavailable, "event pipeline unavailable")
	}

	h.container.Logger.Info("call webhook received",
		zap.String("campaign_id", campaignID.String()),
		zap.String("campaign_contact_id", campaignContactID.String()),
		zap.String("status", req.Status),
	)
	return ctx.JSON(fiber.Map{"status": "ok"})
}
