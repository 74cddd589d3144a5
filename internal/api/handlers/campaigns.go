package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/voiceagent/internal/domain"
	campaignsvc "github.com/acme/voiceagent/internal/service/campaign"
	"github.com/acme/voiceagent/internal/service/common"
)

type createCampaignRequest struct {
	WorkspaceID           uuid.UUID   `json:"workspace_id"`
	AgentID               uuid.UUID   `json:"agent_id"`
	Name                  string      `json:"name"`
	FromPhoneNumber       string      `json:"from_phone_number"`
	Provider              string      `json:"provider"`
	CallsPerMinute        int         `json:"calls_per_minute"`
	MaxConcurrentCalls    int         `json:"max_concurrent_calls"`
	MaxAttemptsPerContact int         `json:"max_attempts_per_contact"`
	RetryDelayMinutes     int         `json:"retry_delay_minutes"`
	CallingHoursStart     *string     `json:"calling_hours_start"`
	CallingHoursEnd       *string     `json:"calling_hours_end"`
	CallingDays           []int       `json:"calling_days"`
	Timezone              string      `json:"timezone"`
	ContactIDs            []uuid.UUID `json:"contact_ids"`
}

type updateCampaignRequest struct {
	Name                  *string `json:"name"`
	CallsPerMinute        *int    `json:"calls_per_minute"`
	MaxConcurrentCalls    *int    `json:"max_concurrent_calls"`
	MaxAttemptsPerContact *int    `json:"max_attempts_per_contact"`
	RetryDelayMinutes     *int    `json:"retry_delay_minutes"`
	CallingHoursStart     *string `json:"calling_hours_start"`
	CallingHoursEnd       *string `json:"calling_hours_end"`
	CallingDays           *[]int  `json:"calling_days"`
	Timezone              *string `json:"timezone"`
}

type campaignResponse struct {
	ID                    uuid.UUID             `json:"id"`
	WorkspaceID           uuid.UUID             `json:"workspace_id"`
	AgentID               uuid.UUID             `json:"agent_id"`
	Name                  string                `json:"name"`
	FromPhoneNumber       string                `json:"from_phone_number"`
	Provider              string                `json:"provider"`
	Status                domain.CampaignStatus `json:"status"`
	CallsPerMinute        int                   `json:"calls_per_minute"`
	MaxConcurrentCalls    int                   `json:"max_concurrent_calls"`
	MaxAttemptsPerContact int                   `json:"max_attempts_per_contact"`
	RetryDelayMinutes     int                   `json:"retry_delay_minutes"`
	CallingHoursStart     *string               `json:"calling_hours_start,omitempty"`
	CallingHoursEnd       *string               `json:"calling_hours_end,omitempty"`
	CallingDays           []int                 `json:"calling_days,omitempty"`
	Timezone              string                `json:"timezone,omitempty"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
	StartedAt             *time.Time            `json:"started_at,omitempty"`
	CompletedAt           *time.Time            `json:"completed_at,omitempty"`
}

type listCampaignsResponse struct {
	Campaigns []campaignResponse `json:"campaigns"`
}

type campaignStatsResponse struct {
	TotalDispatched  int64 `json:"total_dispatched"`
	CompletedCalls   int64 `json:"completed_calls"`
	FailedCalls      int64 `json:"failed_calls"`
	InProgressCalls  int64 `json:"in_progress_calls"`
	RetriesAttempted int64 `json:"retries_attempted"`
}

type campaignContactResponse struct {
	ID             uuid.UUID  `json:"id"`
	ContactID      uuid.UUID  `json:"contact_id"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	LastAttemptAt  *time.Time `json:"last_attempt_at,omitempty"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	ProviderCallID string     `json:"provider_call_id,omitempty"`
	LastError      *string    `json:"last_error,omitempty"`
}

type callEventResponse struct {
	ID                uuid.UUID `json:"id"`
	CampaignContactID uuid.UUID `json:"campaign_contact_id"`
	Attempt           int       `json:"attempt"`
	Status            string    `json:"status"`
	ProviderCallID    string    `json:"provider_call_id,omitempty"`
	Error             string    `json:"error,omitempty"`
	DurationMs        int64     `json:"duration_ms,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

type listCallEventsResponse struct {
	Events        []callEventResponse `json:"events"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	resp := campaignResponse{
		ID:                    c.ID,
		WorkspaceID:           c.WorkspaceID,
		AgentID:               c.AgentID,
		Name:                  c.Name,
		FromPhoneNumber:       c.FromPhoneNumber,
		Provider:              c.Provider,
		Status:                c.Status,
		CallsPerMinute:        c.CallsPerMinute,
		MaxConcurrentCalls:    c.MaxConcurrentCalls,
		MaxAttemptsPerContact: c.MaxAttemptsPerContact,
		RetryDelayMinutes:     int(c.RetryDelay / time.Minute),
		CallingDays:           c.CallingDays,
		Timezone:              c.Timezone,
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
		StartedAt:             c.StartedAt,
		CompletedAt:           c.CompletedAt,
	}
	if c.CallingHoursStart != nil {
		s := c.CallingHoursStart.String()
		resp.CallingHoursStart = &s
	}
	if c.CallingHoursEnd != nil {
		s := c.CallingHoursEnd.String()
		resp.CallingHoursEnd = &s
	}
	return resp
}

func parseTimeOfDay(value *string) (*domain.TimeOfDay, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	tod, err := domain.ParseTimeOfDay(*value)
	if err != nil {
		return nil, fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return &tod, nil
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	var req createCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	start, err := parseTimeOfDay(req.CallingHoursStart)
	if err != nil {
		return err
	}
	end, err := parseTimeOfDay(req.CallingHoursEnd)
	if err != nil {
		return err
	}

	campaign, err := h.campaigns.Create(ctx.Context(), campaignsvc.CreateCampaignInput{
		WorkspaceID:           req.WorkspaceID,
		AgentID:               req.AgentID,
		Name:                  req.Name,
		FromPhoneNumber:       req.FromPhoneNumber,
		Provider:              req.Provider,
		CallsPerMinute:        req.CallsPerMinute,
		MaxConcurrentCalls:    req.MaxConcurrentCalls,
		MaxAttemptsPerContact: req.MaxAttemptsPerContact,
		RetryDelayMinutes:     req.RetryDelayMinutes,
		CallingHoursStart:     start,
		CallingHoursEnd:       end,
		CallingDays:           req.CallingDays,
		Timezone:              req.Timezone,
		ContactIDs:            req.ContactIDs,
	})
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) listCampaigns(ctx *fiber.Ctx) error {
	workspaceID, err := uuid.Parse(ctx.Query("workspace_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "workspace_id query parameter is required")
	}

	var afterID *uuid.UUID
	if raw := ctx.Query("after_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid after_id")
		}
		afterID = &id
	}

	campaigns, err := h.campaigns.List(ctx.Context(), workspaceID, afterID, ctx.QueryInt("limit"))
	if err != nil {
		return translateError(err)
	}

	resp := listCampaignsResponse{Campaigns: make([]campaignResponse, 0, len(campaigns))}
	for _, c := range campaigns {
		resp.Campaigns = append(resp.Campaigns, toCampaignResponse(c))
	}
	return ctx.JSON(resp)
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	id, err := parseIDParam(ctx)
	if err != nil {
		return err
	}
	campaign, err := h.campaigns.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) updateCampaign(ctx *fiber.Ctx) error {
	id, err := parseIDParam(ctx)
	if err != nil {
		return err
	}
	var req updateCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	input := campaignsvc.UpdateCampaignInput{
		ID:                    id,
		Name:                  req.Name,
		CallsPerMinute:        req.CallsPerMinute,
		MaxConcurrentCalls:    req.MaxConcurrentCalls,
		MaxAttemptsPerContact: req.MaxAttemptsPerContact,
		RetryDelayMinutes:     req.RetryDelayMinutes,
		CallingDays:           req.CallingDays,
		Timezone:              req.Timezone,
	}
	if input.CallingHoursStart, err = parseTimeOfDay(req.CallingHoursStart); err != nil {
		return err
	}
	if input.CallingHoursEnd, err = parseTimeOfDay(req.CallingHoursEnd); err != nil {
		return err
	}

	campaign, err := h.campaigns.Update(ctx.Context(), input)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) startCampaign(ctx *fiber.Ctx) error {
	return h.transition(ctx, h.campaigns.Start)
}

func (h *HandlerSet) pauseCampaign(ctx *fiber.Ctx) error {
	return h.transition(ctx, h.campaigns.Pause)
}

func (h *HandlerSet) stopCampaign(ctx *fiber.Ctx) error {
	return h.transition(ctx, h.campaigns.Stop)
}

func (h *HandlerSet) restartCampaign(ctx *fiber.Ctx) error {
	return h.transition(ctx, h.campaigns.Restart)
}

func (h *HandlerSet) transition(ctx *fiber.Ctx, op func(context.Context, uuid.UUID) (*domain.Campaign, error)) error {
	id, err := parseIDParam(ctx)
	if err != nil {
		return err
	}
	campaign, err := op(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) campaignStats(ctx *fiber.Ctx) error {
	id, err := parseIDParam(ctx)
	if err != nil {
		return err
	}
	stats, err := h.campaigns.Stats(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(campaignStatsResponse{
		TotalDispatched:  stats.TotalDispatched,
		CompletedCalls:   stats.CompletedCalls,
		FailedCalls:      stats.FailedCalls,
		InProgressCalls:  stats.InProgressCalls,
		RetriesAttempted: stats.RetriesAttempted,
	})
}

type attachContactsRequest struct {
	ContactIDs []uuid.UUID `json:"contact_ids"`
}

func (h *HandlerSet) attachContacts(ctx *fiber.Ctx) error {
	id, err := parseIDParam(ctx)
	if err != nil {
		return err
	}
	var req attachContactsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.campaigns.AttachContacts(ctx.Context(), id, req.ContactIDs); err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(fiber.Map{"attached": len(req.ContactIDs)})
}

func (h *HandlerSet) listCampaignContacts(ctx *fiber.Ctx) error {
	id, err := parseIDParam(ctx)
	if err != nil {
		return err
	}
	limit := ctx.QueryInt("limit")
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	records, err := h.container.Repositories().CampaignContacts.ListByCampaign(ctx.Context(), id, limit)
	if err != nil {
		return translateError(err)
	}

	resp := make([]campaignContactResponse, 0, len(records))
	for _, r := range records {
		resp = append(resp, campaignContactResponse{
			ID:             r.ID,
			ContactID:      r.ContactID,
			Status:         string(r.Status),
			Attempts:       r.Attempts,
			LastAttemptAt:  r.LastAttemptAt,
			NextRetryAt:    r.NextRetryAt,
			ProviderCallID: r.ProviderCallID,
			LastError:      r.LastError,
		})
	}
	return ctx.JSON(fiber.Map{"contacts": resp})
}

func (h *HandlerSet) listCampaignEvents(ctx *fiber.Ctx) error {
	id, err := parseIDParam(ctx)
	if err != nil {
		return err
	}
	limit := ctx.QueryInt("limit")
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var pagingState []byte
	if token := ctx.Query("page_token"); token != "" {
		pagingState, err = common.DecodePageToken(token)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid page_token")
		}
	}

	events, nextState, err := h.container.Repositories().CallEvents.ListByCampaign(ctx.Context(), id, limit, pagingState)
	if err != nil {
		return translateError(err)
	}

	resp := listCallEventsResponse{Events: make([]callEventResponse, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, callEventResponse{
			ID:                e.ID,
			CampaignContactID: e.CampaignContactID,
			Attempt:           e.Attempt,
			Status:            string(e.Status),
			ProviderCallID:    e.ProviderCallID,
			Error:             e.Error,
			DurationMs:        e.Duration.Milliseconds(),
			OccurredAt:        e.OccurredAt,
		})
	}
	if len(nextState) > 0 {
		resp.NextPageToken = common.EncodePageToken(nextState)
	}
	return ctx.JSON(resp)
}

func parseIDParam(ctx *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	return id, nil
}
