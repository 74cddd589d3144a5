// Package campaign implements campaign CRUD and lifecycle transitions.
package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voiceagent/internal/domain"
	"github.com/acme/voiceagent/internal/repository"
	apperrors "github.com/acme/voiceagent/pkg/errors"
)

// Service orchestrates campaign lifecycle operations.
type Service struct {
	campaigns        repository.CampaignRepository
	contacts         repository.ContactRepository
	campaignContacts repository.CampaignContactRepository
	stats            repository.CampaignStatisticsRepository
	defaultProvider  string
	now              func() time.Time
}

// NewService constructs a campaign service.
func NewService(
	campaigns repository.CampaignRepository,
	contacts repository.ContactRepository,
	campaignContacts repository.CampaignContactRepository,
	stats repository.CampaignStatisticsRepository,
	defaultProvider string,
) *Service {
	return &Service{
		campaigns:        campaigns,
		contacts:         contacts,
		campaignContacts: campaignContacts,
		stats:            stats,
		defaultProvider:  defaultProvider,
		now:              time.Now,
	}
}

// CreateCampaignInput captures campaign creation parameters.
type CreateCampaignInput struct {
	WorkspaceID           uuid.UUID
	AgentID               uuid.UUID
	Name                  string
	FromPhoneNumber       string
	Provider              string
	CallsPerMinute        int
	MaxConcurrentCalls    int
	MaxAttemptsPerContact int
	RetryDelayMinutes     int
	CallingHoursStart     *domain.TimeOfDay
	CallingHoursEnd       *domain.TimeOfDay
	CallingDays           []int
	Timezone              string
	ContactIDs            []uuid.UUID
}

// UpdateCampaignInput captures updatable properties. Nil fields are untouched.
type UpdateCampaignInput struct {
	ID                    uuid.UUID
	Name                  *string
	CallsPerMinute        *int
	MaxConcurrentCalls    *int
	MaxAttemptsPerContact *int
	RetryDelayMinutes     *int
	CallingHoursStart     *domain.TimeOfDay
	CallingHoursEnd       *domain.TimeOfDay
	CallingDays           *[]int
	Timezone              *string
}

// Create provisions a new campaign in draft state.
func (s *Service) Create(ctx context.Context, input CreateCampaignInput) (*domain.Campaign, error) {
	if input.WorkspaceID == uuid.Nil {
		return nil, fmt.Errorf("%w: workspace_id is required", apperrors.ErrValidation)
	}
	if input.AgentID == uuid.Nil {
		return nil, fmt.Errorf("%w: agent_id is required", apperrors.ErrValidation)
	}
	if input.Name == "" {
		return nil, fmt.Errorf("%w: name is required", apperrors.ErrValidation)
	}
	if input.FromPhoneNumber == "" {
		return nil, fmt.Errorf("%w: from_phone_number is required", apperrors.ErrValidation)
	}
	if err := validateWindow(input.CallingHoursStart, input.CallingHoursEnd, input.CallingDays, input.Timezone); err != nil {
		return nil, err
	}

	provider := input.Provider
	if provider == "" {
		provider = s.defaultProvider
	}

	now := s.now().UTC()
	campaign := &domain.Campaign{
		ID:                    uuid.New(),
		WorkspaceID:           input.WorkspaceID,
		AgentID:               input.AgentID,
		Name:                  input.Name,
		FromPhoneNumber:       input.FromPhoneNumber,
		Provider:              provider,
		CallsPerMinute:        clampNonNegative(input.CallsPerMinute),
		MaxConcurrentCalls:    defaultIfZero(input.MaxConcurrentCalls, 1),
		MaxAttemptsPerContact: defaultIfZero(input.MaxAttemptsPerContact, 1),
		RetryDelay:            time.Duration(clampNonNegative(input.RetryDelayMinutes)) * time.Minute,
		CallingHoursStart:     input.CallingHoursStart,
		CallingHoursEnd:       input.CallingHoursEnd,
		CallingDays:           input.CallingDays,
		Timezone:              input.Timezone,
		Status:                domain.CampaignStatusDraft,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: create: %w", err)
	}
	if err := s.stats.Ensure(ctx, campaign.ID); err != nil {
		return nil, fmt.Errorf("campaign service: ensure stats: %w", err)
	}
	if len(input.ContactIDs) > 0 {
		if err := s.AttachContacts(ctx, campaign.ID, input.ContactIDs); err != nil {
			return nil, err
		}
	}
	return campaign, nil
}

// Get loads a campaign by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("campaign service: get: %w", err)
	}
	return campaign, nil
}

// List pages campaigns within a workspace.
func (s *Service) List(ctx context.Context, workspaceID uuid.UUID, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	campaigns, err := s.campaigns.List(ctx, workspaceID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("campaign service: list: %w", err)
	}
	return campaigns, nil
}

// Update modifies draft or paused campaign configuration.
func (s *Service) Update(ctx context.Context, input UpdateCampaignInput) (*domain.Campaign, error) {
	campaign, err := s.campaigns.Get(ctx, input.ID)
	if err != nil {
		return nil, fmt.Errorf("campaign service: update: %w", err)
	}

	if input.Name != nil {
		if *input.Name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", apperrors.ErrValidation)
		}
		campaign.Name = *input.Name
	}
	if input.CallsPerMinute != nil {
		campaign.CallsPerMinute = clampNonNegative(*input.CallsPerMinute)
	}
	if input.MaxConcurrentCalls != nil {
		campaign.MaxConcurrentCalls = defaultIfZero(*input.MaxConcurrentCalls, 1)
	}
	if input.MaxAttemptsPerContact != nil {
		campaign.MaxAttemptsPerContact = defaultIfZero(*input.MaxAttemptsPerContact, 1)
	}
	if input.RetryDelayMinutes != nil {
		campaign.RetryDelay = time.Duration(clampNonNegative(*input.RetryDelayMinutes)) * time.Minute
	}
	if input.CallingHoursStart != nil {
		campaign.CallingHoursStart = input.CallingHoursStart
	}
	if input.CallingHoursEnd != nil {
		campaign.CallingHoursEnd = input.CallingHoursEnd
	}
	if input.CallingDays != nil {
		campaign.CallingDays = *input.CallingDays
	}
	if input.Timezone != nil {
		campaign.Timezone = *input.Timezone
	}
	if err := validateWindow(campaign.CallingHoursStart, campaign.CallingHoursEnd, campaign.CallingDays, campaign.Timezone); err != nil {
		return nil, err
	}

	campaign.UpdatedAt = s.now().UTC()
	if err := s.campaigns.Update(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: update: %w", err)
	}
	return campaign, nil
}

// AttachContacts links workspace contacts to a campaign, skipping ones
// already attached.
func (s *Service) AttachContacts(ctx context.Context, campaignID uuid.UUID, contactIDs []uuid.UUID) error {
	if len(contactIDs) == 0 {
		return fmt.Errorf("%w: contact_ids cannot be empty", apperrors.ErrValidation)
	}
	campaign, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("campaign service: attach contacts: %w", err)
	}
	if campaign.Status == domain.CampaignStatusCompleted || campaign.Status == domain.CampaignStatusCanceled {
		return fmt.Errorf("%w: cannot attach contacts to %s campaign", apperrors.ErrInvalidTransition, campaign.Status)
	}

	now := s.now().UTC()
	records := make([]domain.CampaignContact, 0, len(contactIDs))
	for _, contactID := range contactIDs {
		if _, err := s.contacts.Get(ctx, contactID); err != nil {
			return fmt.Errorf("campaign service: attach contact %s: %w", contactID, err)
		}
		records = append(records, domain.CampaignContact{
			ID:         uuid.New(),
			CampaignID: campaignID,
			ContactID:  contactID,
			Status:     domain.ContactCallStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if err := s.campaignContacts.BulkInsert(ctx, records); err != nil {
		return fmt.Errorf("campaign service: attach contacts: %w", err)
	}
	return nil
}

// Start transitions a draft or paused campaign to running. A draft campaign
// must have at least one contact attached.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("campaign service: start: %w", err)
	}
	switch campaign.Status {
	case domain.CampaignStatusDraft:
		count, err := s.campaignContacts.CountByCampaign(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("campaign service: start: %w", err)
		}
		if count == 0 {
			return nil, fmt.Errorf("%w: campaign has no contacts", apperrors.ErrValidation)
		}
	case domain.CampaignStatusPaused:
	default:
		return nil, fmt.Errorf("%w: cannot start %s campaign", apperrors.ErrInvalidTransition, campaign.Status)
	}

	now := s.now().UTC()
	campaign.Status = domain.CampaignStatusRunning
	if campaign.StartedAt == nil {
		campaign.StartedAt = &now
	}
	campaign.CompletedAt = nil
	campaign.UpdatedAt = now
	if err := s.campaigns.Update(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: start: %w", err)
	}
	return campaign, nil
}

// Pause transitions a running campaign to paused. In-flight calls finish
// on their own; the worker stops dispatching new ones.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("campaign service: pause: %w", err)
	}
	if campaign.Status != domain.CampaignStatusRunning {
		return nil, fmt.Errorf("%w: cannot pause %s campaign", apperrors.ErrInvalidTransition, campaign.Status)
	}
	campaign.Status = domain.CampaignStatusPaused
	campaign.UpdatedAt = s.now().UTC()
	if err := s.campaigns.Update(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: pause: %w", err)
	}
	return campaign, nil
}

// Stop cancels a running or paused campaign.
func (s *Service) Stop(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("campaign service: stop: %w", err)
	}
	if campaign.Status != domain.CampaignStatusRunning && campaign.Status != domain.CampaignStatusPaused {
		return nil, fmt.Errorf("%w: cannot stop %s campaign", apperrors.ErrInvalidTransition, campaign.Status)
	}
	now := s.now().UTC()
	campaign.Status = domain.CampaignStatusCanceled
	campaign.CompletedAt = &now
	campaign.UpdatedAt = now
	if err := s.campaigns.Update(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: stop: %w", err)
	}
	return campaign, nil
}

// Restart moves a completed or canceled campaign back to running. Contact
// attempt state is preserved, so only contacts with remaining budget are
// dialed again.
func (s *Service) Restart(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("campaign service: restart: %w", err)
	}
	if campaign.Status != domain.CampaignStatusCompleted && campaign.Status != domain.CampaignStatusCanceled {
		return nil, fmt.Errorf("%w: cannot restart %s campaign", apperrors.ErrInvalidTransition, campaign.Status)
	}
	now := s.now().UTC()
	campaign.Status = domain.CampaignStatusRunning
	campaign.CompletedAt = nil
	campaign.UpdatedAt = now
	if err := s.campaigns.Update(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: restart: %w", err)
	}
	return campaign, nil
}

// Stats returns aggregate counters plus live per-status contact counts.
func (s *Service) Stats(ctx context.Context, id uuid.UUID) (*domain.CampaignStats, error) {
	if _, err := s.campaigns.Get(ctx, id); err != nil {
		return nil, fmt.Errorf("campaign service: stats: %w", err)
	}
	stats, err := s.stats.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("campaign service: stats: %w", err)
	}
	return stats, nil
}

func validateWindow(start, end *domain.TimeOfDay, days []int, tz string) error {
	if (start == nil) != (end == nil) {
		// A single bound never restricts, but storing one is almost always
		// a client mistake.
		return fmt.Errorf("%w: calling hours require both start and end", apperrors.ErrValidation)
	}
	for _, d := range days {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: calling day %d out of range 0..6", apperrors.ErrValidation, d)
		}
	}
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", apperrors.ErrValidation, tz)
		}
	}
	return nil
}

func clampNonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func defaultIfZero(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
