package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voiceagent/internal/domain"
	apperrors "github.com/acme/voiceagent/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// CampaignRepository manages campaign persistence.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *domain.Campaign) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Update(ctx context.Context, campaign *domain.Campaign) error
	List(ctx context.Context, workspaceID uuid.UUID, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error)
	ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error)
	// MarkCompleted sets status=completed and completed_at atomically, only
	// if the campaign is still running. Returns ErrNotFound when the row was
	// concurrently moved out of running.
	MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error
}

// ContactRepository manages workspace contacts.
type ContactRepository interface {
	Create(ctx context.Context, contact *domain.Contact) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Contact, error)
	ListByWorkspace(ctx context.Context, workspaceID uuid.UUID, limit int) ([]*domain.Contact, error)
}

// DialTarget is a campaign contact joined with the phone number it dials.
type DialTarget struct {
	domain.CampaignContact
	PhoneNumber string
}

// CampaignContactRepository stores per-campaign contact dispatch state.
type CampaignContactRepository interface {
	BulkInsert(ctx context.Context, records []domain.CampaignContact) error
	Get(ctx context.Context, id uuid.UUID) (*domain.CampaignContact, error)
	Update(ctx context.Context, record *domain.CampaignContact) error
	// ListEligible returns contacts that may be dialed now: pending rows plus
	// retryable rows whose next_retry_at is due and whose attempts are below
	// maxAttempts. Ordered by created_at then id for determinism.
	ListEligible(ctx context.Context, campaignID uuid.UUID, maxAttempts int, now time.Time, limit int) ([]DialTarget, error)
	// CountByStatus reads the in-flight count from the source of truth.
	CountByStatus(ctx context.Context, campaignID uuid.UUID, status domain.ContactCallStatus) (int, error)
	// CountOpen counts contacts that can still produce a dispatch in any
	// future tick: pending, in_progress, or retryable below maxAttempts.
	CountOpen(ctx context.Context, campaignID uuid.UUID, maxAttempts int) (int, error)
	CountByCampaign(ctx context.Context, campaignID uuid.UUID) (int, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.CampaignContact, error)
}

// CampaignStatisticsRepository keeps aggregate counters.
type CampaignStatisticsRepository interface {
	Ensure(ctx context.Context, campaignID uuid.UUID) error
	Get(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error)
	ApplyDelta(ctx context.Context, campaignID uuid.UUID, delta StatsDelta) error
}

// CallEventStore persists attempt-level call events for compliance.
type CallEventStore interface {
	Append(ctx context.Context, event domain.CallEvent) error
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.CallEvent, []byte, error)
}

// StatsDelta captures atomic counter increments.
type StatsDelta struct {
	DispatchedDelta int64
	CompletedDelta  int64
	FailedDelta     int64
	InProgressDelta int64
	RetriesDelta    int64
}
