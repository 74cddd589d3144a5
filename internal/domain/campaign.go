package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCanceled  CampaignStatus = "canceled"
)

// ContactCallStatus enumerates per-campaign dispatch states for a contact.
type ContactCallStatus string

const (
	ContactCallStatusPending        ContactCallStatus = "pending"
	ContactCallStatusInProgress     ContactCallStatus = "in_progress"
	ContactCallStatusCompleted      ContactCallStatus = "completed"
	ContactCallStatusFailed         ContactCallStatus = "failed"
	ContactCallStatusNoAnswer       ContactCallStatus = "no_answer"
	ContactCallStatusRetryScheduled ContactCallStatus = "retry_scheduled"
)

// TimeOfDay is a wall-clock time without a date, used for calling windows.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay parses "15:04" or "15:04:05" formatted values.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("time of day: invalid value %q", s)
}

// Seconds returns the offset from midnight.
func (t TimeOfDay) Seconds() int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// Campaign models an outbound calling campaign for one agent and one
// source phone number within a workspace.
type Campaign struct {
	ID              uuid.UUID
	WorkspaceID     uuid.UUID
	AgentID         uuid.UUID
	Name            string
	FromPhoneNumber string
	Provider        string

	// Pacing.
	CallsPerMinute        int
	MaxConcurrentCalls    int
	MaxAttemptsPerContact int
	RetryDelay            time.Duration

	// Calling window. Hours restrict only when both bounds are set.
	// Days are Monday=0 .. Sunday=6; empty means every day.
	CallingHoursStart *TimeOfDay
	CallingHoursEnd   *TimeOfDay
	CallingDays       []int
	Timezone          string

	Status      CampaignStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Contact is a CRM contact owned by a workspace.
type Contact struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	Name        string
	PhoneNumber string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// CampaignContact is the per-campaign dispatch record for one contact.
type CampaignContact struct {
	ID             uuid.UUID
	CampaignID     uuid.UUID
	ContactID      uuid.UUID
	Status         ContactCallStatus
	Attempts       int
	LastAttemptAt  *time.Time
	NextRetryAt    *time.Time
	ProviderCallID string
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CallEvent is an attempt-level record kept for compliance record-keeping.
type CallEvent struct {
	ID                uuid.UUID
	CampaignID        uuid.UUID
	CampaignContactID uuid.UUID
	Attempt           int
	Status            ContactCallStatus
	ProviderCallID    string
	Error             string
	Duration          time.Duration
	OccurredAt        time.Time
}

// CampaignStats aggregates campaign counters.
type CampaignStats struct {
	TotalDispatched  int64 `db:"total_dispatched"`
	CompletedCalls   int64 `db:"completed_calls"`
	FailedCalls      int64 `db:"failed_calls"`
	InProgressCalls  int64 `db:"in_progress_calls"`
	RetriesAttempted int64 `db:"retries_attempted"`
}
