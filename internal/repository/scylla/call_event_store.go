package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/voiceagent/internal/domain"
)

// CallEventStore keeps the append-only compliance log of call attempts in
// Scylla, partitioned by campaign and day bucket.
type CallEventStore struct {
	session *gocql.Session
}

// NewCallEventStore creates a new store.
func NewCallEventStore(session *gocql.Session) *CallEventStore {
	return &CallEventStore{session: session}
}

// Append writes one attempt-level event. Events are never updated.
func (s *CallEventStore) Append(ctx context.Context, event domain.CallEvent) error {
	bucket := bucketDate(event.OccurredAt)
	if err := s.session.Query(`INSERT INTO call_events_by_campaign
		(campaign_id, bucket, event_id, campaign_contact_id, attempt, status, provider_call_id, error, duration_ms, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.CampaignID.String(), bucket, event.ID.String(), event.CampaignContactID.String(),
		event.Attempt, string(event.Status), event.ProviderCallID, event.Error,
		event.Duration.Milliseconds(), event.OccurredAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call events: append: %w", err)
	}
	return nil
}

// ListByCampaign pages through a campaign's events, newest partition first
// within the paging state Scylla hands back.
func (s *CallEventStore) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.CallEvent, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT bucket, event_id, campaign_contact_id, attempt, status, provider_call_id, error, duration_ms, occurred_at
		FROM call_events_by_campaign WHERE campaign_id = ?`, campaignID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	events := make([]domain.CallEvent, 0, limit)

	var (
		bucket     time.Time
		eventIDStr string
		ccIDStr    string
		attempt    int
		status     string
		callID     string
		errMsg     string
		durationMs int64
		occurredAt time.Time
	)

	for iter.Scan(&bucket, &eventIDStr, &ccIDStr, &attempt, &status, &callID, &errMsg, &durationMs, &occurredAt) {
		eventID, err := uuid.Parse(eventIDStr)
		if err != nil {
			continue
		}
		ccID, err := uuid.Parse(ccIDStr)
		if err != nil {
			continue
		}

		events = append(events, domain.CallEvent{
			ID:                eventID,
			CampaignID:        campaignID,
			CampaignContactID: ccID,
			Attempt:           attempt,
			Status:            domain.ContactCallStatus(status),
			ProviderCallID:    callID,
			Error:             errMsg,
			Duration:          time.Duration(durationMs) * time.Millisecond,
			OccurredAt:        occurredAt,
		})
	}

	nextState := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("call events: iter close: %w", err)
	}

	return events, nextState, nil
}

func bucketDate(t time.Time) time.Time {
	utc := t.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}
