// Package callevents consumes call outcome events, resolves in-flight
// contacts, and appends the compliance record.
package callevents

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/voiceagent/internal/domain"
	"github.com/acme/voiceagent/internal/queue"
	"github.com/acme/voiceagent/internal/repository"
	"github.com/acme/voiceagent/pkg/logger"
)

// Reader is the subset of kafka.Reader the worker consumes through.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Worker processes call event messages until cancelled.
type Worker struct {
	reader    Reader
	campaigns repository.CampaignRepository
	contacts  repository.CampaignContactRepository
	stats     repository.CampaignStatisticsRepository
	events    repository.CallEventStore
	logger    *logger.Logger
	now       func() time.Time
}

// NewWorker constructs a call events worker.
func NewWorker(
	reader Reader,
	campaigns repository.CampaignRepository,
	contacts repository.CampaignContactRepository,
	stats repository.CampaignStatisticsRepository,
	events repository.CallEventStore,
	lg *logger.Logger,
) *Worker {
	return &Worker{
		reader:    reader,
		campaigns: campaigns,
		contacts:  contacts,
		stats:     stats,
		events:    events,
		logger:    lg,
		now:       time.Now,
	}
}

// Run consumes events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	tracer := otel.Tracer("voiceagent.callevents")

	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("call events: fetch", zap.Error(err))
			continue
		}

		var event queue.CallEventMessage
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			// Malformed messages are committed so they do not wedge the
			// partition.
			w.logger.Error("call events: unmarshal", zap.Error(err))
			_ = w.reader.CommitMessages(ctx, msg)
			continue
		}

		ectx, span := tracer.Start(ctx, "callevents.handle", trace.WithAttributes(
			attribute.String("campaign.id", event.CampaignID.String()),
			attribute.String("campaign_contact.id", event.CampaignContactID.String()),
			attribute.String("event.status", event.Status),
		))

		if err := w.Handle(ectx, event); err != nil {
			span.RecordError(err)
			w.logger.Error("call events: handle",
				zap.String("campaign_contact_id", event.CampaignContactID.String()),
				zap.Error(err),
			)
		}

		if err := w.reader.CommitMessages(ectx, msg); err != nil {
			span.RecordError(err)
			w.logger.Error("call events: commit", zap.Error(err))
		}
		span.End()
	}
}

// Handle appends the event to the compliance store and, for terminal call
// outcomes, resolves the in-flight contact.
func (w *Worker) Handle(ctx context.Context, event queue.CallEventMessage) error {
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = w.now().UTC()
	}

	record := domain.CallEvent{
		ID:                uuid.New(),
		CampaignID:        event.CampaignID,
		CampaignContactID: event.CampaignContactID,
		Attempt:           event.Attempt,
		Status:            domain.ContactCallStatus(event.Status),
		ProviderCallID:    event.ProviderCallID,
		Error:             event.Error,
		Duration:          time.Duration(event.DurationMs) * time.Millisecond,
		OccurredAt:        occurredAt,
	}
	if err := w.events.Append(ctx, record); err != nil {
		return err
	}

	outcome, ok := callOutcome(event.Status)
	if !ok {
		// Dispatch-time and intermediate events are audit-only; the
		// campaign worker already wrote the contact state.
		return nil
	}
	return w.resolveContact(ctx, event, outcome, occurredAt)
}

// callOutcome maps provider-reported terminal statuses to contact states.
func callOutcome(status string) (domain.ContactCallStatus, bool) {
	switch status {
	case "completed":
		return domain.ContactCallStatusCompleted, true
	case "no_answer":
		return domain.ContactCallStatusNoAnswer, true
	case "failed":
		return domain.ContactCallStatusFailed, true
	default:
		return "", false
	}
}

func (w *Worker) resolveContact(ctx context.Context, event queue.CallEventMessage, outcome domain.ContactCallStatus, now time.Time) error {
	contact, err := w.contacts.Get(ctx, event.CampaignContactID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			w.logger.Warn("call events: unknown campaign contact",
				zap.String("campaign_contact_id", event.CampaignContactID.String()),
			)
			return nil
		}
		return err
	}
	if contact.Status != domain.ContactCallStatusInProgress {
		// Duplicate delivery, or a dispatch failure the worker already
		// resolved. The event stays in the compliance log only.
		return nil
	}

	campaign, err := w.campaigns.Get(ctx, event.CampaignID)
	if err != nil {
		return err
	}

	delta := repository.StatsDelta{InProgressDelta: -1}
	contact.UpdatedAt = now

	switch outcome {
	case domain.ContactCallStatusCompleted:
		contact.Status = domain.ContactCallStatusCompleted
		contact.NextRetryAt = nil
		contact.LastError = nil
		delta.CompletedDelta = 1
	default:
		// no_answer and failed consume an attempt that was already
		// counted at dispatch.
		if event.Error != "" {
			msg := event.Error
			contact.LastError = &msg
		}
		if contact.Attempts < campaign.MaxAttemptsPerContact {
			next := now.Add(campaign.RetryDelay)
			contact.Status = domain.ContactCallStatusRetryScheduled
			contact.NextRetryAt = &next
			delta.RetriesDelta = 1
		} else {
			contact.Status = outcome
			contact.NextRetryAt = nil
			delta.FailedDelta = 1
		}
	}

	if err := w.contacts.Update(ctx, contact); err != nil {
		return err
	}
	if err := w.stats.ApplyDelta(ctx, event.CampaignID, delta); err != nil {
		w.logger.Warn("call events: apply stats", zap.Error(err))
	}

	w.logger.Info("call resolved",
		zap.String("campaign_id", event.CampaignID.String()),
		zap.String("campaign_contact_id", contact.ID.String()),
		zap.String("status", string(contact.Status)),
		zap.Int("attempt", contact.Attempts),
	)
	return nil
}
