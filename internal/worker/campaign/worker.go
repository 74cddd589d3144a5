// Package campaign runs the dispatch loop that turns running campaigns
// into outbound calls.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/voiceagent/internal/domain"
	"github.com/acme/voiceagent/internal/queue"
	"github.com/acme/voiceagent/internal/ratelimit"
	"github.com/acme/voiceagent/internal/repository"
	"github.com/acme/voiceagent/internal/schedule"
	"github.com/acme/voiceagent/internal/telephony"
	"github.com/acme/voiceagent/pkg/breaker"
	"github.com/acme/voiceagent/pkg/logger"
)

// EventPublisher emits one message per call attempt outcome.
type EventPublisher interface {
	Publish(ctx context.Context, msg queue.CallEventMessage) error
}

// ProviderSource hands out breaker-guarded telephony providers by name.
type ProviderSource interface {
	Provider(name string) (telephony.Provider, error)
}

// Config tunes the dispatch loop.
type Config struct {
	// TickInterval is the pause between dispatch passes.
	TickInterval time.Duration
	// BaseURL is the public address of the API; call webhooks are built
	// relative to it.
	BaseURL string
	// MaxBatchSize caps eligible contacts fetched per campaign per tick.
	MaxBatchSize int
	// CampaignFetchLimit caps running campaigns loaded per tick.
	CampaignFetchLimit int
}

// Worker is the campaign dispatch loop. One instance runs per process;
// Start and Stop are idempotent.
type Worker struct {
	cfg       Config
	campaigns repository.CampaignRepository
	contacts  repository.CampaignContactRepository
	stats     repository.CampaignStatisticsRepository
	events    EventPublisher
	providers ProviderSource
	rate      ratelimit.Limiter
	logger    *logger.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWorker constructs a stopped worker.
func NewWorker(
	cfg Config,
	campaigns repository.CampaignRepository,
	contacts repository.CampaignContactRepository,
	stats repository.CampaignStatisticsRepository,
	events EventPublisher,
	providers ProviderSource,
	rate ratelimit.Limiter,
	lg *logger.Logger,
) *Worker {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	if cfg.CampaignFetchLimit <= 0 {
		cfg.CampaignFetchLimit = 200
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Worker{
		cfg:       cfg,
		campaigns: campaigns,
		contacts:  contacts,
		stats:     stats,
		events:    events,
		providers: providers,
		rate:      rate,
		logger:    lg,
		now:       time.Now,
	}
}

// Start launches the dispatch loop. Calling Start on a running worker is
// a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		w.logger.Warn("campaign worker already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	// Each loop closes the channel it was spawned with. If Stop times out
	// and a new loop starts while the old one is still draining, the old
	// loop must not touch the new loop's channel.
	go w.run(ctx, w.done)
	w.logger.Info("campaign worker started", zap.Duration("tick_interval", w.cfg.TickInterval))
}

// Stop halts the loop and waits for the in-flight tick to finish, or for
// ctx to expire. Calling Stop on a stopped worker is a no-op.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel, done := w.cancel, w.done
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	select {
	case <-done:
		w.logger.Info("campaign worker stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("campaign worker: stop: %w", ctx.Err())
	}
}

// Running reports whether the loop is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if err := w.tick(ctx); err != nil && ctx.Err() == nil {
			// A failed tick never kills the loop; the next one retries.
			w.logger.Error("campaign worker tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) tick(ctx context.Context) error {
	tracer := otel.Tracer("voiceagent.worker")
	tctx, span := tracer.Start(ctx, "worker.tick")
	defer span.End()

	campaigns, err := w.campaigns.ListByStatus(tctx, domain.CampaignStatusRunning, w.cfg.CampaignFetchLimit)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("list running campaigns: %w", err)
	}
	span.SetAttributes(attribute.Int("campaign.count", len(campaigns)))

	for _, campaign := range campaigns {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.processCampaign(tctx, tracer, campaign.ID); err != nil {
			w.logger.Error("process campaign failed",
				zap.String("campaign_id", campaign.ID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (w *Worker) processCampaign(ctx context.Context, tracer trace.Tracer, campaignID uuid.UUID) error {
	cctx, span := tracer.Start(ctx, "worker.campaign", trace.WithAttributes(
		attribute.String("campaign.id", campaignID.String()),
	))
	defer span.End()

	// Re-read so a pause or cancel issued since the listing takes effect
	// before anything is dialed.
	campaign, err := w.campaigns.Get(cctx, campaignID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("reload campaign: %w", err)
	}
	if campaign.Status != domain.CampaignStatusRunning {
		span.SetAttributes(attribute.String("skip", "not_running"))
		return nil
	}

	now := w.now().UTC()
	if !schedule.WithinCallingWindow(campaign, now) {
		span.SetAttributes(attribute.String("skip", "outside_calling_window"))
		w.logger.Debug("campaign outside calling window",
			zap.String("campaign_id", campaignID.String()),
		)
		return nil
	}

	// In-flight count comes from storage, not memory, so replicas and
	// restarts see the same picture.
	inFlight, err := w.contacts.CountByStatus(cctx, campaignID, domain.ContactCallStatusInProgress)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("count in-flight: %w", err)
	}
	headroom := campaign.MaxConcurrentCalls - inFlight
	if headroom <= 0 {
		span.SetAttributes(attribute.String("skip", "at_concurrency_limit"))
		return w.maybeComplete(cctx, campaign, now)
	}

	limit := headroom
	if limit > w.cfg.MaxBatchSize {
		limit = w.cfg.MaxBatchSize
	}

	targets, err := w.contacts.ListEligible(cctx, campaignID, campaign.MaxAttemptsPerContact, now, limit)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("list eligible contacts: %w", err)
	}
	span.SetAttributes(attribute.Int("targets.eligible", len(targets)))

	for _, target := range targets {
		if cctx.Err() != nil {
			return cctx.Err()
		}

		allowed, err := w.rate.Allow(cctx, campaignID, campaign.CallsPerMinute)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("rate limiter: %w", err)
		}
		if !allowed {
			// Minute budget spent; the rest of the batch waits for the
			// next tick.
			span.SetAttributes(attribute.Bool("rate.exhausted", true))
			break
		}

		// One contact failing never blocks the rest of the batch.
		w.dispatch(cctx, tracer, campaign, target)
	}

	return w.maybeComplete(cctx, campaign, w.now().UTC())
}

func (w *Worker) dispatch(ctx context.Context, tracer trace.Tracer, campaign *domain.Campaign, target repository.DialTarget) {
	dctx, span := tracer.Start(ctx, "worker.dispatch", trace.WithAttributes(
		attribute.String("campaign_contact.id", target.ID.String()),
	))
	defer span.End()

	now := w.now().UTC()
	record := target.CampaignContact
	record.Attempts++
	record.LastAttemptAt = &now
	record.UpdatedAt = now

	info, err := w.initiateCall(dctx, campaign, target)
	if err != nil {
		span.RecordError(err)
		w.recordFailure(dctx, campaign, record, err, now)
		return
	}

	record.Status = domain.ContactCallStatusInProgress
	record.ProviderCallID = info.CallID
	record.NextRetryAt = nil
	record.LastError = nil
	if err := w.contacts.Update(dctx, &record); err != nil {
		span.RecordError(err)
		w.logger.Error("update dispatched contact",
			zap.String("campaign_contact_id", record.ID.String()),
			zap.Error(err),
		)
		return
	}

	if err := w.stats.ApplyDelta(dctx, campaign.ID, repository.StatsDelta{DispatchedDelta: 1, InProgressDelta: 1}); err != nil {
		w.logger.Warn("apply dispatch stats", zap.Error(err))
	}
	w.publishEvent(dctx, campaign, record, string(domain.ContactCallStatusInProgress), "")

	w.logger.Info("call dispatched",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("campaign_contact_id", record.ID.String()),
		zap.String("provider_call_id", info.CallID),
		zap.Int("attempt", record.Attempts),
	)
}

func (w *Worker) initiateCall(ctx context.Context, campaign *domain.Campaign, target repository.DialTarget) (telephony.CallInfo, error) {
	provider, err := w.providers.Provider(campaign.Provider)
	if err != nil {
		return telephony.CallInfo{}, err
	}
	return provider.InitiateCall(ctx, telephony.CallRequest{
		ToNumber:   target.PhoneNumber,
		FromNumber: campaign.FromPhoneNumber,
		WebhookURL: w.webhookURL(campaign, target.ID),
		AgentID:    campaign.AgentID,
	})
}

func (w *Worker) recordFailure(ctx context.Context, campaign *domain.Campaign, record domain.CampaignContact, callErr error, now time.Time) {
	var openErr *breaker.OpenError
	if errors.As(callErr, &openErr) {
		w.logger.Warn("provider breaker open, fast-failing contact",
			zap.String("provider", campaign.Provider),
			zap.String("campaign_contact_id", record.ID.String()),
		)
	} else {
		w.logger.Error("call initiation failed",
			zap.String("campaign_contact_id", record.ID.String()),
			zap.Int("attempt", record.Attempts),
			zap.Error(callErr),
		)
	}

	msg := callErr.Error()
	record.LastError = &msg
	record.ProviderCallID = ""

	delta := repository.StatsDelta{}
	if record.Attempts < campaign.MaxAttemptsPerContact {
		next := now.Add(campaign.RetryDelay)
		record.Status = domain.ContactCallStatusRetryScheduled
		record.NextRetryAt = &next
		delta.RetriesDelta = 1
	} else {
		record.Status = domain.ContactCallStatusFailed
		record.NextRetryAt = nil
		delta.FailedDelta = 1
	}

	if err := w.contacts.Update(ctx, &record); err != nil {
		w.logger.Error("update failed contact",
			zap.String("campaign_contact_id", record.ID.String()),
			zap.Error(err),
		)
		return
	}
	if err := w.stats.ApplyDelta(ctx, campaign.ID, delta); err != nil {
		w.logger.Warn("apply failure stats", zap.Error(err))
	}
	w.publishEvent(ctx, campaign, record, string(record.Status), msg)
}

// maybeComplete closes out a campaign once no contact can produce another
// dispatch. The status flip is atomic in the repository, so a concurrent
// pause or cancel wins.
func (w *Worker) maybeComplete(ctx context.Context, campaign *domain.Campaign, now time.Time) error {
	open, err := w.contacts.CountOpen(ctx, campaign.ID, campaign.MaxAttemptsPerContact)
	if err != nil {
		return fmt.Errorf("count open contacts: %w", err)
	}
	if open > 0 {
		return nil
	}

	if err := w.campaigns.MarkCompleted(ctx, campaign.ID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("mark completed: %w", err)
	}
	w.logger.Info("campaign completed", zap.String("campaign_id", campaign.ID.String()))
	return nil
}

func (w *Worker) webhookURL(campaign *domain.Campaign, campaignContactID uuid.UUID) string {
	params := url.Values{
		"agent_id":            {campaign.AgentID.String()},
		"campaign_id":         {campaign.ID.String()},
		"campaign_contact_id": {campaignContactID.String()},
	}
	return w.cfg.BaseURL + "/api/v1/webhooks/calls?" + params.Encode()
}

func (w *Worker) publishEvent(ctx context.Context, campaign *domain.Campaign, record domain.CampaignContact, status, errMsg string) {
	if w.events == nil {
		return
	}
	msg := queue.CallEventMessage{
		CampaignID:        campaign.ID,
		CampaignContactID: record.ID,
		AgentID:           campaign.AgentID,
		ProviderCallID:    record.ProviderCallID,
		Status:            status,
		Attempt:           record.Attempts,
		Error:             errMsg,
		OccurredAt:        w.now().UTC(),
	}
	if err := w.events.Publish(ctx, msg); err != nil {
		// Events are best effort; contact state in Postgres is the truth.
		w.logger.Warn("publish call event", zap.Error(err))
	}
}
