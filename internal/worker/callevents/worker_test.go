package callevents

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voiceagent/internal/domain"
	"github.com/acme/voiceagent/internal/queue"
	"github.com/acme/voiceagent/internal/repository"
	"github.com/acme/voiceagent/pkg/logger"
)

type fakeCampaigns struct {
	campaign *domain.Campaign
}

func (f *fakeCampaigns) Create(context.Context, *domain.Campaign) error { return nil }
func (f *fakeCampaigns) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	if f.campaign == nil || f.campaign.ID != id {
		return nil, repository.ErrNotFound
	}
	cp := *f.campaign
	return &cp, nil
}
func (f *fakeCampaigns) Update(context.Context, *domain.Campaign) error { return nil }
func (f *fakeCampaigns) List(context.Context, uuid.UUID, *uuid.UUID, int) ([]*domain.Campaign, error) {
	return nil, nil
}
func (f *fakeCampaigns) ListByStatus(context.Context, domain.CampaignStatus, int) ([]*domain.Campaign, error) {
	return nil, nil
}
func (f *fakeCampaigns) MarkCompleted(context.Context, uuid.UUID, time.Time) error { return nil }

type fakeContacts struct {
	records map[uuid.UUID]*domain.CampaignContact
	updates int
}

func (f *fakeContacts) BulkInsert(context.Context, []domain.CampaignContact) error { return nil }
func (f *fakeContacts) Get(_ context.Context, id uuid.UUID) (*domain.CampaignContact, error) {
	r, ok := f.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}
func (f *fakeContacts) Update(_ context.Context, r *domain.CampaignContact) error {
	cp := *r
	f.records[r.ID] = &cp
	f.updates++
	return nil
}
func (f *fakeContacts) ListEligible(context.Context, uuid.UUID, int, time.Time, int) ([]repository.DialTarget, error) {
	return nil, nil
}
func (f *fakeContacts) CountByStatus(context.Context, uuid.UUID, domain.ContactCallStatus) (int, error) {
	return 0, nil
}
func (f *fakeContacts) CountOpen(context.Context, uuid.UUID, int) (int, error) { return 0, nil }
func (f *fakeContacts) CountByCampaign(context.Context, uuid.UUID) (int, error) {
	return 0, nil
}
func (f *fakeContacts) ListByCampaign(context.Context, uuid.UUID, int) ([]domain.CampaignContact, error) {
	return nil, nil
}

type fakeStats struct {
	deltas []repository.StatsDelta
}

func (f *fakeStats) Ensure(context.Context, uuid.UUID) error { return nil }
func (f *fakeStats) Get(context.Context, uuid.UUID) (*domain.CampaignStats, error) {
	return &domain.CampaignStats{}, nil
}
func (f *fakeStats) ApplyDelta(_ context.Context, _ uuid.UUID, delta repository.StatsDelta) error {
	f.deltas = append(f.deltas, delta)
	return nil
}

type fakeEventStore struct {
	appended []domain.CallEvent
}

func (f *fakeEventStore) Append(_ context.Context, e domain.CallEvent) error {
	f.appended = append(f.appended, e)
	return nil
}
func (f *fakeEventStore) ListByCampaign(context.Context, uuid.UUID, int, []byte) ([]domain.CallEvent, []byte, error) {
	return nil, nil, nil
}

type testEnv struct {
	worker   *Worker
	campaign *domain.Campaign
	contacts *fakeContacts
	stats    *fakeStats
	store    *fakeEventStore
	now      time.Time
}

func newTestEnv(t *testing.T, maxAttempts int) *testEnv {
	t.Helper()
	campaign := &domain.Campaign{
		ID:                    uuid.New(),
		AgentID:               uuid.New(),
		Status:                domain.CampaignStatusRunning,
		MaxAttemptsPerContact: maxAttempts,
		RetryDelay:            5 * time.Minute,
	}
	env := &testEnv{
		campaign: campaign,
		contacts: &fakeContacts{records: map[uuid.UUID]*domain.CampaignContact{}},
		stats:    &fakeStats{},
		store:    &fakeEventStore{},
		now:      time.Date(2024, 6, 5, 14, 0, 0, 0, time.UTC),
	}
	env.worker = NewWorker(nil, &fakeCampaigns{campaign: campaign}, env.contacts, env.stats, env.store, logger.Nop())
	env.worker.now = func() time.Time { return env.now }
	return env
}

func (e *testEnv) addInProgress(attempts int) uuid.UUID {
	id := uuid.New()
	e.contacts.records[id] = &domain.CampaignContact{
		ID:             id,
		CampaignID:     e.campaign.ID,
		ContactID:      uuid.New(),
		Status:         domain.ContactCallStatusInProgress,
		Attempts:       attempts,
		ProviderCallID: "call-1",
	}
	return id
}

func (e *testEnv) event(contactID uuid.UUID, status string, attempt int) queue.CallEventMessage {
	return queue.CallEventMessage{
		CampaignID:        e.campaign.ID,
		CampaignContactID: contactID,
		AgentID:           e.campaign.AgentID,
		ProviderCallID:    "call-1",
		Status:            status,
		Attempt:           attempt,
		OccurredAt:        e.now,
	}
}

func TestCompletedEventResolvesContact(t *testing.T) {
	env := newTestEnv(t, 3)
	id := env.addInProgress(1)

	if err := env.worker.Handle(context.Background(), env.event(id, "completed", 1)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	rec := env.contacts.records[id]
	if rec.Status != domain.ContactCallStatusCompleted {
		t.Fatalf("status = %s, want completed", rec.Status)
	}
	if rec.NextRetryAt != nil {
		t.Fatal("completed contact must not carry next_retry_at")
	}
	if len(env.store.appended) != 1 {
		t.Fatalf("appended events = %d, want 1", len(env.store.appended))
	}
	if len(env.stats.deltas) != 1 || env.stats.deltas[0].CompletedDelta != 1 || env.stats.deltas[0].InProgressDelta != -1 {
		t.Fatalf("deltas = %+v", env.stats.deltas)
	}
}

func TestNoAnswerSchedulesRetryBelowMax(t *testing.T) {
	env := newTestEnv(t, 3)
	id := env.addInProgress(1)

	if err := env.worker.Handle(context.Background(), env.event(id, "no_answer", 1)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	rec := env.contacts.records[id]
	if rec.Status != domain.ContactCallStatusRetryScheduled {
		t.Fatalf("status = %s, want retry_scheduled", rec.Status)
	}
	if rec.NextRetryAt == nil || !rec.NextRetryAt.Equal(env.now.Add(5*time.Minute)) {
		t.Fatalf("next_retry_at = %v, want now+5m", rec.NextRetryAt)
	}
}

func TestNoAnswerAtMaxAttemptsIsTerminal(t *testing.T) {
	env := newTestEnv(t, 2)
	id := env.addInProgress(2)

	if err := env.worker.Handle(context.Background(), env.event(id, "no_answer", 2)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	rec := env.contacts.records[id]
	if rec.Status != domain.ContactCallStatusNoAnswer {
		t.Fatalf("status = %s, want no_answer", rec.Status)
	}
	if rec.NextRetryAt != nil {
		t.Fatal("terminal outcome must clear next_retry_at")
	}
}

func TestIntermediateEventIsAuditOnly(t *testing.T) {
	env := newTestEnv(t, 3)
	id := env.addInProgress(1)

	if err := env.worker.Handle(context.Background(), env.event(id, "in_progress", 1)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if env.contacts.updates != 0 {
		t.Fatalf("contact updates = %d, want 0 for audit-only event", env.contacts.updates)
	}
	if len(env.store.appended) != 1 {
		t.Fatalf("appended events = %d, want 1", len(env.store.appended))
	}
}

func TestDuplicateTerminalEventIgnored(t *testing.T) {
	env := newTestEnv(t, 3)
	id := env.addInProgress(1)

	if err := env.worker.Handle(context.Background(), env.event(id, "completed", 1)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := env.worker.Handle(context.Background(), env.event(id, "completed", 1)); err != nil {
		t.Fatalf("duplicate handle: %v", err)
	}

	if env.contacts.updates != 1 {
		t.Fatalf("contact updates = %d, want 1", env.contacts.updates)
	}
	// Both deliveries stay in the compliance log.
	if len(env.store.appended) != 2 {
		t.Fatalf("appended events = %d, want 2", len(env.store.appended))
	}
}

func TestUnknownContactDoesNotError(t *testing.T) {
	env := newTestEnv(t, 3)

	if err := env.worker.Handle(context.Background(), env.event(uuid.New(), "completed", 1)); err != nil {
		t.Fatalf("handle: %v", err)
	}
}
