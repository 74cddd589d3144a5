package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voiceagent/internal/domain"
	"github.com/acme/voiceagent/internal/repository"
	apperrors "github.com/acme/voiceagent/pkg/errors"
)

type fakeCampaignRepo struct {
	campaigns map[uuid.UUID]*domain.Campaign
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{campaigns: map[uuid.UUID]*domain.Campaign{}}
}

func (f *fakeCampaignRepo) Create(_ context.Context, c *domain.Campaign) error {
	cp := *c
	f.campaigns[c.ID] = &cp
	return nil
}

func (f *fakeCampaignRepo) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCampaignRepo) Update(_ context.Context, c *domain.Campaign) error {
	if _, ok := f.campaigns[c.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *c
	f.campaigns[c.ID] = &cp
	return nil
}

func (f *fakeCampaignRepo) List(_ context.Context, workspaceID uuid.UUID, _ *uuid.UUID, _ int) ([]*domain.Campaign, error) {
	var out []*domain.Campaign
	for _, c := range f.campaigns {
		if c.WorkspaceID == workspaceID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeCampaignRepo) ListByStatus(_ context.Context, status domain.CampaignStatus, _ int) ([]*domain.Campaign, error) {
	var out []*domain.Campaign
	for _, c := range f.campaigns {
		if c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeCampaignRepo) MarkCompleted(_ context.Context, id uuid.UUID, completedAt time.Time) error {
	c, ok := f.campaigns[id]
	if !ok || c.Status != domain.CampaignStatusRunning {
		return repository.ErrNotFound
	}
	c.Status = domain.CampaignStatusCompleted
	c.CompletedAt = &completedAt
	return nil
}

type fakeContactRepo struct {
	contacts map[uuid.UUID]*domain.Contact
}

func newFakeContactRepo() *fakeContactRepo {
	return &fakeContactRepo{contacts: map[uuid.UUID]*domain.Contact{}}
}

func (f *fakeContactRepo) Create(_ context.Context, c *domain.Contact) error {
	f.contacts[c.ID] = c
	return nil
}

func (f *fakeContactRepo) Get(_ context.Context, id uuid.UUID) (*domain.Contact, error) {
	c, ok := f.contacts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (f *fakeContactRepo) ListByWorkspace(_ context.Context, workspaceID uuid.UUID, _ int) ([]*domain.Contact, error) {
	var out []*domain.Contact
	for _, c := range f.contacts {
		if c.WorkspaceID == workspaceID {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeCampaignContactRepo struct {
	records map[uuid.UUID]*domain.CampaignContact
}

func newFakeCampaignContactRepo() *fakeCampaignContactRepo {
	return &fakeCampaignContactRepo{records: map[uuid.UUID]*domain.CampaignContact{}}
}

func (f *fakeCampaignContactRepo) BulkInsert(_ context.Context, records []domain.CampaignContact) error {
	for i := range records {
		cp := records[i]
		f.records[cp.ID] = &cp
	}
	return nil
}

func (f *fakeCampaignContactRepo) Get(_ context.Context, id uuid.UUID) (*domain.CampaignContact, error) {
	r, ok := f.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeCampaignContactRepo) Update(_ context.Context, r *domain.CampaignContact) error {
	cp := *r
	f.records[r.ID] = &cp
	return nil
}

func (f *fakeCampaignContactRepo) ListEligible(context.Context, uuid.UUID, int, time.Time, int) ([]repository.DialTarget, error) {
	return nil, nil
}

func (f *fakeCampaignContactRepo) CountByStatus(_ context.Context, campaignID uuid.UUID, status domain.ContactCallStatus) (int, error) {
	n := 0
	for _, r := range f.records {
		if r.CampaignID == campaignID && r.Status == status {
			n++
		}
	}
	return n, nil
}

func (f *fakeCampaignContactRepo) CountOpen(context.Context, uuid.UUID, int) (int, error) {
	return 0, nil
}

func (f *fakeCampaignContactRepo) CountByCampaign(_ context.Context, campaignID uuid.UUID) (int, error) {
	n := 0
	for _, r := range f.records {
		if r.CampaignID == campaignID {
			n++
		}
	}
	return n, nil
}

func (f *fakeCampaignContactRepo) ListByCampaign(_ context.Context, campaignID uuid.UUID, _ int) ([]domain.CampaignContact, error) {
	var out []domain.CampaignContact
	for _, r := range f.records {
		if r.CampaignID == campaignID {
			out = append(out, *r)
		}
	}
	return out, nil
}

type fakeStatsRepo struct {
	ensured map[uuid.UUID]bool
	stats   map[uuid.UUID]*domain.CampaignStats
}

func newFakeStatsRepo() *fakeStatsRepo {
	return &fakeStatsRepo{ensured: map[uuid.UUID]bool{}, stats: map[uuid.UUID]*domain.CampaignStats{}}
}

func (f *fakeStatsRepo) Ensure(_ context.Context, id uuid.UUID) error {
	f.ensured[id] = true
	if _, ok := f.stats[id]; !ok {
		f.stats[id] = &domain.CampaignStats{}
	}
	return nil
}

func (f *fakeStatsRepo) Get(_ context.Context, id uuid.UUID) (*domain.CampaignStats, error) {
	s, ok := f.stats[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s, nil
}

func (f *fakeStatsRepo) ApplyDelta(_ context.Context, id uuid.UUID, delta repository.StatsDelta) error {
	s, ok := f.stats[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.TotalDispatched += delta.DispatchedDelta
	return nil
}

type fixture struct {
	svc              *Service
	campaigns        *fakeCampaignRepo
	contacts         *fakeContactRepo
	campaignContacts *fakeCampaignContactRepo
	stats            *fakeStatsRepo
}

func newFixture() *fixture {
	f := &fixture{
		campaigns:        newFakeCampaignRepo(),
		contacts:         newFakeContactRepo(),
		campaignContacts: newFakeCampaignContactRepo(),
		stats:            newFakeStatsRepo(),
	}
	f.svc = NewService(f.campaigns, f.contacts, f.campaignContacts, f.stats, "sim")
	return f
}

func (f *fixture) addContact(t *testing.T, workspaceID uuid.UUID) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.contacts.contacts[id] = &domain.Contact{ID: id, WorkspaceID: workspaceID, PhoneNumber: "+15550001111"}
	return id
}

func validInput() CreateCampaignInput {
	return CreateCampaignInput{
		WorkspaceID:           uuid.New(),
		AgentID:               uuid.New(),
		Name:                  "Q3 outreach",
		FromPhoneNumber:       "+15551234567",
		CallsPerMinute:        10,
		MaxConcurrentCalls:    3,
		MaxAttemptsPerContact: 2,
		RetryDelayMinutes:     15,
		Timezone:              "America/New_York",
	}
}

func TestCreateCampaign(t *testing.T) {
	f := newFixture()

	campaign, err := f.svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if campaign.Status != domain.CampaignStatusDraft {
		t.Fatalf("status = %s, want draft", campaign.Status)
	}
	if campaign.Provider != "sim" {
		t.Fatalf("provider = %s, want default sim", campaign.Provider)
	}
	if campaign.RetryDelay != 15*time.Minute {
		t.Fatalf("retry delay = %v", campaign.RetryDelay)
	}
	if !f.stats.ensured[campaign.ID] {
		t.Fatal("stats row not ensured")
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	f := newFixture()

	cases := []struct {
		name   string
		mutate func(*CreateCampaignInput)
	}{
		{"missing name", func(in *CreateCampaignInput) { in.Name = "" }},
		{"missing from number", func(in *CreateCampaignInput) { in.FromPhoneNumber = "" }},
		{"bad timezone", func(in *CreateCampaignInput) { in.Timezone = "Mars/Olympus" }},
		{"day out of range", func(in *CreateCampaignInput) { in.CallingDays = []int{0, 7} }},
		{"single hour bound", func(in *CreateCampaignInput) {
			in.CallingHoursStart = &domain.TimeOfDay{Hour: 9}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			if _, err := f.svc.Create(context.Background(), in); !errors.Is(err, apperrors.ErrValidation) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}
}

func TestStartRequiresContacts(t *testing.T) {
	f := newFixture()
	campaign, err := f.svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.svc.Start(context.Background(), campaign.ID); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("start with no contacts: err = %v, want validation error", err)
	}

	contactID := f.addContact(t, campaign.WorkspaceID)
	if err := f.svc.AttachContacts(context.Background(), campaign.ID, []uuid.UUID{contactID}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	started, err := f.svc.Start(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != domain.CampaignStatusRunning {
		t.Fatalf("status = %s, want running", started.Status)
	}
	if started.StartedAt == nil {
		t.Fatal("started_at not set")
	}
}

func TestLifecycleTransitions(t *testing.T) {
	f := newFixture()
	campaign, _ := f.svc.Create(context.Background(), validInput())
	contactID := f.addContact(t, campaign.WorkspaceID)
	if err := f.svc.AttachContacts(context.Background(), campaign.ID, []uuid.UUID{contactID}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if _, err := f.svc.Pause(context.Background(), campaign.ID); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("pause draft: err = %v, want invalid transition", err)
	}

	if _, err := f.svc.Start(context.Background(), campaign.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	paused, err := f.svc.Pause(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.Status != domain.CampaignStatusPaused {
		t.Fatalf("status = %s, want paused", paused.Status)
	}

	resumed, err := f.svc.Start(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != domain.CampaignStatusRunning {
		t.Fatalf("status = %s, want running", resumed.Status)
	}

	stopped, err := f.svc.Stop(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.Status != domain.CampaignStatusCanceled {
		t.Fatalf("status = %s, want canceled", stopped.Status)
	}
	if stopped.CompletedAt == nil {
		t.Fatal("completed_at not set on stop")
	}

	if _, err := f.svc.Stop(context.Background(), campaign.ID); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("double stop: err = %v, want invalid transition", err)
	}
}

func TestRestartPreservesContactState(t *testing.T) {
	f := newFixture()
	campaign, _ := f.svc.Create(context.Background(), validInput())
	contactID := f.addContact(t, campaign.WorkspaceID)
	if err := f.svc.AttachContacts(context.Background(), campaign.ID, []uuid.UUID{contactID}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := f.svc.Start(context.Background(), campaign.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.Stop(context.Background(), campaign.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// Simulate a contact that exhausted its attempts before cancellation.
	for _, r := range f.campaignContacts.records {
		r.Status = domain.ContactCallStatusFailed
		r.Attempts = 2
	}

	restarted, err := f.svc.Restart(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if restarted.Status != domain.CampaignStatusRunning {
		t.Fatalf("status = %s, want running", restarted.Status)
	}
	if restarted.CompletedAt != nil {
		t.Fatal("completed_at should be cleared on restart")
	}
	for _, r := range f.campaignContacts.records {
		if r.Attempts != 2 {
			t.Fatalf("restart mutated contact attempts: %d", r.Attempts)
		}
	}
}

func TestAttachContactsRejectsUnknownContact(t *testing.T) {
	f := newFixture()
	campaign, _ := f.svc.Create(context.Background(), validInput())

	err := f.svc.AttachContacts(context.Background(), campaign.ID, []uuid.UUID{uuid.New()})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestUpdateRejectsBadWindow(t *testing.T) {
	f := newFixture()
	campaign, _ := f.svc.Create(context.Background(), validInput())

	start := &domain.TimeOfDay{Hour: 9}
	_, err := f.svc.Update(context.Background(), UpdateCampaignInput{ID: campaign.ID, CallingHoursStart: start})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}
