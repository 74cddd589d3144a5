package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voiceagent/internal/domain"
	"github.com/acme/voiceagent/internal/repository"
)

const campaignColumns = `id, workspace_id, agent_id, name, from_phone_number, provider,
	calls_per_minute, max_concurrent_calls, max_attempts_per_contact, retry_delay_minutes,
	calling_hours_start, calling_hours_end, calling_days, timezone, status,
	created_at, updated_at, started_at, completed_at`

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create inserts a new campaign.
func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign) error {
	q := `INSERT INTO campaigns (
		id, workspace_id, agent_id, name, from_phone_number, provider,
		calls_per_minute, max_concurrent_calls, max_attempts_per_contact, retry_delay_minutes,
		calling_hours_start, calling_hours_end, calling_days, timezone, status,
		created_at, updated_at, started_at, completed_at
	) VALUES (
		:id, :workspace_id, :agent_id, :name, :from_phone_number, :provider,
		:calls_per_minute, :max_concurrent_calls, :max_attempts_per_contact, :retry_delay_minutes,
		:calling_hours_start, :calling_hours_end, :calling_days, :timezone, :status,
		:created_at, :updated_at, :started_at, :completed_at
	)`

	if _, err := r.db.NamedExecContext(ctx, q, campaignParams(campaign)); err != nil {
		return fmt.Errorf("campaign repo: insert: %w", err)
	}
	return nil
}

// Get fetches a campaign by id.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)

	var record campaignRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}

	return record.toDomain()
}

// Update persists all mutable campaign fields.
func (r *CampaignRepository) Update(ctx context.Context, campaign *domain.Campaign) error {
	q := `UPDATE campaigns SET
		name = :name,
		from_phone_number = :from_phone_number,
		provider = :provider,
		calls_per_minute = :calls_per_minute,
		max_concurrent_calls = :max_concurrent_calls,
		max_attempts_per_contact = :max_attempts_per_contact,
		retry_delay_minutes = :retry_delay_minutes,
		calling_hours_start = :calling_hours_start,
		calling_hours_end = :calling_hours_end,
		calling_days = :calling_days,
		timezone = :timezone,
		status = :status,
		updated_at = :updated_at,
		started_at = :started_at,
		completed_at = :completed_at
	 WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, q, campaignParams(campaign))
	if err != nil {
		return fmt.Errorf("campaign repo: update: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List returns workspace campaigns with keyset pagination.
func (r *CampaignRepository) List(ctx context.Context, workspaceID uuid.UUID, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows *sqlx.Rows
		err  error
	)
	if afterID != nil {
		rows, err = r.db.QueryxContext(ctx, `SELECT `+campaignColumns+`
			FROM campaigns WHERE workspace_id = $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
			workspaceID, *afterID, limit)
	} else {
		rows, err = r.db.QueryxContext(ctx, `SELECT `+campaignColumns+`
			FROM campaigns WHERE workspace_id = $1 ORDER BY id ASC LIMIT $2`,
			workspaceID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list: %w", err)
	}
	defer rows.Close()

	return scanCampaigns(rows)
}

// ListByStatus returns campaigns filtered by status.
func (r *CampaignRepository) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+campaignColumns+`
		FROM campaigns WHERE status = $1 ORDER BY updated_at ASC LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list by status: %w", err)
	}
	defer rows.Close()

	return scanCampaigns(rows)
}

// MarkCompleted finishes a campaign only while it is still running.
func (r *CampaignRepository) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE campaigns
		SET status = $1, completed_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4`,
		domain.CampaignStatusCompleted, completedAt, id, domain.CampaignStatusRunning)
	if err != nil {
		return fmt.Errorf("campaign repo: mark completed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanCampaigns(rows *sqlx.Rows) ([]*domain.Campaign, error) {
	var results []*domain.Campaign
	for rows.Next() {
		var record campaignRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("campaign repo: scan: %w", err)
		}
		campaign, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, campaign)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}
	return results, nil
}

func campaignParams(c *domain.Campaign) map[string]any {
	return map[string]any{
		"id":                       c.ID,
		"workspace_id":             c.WorkspaceID,
		"agent_id":                 c.AgentID,
		"name":                     c.Name,
		"from_phone_number":        c.FromPhoneNumber,
		"provider":                 c.Provider,
		"calls_per_minute":         c.CallsPerMinute,
		"max_concurrent_calls":     c.MaxConcurrentCalls,
		"max_attempts_per_contact": c.MaxAttemptsPerContact,
		"retry_delay_minutes":      int(c.RetryDelay / time.Minute),
		"calling_hours_start":      timeOfDayParam(c.CallingHoursStart),
		"calling_hours_end":        timeOfDayParam(c.CallingHoursEnd),
		"calling_days":             encodeCallingDays(c.CallingDays),
		"timezone":                 c.Timezone,
		"status":                   c.Status,
		"created_at":               c.CreatedAt,
		"updated_at":               c.UpdatedAt,
		"started_at":               c.StartedAt,
		"completed_at":             c.CompletedAt,
	}
}

func timeOfDayParam(t *domain.TimeOfDay) any {
	if t == nil {
		return nil
	}
	return t.String()
}

// encodeCallingDays stores the Monday=0..Sunday=6 set as a comma list; empty
// set is stored as NULL so "all days allowed" survives round trips.
func encodeCallingDays(days []int) any {
	if len(days) == 0 {
		return nil
	}
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(d))
	}
	return strings.Join(parts, ",")
}

func decodeCallingDays(s sql.NullString) ([]int, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	parts := strings.Split(s.String, ",")
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("campaign repo: calling days %q: %w", s.String, err)
		}
		days = append(days, d)
	}
	return days, nil
}

type campaignRecord struct {
	ID                    uuid.UUID      `db:"id"`
	WorkspaceID           uuid.UUID      `db:"workspace_id"`
	AgentID               uuid.UUID      `db:"agent_id"`
	Name                  string         `db:"name"`
	FromPhoneNumber       string         `db:"from_phone_number"`
	Provider              string         `db:"provider"`
	CallsPerMinute        int            `db:"calls_per_minute"`
	MaxConcurrentCalls    int            `db:"max_concurrent_calls"`
	MaxAttemptsPerContact int            `db:"max_attempts_per_contact"`
	RetryDelayMinutes     int            `db:"retry_delay_minutes"`
	CallingHoursStart     sql.NullString `db:"calling_hours_start"`
	CallingHoursEnd       sql.NullString `db:"calling_hours_end"`
	CallingDays           sql.NullString `db:"calling_days"`
	Timezone              string         `db:"timezone"`
	Status                string         `db:"status"`
	CreatedAt             time.Time      `db:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at"`
	StartedAt             *time.Time     `db:"started_at"`
	CompletedAt           *time.Time     `db:"completed_at"`
}

func (r campaignRecord) toDomain() (*domain.Campaign, error) {
	days, err := decodeCallingDays(r.CallingDays)
	if err != nil {
		return nil, err
	}

	campaign := &domain.Campaign{
		ID:                    r.ID,
		WorkspaceID:           r.WorkspaceID,
		AgentID:               r.AgentID,
		Name:                  r.Name,
		FromPhoneNumber:       r.FromPhoneNumber,
		Provider:              r.Provider,
		CallsPerMinute:        r.CallsPerMinute,
		MaxConcurrentCalls:    r.MaxConcurrentCalls,
		MaxAttemptsPerContact: r.MaxAttemptsPerContact,
		RetryDelay:            time.Duration(r.RetryDelayMinutes) * time.Minute,
		CallingDays:           days,
		Timezone:              r.Timezone,
		Status:                domain.CampaignStatus(r.Status),
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
		StartedAt:             r.StartedAt,
		CompletedAt:           r.CompletedAt,
	}

	if r.CallingHoursStart.Valid {
		t, err := domain.ParseTimeOfDay(r.CallingHoursStart.String)
		if err != nil {
			return nil, fmt.Errorf("campaign repo: calling_hours_start: %w", err)
		}
		campaign.CallingHoursStart = &t
	}
	if r.CallingHoursEnd.Valid {
		t, err := domain.ParseTimeOfDay(r.CallingHoursEnd.String)
		if err != nil {
			return nil, fmt.Errorf("campaign repo: calling_hours_end: %w", err)
		}
		campaign.CallingHoursEnd = &t
	}

	return campaign, nil
}
