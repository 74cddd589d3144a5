package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voiceagent/internal/domain"
	"github.com/acme/voiceagent/internal/repository"
)

// retryableStatuses lists outcomes that allow another attempt while the
// attempt budget lasts.
const retryableStatuses = `'failed', 'no_answer', 'retry_scheduled'`

// CampaignContactRepository persists per-campaign contact dispatch state.
type CampaignContactRepository struct {
	db *sqlx.DB
}

// NewCampaignContactRepository constructs the repository.
func NewCampaignContactRepository(db *sqlx.DB) *CampaignContactRepository {
	return &CampaignContactRepository{db: db}
}

// BulkInsert attaches contacts to a campaign. Existing pairs are skipped so
// re-attaching is idempotent.
func (r *CampaignContactRepository) BulkInsert(ctx context.Context, records []domain.CampaignContact) error {
	if len(records) == 0 {
		return nil
	}

	q := `INSERT INTO campaign_contacts (
		id, campaign_id, contact_id, status, attempts, last_attempt_at, next_retry_at,
		provider_call_id, last_error, created_at, updated_at
	) VALUES (
		:id, :campaign_id, :contact_id, :status, :attempts, :last_attempt_at, :next_retry_at,
		:provider_call_id, :last_error, :created_at, :updated_at
	) ON CONFLICT (campaign_id, contact_id) DO NOTHING`

	err := runInTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for i := range records {
			if _, err := tx.NamedExecContext(ctx, q, campaignContactParams(&records[i])); err != nil {
				return fmt.Errorf("campaign contacts: insert %s: %w", records[i].ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("campaign contacts: bulk insert: %w", err)
	}
	return nil
}

// Get fetches a campaign contact by id.
func (r *CampaignContactRepository) Get(ctx context.Context, id uuid.UUID) (*domain.CampaignContact, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT id, campaign_id, contact_id, status, attempts,
		last_attempt_at, next_retry_at, provider_call_id, last_error, created_at, updated_at
		FROM campaign_contacts WHERE id = $1`, id)

	var rec campaignContactRecord
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign contacts: get: %w", err)
	}

	cc := rec.toDomain()
	return &cc, nil
}

// Update persists dispatch state for one campaign contact.
func (r *CampaignContactRepository) Update(ctx context.Context, record *domain.CampaignContact) error {
	q := `UPDATE campaign_contacts SET
		status = :status,
		attempts = :attempts,
		last_attempt_at = :last_attempt_at,
		next_retry_at = :next_retry_at,
		provider_call_id = :provider_call_id,
		last_error = :last_error,
		updated_at = :updated_at
	 WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, q, campaignContactParams(record))
	if err != nil {
		return fmt.Errorf("campaign contacts: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign contacts: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListEligible selects dialable contacts joined with their phone numbers.
// Order is created_at then id so ticks are reproducible.
func (r *CampaignContactRepository) ListEligible(ctx context.Context, campaignID uuid.UUID, maxAttempts int, now time.Time, limit int) ([]repository.DialTarget, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT cc.id, cc.campaign_id, cc.contact_id, cc.status,
		cc.attempts, cc.last_attempt_at, cc.next_retry_at, cc.provider_call_id, cc.last_error,
		cc.created_at, cc.updated_at, c.phone_number
		FROM campaign_contacts cc
		JOIN contacts c ON c.id = cc.contact_id
		WHERE cc.campaign_id = $1
		  AND (cc.status = 'pending'
		       OR (cc.status IN (`+retryableStatuses+`)
		           AND cc.attempts < $2
		           AND cc.next_retry_at IS NOT NULL
		           AND cc.next_retry_at <= $3))
		ORDER BY cc.created_at ASC, cc.id ASC
		LIMIT $4`, campaignID, maxAttempts, now, limit)
	if err != nil {
		return nil, fmt.Errorf("campaign contacts: list eligible: %w", err)
	}
	defer rows.Close()

	var targets []repository.DialTarget
	for rows.Next() {
		var rec dialTargetRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("campaign contacts: scan eligible: %w", err)
		}
		targets = append(targets, repository.DialTarget{
			CampaignContact: rec.campaignContactRecord.toDomain(),
			PhoneNumber:     rec.PhoneNumber,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign contacts: rows err: %w", err)
	}
	return targets, nil
}

// CountByStatus counts rows in one status.
func (r *CampaignContactRepository) CountByStatus(ctx context.Context, campaignID uuid.UUID, status domain.ContactCallStatus) (int, error) {
	var count int
	err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM campaign_contacts
		WHERE campaign_id = $1 AND status = $2`, campaignID, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("campaign contacts: count by status: %w", err)
	}
	return count, nil
}

// CountOpen counts contacts that can still produce a dispatch: pending,
// currently in flight, or retryable with attempt budget left.
func (r *CampaignContactRepository) CountOpen(ctx context.Context, campaignID uuid.UUID, maxAttempts int) (int, error) {
	var count int
	err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM campaign_contacts
		WHERE campaign_id = $1
		  AND (status IN ('pending', 'in_progress')
		       OR (status IN (`+retryableStatuses+`) AND attempts < $2))`,
		campaignID, maxAttempts).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("campaign contacts: count open: %w", err)
	}
	return count, nil
}

// CountByCampaign counts all contacts attached to the campaign.
func (r *CampaignContactRepository) CountByCampaign(ctx context.Context, campaignID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM campaign_contacts
		WHERE campaign_id = $1`, campaignID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("campaign contacts: count: %w", err)
	}
	return count, nil
}

// ListByCampaign returns attached contacts in creation order.
func (r *CampaignContactRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.CampaignContact, error) {
	if limit <= 0 {
		limit = 200
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT id, campaign_id, contact_id, status, attempts,
		last_attempt_at, next_retry_at, provider_call_id, last_error, created_at, updated_at
		FROM campaign_contacts WHERE campaign_id = $1
		ORDER BY created_at ASC, id ASC LIMIT $2`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("campaign contacts: list: %w", err)
	}
	defer rows.Close()

	var results []domain.CampaignContact
	for rows.Next() {
		var rec campaignContactRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("campaign contacts: scan: %w", err)
		}
		results = append(results, rec.toDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign contacts: rows err: %w", err)
	}
	return results, nil
}

func campaignContactParams(cc *domain.CampaignContact) map[string]any {
	return map[string]any{
		"id":               cc.ID,
		"campaign_id":      cc.CampaignID,
		"contact_id":       cc.ContactID,
		"status":           cc.Status,
		"attempts":         cc.Attempts,
		"last_attempt_at":  cc.LastAttemptAt,
		"next_retry_at":    cc.NextRetryAt,
		"provider_call_id": cc.ProviderCallID,
		"last_error":       cc.LastError,
		"created_at":       cc.CreatedAt,
		"updated_at":       cc.UpdatedAt,
	}
}

type campaignContactRecord struct {
	ID             uuid.UUID      `db:"id"`
	CampaignID     uuid.UUID      `db:"campaign_id"`
	ContactID      uuid.UUID      `db:"contact_id"`
	Status         string         `db:"status"`
	Attempts       int            `db:"attempts"`
	LastAttemptAt  *time.Time     `db:"last_attempt_at"`
	NextRetryAt    *time.Time     `db:"next_retry_at"`
	ProviderCallID sql.NullString `db:"provider_call_id"`
	LastError      *string        `db:"last_error"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

type dialTargetRecord struct {
	campaignContactRecord
	PhoneNumber string `db:"phone_number"`
}

func (r campaignContactRecord) toDomain() domain.CampaignContact {
	return domain.CampaignContact{
		ID:             r.ID,
		CampaignID:     r.CampaignID,
		ContactID:      r.ContactID,
		Status:         domain.ContactCallStatus(r.Status),
		Attempts:       r.Attempts,
		LastAttemptAt:  r.LastAttemptAt,
		NextRetryAt:    r.NextRetryAt,
		ProviderCallID: r.ProviderCallID.String,
		LastError:      r.LastError,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}
