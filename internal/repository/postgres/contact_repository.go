package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voiceagent/internal/domain"
	"github.com/acme/voiceagent/internal/repository"
)

// ContactRepository implements repository.ContactRepository using PostgreSQL.
type ContactRepository struct {
	db *sqlx.DB
}

// NewContactRepository constructs a new repository.
func NewContactRepository(db *sqlx.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// Create inserts a contact.
func (r *ContactRepository) Create(ctx context.Context, contact *domain.Contact) error {
	metadata, err := json.Marshal(contact.Metadata)
	if err != nil {
		return fmt.Errorf("contact repo: marshal metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO contacts (id, workspace_id, name, phone_number, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		contact.ID, contact.WorkspaceID, contact.Name, contact.PhoneNumber, metadata, contact.CreatedAt)
	if err != nil {
		return fmt.Errorf("contact repo: insert: %w", err)
	}
	return nil
}

// Get fetches a contact by id.
func (r *ContactRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT id, workspace_id, name, phone_number, metadata, created_at
		FROM contacts WHERE id = $1`, id)

	var rec contactRecord
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("contact repo: get: %w", err)
	}
	return rec.toDomain()
}

// ListByWorkspace returns workspace contacts in creation order.
func (r *ContactRepository) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID, limit int) ([]*domain.Contact, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT id, workspace_id, name, phone_number, metadata, created_at
		FROM contacts WHERE workspace_id = $1 ORDER BY created_at ASC, id ASC LIMIT $2`, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("contact repo: list: %w", err)
	}
	defer rows.Close()

	var results []*domain.Contact
	for rows.Next() {
		var rec contactRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("contact repo: scan: %w", err)
		}
		contact, err := rec.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, contact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contact repo: rows err: %w", err)
	}
	return results, nil
}

type contactRecord struct {
	ID          uuid.UUID `db:"id"`
	WorkspaceID uuid.UUID `db:"workspace_id"`
	Name        string    `db:"name"`
	PhoneNumber string    `db:"phone_number"`
	Metadata    []byte    `db:"metadata"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r contactRecord) toDomain() (*domain.Contact, error) {
	contact := &domain.Contact{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		Name:        r.Name,
		PhoneNumber: r.PhoneNumber,
		CreatedAt:   r.CreatedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &contact.Metadata); err != nil {
			return nil, fmt.Errorf("contact repo: unmarshal metadata: %w", err)
		}
	}
	return contact, nil
}
