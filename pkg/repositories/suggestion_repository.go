package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/apperrors"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/database"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/models"
)

// SuggestionRepository provides data access for classification suggestions.
type SuggestionRepository interface {
	// CreateBatch inserts a set of freshly generated suggestions.
	CreateBatch(ctx context.Context, suggestions []*models.Suggestion) error

	GetByID(ctx context.Context, id uuid.UUID) (*models.Suggestion, error)

	// ListByEntity returns an entity's suggestions, highest confidence
	// first. Pass an empty status to list all.
	ListByEntity(ctx context.Context, entityID uuid.UUID, status models.SuggestionStatus) ([]*models.Suggestion, error)

	// PendingLabels returns the labels of an entity's pending suggestions
	// of one kind, for deduplication during generation.
	PendingLabels(ctx context.Context, entityID uuid.UUID, kind models.AssignmentKind) ([]string, error)

	// Resolve transitions a pending suggestion to accepted or rejected.
	// The transition is a compare-and-set on status; an already resolved
	// suggestion yields ErrAlreadyResolved, a missing one ErrNotFound.
	Resolve(ctx context.Context, id uuid.UUID, status models.SuggestionStatus, reviewedBy string, feedback string) (*models.Suggestion, error)

	// Reopen returns an accepted suggestion to pending and clears its
	// review fields. Used to roll the accept back when the ledger write
	// that follows it fails; no other transition leaves a terminal state.
	Reopen(ctx context.Context, id uuid.UUID) error

	// ExpireSweep marks pending suggestions past their expiry as expired.
	// Returns the number of suggestions expired.
	ExpireSweep(ctx context.Context, now time.Time) (int, error)
}

type suggestionRepository struct{}

// NewSuggestionRepository creates a new SuggestionRepository.
func NewSuggestionRepository() SuggestionRepository {
	return &suggestionRepository{}
}

var _ SuggestionRepository = (*suggestionRepository)(nil)

const suggestionColumns = `
	id, store_id, entity_id, label, kind, language,
	confidence, relevance, reasoning, status, feedback,
	reviewed_by, reviewed_at, expires_at, created_at, updated_at`

func (r *suggestionRepository) CreateBatch(ctx context.Context, suggestions []*models.Suggestion) error {
	if len(suggestions) == 0 {
		return nil
	}

	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	now := time.Now()
	batch := &pgx.Batch{}
	for _, s := range suggestions {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		s.Status = models.SuggestionStatusPending
		s.CreatedAt = now
		s.UpdatedAt = now

		batch.Queue(`
			INSERT INTO engine_suggestions (
				id, store_id, entity_id, label, kind, language,
				confidence, relevance, reasoning, status,
				expires_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`,
			s.ID, s.StoreID, s.EntityID, s.Label, s.Kind, s.Language,
			s.Confidence, s.Relevance, s.Reasoning, s.Status,
			s.ExpiresAt, now,
		)
	}

	results := scope.Conn.SendBatch(ctx, batch)
	defer results.Close() //nolint:errcheck // close reports the first queued error below

	for range suggestions {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert suggestion: %w", err)
		}
	}

	return nil
}

func (r *suggestionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Suggestion, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT `+suggestionColumns+`
		FROM engine_suggestions
		WHERE id = $1`, id)

	s, err := scanSuggestionValues(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return s, nil
}

func (r *suggestionRepository) ListByEntity(ctx context.Context, entityID uuid.UUID, status models.SuggestionStatus) ([]*models.Suggestion, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+suggestionColumns+`
		FROM engine_suggestions
		WHERE entity_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY confidence DESC, label ASC`,
		entityID, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list suggestions: %w", err)
	}
	defer rows.Close()

	var suggestions []*models.Suggestion
	for rows.Next() {
		s, err := scanSuggestionValues(rows.Scan)
		if err != nil {
			return nil, err
		}
		suggestions = append(suggestions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating suggestions: %w", err)
	}

	return suggestions, nil
}

func (r *suggestionRepository) PendingLabels(ctx context.Context, entityID uuid.UUID, kind models.AssignmentKind) ([]string, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT label
		FROM engine_suggestions
		WHERE entity_id = $1 AND kind = $2 AND status = $3`,
		entityID, kind, models.SuggestionStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending labels: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels = append(labels, label)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating labels: %w", err)
	}

	return labels, nil
}

func (r *suggestionRepository) Resolve(ctx context.Context, id uuid.UUID, status models.SuggestionStatus, reviewedBy string, feedback string) (*models.Suggestion, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		UPDATE engine_suggestions
		SET status = $2, reviewed_by = $3, reviewed_at = now(),
		    feedback = $4, updated_at = now()
		WHERE id = $1 AND status = $5
		RETURNING `+suggestionColumns,
		id, status, reviewedBy, nullableString(feedback), models.SuggestionStatusPending)

	s, err := scanSuggestionValues(row.Scan)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// The compare-and-set missed: tell a missing suggestion apart from one
	// somebody else resolved first.
	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("suggestion %s: %w", id, apperrors.ErrNotFound)
	}
	return nil, fmt.Errorf("suggestion %s is %s: %w", id, existing.Status, apperrors.ErrAlreadyResolved)
}

func (r *suggestionRepository) Reopen(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `
		UPDATE engine_suggestions
		SET status = $2, reviewed_by = NULL, reviewed_at = NULL,
		    feedback = NULL, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, models.SuggestionStatusPending, models.SuggestionStatusAccepted)
	if err != nil {
		return fmt.Errorf("failed to reopen suggestion: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("suggestion %s: %w", id, apperrors.ErrNotFound)
	}

	return nil
}

func (r *suggestionRepository) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no tenant scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `
		UPDATE engine_suggestions
		SET status = $2, updated_at = $1
		WHERE status = $3 AND expires_at IS NOT NULL AND expires_at < $1`,
		now, models.SuggestionStatusExpired, models.SuggestionStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired suggestions: %w", err)
	}

	return int(result.RowsAffected()), nil
}

func scanSuggestionValues(scan func(dest ...any) error) (*models.Suggestion, error) {
	var s models.Suggestion
	err := scan(
		&s.ID,
		&s.StoreID,
		&s.EntityID,
		&s.Label,
		&s.Kind,
		&s.Language,
		&s.Confidence,
		&s.Relevance,
		&s.Reasoning,
		&s.Status,
		&s.Feedback,
		&s.ReviewedBy,
		&s.ReviewedAt,
		&s.ExpiresAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan suggestion: %w", err)
	}
	return &s, nil
}
