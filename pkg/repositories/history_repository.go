package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/database"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/models"
)

// HistoryRepository provides read access to the assignment audit trail.
// Writes happen inside the mutating repositories' transactions; this
// repository only exists to query what they recorded, plus a standalone
// Create for callers that log changes made outside the ledger itself.
type HistoryRepository interface {
	Create(ctx context.Context, rec *models.HistoryRecord) error

	// ListByEntity returns an entity's audit trail, newest first, with a
	// stable tiebreak so pagination never shuffles rows written in the
	// same transaction.
	ListByEntity(ctx context.Context, entityID uuid.UUID, limit, offset int) ([]*models.HistoryRecord, error)

	// ListByAssignment returns the trail for one assignment, oldest first,
	// so the sequence reconstructs its lifecycle.
	ListByAssignment(ctx context.Context, assignmentID uuid.UUID) ([]*models.HistoryRecord, error)
}

type historyRepository struct{}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository() HistoryRepository {
	return &historyRepository{}
}

var _ HistoryRepository = (*historyRepository)(nil)

const historyColumns = `
	id, store_id, assignment_id, entity_id, change_type,
	COALESCE(changed_fields, '{}'::jsonb), actor, source,
	COALESCE(reason, ''), created_at`

func (r *historyRepository) Create(ctx context.Context, rec *models.HistoryRecord) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if err := insertHistoryTx(ctx, tx, rec); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *historyRepository) ListByEntity(ctx context.Context, entityID uuid.UUID, limit, offset int) ([]*models.HistoryRecord, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+historyColumns+`
		FROM engine_assignment_history
		WHERE entity_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		entityID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	return scanHistoryRecords(rows)
}

func (r *historyRepository) ListByAssignment(ctx context.Context, assignmentID uuid.UUID) ([]*models.HistoryRecord, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+historyColumns+`
		FROM engine_assignment_history
		WHERE assignment_id = $1
		ORDER BY created_at ASC, id ASC`,
		assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	return scanHistoryRecords(rows)
}

func scanHistoryRecords(rows pgx.Rows) ([]*models.HistoryRecord, error) {
	var records []*models.HistoryRecord
	for rows.Next() {
		var rec models.HistoryRecord
		err := rows.Scan(
			&rec.ID,
			&rec.StoreID,
			&rec.AssignmentID,
			&rec.EntityID,
			&rec.ChangeType,
			&rec.ChangedFields,
			&rec.Actor,
			&rec.Source,
			&rec.Reason,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history records: %w", err)
	}

	return records, nil
}
