// Package repositories provides Postgres data access for the classification
// engine's five stores: attribute values, assignments, rules, suggestions,
// and the append-only assignment history.
package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/models"
)

// nullableString converts an empty string to nil for nullable columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// lockEntity takes a transaction-scoped advisory lock for the entity so
// concurrent writers for the same entity serialize. Writers for different
// entities proceed in parallel.
func lockEntity(ctx context.Context, tx pgx.Tx, entityID uuid.UUID) error {
	_, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", entityID.String())
	if err != nil {
		return fmt.Errorf("failed to lock entity: %w", err)
	}
	return nil
}

// insertHistoryTx appends one history record within the caller's transaction
// so the ledger write and its audit row commit or roll back together.
func insertHistoryTx(ctx context.Context, tx pgx.Tx, rec *models.HistoryRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	var changedJSON []byte
	var err error
	if len(rec.ChangedFields) > 0 {
		changedJSON, err = json.Marshal(rec.ChangedFields)
		if err != nil {
			return fmt.Errorf("failed to marshal changed_fields: %w", err)
		}
	}

	query := `
		INSERT INTO engine_assignment_history (
			id, store_id, assignment_id, entity_id, change_type,
			changed_fields, actor, source, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = tx.Exec(ctx, query,
		rec.ID,
		rec.StoreID,
		rec.AssignmentID,
		rec.EntityID,
		rec.ChangeType,
		changedJSON,
		rec.Actor,
		rec.Source,
		nullableString(rec.Reason),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history record: %w", err)
	}

	return nil
}
