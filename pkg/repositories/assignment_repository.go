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

// UpsertResult describes what an idempotent assign actually did.
type UpsertResult struct {
	Assignment *models.Assignment
	Created    bool
	Changed    bool
}

// AssignmentRepository provides data access for the assignment ledger.
// Every mutating method writes the assignment row and its history record in
// one transaction, serialized per entity via an advisory lock, so an
// assignment can never exist without its audit trail (or vice versa).
type AssignmentRepository interface {
	// Upsert is the idempotent assign: it creates the (entity, label, kind,
	// language) link or updates source/confidence/primary flags on the
	// existing one. Setting is_primary demotes any other primary of the same
	// kind for the entity within the same transaction.
	Upsert(ctx context.Context, a *models.Assignment, prov models.Provenance) (*UpsertResult, error)

	// Deactivate is the soft unassign: clears is_active and is_visible but
	// keeps the row and its counters.
	Deactivate(ctx context.Context, entityID uuid.UUID, label string, kind models.AssignmentKind, language string, prov models.Provenance) (*models.Assignment, error)

	// DeactivateByLabel soft-unassigns a label in every language it is
	// assigned under. Returns the assignments it deactivated; an empty
	// result means the label was not actively assigned.
	DeactivateByLabel(ctx context.Context, entityID uuid.UUID, label string, kind models.AssignmentKind, prov models.Provenance) ([]*models.Assignment, error)

	// Purge hard-deletes an assignment. Only inactive or expired rows may be
	// purged; history rows are never cascade-deleted.
	Purge(ctx context.Context, id uuid.UUID, prov models.Provenance) error

	// GetByID returns one assignment, or nil if absent.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Assignment, error)

	// GetByKey returns the assignment for (entity, label, kind, language),
	// or nil if absent.
	GetByKey(ctx context.Context, entityID uuid.UUID, label string, kind models.AssignmentKind, language string) (*models.Assignment, error)

	// List returns an entity's assignments of one kind ordered by
	// (is_primary desc, display_order asc, label asc).
	List(ctx context.Context, entityID uuid.UUID, kind models.AssignmentKind, visibleOnly bool) ([]*models.Assignment, error)

	// IncrementUsage bumps one usage counter and returns the updated row.
	IncrementUsage(ctx context.Context, id uuid.UUID, interaction models.Interaction, prov models.Provenance) (*models.Assignment, error)

	// UpdateScores persists recomputed derived scores. Scores are derived
	// bookkeeping and produce no history.
	UpdateScores(ctx context.Context, id uuid.UUID, performance, relevance, popularity float64) error

	// SetDisplayOrder rewrites display_order for the given assignments in
	// the order provided.
	SetDisplayOrder(ctx context.Context, entityID uuid.UUID, kind models.AssignmentKind, orderedIDs []uuid.UUID, prov models.Provenance) error

	// ExpireSweep deactivates active assignments whose expires_at has
	// passed. Returns the number of assignments expired.
	ExpireSweep(ctx context.Context, now time.Time, prov models.Provenance) (int, error)

	// DistinctLabels returns every label of one kind used anywhere in the
	// store, for suggestion candidate generation.
	DistinctLabels(ctx context.Context, kind models.AssignmentKind) ([]string, error)

	// ActiveLabels returns the labels actively assigned to an entity for
	// one kind, for suggestion deduplication.
	ActiveLabels(ctx context.Context, entityID uuid.UUID, kind models.AssignmentKind) ([]string, error)
}

type assignmentRepository struct{}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository() AssignmentRepository {
	return &assignmentRepository{}
}

var _ AssignmentRepository = (*assignmentRepository)(nil)

const assignmentColumns = `
	id, store_id, entity_id, label, kind, language,
	is_primary, confidence, source, is_required,
	is_visible, is_active, display_order,
	click_count, view_count, conversion_count, search_count,
	performance_score, relevance_score, popularity_score,
	last_interaction_at, expires_at, created_at, updated_at`

func (r *assignmentRepository) Upsert(ctx context.Context, a *models.Assignment, prov models.Provenance) (*UpsertResult, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if err := lockEntity(ctx, tx, a.EntityID); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		SELECT `+assignmentColumns+`
		FROM engine_assignments
		WHERE entity_id = $1 AND label = $2 AND kind = $3 AND language = $4
		FOR UPDATE`,
		a.EntityID, a.Label, a.Kind, a.Language)

	existing, err := scanAssignmentRow(row)
	if err != nil {
		return nil, err
	}

	// Demote any other primary of this kind before the write so two
	// primaries are never observable, even transiently.
	if a.IsPrimary {
		if err := r.demotePriorPrimary(ctx, tx, a, existing, prov); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	result := &UpsertResult{}

	if existing == nil {
		a.ID = uuid.New()
		a.IsActive = true
		a.IsVisible = true
		a.CreatedAt = now
		a.UpdatedAt = now

		_, err = tx.Exec(ctx, `
			INSERT INTO engine_assignments (
				id, store_id, entity_id, label, kind, language,
				is_primary, confidence, source, is_required,
				is_visible, is_active, display_order,
				expires_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)`,
			a.ID, a.StoreID, a.EntityID, a.Label, a.Kind, a.Language,
			a.IsPrimary, a.Confidence, a.Source, a.IsRequired,
			a.IsVisible, a.IsActive, a.DisplayOrder,
			a.ExpiresAt, now,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert assignment: %w", err)
		}

		newSnap := models.AssignmentSnapshot(a)
		changes := models.DiffSnapshots(nil, newSnap)
		if err := insertHistoryTx(ctx, tx, &models.HistoryRecord{
			StoreID:       a.StoreID,
			AssignmentID:  &a.ID,
			EntityID:      a.EntityID,
			ChangeType:    models.DeriveChangeType(nil, newSnap, changes),
			ChangedFields: changes,
			Actor:         prov.Actor(),
			Source:        prov.Source.String(),
			Reason:        prov.Reason,
		}); err != nil {
			return nil, err
		}

		result.Assignment = a
		result.Created = true
		result.Changed = true
	} else {
		oldSnap := models.AssignmentSnapshot(existing)

		updated := *existing
		updated.IsPrimary = a.IsPrimary
		updated.Confidence = a.Confidence
		updated.Source = a.Source
		updated.IsRequired = a.IsRequired || existing.IsRequired
		updated.IsActive = true
		updated.IsVisible = true
		if a.ExpiresAt != nil {
			updated.ExpiresAt = a.ExpiresAt
		}

		newSnap := models.AssignmentSnapshot(&updated)
		changes := models.DiffSnapshots(oldSnap, newSnap)

		if changes != nil {
			updated.UpdatedAt = now
			_, err = tx.Exec(ctx, `
				UPDATE engine_assignments
				SET is_primary = $2, confidence = $3, source = $4, is_required = $5,
				    is_visible = $6, is_active = $7, expires_at = $8, updated_at = $9
				WHERE id = $1`,
				updated.ID, updated.IsPrimary, updated.Confidence, updated.Source,
				updated.IsRequired, updated.IsVisible, updated.IsActive,
				updated.ExpiresAt, now,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to update assignment: %w", err)
			}

			if err := insertHistoryTx(ctx, tx, &models.HistoryRecord{
				StoreID:       updated.StoreID,
				AssignmentID:  &updated.ID,
				EntityID:      updated.EntityID,
				ChangeType:    models.DeriveChangeType(oldSnap, newSnap, changes),
				ChangedFields: changes,
				Actor:         prov.Actor(),
				Source:        prov.Source.String(),
				Reason:        prov.Reason,
			}); err != nil {
				return nil, err
			}
			result.Changed = true
		}

		result.Assignment = &updated
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

// demotePriorPrimary clears is_primary on any other assignment of the same
// kind for the entity, recording one history row per demoted assignment.
func (r *assignmentRepository) demotePriorPrimary(ctx context.Context, tx pgx.Tx, a *models.Assignment, existing *models.Assignment, prov models.Provenance) error {
	excludeID := uuid.Nil
	if existing != nil {
		excludeID = existing.ID
	}

	rows, err := tx.Query(ctx, `
		UPDATE engine_assignments
		SET is_primary = false, updated_at = now()
		WHERE entity_id = $1 AND kind = $2 AND is_primary = true AND id <> $3
		RETURNING id`,
		a.EntityID, a.Kind, excludeID)
	if err != nil {
		return fmt.Errorf("failed to demote prior primary: %w", err)
	}

	var demoted []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan demoted assignment: %w", err)
		}
		demoted = append(demoted, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating demoted assignments: %w", err)
	}

	for _, id := range demoted {
		demotedID := id
		if err := insertHistoryTx(ctx, tx, &models.HistoryRecord{
			StoreID:      a.StoreID,
			AssignmentID: &demotedID,
			EntityID:     a.EntityID,
			ChangeType:   models.ChangeTypeUpdated,
			ChangedFields: map[string]models.FieldChange{
				"is_primary": {Old: true, New: false},
			},
			Actor:  prov.Actor(),
			Source: prov.Source.String(),
			Reason: prov.Reason,
		}); err != nil {
			return err
		}
	}

	return nil
}

func (r *assignmentRepository) Deactivate(ctx context.Context, entityID uuid.UUID, label string, kind models.AssignmentKind, language string, prov models.Provenance) (*models.Assignment, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if err := lockEntity(ctx, tx, entityID); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		SELECT `+assignmentColumns+`
		FROM engine_assignments
		WHERE entity_id = $1 AND label = $2 AND kind = $3 AND language = $4
		FOR UPDATE`,
		entityID, label, kind, language)

	existing, err := scanAssignmentRow(row)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("assignment %s/%s: %w", kind, label, apperrors.ErrNotFound)
	}

	oldSnap := models.AssignmentSnapshot(existing)

	updated := *existing
	updated.IsActive = false
	updated.IsVisible = false
	updated.IsPrimary = false
	updated.UpdatedAt = time.Now()

	newSnap := models.AssignmentSnapshot(&updated)
	changes := models.DiffSnapshots(oldSnap, newSnap)
	if changes == nil {
		// Already inactive; nothing to record.
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return existing, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE engine_assignments
		SET is_active = false, is_visible = false, is_primary = false, updated_at = $2
		WHERE id = $1`,
		updated.ID, updated.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate assignment: %w", err)
	}

	if err := insertHistoryTx(ctx, tx, &models.HistoryRecord{
		StoreID:       updated.StoreID,
		AssignmentID:  &updated.ID,
		EntityID:      updated.EntityID,
		ChangeType:    models.DeriveChangeType(oldSnap, newSnap, changes),
		ChangedFields: changes,
		Actor:         prov.Actor(),
		Source:        prov.Source.String(),
		Reason:        prov.Reason,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &updated, nil
}

func (r *assignmentRepository) DeactivateByLabel(ctx context.Context, entityID uuid.UUID, label string, kind models.AssignmentKind, prov models.Provenance) ([]*models.Assignment, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if err := lockEntity(ctx, tx, entityID); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM engine_assignments
		WHERE entity_id = $1 AND label = $2 AND kind = $3 AND is_active = true
		FOR UPDATE`,
		entityID, label, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	existing, err := scanAssignments(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil, nil
	}

	now := time.Now()
	_, err = tx.Exec(ctx, `
		UPDATE engine_assignments
		SET is_active = false, is_visible = false, is_primary = false, updated_at = $4
		WHERE entity_id = $1 AND label = $2 AND kind = $3 AND is_active = true`,
		entityID, label, kind, now)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate assignments: %w", err)
	}

	deactivated := make([]*models.Assignment, 0, len(existing))
	for _, a := range existing {
		oldSnap := models.AssignmentSnapshot(a)

		updated := *a
		updated.IsActive = false
		updated.IsVisible = false
		updated.IsPrimary = false
		updated.UpdatedAt = now

		newSnap := models.AssignmentSnapshot(&updated)
		changes := models.DiffSnapshots(oldSnap, newSnap)

		if err := insertHistoryTx(ctx, tx, &models.HistoryRecord{
			StoreID:       updated.StoreID,
			AssignmentID:  &updated.ID,
			EntityID:      updated.EntityID,
			ChangeType:    models.DeriveChangeType(oldSnap, newSnap, changes),
			ChangedFields: changes,
			Actor:         prov.Actor(),
			Source:        prov.Source.String(),
			Reason:        prov.Reason,
		}); err != nil {
			return nil, err
		}
		deactivated = append(deactivated, &updated)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return deactivated, nil
}

func (r *assignmentRepository) Purge(ctx context.Context, id uuid.UUID, prov models.Provenance) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	row := tx.QueryRow(ctx, `
		SELECT `+assignmentColumns+`
		FROM engine_assignments
		WHERE id = $1
		FOR UPDATE`, id)

	existing, err := scanAssignmentRow(row)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("assignment %s: %w", id, apperrors.ErrNotFound)
	}

	if existing.IsActive && !existing.IsExpired(time.Now()) {
		return fmt.Errorf("%w: only inactive or expired assignments may be purged", apperrors.ErrConflict)
	}

	oldSnap := models.AssignmentSnapshot(existing)

	// History goes in before the delete; the FK then nulls the link while
	// the audit row itself survives.
	if err := insertHistoryTx(ctx, tx, &models.HistoryRecord{
		StoreID:       existing.StoreID,
		AssignmentID:  &existing.ID,
		EntityID:      existing.EntityID,
		ChangeType:    models.DeriveChangeType(oldSnap, nil, models.DiffSnapshots(oldSnap, nil)),
		ChangedFields: models.DiffSnapshots(oldSnap, nil),
		Actor:         prov.Actor(),
		Source:        prov.Source.String(),
		Reason:        prov.Reason,
	}); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM engine_assignments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to purge assignment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *assignmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Assignment, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT `+assignmentColumns+`
		FROM engine_assignments
		WHERE id = $1`, id)

	return scanAssignmentRow(row)
}

func (r *assignmentRepository) GetByKey(ctx context.Context, entityID uuid.UUID, label string, kind models.AssignmentKind, language string) (*models.Assignment, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT `+assignmentColumns+`
		FROM engine_assignments
		WHERE entity_id = $1 AND label = $2 AND kind = $3 AND language = $4`,
		entityID, label, kind, language)

	return scanAssignmentRow(row)
}

func (r *assignmentRepository) List(ctx context.Context, entityID uuid.UUID, kind models.AssignmentKind, visibleOnly bool) ([]*models.Assignment, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM engine_assignments
		WHERE entity_id = $1 AND kind = $2
		  AND ($3 = false OR (is_visible = true AND is_active = true))
		ORDER BY is_primary DESC, display_order ASC, label ASC`,
		entityID, kind, visibleOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	return scanAssignments(rows)
}

func (r *assignmentRepository) IncrementUsage(ctx context.Context, id uuid.UUID, interaction models.Interaction, prov models.Provenance) (*models.Assignment, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	column, ok := usageColumn(interaction)
	if !ok {
		return nil, fmt.Errorf("%w: unknown interaction %q", apperrors.ErrValidation, interaction)
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	row := tx.QueryRow(ctx, `
		UPDATE engine_assignments
		SET `+column+` = `+column+` + 1, last_interaction_at = now(), updated_at = now()
		WHERE id = $1
		RETURNING `+assignmentColumns, id)

	updated, err := scanAssignmentRow(row)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, fmt.Errorf("assignment %s: %w", id, apperrors.ErrNotFound)
	}

	counter := counterValue(updated, interaction)
	if err := insertHistoryTx(ctx, tx, &models.HistoryRecord{
		StoreID:      updated.StoreID,
		AssignmentID: &updated.ID,
		EntityID:     updated.EntityID,
		ChangeType:   models.ChangeTypeUpdated,
		ChangedFields: map[string]models.FieldChange{
			string(interaction) + "_count": {Old: counter - 1, New: counter},
		},
		Actor:  prov.Actor(),
		Source: prov.Source.String(),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return updated, nil
}

// usageColumn maps an interaction to its counter column. The column name is
// taken from this fixed map, never from request input.
func usageColumn(interaction models.Interaction) (string, bool) {
	switch interaction {
	case models.InteractionClick:
		return "click_count", true
	case models.InteractionView:
		return "view_count", true
	case models.InteractionConversion:
		return "conversion_count", true
	case models.InteractionSearch:
		return "search_count", true
	default:
		return "", false
	}
}

func counterValue(a *models.Assignment, interaction models.Interaction) int64 {
	switch interaction {
	case models.InteractionClick:
		return a.ClickCount
	case models.InteractionView:
		return a.ViewCount
	case models.InteractionConversion:
		return a.ConversionCount
	case models.InteractionSearch:
		return a.SearchCount
	default:
		return 0
	}
}

func (r *assignmentRepository) UpdateScores(ctx context.Context, id uuid.UUID, performance, relevance, popularity float64) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `
		UPDATE engine_assignments
		SET performance_score = $2, relevance_score = $3, popularity_score = $4
		WHERE id = $1`,
		id, performance, relevance, popularity)
	if err != nil {
		return fmt.Errorf("failed to update scores: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("assignment %s: %w", id, apperrors.ErrNotFound)
	}

	return nil
}

func (r *assignmentRepository) SetDisplayOrder(ctx context.Context, entityID uuid.UUID, kind models.AssignmentKind, orderedIDs []uuid.UUID, prov models.Provenance) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if err := lockEntity(ctx, tx, entityID); err != nil {
		return err
	}

	for position, id := range orderedIDs {
		row := tx.QueryRow(ctx, `
			UPDATE engine_assignments
			SET display_order = $3, updated_at = now()
			WHERE id = $1 AND entity_id = $2 AND display_order <> $3
			RETURNING store_id, display_order`, id, entityID, position)

		var storeID uuid.UUID
		var newOrder int
		err := row.Scan(&storeID, &newOrder)
		if errors.Is(err, pgx.ErrNoRows) {
			continue // unchanged or not this entity's assignment
		}
		if err != nil {
			return fmt.Errorf("failed to reorder assignment: %w", err)
		}

		assignmentID := id
		if err := insertHistoryTx(ctx, tx, &models.HistoryRecord{
			StoreID:      storeID,
			AssignmentID: &assignmentID,
			EntityID:     entityID,
			ChangeType:   models.ChangeTypeUpdated,
			ChangedFields: map[string]models.FieldChange{
				"display_order": {New: newOrder},
			},
			Actor:  prov.Actor(),
			Source: prov.Source.String(),
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *assignmentRepository) ExpireSweep(ctx context.Context, now time.Time, prov models.Provenance) (int, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	rows, err := tx.Query(ctx, `
		UPDATE engine_assignments
		SET is_active = false, is_visible = false, is_primary = false, updated_at = $1
		WHERE is_active = true AND expires_at IS NOT NULL AND expires_at < $1
		RETURNING id, store_id, entity_id`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired assignments: %w", err)
	}

	type expired struct {
		id       uuid.UUID
		storeID  uuid.UUID
		entityID uuid.UUID
	}
	var swept []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.storeID, &e.entityID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan expired assignment: %w", err)
		}
		swept = append(swept, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating expired assignments: %w", err)
	}

	for _, e := range swept {
		assignmentID := e.id
		if err := insertHistoryTx(ctx, tx, &models.HistoryRecord{
			StoreID:      e.storeID,
			AssignmentID: &assignmentID,
			EntityID:     e.entityID,
			ChangeType:   models.ChangeTypeDeactivated,
			ChangedFields: map[string]models.FieldChange{
				"is_active": {Old: true, New: false},
			},
			Actor:  prov.Actor(),
			Source: prov.Source.String(),
			Reason: "expired",
		}); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return len(swept), nil
}

func (r *assignmentRepository) DistinctLabels(ctx context.Context, kind models.AssignmentKind) ([]string, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT DISTINCT label
		FROM engine_assignments
		WHERE kind = $1 AND is_active = true
		ORDER BY label`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct labels: %w", err)
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

func (r *assignmentRepository) ActiveLabels(ctx context.Context, entityID uuid.UUID, kind models.AssignmentKind) ([]string, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT label
		FROM engine_assignments
		WHERE entity_id = $1 AND kind = $2 AND is_active = true
		ORDER BY label`, entityID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query active labels: %w", err)
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

// Scan helpers

func scanAssignments(rows pgx.Rows) ([]*models.Assignment, error) {
	var assignments []*models.Assignment
	for rows.Next() {
		a, err := scanAssignmentValues(rows.Scan)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assignments: %w", err)
	}

	return assignments, nil
}

// scanAssignmentRow reads one row, returning nil (not an error) when absent.
func scanAssignmentRow(row pgx.Row) (*models.Assignment, error) {
	a, err := scanAssignmentValues(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func scanAssignmentValues(scan func(dest ...any) error) (*models.Assignment, error) {
	var a models.Assignment
	err := scan(
		&a.ID,
		&a.StoreID,
		&a.EntityID,
		&a.Label,
		&a.Kind,
		&a.Language,
		&a.IsPrimary,
		&a.Confidence,
		&a.Source,
		&a.IsRequired,
		&a.IsVisible,
		&a.IsActive,
		&a.DisplayOrder,
		&a.ClickCount,
		&a.ViewCount,
		&a.ConversionCount,
		&a.SearchCount,
		&a.PerformanceScore,
		&a.RelevanceScore,
		&a.PopularityScore,
		&a.LastInteractionAt,
		&a.ExpiresAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan assignment: %w", err)
	}
	return &a, nil
}
