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

// RuleRepository provides data access for classification rules.
type RuleRepository interface {
	Create(ctx context.Context, rule *models.Rule) error
	Update(ctx context.Context, rule *models.Rule) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Rule, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*models.Rule, error)

	// ListActive returns the enabled rules in evaluation order: priority
	// descending, then creation time, then id so ties break the same way
	// on every run.
	ListActive(ctx context.Context) ([]*models.Rule, error)

	// RecordMatch bumps the match counter and execution timestamp after a
	// rule's condition held for an entity.
	RecordMatch(ctx context.Context, id uuid.UUID, executedAt time.Time) error
}

type ruleRepository struct{}

// NewRuleRepository creates a new RuleRepository.
func NewRuleRepository() RuleRepository {
	return &ruleRepository{}
}

var _ RuleRepository = (*ruleRepository)(nil)

const ruleColumns = `
	id, store_id, name, description, condition, action,
	target_labels, target_kind, modify_value, priority, confidence,
	is_active, matches_count, last_executed_at, created_at, updated_at`

func (r *ruleRepository) Create(ctx context.Context, rule *models.Rule) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err := scope.Conn.Exec(ctx, `
		INSERT INTO engine_classification_rules (
			id, store_id, name, description, condition, action,
			target_labels, target_kind, modify_value, priority, confidence,
			is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`,
		rule.ID, rule.StoreID, rule.Name, rule.Description,
		rule.Condition, rule.Action, rule.TargetLabels, rule.TargetKind,
		rule.ModifyValue, rule.Priority, rule.Confidence, rule.IsActive, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	return nil
}

func (r *ruleRepository) Update(ctx context.Context, rule *models.Rule) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	rule.UpdatedAt = time.Now()

	result, err := scope.Conn.Exec(ctx, `
		UPDATE engine_classification_rules
		SET name = $2, description = $3, condition = $4, action = $5,
		    target_labels = $6, target_kind = $7, modify_value = $8,
		    priority = $9, confidence = $10, is_active = $11, updated_at = $12
		WHERE id = $1`,
		rule.ID, rule.Name, rule.Description, rule.Condition, rule.Action,
		rule.TargetLabels, rule.TargetKind, rule.ModifyValue,
		rule.Priority, rule.Confidence, rule.IsActive, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("rule %s: %w", rule.ID, apperrors.ErrNotFound)
	}

	return nil
}

func (r *ruleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Rule, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT `+ruleColumns+`
		FROM engine_classification_rules
		WHERE id = $1`, id)

	rule, err := scanRuleValues(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return rule, nil
}

func (r *ruleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `
		DELETE FROM engine_classification_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("rule %s: %w", id, apperrors.ErrNotFound)
	}

	return nil
}

func (r *ruleRepository) List(ctx context.Context) ([]*models.Rule, error) {
	return r.list(ctx, false)
}

func (r *ruleRepository) ListActive(ctx context.Context) ([]*models.Rule, error) {
	return r.list(ctx, true)
}

func (r *ruleRepository) list(ctx context.Context, activeOnly bool) ([]*models.Rule, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM engine_classification_rules
		WHERE ($1 = false OR is_active = true)
		ORDER BY priority DESC, created_at ASC, id ASC`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.Rule
	for rows.Next() {
		rule, err := scanRuleValues(rows.Scan)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rules, nil
}

func (r *ruleRepository) RecordMatch(ctx context.Context, id uuid.UUID, executedAt time.Time) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `
		UPDATE engine_classification_rules
		SET matches_count = matches_count + 1, last_executed_at = $2
		WHERE id = $1`,
		id, executedAt)
	if err != nil {
		return fmt.Errorf("failed to record rule match: %w", err)
	}

	return nil
}

func scanRuleValues(scan func(dest ...any) error) (*models.Rule, error) {
	var rule models.Rule
	err := scan(
		&rule.ID,
		&rule.StoreID,
		&rule.Name,
		&rule.Description,
		&rule.Condition,
		&rule.Action,
		&rule.TargetLabels,
		&rule.TargetKind,
		&rule.ModifyValue,
		&rule.Priority,
		&rule.Confidence,
		&rule.IsActive,
		&rule.MatchesCount,
		&rule.LastExecutedAt,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}
	return &rule, nil
}
