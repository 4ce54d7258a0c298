package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/database"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/models"
)

// AttributeRepository provides data access for typed attribute values.
type AttributeRepository interface {
	// Upsert inserts or updates the value keyed by (entity, key, language)
	// and returns the prior value, or nil if this was the first write.
	Upsert(ctx context.Context, value *models.AttributeValue) (*models.AttributeValue, error)

	// Get returns the value for (entity, key, language), or nil if absent.
	Get(ctx context.Context, entityID uuid.UUID, key, language string) (*models.AttributeValue, error)

	// ListByEntity returns all values stored for an entity.
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.AttributeValue, error)

	// Delete removes the value for (entity, key, language).
	Delete(ctx context.Context, entityID uuid.UUID, key, language string) error
}

type attributeRepository struct{}

// NewAttributeRepository creates a new AttributeRepository.
func NewAttributeRepository() AttributeRepository {
	return &attributeRepository{}
}

var _ AttributeRepository = (*attributeRepository)(nil)

const attributeColumns = `
	id, store_id, entity_id, key, language, value_type,
	value_text, value_number, value_boolean, value_date, value_datetime,
	value_json, value_array, created_at, updated_at`

func (r *attributeRepository) Upsert(ctx context.Context, value *models.AttributeValue) (*models.AttributeValue, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	row := tx.QueryRow(ctx, `
		SELECT `+attributeColumns+`
		FROM engine_attribute_values
		WHERE entity_id = $1 AND key = $2 AND language = $3
		FOR UPDATE`,
		value.EntityID, value.Key, value.Language)

	prior, err := scanAttributeValue(row)
	if err != nil {
		return nil, err
	}

	var structuredJSON []byte
	if value.Value.Structured != nil {
		structuredJSON, err = json.Marshal(value.Value.Structured)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal structured value: %w", err)
		}
	}

	now := time.Now()
	err = tx.QueryRow(ctx, `
		INSERT INTO engine_attribute_values (
			id, store_id, entity_id, key, language, value_type,
			value_text, value_number, value_boolean, value_date, value_datetime,
			value_json, value_array, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		ON CONFLICT (entity_id, key, language) DO UPDATE SET
			value_type = EXCLUDED.value_type,
			value_text = EXCLUDED.value_text,
			value_number = EXCLUDED.value_number,
			value_boolean = EXCLUDED.value_boolean,
			value_date = EXCLUDED.value_date,
			value_datetime = EXCLUDED.value_datetime,
			value_json = EXCLUDED.value_json,
			value_array = EXCLUDED.value_array,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at`,
		uuid.New(),
		value.StoreID,
		value.EntityID,
		value.Key,
		value.Language,
		value.Value.Type,
		value.Value.Text,
		value.Value.Number,
		value.Value.Bool,
		value.Value.Date,
		value.Value.DateTime,
		structuredJSON,
		value.Value.Array,
		now,
	).Scan(&value.ID, &value.CreatedAt, &value.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert attribute value: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return prior, nil
}

func (r *attributeRepository) Get(ctx context.Context, entityID uuid.UUID, key, language string) (*models.AttributeValue, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT `+attributeColumns+`
		FROM engine_attribute_values
		WHERE entity_id = $1 AND key = $2 AND language = $3`,
		entityID, key, language)

	return scanAttributeValue(row)
}

func (r *attributeRepository) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.AttributeValue, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+attributeColumns+`
		FROM engine_attribute_values
		WHERE entity_id = $1
		ORDER BY key, language`,
		entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attribute values: %w", err)
	}
	defer rows.Close()

	var values []*models.AttributeValue
	for rows.Next() {
		v, err := scanAttributeValueFromRows(rows)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attribute values: %w", err)
	}

	return values, nil
}

func (r *attributeRepository) Delete(ctx context.Context, entityID uuid.UUID, key, language string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `
		DELETE FROM engine_attribute_values
		WHERE entity_id = $1 AND key = $2 AND language = $3`,
		entityID, key, language)
	if err != nil {
		return fmt.Errorf("failed to delete attribute value: %w", err)
	}

	return nil
}

// scanAttributeValue reads one row, returning nil (not an error) when absent.
func scanAttributeValue(row pgx.Row) (*models.AttributeValue, error) {
	v, err := scanAttribute(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

func scanAttributeValueFromRows(rows pgx.Rows) (*models.AttributeValue, error) {
	return scanAttribute(rows.Scan)
}

func scanAttribute(scan func(dest ...any) error) (*models.AttributeValue, error) {
	var v models.AttributeValue
	var structuredJSON []byte

	err := scan(
		&v.ID,
		&v.StoreID,
		&v.EntityID,
		&v.Key,
		&v.Language,
		&v.Value.Type,
		&v.Value.Text,
		&v.Value.Number,
		&v.Value.Bool,
		&v.Value.Date,
		&v.Value.DateTime,
		&structuredJSON,
		&v.Value.Array,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan attribute value: %w", err)
	}

	if len(structuredJSON) > 0 && string(structuredJSON) != "null" {
		if err := json.Unmarshal(structuredJSON, &v.Value.Structured); err != nil {
			return nil, fmt.Errorf("failed to unmarshal value_json: %w", err)
		}
	}

	return &v, nil
}
