// Package services contains the business logic of the classification engine:
// attribute storage, the assignment ledger, rule evaluation, suggestion
// generation, scoring, and the audit trail around all of them.
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/apperrors"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/models"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/repositories"
)

// ValueStoreService manages typed attribute values on entities.
type ValueStoreService struct {
	attributeRepo  repositories.AttributeRepository
	assignmentRepo repositories.AssignmentRepository
	historyRepo    repositories.HistoryRepository
	logger         *zap.Logger
}

// NewValueStoreService creates a new ValueStoreService.
func NewValueStoreService(attributeRepo repositories.AttributeRepository, assignmentRepo repositories.AssignmentRepository, historyRepo repositories.HistoryRepository, logger *zap.Logger) *ValueStoreService {
	return &ValueStoreService{
		attributeRepo:  attributeRepo,
		assignmentRepo: assignmentRepo,
		historyRepo:    historyRepo,
		logger:         logger.Named("value-store-service"),
	}
}

// SetValueParams is the input for one attribute write.
type SetValueParams struct {
	StoreID   uuid.UUID
	EntityID  uuid.UUID
	Key       string
	Language  string
	ValueType models.ValueType
	RawValue  string
}

// SetValue parses, validates, and stores one attribute value. The raw string
// is coerced into the declared type; a raw value the type cannot represent is
// rejected before anything is written. Returns the stored value and whether
// it differed from what was there before.
func (s *ValueStoreService) SetValue(ctx context.Context, params SetValueParams) (*models.AttributeValue, bool, error) {
	if params.Key == "" {
		return nil, false, fmt.Errorf("%w: attribute key is required", apperrors.ErrValidation)
	}
	if params.Language == "" {
		params.Language = models.DefaultLanguage
	}

	typed, err := models.ParseTypedValue(params.ValueType, params.RawValue)
	if err != nil {
		return nil, false, err
	}
	if err := typed.Validate(); err != nil {
		return nil, false, err
	}

	// Keys conventionally ending in "color" carry hex color codes; a text
	// value that is not one is almost always a data entry mistake upstream.
	if typed.Type == models.ValueTypeText && isColorKey(params.Key) && !models.IsHexColor(params.RawValue) {
		return nil, false, fmt.Errorf("%w: key %q expects a hex color code, got %q", apperrors.ErrValidation, params.Key, params.RawValue)
	}

	value := &models.AttributeValue{
		StoreID:  params.StoreID,
		EntityID: params.EntityID,
		Key:      params.Key,
		Language: params.Language,
		Value:    typed,
	}

	prior, err := s.attributeRepo.Upsert(ctx, value)
	if err != nil {
		return nil, false, fmt.Errorf("failed to store attribute value: %w", err)
	}

	changed := prior == nil || !prior.Value.Equal(typed)
	if changed {
		s.logger.Info("Attribute value set",
			zap.String("entity_id", params.EntityID.String()),
			zap.String("key", params.Key),
			zap.String("language", params.Language),
			zap.String("value_type", string(params.ValueType)))

		if err := s.recordMetadataChange(ctx, params, prior, typed); err != nil {
			return nil, false, err
		}
	}

	return value, changed, nil
}

// recordMetadataChange appends an updated history row on the metadata
// assignment that owns the attribute key, when one exists. Keys without a
// metadata assignment change silently; the ledger only audits what it tracks.
func (s *ValueStoreService) recordMetadataChange(ctx context.Context, params SetValueParams, prior *models.AttributeValue, typed models.TypedValue) error {
	owner, err := s.assignmentRepo.GetByKey(ctx, params.EntityID, params.Key, models.KindMetadata, params.Language)
	if err != nil {
		return fmt.Errorf("failed to look up metadata assignment: %w", err)
	}
	if owner == nil && params.Language != models.DefaultLanguage {
		owner, err = s.assignmentRepo.GetByKey(ctx, params.EntityID, params.Key, models.KindMetadata, models.DefaultLanguage)
		if err != nil {
			return fmt.Errorf("failed to look up metadata assignment: %w", err)
		}
	}
	if owner == nil {
		return nil
	}

	var oldValue any
	if prior != nil {
		oldValue = prior.Value.StringValue()
	}

	prov, _ := models.GetProvenance(ctx)
	assignmentID := owner.ID
	if err := s.historyRepo.Create(ctx, &models.HistoryRecord{
		StoreID:      owner.StoreID,
		AssignmentID: &assignmentID,
		EntityID:     params.EntityID,
		ChangeType:   models.ChangeTypeUpdated,
		ChangedFields: map[string]models.FieldChange{
			"value": {Old: oldValue, New: typed.StringValue()},
		},
		Actor:  prov.Actor(),
		Source: prov.Source.String(),
		Reason: prov.Reason,
	}); err != nil {
		return fmt.Errorf("failed to record attribute change: %w", err)
	}

	return nil
}

// GetValue returns one attribute value, falling back to the default language
// when the requested language has no value stored.
func (s *ValueStoreService) GetValue(ctx context.Context, entityID uuid.UUID, key, language string) (*models.AttributeValue, error) {
	if language == "" {
		language = models.DefaultLanguage
	}

	value, err := s.attributeRepo.Get(ctx, entityID, key, language)
	if err != nil {
		return nil, fmt.Errorf("failed to get attribute value: %w", err)
	}
	if value == nil && language != models.DefaultLanguage {
		value, err = s.attributeRepo.Get(ctx, entityID, key, models.DefaultLanguage)
		if err != nil {
			return nil, fmt.Errorf("failed to get attribute value: %w", err)
		}
	}
	if value == nil {
		return nil, fmt.Errorf("attribute %q: %w", key, apperrors.ErrNotFound)
	}

	return value, nil
}

// ListValues returns every attribute value stored for an entity.
func (s *ValueStoreService) ListValues(ctx context.Context, entityID uuid.UUID) ([]*models.AttributeValue, error) {
	values, err := s.attributeRepo.ListByEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attribute values: %w", err)
	}
	return values, nil
}

// DeleteValue removes one attribute value.
func (s *ValueStoreService) DeleteValue(ctx context.Context, entityID uuid.UUID, key, language string) error {
	if language == "" {
		language = models.DefaultLanguage
	}
	if err := s.attributeRepo.Delete(ctx, entityID, key, language); err != nil {
		return err
	}

	s.logger.Info("Attribute value deleted",
		zap.String("entity_id", entityID.String()),
		zap.String("key", key),
		zap.String("language", language))
	return nil
}

// Snapshot flattens an entity's stored attributes into the string view the
// rule engine evaluates against, overlaying any caller-supplied canonical
// fields such as name and description.
func (s *ValueStoreService) Snapshot(ctx context.Context, entityID uuid.UUID, entityFields map[string]string) (models.AttributeSnapshot, error) {
	values, err := s.attributeRepo.ListByEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to build attribute snapshot: %w", err)
	}
	return models.SnapshotFromValues(values, entityFields), nil
}

func isColorKey(key string) bool {
	k := strings.ToLower(key)
	return k == "color" || strings.HasSuffix(k, "_color") || strings.HasSuffix(k, "-color")
}
