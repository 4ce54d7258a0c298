package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/apperrors"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/models"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/repositories"
)

// RuleEngineService evaluates stored classification rules against entities
// and applies the resulting assignments and attribute writes. Rule output
// never feeds back into rule input within one run, so rules cannot cascade.
type RuleEngineService struct {
	ruleRepo    repositories.RuleRepository
	valueStore  *ValueStoreService
	assignments *AssignmentService
	chunkSize   int
	logger      *zap.Logger
}

// NewRuleEngineService creates a new RuleEngineService.
func NewRuleEngineService(
	ruleRepo repositories.RuleRepository,
	valueStore *ValueStoreService,
	assignments *AssignmentService,
	chunkSize int,
	logger *zap.Logger,
) *RuleEngineService {
	if chunkSize <= 0 {
		chunkSize = 100
	}
	return &RuleEngineService{
		ruleRepo:    ruleRepo,
		valueStore:  valueStore,
		assignments: assignments,
		chunkSize:   chunkSize,
		logger:      logger.Named("rule-engine-service"),
	}
}

// CreateRule validates and stores a new classification rule.
func (s *RuleEngineService) CreateRule(ctx context.Context, rule *models.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := s.ruleRepo.Create(ctx, rule); err != nil {
		return err
	}

	s.logger.Info("Rule created",
		zap.String("rule_id", rule.ID.String()),
		zap.String("name", rule.Name),
		zap.String("action", string(rule.Action)),
		zap.Int("priority", rule.Priority))
	return nil
}

// UpdateRule validates and replaces an existing rule's definition.
func (s *RuleEngineService) UpdateRule(ctx context.Context, rule *models.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := s.ruleRepo.Update(ctx, rule); err != nil {
		return err
	}

	s.logger.Info("Rule updated",
		zap.String("rule_id", rule.ID.String()),
		zap.String("name", rule.Name))
	return nil
}

// GetRule returns one rule by id.
func (s *RuleEngineService) GetRule(ctx context.Context, id uuid.UUID) (*models.Rule, error) {
	rule, err := s.ruleRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, fmt.Errorf("rule %s: %w", id, apperrors.ErrNotFound)
	}
	return rule, nil
}

// DeleteRule removes a rule. Assignments it already made stay; the engine
// never retracts past output when its rule disappears.
func (s *RuleEngineService) DeleteRule(ctx context.Context, id uuid.UUID) error {
	if err := s.ruleRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Rule deleted", zap.String("rule_id", id.String()))
	return nil
}

// ListRules returns every rule in evaluation order.
func (s *RuleEngineService) ListRules(ctx context.Context) ([]*models.Rule, error) {
	return s.ruleRepo.List(ctx)
}

// EntityInput identifies one entity to classify plus its canonical fields
// (name, description) that are not stored as attributes.
type EntityInput struct {
	EntityID uuid.UUID         `json:"entity_id"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// ApplyResult reports what one rule run did for one entity.
type ApplyResult struct {
	EntityID     uuid.UUID `json:"entity_id"`
	RulesMatched int       `json:"rules_matched"`
	Assigned     []string  `json:"assigned,omitempty"`
	Removed      []string  `json:"removed,omitempty"`
	Required     []string  `json:"required,omitempty"`
	ValuesSet    []string  `json:"values_set,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Apply runs every active rule against one entity. Rules evaluate against a
// snapshot taken once at the start, in priority order with creation order
// breaking ties, so the same inputs always produce the same outcome. A rule
// whose stored condition no longer parses is skipped and logged, never
// fatal to the run.
func (s *RuleEngineService) Apply(ctx context.Context, storeID uuid.UUID, input EntityInput) (*ApplyResult, error) {
	rules, err := s.ruleRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}

	snapshot, err := s.valueStore.Snapshot(ctx, input.EntityID, input.Fields)
	if err != nil {
		return nil, err
	}

	return s.applyRules(ctx, storeID, input.EntityID, rules, snapshot), nil
}

// ApplyBatch classifies many entities in chunks. Each entity succeeds or
// fails on its own; one bad entity never aborts the batch.
func (s *RuleEngineService) ApplyBatch(ctx context.Context, storeID uuid.UUID, inputs []EntityInput) ([]*ApplyResult, error) {
	rules, err := s.ruleRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}

	results := make([]*ApplyResult, 0, len(inputs))
	for start := 0; start < len(inputs); start += s.chunkSize {
		end := min(start+s.chunkSize, len(inputs))
		for _, input := range inputs[start:end] {
			if err := ctx.Err(); err != nil {
				return results, err
			}

			snapshot, err := s.valueStore.Snapshot(ctx, input.EntityID, input.Fields)
			if err != nil {
				results = append(results, &ApplyResult{
					EntityID: input.EntityID,
					Error:    err.Error(),
				})
				continue
			}

			results = append(results, s.applyRules(ctx, storeID, input.EntityID, rules, snapshot))
		}
	}

	return results, nil
}

func (s *RuleEngineService) applyRules(ctx context.Context, storeID, entityID uuid.UUID, rules []*models.Rule, snapshot models.AttributeSnapshot) *ApplyResult {
	result := &ApplyResult{EntityID: entityID}
	ruleCtx := models.WithProvenance(ctx, models.Provenance{Source: models.SourceRule})

	for _, rule := range rules {
		if rule.Condition == nil {
			s.logger.Warn("Skipping rule with no condition",
				zap.String("rule_id", rule.ID.String()),
				zap.String("name", rule.Name))
			continue
		}
		if err := rule.Condition.Validate(); err != nil {
			s.logger.Warn("Skipping malformed rule",
				zap.String("rule_id", rule.ID.String()),
				zap.String("name", rule.Name),
				zap.Error(err))
			continue
		}

		if !rule.Condition.Evaluate(snapshot) {
			continue
		}

		// A match counts even when the action turns out to be a no-op;
		// the counter tracks how often the condition held.
		result.RulesMatched++
		if err := s.ruleRepo.RecordMatch(ctx, rule.ID, time.Now()); err != nil {
			s.logger.Warn("Failed to record rule match",
				zap.String("rule_id", rule.ID.String()),
				zap.Error(err))
		}

		if err := s.executeAction(ruleCtx, storeID, entityID, rule, result); err != nil {
			s.logger.Warn("Rule action failed",
				zap.String("rule_id", rule.ID.String()),
				zap.String("entity_id", entityID.String()),
				zap.Error(err))
			if result.Error == "" {
				result.Error = err.Error()
			}
		}
	}

	return result
}

func (s *RuleEngineService) executeAction(ctx context.Context, storeID, entityID uuid.UUID, rule *models.Rule, result *ApplyResult) error {
	switch rule.Action {
	case models.ActionAssign, models.ActionRequire:
		for _, label := range rule.TargetLabels {
			_, err := s.assignments.Assign(ctx, AssignParams{
				StoreID:    storeID,
				EntityID:   entityID,
				Label:      label,
				Kind:       rule.TargetKind,
				Confidence: rule.Confidence,
				IsRequired: rule.Action == models.ActionRequire,
			})
			if err != nil {
				return err
			}
			if rule.Action == models.ActionRequire {
				result.Required = append(result.Required, label)
			} else {
				result.Assigned = append(result.Assigned, label)
			}
		}
		return nil

	case models.ActionRemove:
		for _, label := range rule.TargetLabels {
			// Every language variant of the label goes; a removal rule
			// targets the label, not one translation of it.
			deactivated, err := s.assignments.UnassignAll(ctx, entityID, label, rule.TargetKind)
			if err != nil {
				return err
			}
			if len(deactivated) > 0 {
				result.Removed = append(result.Removed, label)
			}
		}
		return nil

	case models.ActionModifyValue:
		mv := rule.ModifyValue
		_, changed, err := s.valueStore.SetValue(ctx, SetValueParams{
			StoreID:   storeID,
			EntityID:  entityID,
			Key:       mv.Key,
			Language:  mv.Language,
			ValueType: mv.ValueType,
			RawValue:  mv.Value,
		})
		if err != nil {
			return err
		}
		if changed {
			result.ValuesSet = append(result.ValuesSet, mv.Key)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown rule action %q", apperrors.ErrRuleEvaluation, rule.Action)
	}
}
