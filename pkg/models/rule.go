package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/apperrors"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/jsonutil"
)

// ConditionOp is the operator of one node in a rule condition tree.
type ConditionOp string

const (
	CondEq       ConditionOp = "eq"
	CondNeq      ConditionOp = "neq"
	CondContains ConditionOp = "contains"
	CondGt       ConditionOp = "gt"
	CondLt       ConditionOp = "lt"
	CondExists   ConditionOp = "exists"
	CondAnd      ConditionOp = "and"
	CondOr       ConditionOp = "or"
)

// Condition is a boolean expression tree over entity attribute checks.
// Leaf operators (eq, neq, contains, gt, lt, exists) compare one snapshot
// field; and/or combine sub-conditions. Conditions are stored as JSONB and
// validated at rule save time, never re-interpreted ad hoc per row.
type Condition struct {
	Op         ConditionOp     `json:"op"`
	Field      string          `json:"field,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
	Conditions []Condition     `json:"conditions,omitempty"`
}

// maxConditionDepth bounds the tree so malformed configs cannot recurse
// unboundedly.
const maxConditionDepth = 16

// Validate checks the condition tree is well-formed.
func (c *Condition) Validate() error {
	return c.validate(0)
}

func (c *Condition) validate(depth int) error {
	if depth > maxConditionDepth {
		return fmt.Errorf("%w: condition tree deeper than %d", apperrors.ErrRuleEvaluation, maxConditionDepth)
	}

	switch c.Op {
	case CondAnd, CondOr:
		if len(c.Conditions) == 0 {
			return fmt.Errorf("%w: %s requires at least one sub-condition", apperrors.ErrRuleEvaluation, c.Op)
		}
		for i := range c.Conditions {
			if err := c.Conditions[i].validate(depth + 1); err != nil {
				return err
			}
		}
		return nil

	case CondExists:
		if c.Field == "" {
			return fmt.Errorf("%w: %s requires a field", apperrors.ErrRuleEvaluation, c.Op)
		}
		return nil

	case CondEq, CondNeq, CondContains, CondGt, CondLt:
		if c.Field == "" {
			return fmt.Errorf("%w: %s requires a field", apperrors.ErrRuleEvaluation, c.Op)
		}
		if len(c.Value) == 0 {
			return fmt.Errorf("%w: %s requires a value", apperrors.ErrRuleEvaluation, c.Op)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown operator %q", apperrors.ErrRuleEvaluation, c.Op)
	}
}

// Evaluate returns whether the condition holds against the snapshot.
// A leaf referencing a missing attribute evaluates to false, never errors,
// so absent data silently fails to match.
func (c *Condition) Evaluate(snapshot AttributeSnapshot) bool {
	switch c.Op {
	case CondAnd:
		for i := range c.Conditions {
			if !c.Conditions[i].Evaluate(snapshot) {
				return false
			}
		}
		return len(c.Conditions) > 0

	case CondOr:
		for i := range c.Conditions {
			if c.Conditions[i].Evaluate(snapshot) {
				return true
			}
		}
		return false

	case CondExists:
		_, ok := snapshot[c.Field]
		return ok

	default:
		actual, ok := snapshot[c.Field]
		if !ok {
			return false
		}
		expected := jsonutil.FlexibleStringValue(c.Value)
		switch c.Op {
		case CondEq:
			return strings.EqualFold(actual, expected)
		case CondNeq:
			return !strings.EqualFold(actual, expected)
		case CondContains:
			return strings.Contains(strings.ToLower(actual), strings.ToLower(expected))
		case CondGt, CondLt:
			a, errA := strconv.ParseFloat(strings.TrimSpace(actual), 64)
			b, errB := strconv.ParseFloat(strings.TrimSpace(expected), 64)
			if errA != nil || errB != nil {
				return false
			}
			if c.Op == CondGt {
				return a > b
			}
			return a < b
		}
		return false
	}
}

// ParseCondition parses and validates a JSONB condition tree. Malformed
// trees are rejected here, at save time, before they ever run.
func ParseCondition(raw json.RawMessage) (*Condition, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty condition", apperrors.ErrRuleEvaluation)
	}
	var c Condition
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrRuleEvaluation, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// RuleAction is what a matched rule does.
type RuleAction string

const (
	ActionAssign      RuleAction = "assign"
	ActionRemove      RuleAction = "remove"
	ActionRequire     RuleAction = "require"
	ActionModifyValue RuleAction = "modify_value"
)

// IsValidRuleAction checks if the given action is valid.
func IsValidRuleAction(a RuleAction) bool {
	switch a {
	case ActionAssign, ActionRemove, ActionRequire, ActionModifyValue:
		return true
	default:
		return false
	}
}

// ModifyValueParams configures a modify_value action: the attribute written
// through the value store when the rule matches.
type ModifyValueParams struct {
	Key       string    `json:"key"`
	ValueType ValueType `json:"value_type"`
	Value     string    `json:"value"`
	Language  string    `json:"language,omitempty"`
}

// Rule is a stored condition and action pair evaluated by the rule engine.
type Rule struct {
	ID          uuid.UUID `json:"id"`
	StoreID     uuid.UUID `json:"store_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`

	Condition    *Condition         `json:"condition"`
	Action       RuleAction         `json:"action"`
	TargetLabels []string           `json:"target_labels,omitempty"`
	TargetKind   AssignmentKind     `json:"target_kind"`
	ModifyValue  *ModifyValueParams `json:"modify_value,omitempty"`

	Priority   int     `json:"priority"`
	Confidence float64 `json:"confidence"`
	IsActive   bool    `json:"is_active"`

	MatchesCount   int64      `json:"matches_count"`
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks a rule's configuration before it is saved.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: rule name is required", apperrors.ErrValidation)
	}
	if r.Condition == nil {
		return fmt.Errorf("%w: rule condition is required", apperrors.ErrValidation)
	}
	if err := r.Condition.Validate(); err != nil {
		return err
	}
	if !IsValidRuleAction(r.Action) {
		return fmt.Errorf("%w: unknown rule action %q", apperrors.ErrValidation, r.Action)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", apperrors.ErrValidation, r.Confidence)
	}
	switch r.Action {
	case ActionModifyValue:
		if r.ModifyValue == nil || r.ModifyValue.Key == "" {
			return fmt.Errorf("%w: modify_value action requires a target key", apperrors.ErrValidation)
		}
		if !IsValidValueType(r.ModifyValue.ValueType) {
			return fmt.Errorf("%w: modify_value action has unknown value type %q", apperrors.ErrValidation, r.ModifyValue.ValueType)
		}
	default:
		if len(r.TargetLabels) == 0 {
			return fmt.Errorf("%w: %s action requires target labels", apperrors.ErrValidation, r.Action)
		}
		if !IsValidAssignmentKind(r.TargetKind) {
			return fmt.Errorf("%w: unknown target kind %q", apperrors.ErrValidation, r.TargetKind)
		}
	}
	return nil
}
