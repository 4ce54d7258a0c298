package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/apperrors"
)

// AssignmentKind distinguishes what a label link means.
type AssignmentKind string

const (
	KindTag      AssignmentKind = "tag"
	KindCategory AssignmentKind = "category"
	KindMetadata AssignmentKind = "metadata"
)

// ValidAssignmentKinds contains all valid assignment kinds.
var ValidAssignmentKinds = []AssignmentKind{KindTag, KindCategory, KindMetadata}

// IsValidAssignmentKind checks if the given kind is valid.
func IsValidAssignmentKind(k AssignmentKind) bool {
	for _, v := range ValidAssignmentKinds {
		if v == k {
			return true
		}
	}
	return false
}

// SupportsPrimary reports whether the kind carries "single primary per
// entity" semantics. Only categories do; tags and metadata keys are flat.
func (k AssignmentKind) SupportsPrimary() bool {
	return k == KindCategory
}

// Interaction identifies which usage counter a tracking call bumps.
type Interaction string

const (
	InteractionClick      Interaction = "click"
	InteractionView       Interaction = "view"
	InteractionConversion Interaction = "conversion"
	InteractionSearch     Interaction = "search"
)

// IsValidInteraction checks if the given interaction is valid.
func IsValidInteraction(i Interaction) bool {
	switch i {
	case InteractionClick, InteractionView, InteractionConversion, InteractionSearch:
		return true
	default:
		return false
	}
}

// Assignment is a binding link between an entity and a label. Unique per
// (store, entity, label, kind, language).
type Assignment struct {
	ID       uuid.UUID      `json:"id"`
	StoreID  uuid.UUID      `json:"store_id"`
	EntityID uuid.UUID      `json:"entity_id"`
	Label    string         `json:"label"`
	Kind     AssignmentKind `json:"kind"`
	Language string         `json:"language"`

	IsPrimary  bool             `json:"is_primary"`
	Confidence float64          `json:"confidence"` // 0.0-1.0
	Source     AssignmentSource `json:"source"`
	IsRequired bool             `json:"is_required"`

	IsVisible    bool `json:"is_visible"`
	IsActive     bool `json:"is_active"`
	DisplayOrder int  `json:"display_order"`

	// Usage counters feeding the score calculator.
	ClickCount      int64 `json:"click_count"`
	ViewCount       int64 `json:"view_count"`
	ConversionCount int64 `json:"conversion_count"`
	SearchCount     int64 `json:"search_count"`

	// Derived scores, recomputed whenever counters change.
	PerformanceScore float64 `json:"performance_score"`
	RelevanceScore   float64 `json:"relevance_score"`
	PopularityScore  float64 `json:"popularity_score"`

	LastInteractionAt *time.Time `json:"last_interaction_at,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Validate checks invariants that must hold before an assignment is stored.
func (a *Assignment) Validate() error {
	if a.Label == "" {
		return fmt.Errorf("%w: label is required", apperrors.ErrValidation)
	}
	if !IsValidAssignmentKind(a.Kind) {
		return fmt.Errorf("%w: unknown assignment kind %q", apperrors.ErrValidation, a.Kind)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", apperrors.ErrValidation, a.Confidence)
	}
	if !a.Source.IsValid() {
		return fmt.Errorf("%w: unknown assignment source %q", apperrors.ErrValidation, a.Source)
	}
	if a.IsPrimary && !a.Kind.SupportsPrimary() {
		return fmt.Errorf("%w: kind %q does not support primary assignments", apperrors.ErrValidation, a.Kind)
	}
	return nil
}

// IsExpired reports whether the assignment's expires_at has passed.
func (a *Assignment) IsExpired(now time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}

// UsageCount returns the total of all interaction counters.
func (a *Assignment) UsageCount() int64 {
	return a.ClickCount + a.ViewCount + a.ConversionCount + a.SearchCount
}
