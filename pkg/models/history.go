package models

import (
	"time"

	"github.com/google/uuid"
)

// ChangeType classifies one history record. It is derived from the field
// diff, never caller-supplied.
type ChangeType string

const (
	ChangeTypeCreated     ChangeType = "created"
	ChangeTypeUpdated     ChangeType = "updated"
	ChangeTypeDeleted     ChangeType = "deleted"
	ChangeTypeActivated   ChangeType = "activated"
	ChangeTypeDeactivated ChangeType = "deactivated"
)

// FieldChange holds the old and new values for one changed field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// HistoryRecord is an immutable audit entry describing one change to an
// assignment. AssignmentID is nullable so history survives a hard purge of
// the assignment it describes.
type HistoryRecord struct {
	ID           uuid.UUID  `json:"id"`
	StoreID      uuid.UUID  `json:"store_id"`
	AssignmentID *uuid.UUID `json:"assignment_id,omitempty"`
	EntityID     uuid.UUID  `json:"entity_id"`

	ChangeType    ChangeType             `json:"change_type"`
	ChangedFields map[string]FieldChange `json:"changed_fields,omitempty"`

	Actor     string    `json:"actor"`
	Source    string    `json:"source"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AssignmentSnapshot captures the audit-relevant fields of an assignment for
// diffing. Volatile bookkeeping (updated_at, last_interaction_at, derived
// scores) is deliberately absent.
func AssignmentSnapshot(a *Assignment) map[string]any {
	if a == nil {
		return nil
	}
	return map[string]any{
		"label":            a.Label,
		"kind":             string(a.Kind),
		"language":         a.Language,
		"is_primary":       a.IsPrimary,
		"confidence":       a.Confidence,
		"source":           string(a.Source),
		"is_required":      a.IsRequired,
		"is_visible":       a.IsVisible,
		"is_active":        a.IsActive,
		"display_order":    a.DisplayOrder,
		"click_count":      a.ClickCount,
		"view_count":       a.ViewCount,
		"conversion_count": a.ConversionCount,
		"search_count":     a.SearchCount,
	}
}

// DiffSnapshots compares two assignment snapshots field by field and returns
// only the fields that actually differ with their old and new values.
func DiffSnapshots(oldSnap, newSnap map[string]any) map[string]FieldChange {
	changes := make(map[string]FieldChange)
	for field, newVal := range newSnap {
		oldVal, existed := oldSnap[field]
		if !existed || oldVal != newVal {
			var old any
			if existed {
				old = oldVal
			}
			changes[field] = FieldChange{Old: old, New: newVal}
		}
	}
	for field, oldVal := range oldSnap {
		if _, stillThere := newSnap[field]; !stillThere {
			changes[field] = FieldChange{Old: oldVal, New: nil}
		}
	}
	if len(changes) == 0 {
		return nil
	}
	return changes
}

// DeriveChangeType determines the change type from the before/after state.
// First write for a new assignment is created; a hard delete is deleted;
// an is_active flip is activated/deactivated; anything else is updated.
func DeriveChangeType(oldSnap, newSnap map[string]any, changes map[string]FieldChange) ChangeType {
	if oldSnap == nil {
		return ChangeTypeCreated
	}
	if newSnap == nil {
		return ChangeTypeDeleted
	}
	if fc, ok := changes["is_active"]; ok {
		if active, isBool := fc.New.(bool); isBool {
			if active {
				return ChangeTypeActivated
			}
			return ChangeTypeDeactivated
		}
	}
	return ChangeTypeUpdated
}
