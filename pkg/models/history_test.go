package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAssignment() *Assignment {
	return &Assignment{
		ID:         uuid.New(),
		StoreID:    uuid.New(),
		EntityID:   uuid.New(),
		Label:      "summer",
		Kind:       KindTag,
		Language:   DefaultLanguage,
		Confidence: 0.8,
		Source:     SourceManual,
		IsVisible:  true,
		IsActive:   true,
	}
}

func TestAssignmentSnapshot_ExcludesVolatileFields(t *testing.T) {
	a := testAssignment()
	snap := AssignmentSnapshot(a)

	assert.Contains(t, snap, "label")
	assert.Contains(t, snap, "click_count")
	assert.NotContains(t, snap, "updated_at")
	assert.NotContains(t, snap, "last_interaction_at")
	assert.NotContains(t, snap, "performance_score")
	assert.NotContains(t, snap, "relevance_score")
	assert.NotContains(t, snap, "popularity_score")
}

func TestDiffSnapshots(t *testing.T) {
	a := testAssignment()
	old := AssignmentSnapshot(a)

	b := *a
	b.Confidence = 0.9
	b.IsPrimary = false
	changes := DiffSnapshots(old, AssignmentSnapshot(&b))

	require.Len(t, changes, 1)
	assert.Equal(t, 0.8, changes["confidence"].Old)
	assert.Equal(t, 0.9, changes["confidence"].New)
}

func TestDiffSnapshots_NoChange(t *testing.T) {
	a := testAssignment()
	assert.Nil(t, DiffSnapshots(AssignmentSnapshot(a), AssignmentSnapshot(a)))
}

func TestDiffSnapshots_CreatedAndDeleted(t *testing.T) {
	a := testAssignment()
	snap := AssignmentSnapshot(a)

	created := DiffSnapshots(nil, snap)
	require.NotNil(t, created)
	assert.Len(t, created, len(snap), "every field changes on create")
	assert.Nil(t, created["label"].Old)
	assert.Equal(t, "summer", created["label"].New)

	deleted := DiffSnapshots(snap, nil)
	require.NotNil(t, deleted)
	assert.Equal(t, "summer", deleted["label"].Old)
	assert.Nil(t, deleted["label"].New)
}

func TestDeriveChangeType(t *testing.T) {
	a := testAssignment()
	snap := AssignmentSnapshot(a)

	assert.Equal(t, ChangeTypeCreated, DeriveChangeType(nil, snap, DiffSnapshots(nil, snap)))
	assert.Equal(t, ChangeTypeDeleted, DeriveChangeType(snap, nil, DiffSnapshots(snap, nil)))

	deactivated := *a
	deactivated.IsActive = false
	deSnap := AssignmentSnapshot(&deactivated)
	assert.Equal(t, ChangeTypeDeactivated, DeriveChangeType(snap, deSnap, DiffSnapshots(snap, deSnap)))
	assert.Equal(t, ChangeTypeActivated, DeriveChangeType(deSnap, snap, DiffSnapshots(deSnap, snap)))

	updated := *a
	updated.Confidence = 0.5
	upSnap := AssignmentSnapshot(&updated)
	assert.Equal(t, ChangeTypeUpdated, DeriveChangeType(snap, upSnap, DiffSnapshots(snap, upSnap)))
}
