package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/models"
)

type valueStoreFixture struct {
	svc         *ValueStoreService
	assignments *mockAssignmentRepository
	storeID     uuid.UUID
	entityID    uuid.UUID
}

func newValueStoreFixture(t *testing.T) *valueStoreFixture {
	t.Helper()

	assignments := newMockAssignmentRepository()
	attributes := newMockAttributeRepository()
	svc := NewValueStoreService(attributes, assignments, &mockHistoryRepository{assignments: assignments}, zap.NewNop())

	return &valueStoreFixture{
		svc:         svc,
		assignments: assignments,
		storeID:     uuid.New(),
		entityID:    uuid.New(),
	}
}

func (f *valueStoreFixture) set(t *testing.T, key, raw string) bool {
	t.Helper()
	_, changed, err := f.svc.SetValue(context.Background(), SetValueParams{
		StoreID:   f.storeID,
		EntityID:  f.entityID,
		Key:       key,
		ValueType: models.ValueTypeText,
		RawValue:  raw,
	})
	require.NoError(t, err)
	return changed
}

func TestSetValue_RecordsHistoryOnOwnedMetadataKey(t *testing.T) {
	f := newValueStoreFixture(t)

	result, err := f.assignments.Upsert(context.Background(), &models.Assignment{
		StoreID:    f.storeID,
		EntityID:   f.entityID,
		Label:      "material",
		Kind:       models.KindMetadata,
		Language:   models.DefaultLanguage,
		Source:     models.SourceManual,
		Confidence: 1.0,
	}, models.Provenance{Source: models.SourceManual})
	require.NoError(t, err)
	owner := result.Assignment

	before := len(f.assignments.historyFor(f.entityID))
	assert.True(t, f.set(t, "material", "cotton"))

	trail := f.assignments.historyFor(f.entityID)
	require.Len(t, trail, before+1)

	rec := trail[len(trail)-1]
	assert.Equal(t, models.ChangeTypeUpdated, rec.ChangeType)
	require.NotNil(t, rec.AssignmentID)
	assert.Equal(t, owner.ID, *rec.AssignmentID)

	change, ok := rec.ChangedFields["value"]
	require.True(t, ok)
	assert.Nil(t, change.Old)
	assert.Equal(t, "cotton", change.New)
}

func TestSetValue_HistoryCarriesOldValue(t *testing.T) {
	f := newValueStoreFixture(t)

	_, err := f.assignments.Upsert(context.Background(), &models.Assignment{
		StoreID:    f.storeID,
		EntityID:   f.entityID,
		Label:      "material",
		Kind:       models.KindMetadata,
		Language:   models.DefaultLanguage,
		Source:     models.SourceManual,
		Confidence: 1.0,
	}, models.Provenance{Source: models.SourceManual})
	require.NoError(t, err)

	assert.True(t, f.set(t, "material", "cotton"))
	assert.True(t, f.set(t, "material", "wool"))

	trail := f.assignments.historyFor(f.entityID)
	rec := trail[len(trail)-1]
	change, ok := rec.ChangedFields["value"]
	require.True(t, ok)
	assert.Equal(t, "cotton", change.Old)
	assert.Equal(t, "wool", change.New)
}

func TestSetValue_UnchangedValueWritesNoHistory(t *testing.T) {
	f := newValueStoreFixture(t)

	_, err := f.assignments.Upsert(context.Background(), &models.Assignment{
		StoreID:    f.storeID,
		EntityID:   f.entityID,
		Label:      "material",
		Kind:       models.KindMetadata,
		Language:   models.DefaultLanguage,
		Source:     models.SourceManual,
		Confidence: 1.0,
	}, models.Provenance{Source: models.SourceManual})
	require.NoError(t, err)

	assert.True(t, f.set(t, "material", "cotton"))
	before := len(f.assignments.historyFor(f.entityID))

	assert.False(t, f.set(t, "material", "cotton"))
	assert.Len(t, f.assignments.historyFor(f.entityID), before)
}

func TestSetValue_UnownedKeyWritesNoHistory(t *testing.T) {
	f := newValueStoreFixture(t)

	assert.True(t, f.set(t, "fit", "regular"))
	assert.Empty(t, f.assignments.historyFor(f.entityID))
}
