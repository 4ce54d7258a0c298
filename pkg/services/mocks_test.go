package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/apperrors"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/models"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/repositories"
)

// mockAttributeRepository is an in-memory AttributeRepository.
type mockAttributeRepository struct {
	mu     sync.Mutex
	values map[string]*models.AttributeValue
}

func newMockAttributeRepository() *mockAttributeRepository {
	return &mockAttributeRepository{values: make(map[string]*models.AttributeValue)}
}

func attrKey(entityID uuid.UUID, key, language string) string {
	return entityID.String() + "|" + key + "|" + language
}

func (m *mockAttributeRepository) Upsert(_ context.Context, value *models.AttributeValue) (*models.AttributeValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := attrKey(value.EntityID, value.Key, value.Language)
	prior := m.values[k]
	if prior != nil {
		value.ID = prior.ID
		value.CreatedAt = prior.CreatedAt
	} else {
		value.ID = uuid.New()
		value.CreatedAt = time.Now()
	}
	value.UpdatedAt = time.Now()
	m.values[k] = value
	return prior, nil
}

func (m *mockAttributeRepository) Get(_ context.Context, entityID uuid.UUID, key, language string) (*models.AttributeValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[attrKey(entityID, key, language)], nil
}

func (m *mockAttributeRepository) ListByEntity(_ context.Context, entityID uuid.UUID) ([]*models.AttributeValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.AttributeValue
	for _, v := range m.values {
		if v.EntityID == entityID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *mockAttributeRepository) Delete(_ context.Context, entityID uuid.UUID, key, language string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := attrKey(entityID, key, language)
	if _, ok := m.values[k]; !ok {
		return fmt.Errorf("attribute %q: %w", key, apperrors.ErrNotFound)
	}
	delete(m.values, k)
	return nil
}

var _ repositories.AttributeRepository = (*mockAttributeRepository)(nil)

// mockAssignmentRepository is an in-memory AssignmentRepository that mirrors
// the transactional semantics of the real one: every mutation appends the
// matching history record.
type mockAssignmentRepository struct {
	mu          sync.Mutex
	assignments map[uuid.UUID]*models.Assignment
	history     []*models.HistoryRecord

	// upsertErr, when set, fails the next Upsert calls.
	upsertErr error
}

func newMockAssignmentRepository() *mockAssignmentRepository {
	return &mockAssignmentRepository{assignments: make(map[uuid.UUID]*models.Assignment)}
}

func (m *mockAssignmentRepository) findByKey(entityID uuid.UUID, label string, kind models.AssignmentKind, language string) *models.Assignment {
	for _, a := range m.assignments {
		if a.EntityID == entityID && a.Label == label && a.Kind == kind && a.Language == language {
			return a
		}
	}
	return nil
}

func (m *mockAssignmentRepository) appendHistory(a *models.Assignment, changeType models.ChangeType, changes map[string]models.FieldChange, prov models.Provenance, reason string) {
	id := a.ID
	m.history = append(m.history, &models.HistoryRecord{
		ID:            uuid.New(),
		StoreID:       a.StoreID,
		AssignmentID:  &id,
		EntityID:      a.EntityID,
		ChangeType:    changeType,
		ChangedFields: changes,
		Actor:         prov.Actor(),
		Source:        prov.Source.String(),
		Reason:        reason,
		CreatedAt:     time.Now(),
	})
}

func (m *mockAssignmentRepository) Upsert(_ context.Context, a *models.Assignment, prov models.Provenance) (*repositories.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.upsertErr != nil {
		return nil, m.upsertErr
	}

	if a.IsPrimary {
		for _, other := range m.assignments {
			if other.EntityID == a.EntityID && other.Kind == a.Kind && other.IsPrimary && other.Label != a.Label {
				other.IsPrimary = false
				m.appendHistory(other, models.ChangeTypeUpdated,
					map[string]models.FieldChange{"is_primary": {Old: true, New: false}}, prov, prov.Reason)
			}
		}
	}

	existing := m.findByKey(a.EntityID, a.Label, a.Kind, a.Language)
	now := time.Now()

	if existing == nil {
		a.ID = uuid.New()
		a.IsActive = true
		a.IsVisible = true
		a.CreatedAt = now
		a.UpdatedAt = now
		copied := *a
		m.assignments[a.ID] = &copied

		newSnap := models.AssignmentSnapshot(a)
		changes := models.DiffSnapshots(nil, newSnap)
		m.appendHistory(a, models.DeriveChangeType(nil, newSnap, changes), changes, prov, prov.Reason)
		return &repositories.UpsertResult{Assignment: a, Created: true, Changed: true}, nil
	}

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
	if changes == nil {
		return &repositories.UpsertResult{Assignment: existing}, nil
	}

	updated.UpdatedAt = now
	m.assignments[updated.ID] = &updated
	m.appendHistory(&updated, models.DeriveChangeType(oldSnap, newSnap, changes), changes, prov, prov.Reason)
	return &repositories.UpsertResult{Assignment: &updated, Changed: true}, nil
}

func (m *mockAssignmentRepository) Deactivate(_ context.Context, entityID uuid.UUID, label string, kind models.AssignmentKind, language string, prov models.Provenance) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.findByKey(entityID, label, kind, language)
	if existing == nil {
		return nil, fmt.Errorf("assignment %s/%s: %w", kind, label, apperrors.ErrNotFound)
	}

	oldSnap := models.AssignmentSnapshot(existing)
	existing.IsActive = false
	existing.IsVisible = false
	existing.IsPrimary = false
	existing.UpdatedAt = time.Now()

	newSnap := models.AssignmentSnapshot(existing)
	changes := models.DiffSnapshots(oldSnap, newSnap)
	if changes != nil {
		m.appendHistory(existing, models.DeriveChangeType(oldSnap, newSnap, changes), changes, prov, prov.Reason)
	}
	return existing, nil
}

func (m *mockAssignmentRepository) DeactivateByLabel(_ context.Context, entityID uuid.UUID, label string, kind models.AssignmentKind, prov models.Provenance) ([]*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deactivated []*models.Assignment
	for _, a := range m.assignments {
		if a.EntityID != entityID || a.Label != label || a.Kind != kind || !a.IsActive {
			continue
		}

		oldSnap := models.AssignmentSnapshot(a)
		a.IsActive = false
		a.IsVisible = false
		a.IsPrimary = false
		a.UpdatedAt = time.Now()

		newSnap := models.AssignmentSnapshot(a)
		changes := models.DiffSnapshots(oldSnap, newSnap)
		m.appendHistory(a, models.DeriveChangeType(oldSnap, newSnap, changes), changes, prov, prov.Reason)
		deactivated = append(deactivated, a)
	}
	return deactivated, nil
}

func (m *mockAssignmentRepository) Purge(_ context.Context, id uuid.UUID, prov models.Provenance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.assignments[id]
	if !ok {
		return fmt.Errorf("assignment %s: %w", id, apperrors.ErrNotFound)
	}
	if existing.IsActive && !existing.IsExpired(time.Now()) {
		return fmt.Errorf("%w: only inactive or expired assignments may be purged", apperrors.ErrConflict)
	}

	oldSnap := models.AssignmentSnapshot(existing)
	m.appendHistory(existing, models.ChangeTypeDeleted, models.DiffSnapshots(oldSnap, nil), prov, prov.Reason)
	delete(m.assignments, id)
	return nil
}

func (m *mockAssignmentRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assignments[id], nil
}

func (m *mockAssignmentRepository) GetByKey(_ context.Context, entityID uuid.UUID, label string, kind models.AssignmentKind, language string) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findByKey(entityID, label, kind, language), nil
}

func (m *mockAssignmentRepository) List(_ context.Context, entityID uuid.UUID, kind models.AssignmentKind, visibleOnly bool) ([]*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Assignment
	for _, a := range m.assignments {
		if a.EntityID != entityID || a.Kind != kind {
			continue
		}
		if visibleOnly && !(a.IsVisible && a.IsActive) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].Label < out[j].Label
	})
	return out, nil
}

func (m *mockAssignmentRepository) IncrementUsage(_ context.Context, id uuid.UUID, interaction models.Interaction, prov models.Provenance) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[id]
	if !ok {
		return nil, fmt.Errorf("assignment %s: %w", id, apperrors.ErrNotFound)
	}

	var counter int64
	switch interaction {
	case models.InteractionClick:
		a.ClickCount++
		counter = a.ClickCount
	case models.InteractionView:
		a.ViewCount++
		counter = a.ViewCount
	case models.InteractionConversion:
		a.ConversionCount++
		counter = a.ConversionCount
	case models.InteractionSearch:
		a.SearchCount++
		counter = a.SearchCount
	}
	now := time.Now()
	a.LastInteractionAt = &now
	a.UpdatedAt = now

	m.appendHistory(a, models.ChangeTypeUpdated,
		map[string]models.FieldChange{string(interaction) + "_count": {Old: counter - 1, New: counter}}, prov, "")
	return a, nil
}

func (m *mockAssignmentRepository) UpdateScores(_ context.Context, id uuid.UUID, performance, relevance, popularity float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[id]
	if !ok {
		return fmt.Errorf("assignment %s: %w", id, apperrors.ErrNotFound)
	}
	a.PerformanceScore = performance
	a.RelevanceScore = relevance
	a.PopularityScore = popularity
	return nil
}

func (m *mockAssignmentRepository) SetDisplayOrder(_ context.Context, entityID uuid.UUID, kind models.AssignmentKind, orderedIDs []uuid.UUID, prov models.Provenance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for position, id := range orderedIDs {
		a, ok := m.assignments[id]
		if !ok || a.EntityID != entityID || a.DisplayOrder == position {
			continue
		}
		a.DisplayOrder = position
		m.appendHistory(a, models.ChangeTypeUpdated,
			map[string]models.FieldChange{"display_order": {New: position}}, prov, "")
	}
	return nil
}

func (m *mockAssignmentRepository) ExpireSweep(_ context.Context, now time.Time, prov models.Provenance) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, a := range m.assignments {
		if a.IsActive && a.ExpiresAt != nil && a.ExpiresAt.Before(now) {
			a.IsActive = false
			a.IsVisible = false
			a.IsPrimary = false
			m.appendHistory(a, models.ChangeTypeDeactivated,
				map[string]models.FieldChange{"is_active": {Old: true, New: false}}, prov, "expired")
			n++
		}
	}
	return n, nil
}

func (m *mockAssignmentRepository) DistinctLabels(_ context.Context, kind models.AssignmentKind) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var labels []string
	for _, a := range m.assignments {
		if a.Kind == kind && a.IsActive && !seen[a.Label] {
			seen[a.Label] = true
			labels = append(labels, a.Label)
		}
	}
	sort.Strings(labels)
	return labels, nil
}

func (m *mockAssignmentRepository) ActiveLabels(_ context.Context, entityID uuid.UUID, kind models.AssignmentKind) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var labels []string
	for _, a := range m.assignments {
		if a.EntityID == entityID && a.Kind == kind && a.IsActive {
			labels = append(labels, a.Label)
		}
	}
	sort.Strings(labels)
	return labels, nil
}

// historyFor returns the mock's history rows for one entity in insert order.
func (m *mockAssignmentRepository) historyFor(entityID uuid.UUID) []*models.HistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.HistoryRecord
	for _, rec := range m.history {
		if rec.EntityID == entityID {
			out = append(out, rec)
		}
	}
	return out
}

var _ repositories.AssignmentRepository = (*mockAssignmentRepository)(nil)

// mockRuleRepository is an in-memory RuleRepository.
type mockRuleRepository struct {
	mu    sync.Mutex
	rules map[uuid.UUID]*models.Rule
	seq   int
}

func newMockRuleRepository() *mockRuleRepository {
	return &mockRuleRepository{rules: make(map[uuid.UUID]*models.Rule)}
}

func (m *mockRuleRepository) Create(_ context.Context, rule *models.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	// Distinct creation times keep tie-break ordering observable.
	m.seq++
	rule.CreatedAt = time.Unix(int64(m.seq), 0)
	rule.UpdatedAt = rule.CreatedAt
	copied := *rule
	m.rules[rule.ID] = &copied
	return nil
}

func (m *mockRuleRepository) Update(_ context.Context, rule *models.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.rules[rule.ID]
	if !ok {
		return fmt.Errorf("rule %s: %w", rule.ID, apperrors.ErrNotFound)
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	copied := *rule
	m.rules[rule.ID] = &copied
	return nil
}

func (m *mockRuleRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rules[id], nil
}

func (m *mockRuleRepository) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[id]; !ok {
		return fmt.Errorf("rule %s: %w", id, apperrors.ErrNotFound)
	}
	delete(m.rules, id)
	return nil
}

func (m *mockRuleRepository) List(_ context.Context) ([]*models.Rule, error) {
	return m.list(false), nil
}

func (m *mockRuleRepository) ListActive(_ context.Context) ([]*models.Rule, error) {
	return m.list(true), nil
}

func (m *mockRuleRepository) list(activeOnly bool) []*models.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Rule
	for _, r := range m.rules {
		if activeOnly && !r.IsActive {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return strings.Compare(out[i].ID.String(), out[j].ID.String()) < 0
	})
	return out
}

func (m *mockRuleRepository) RecordMatch(_ context.Context, id uuid.UUID, executedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rules[id]; ok {
		r.MatchesCount++
		r.LastExecutedAt = &executedAt
	}
	return nil
}

var _ repositories.RuleRepository = (*mockRuleRepository)(nil)

// mockSuggestionRepository is an in-memory SuggestionRepository.
type mockSuggestionRepository struct {
	mu          sync.Mutex
	suggestions map[uuid.UUID]*models.Suggestion
}

func newMockSuggestionRepository() *mockSuggestionRepository {
	return &mockSuggestionRepository{suggestions: make(map[uuid.UUID]*models.Suggestion)}
}

func (m *mockSuggestionRepository) CreateBatch(_ context.Context, suggestions []*models.Suggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, s := range suggestions {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		s.Status = models.SuggestionStatusPending
		s.CreatedAt = now
		s.UpdatedAt = now
		copied := *s
		m.suggestions[s.ID] = &copied
	}
	return nil
}

func (m *mockSuggestionRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Suggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suggestions[id], nil
}

func (m *mockSuggestionRepository) ListByEntity(_ context.Context, entityID uuid.UUID, status models.SuggestionStatus) ([]*models.Suggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Suggestion
	for _, s := range m.suggestions {
		if s.EntityID != entityID {
			continue
		}
		if status != "" && s.Status != status {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Label < out[j].Label
	})
	return out, nil
}

func (m *mockSuggestionRepository) PendingLabels(_ context.Context, entityID uuid.UUID, kind models.AssignmentKind) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var labels []string
	for _, s := range m.suggestions {
		if s.EntityID == entityID && s.Kind == kind && s.Status == models.SuggestionStatusPending {
			labels = append(labels, s.Label)
		}
	}
	return labels, nil
}

func (m *mockSuggestionRepository) Resolve(_ context.Context, id uuid.UUID, status models.SuggestionStatus, reviewedBy string, feedback string) (*models.Suggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.suggestions[id]
	if !ok {
		return nil, fmt.Errorf("suggestion %s: %w", id, apperrors.ErrNotFound)
	}
	if s.Status != models.SuggestionStatusPending {
		return nil, fmt.Errorf("suggestion %s is %s: %w", id, s.Status, apperrors.ErrAlreadyResolved)
	}

	now := time.Now()
	s.Status = status
	s.ReviewedBy = &reviewedBy
	s.ReviewedAt = &now
	s.UpdatedAt = now
	if feedback != "" {
		s.Feedback = &feedback
	}
	return s, nil
}

func (m *mockSuggestionRepository) Reopen(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.suggestions[id]
	if !ok || s.Status != models.SuggestionStatusAccepted {
		return fmt.Errorf("suggestion %s: %w", id, apperrors.ErrNotFound)
	}
	s.Status = models.SuggestionStatusPending
	s.ReviewedBy = nil
	s.ReviewedAt = nil
	s.Feedback = nil
	s.UpdatedAt = time.Now()
	return nil
}

func (m *mockSuggestionRepository) ExpireSweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.suggestions {
		if s.Status == models.SuggestionStatusPending && s.ExpiresAt != nil && s.ExpiresAt.Before(now) {
			s.Status = models.SuggestionStatusExpired
			s.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

var _ repositories.SuggestionRepository = (*mockSuggestionRepository)(nil)

// mockHistoryRepository reads from the assignment mock's shared trail.
type mockHistoryRepository struct {
	assignments *mockAssignmentRepository
}

func (m *mockHistoryRepository) Create(_ context.Context, rec *models.HistoryRecord) error {
	m.assignments.mu.Lock()
	defer m.assignments.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now()
	m.assignments.history = append(m.assignments.history, rec)
	return nil
}

func (m *mockHistoryRepository) ListByEntity(_ context.Context, entityID uuid.UUID, limit, offset int) ([]*models.HistoryRecord, error) {
	records := m.assignments.historyFor(entityID)
	// Newest first.
	out := make([]*models.HistoryRecord, len(records))
	for i, rec := range records {
		out[len(records)-1-i] = rec
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockHistoryRepository) ListByAssignment(_ context.Context, assignmentID uuid.UUID) ([]*models.HistoryRecord, error) {
	m.assignments.mu.Lock()
	defer m.assignments.mu.Unlock()

	var out []*models.HistoryRecord
	for _, rec := range m.assignments.history {
		if rec.AssignmentID != nil && *rec.AssignmentID == assignmentID {
			out = append(out, rec)
		}
	}
	return out, nil
}

var _ repositories.HistoryRepository = (*mockHistoryRepository)(nil)
