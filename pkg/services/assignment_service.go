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
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/retry"
)

// AssignmentService manages the assignment ledger: assigning, unassigning,
// usage tracking, and the derived score lifecycle.
type AssignmentService struct {
	assignmentRepo repositories.AssignmentRepository
	historyRepo    repositories.HistoryRepository
	valueStore     *ValueStoreService
	notifier       ChangeNotifier
	weights        ScoreWeights
	logger         *zap.Logger
}

// NewAssignmentService creates a new AssignmentService.
func NewAssignmentService(
	assignmentRepo repositories.AssignmentRepository,
	historyRepo repositories.HistoryRepository,
	valueStore *ValueStoreService,
	notifier ChangeNotifier,
	weights ScoreWeights,
	logger *zap.Logger,
) *AssignmentService {
	return &AssignmentService{
		assignmentRepo: assignmentRepo,
		historyRepo:    historyRepo,
		valueStore:     valueStore,
		notifier:       notifier,
		weights:        weights,
		logger:         logger.Named("assignment-service"),
	}
}

// AssignParams is the input for one assign operation.
type AssignParams struct {
	StoreID    uuid.UUID
	EntityID   uuid.UUID
	Label      string
	Kind       models.AssignmentKind
	Language   string
	IsPrimary  bool
	Confidence float64
	IsRequired bool
	ExpiresAt  *time.Time
}

// Assign creates or updates an assignment. Re-assigning an identical link is
// a no-op that writes no history; re-assigning an inactive link reactivates
// it as a fresh lifecycle on the same row. Marking a category primary
// demotes the previous primary atomically.
func (s *AssignmentService) Assign(ctx context.Context, params AssignParams) (*models.Assignment, error) {
	a := &models.Assignment{
		StoreID:    params.StoreID,
		EntityID:   params.EntityID,
		Label:      params.Label,
		Kind:       params.Kind,
		Language:   params.Language,
		IsPrimary:  params.IsPrimary,
		Confidence: params.Confidence,
		Source:     provenanceSource(ctx),
		IsRequired: params.IsRequired,
		ExpiresAt:  params.ExpiresAt,
	}
	if a.Language == "" {
		a.Language = models.DefaultLanguage
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}

	prov, _ := models.GetProvenance(ctx)

	// Concurrent writers for the same entity serialize on an advisory
	// lock; serialization conflicts are safe to retry because the upsert
	// is idempotent.
	var result *repositories.UpsertResult
	err := retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error {
		r, upsertErr := s.assignmentRepo.Upsert(ctx, a, prov)
		if upsertErr != nil {
			return upsertErr
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		s.logger.Info("Assignment written",
			zap.String("entity_id", params.EntityID.String()),
			zap.String("label", params.Label),
			zap.String("kind", string(params.Kind)),
			zap.Bool("created", result.Created),
			zap.Bool("is_primary", result.Assignment.IsPrimary))
		s.notifier.NotifyAssignmentChanged(ctx, params.StoreID, params.EntityID, params.Kind)
	}

	return result.Assignment, nil
}

// Unassign soft-removes an assignment: the row stays with its counters, but
// it no longer lists as active or visible.
func (s *AssignmentService) Unassign(ctx context.Context, entityID uuid.UUID, label string, kind models.AssignmentKind, language string) (*models.Assignment, error) {
	if language == "" {
		language = models.DefaultLanguage
	}
	prov, _ := models.GetProvenance(ctx)

	a, err := s.assignmentRepo.Deactivate(ctx, entityID, label, kind, language, prov)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Assignment deactivated",
		zap.String("entity_id", entityID.String()),
		zap.String("label", label),
		zap.String("kind", string(kind)))
	s.notifier.NotifyAssignmentChanged(ctx, a.StoreID, entityID, kind)

	return a, nil
}

// UnassignAll soft-removes a label in every language it is assigned under.
// Returns what it deactivated; an empty result is not an error.
func (s *AssignmentService) UnassignAll(ctx context.Context, entityID uuid.UUID, label string, kind models.AssignmentKind) ([]*models.Assignment, error) {
	prov, _ := models.GetProvenance(ctx)

	deactivated, err := s.assignmentRepo.DeactivateByLabel(ctx, entityID, label, kind, prov)
	if err != nil {
		return nil, err
	}
	if len(deactivated) == 0 {
		return nil, nil
	}

	s.logger.Info("Assignment deactivated in all languages",
		zap.String("entity_id", entityID.String()),
		zap.String("label", label),
		zap.String("kind", string(kind)),
		zap.Int("count", len(deactivated)))
	s.notifier.NotifyAssignmentChanged(ctx, deactivated[0].StoreID, entityID, kind)

	return deactivated, nil
}

// Purge hard-deletes an inactive or expired assignment. The audit trail
// survives with its assignment link nulled.
func (s *AssignmentService) Purge(ctx context.Context, id uuid.UUID) error {
	prov, _ := models.GetProvenance(ctx)
	if err := s.assignmentRepo.Purge(ctx, id, prov); err != nil {
		return err
	}

	s.logger.Info("Assignment purged", zap.String("assignment_id", id.String()))
	return nil
}

// List returns an entity's assignments of one kind in display order:
// primary first, then display_order, then label.
func (s *AssignmentService) List(ctx context.Context, entityID uuid.UUID, kind models.AssignmentKind, visibleOnly bool) ([]*models.Assignment, error) {
	if !models.IsValidAssignmentKind(kind) {
		return nil, fmt.Errorf("%w: unknown assignment kind %q", apperrors.ErrValidation, kind)
	}
	return s.assignmentRepo.List(ctx, entityID, kind, visibleOnly)
}

// Get returns one assignment by id.
func (s *AssignmentService) Get(ctx context.Context, id uuid.UUID) (*models.Assignment, error) {
	a, err := s.assignmentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("assignment %s: %w", id, apperrors.ErrNotFound)
	}
	return a, nil
}

// TrackUsage records one interaction against an assignment, then recomputes
// and persists its derived scores. The counter bump and its audit row are
// atomic; the score refresh is derived bookkeeping on top.
func (s *AssignmentService) TrackUsage(ctx context.Context, id uuid.UUID, interaction models.Interaction) (*models.Assignment, error) {
	if !models.IsValidInteraction(interaction) {
		return nil, fmt.Errorf("%w: unknown interaction %q", apperrors.ErrValidation, interaction)
	}

	prov := models.Provenance{Source: models.SourceAutomatic}
	if p, ok := models.GetProvenance(ctx); ok {
		prov = p
		prov.Source = models.SourceAutomatic
	}

	a, err := s.assignmentRepo.IncrementUsage(ctx, id, interaction, prov)
	if err != nil {
		return nil, err
	}

	scores, err := s.refreshScores(ctx, a)
	if err != nil {
		// The interaction is recorded; a failed refresh only delays the
		// derived scores until the next one.
		s.logger.Warn("Failed to refresh scores after usage",
			zap.String("assignment_id", id.String()),
			zap.Error(err))
		return a, nil
	}

	a.PerformanceScore = scores.Performance
	a.RelevanceScore = scores.Relevance
	a.PopularityScore = scores.Popularity
	return a, nil
}

// RecomputeScores recalculates and persists the derived scores for one
// assignment without touching its counters.
func (s *AssignmentService) RecomputeScores(ctx context.Context, id uuid.UUID) (*models.Assignment, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	scores, err := s.refreshScores(ctx, a)
	if err != nil {
		return nil, err
	}

	a.PerformanceScore = scores.Performance
	a.RelevanceScore = scores.Relevance
	a.PopularityScore = scores.Popularity
	return a, nil
}

func (s *AssignmentService) refreshScores(ctx context.Context, a *models.Assignment) (Scores, error) {
	snapshot, err := s.valueStore.Snapshot(ctx, a.EntityID, nil)
	if err != nil {
		return Scores{}, err
	}

	scores := ComputeScores(a, s.weights, KeywordDensity(a.Label, snapshot))
	if err := s.assignmentRepo.UpdateScores(ctx, a.ID, scores.Performance, scores.Relevance, scores.Popularity); err != nil {
		return Scores{}, err
	}
	return scores, nil
}

// Reorder rewrites the display order for an entity's assignments of one kind
// to match the given id sequence.
func (s *AssignmentService) Reorder(ctx context.Context, entityID uuid.UUID, kind models.AssignmentKind, orderedIDs []uuid.UUID) error {
	if !models.IsValidAssignmentKind(kind) {
		return fmt.Errorf("%w: unknown assignment kind %q", apperrors.ErrValidation, kind)
	}
	if len(orderedIDs) == 0 {
		return fmt.Errorf("%w: no assignment ids given", apperrors.ErrValidation)
	}
	seen := make(map[uuid.UUID]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if seen[id] {
			return fmt.Errorf("%w: duplicate assignment id %s", apperrors.ErrValidation, id)
		}
		seen[id] = true
	}

	prov, _ := models.GetProvenance(ctx)
	if err := s.assignmentRepo.SetDisplayOrder(ctx, entityID, kind, orderedIDs, prov); err != nil {
		return err
	}

	s.logger.Info("Assignments reordered",
		zap.String("entity_id", entityID.String()),
		zap.String("kind", string(kind)),
		zap.Int("count", len(orderedIDs)))
	return nil
}

// SweepExpired deactivates active assignments past their expires_at. Meant
// to be run periodically with system provenance.
func (s *AssignmentService) SweepExpired(ctx context.Context) (int, error) {
	prov := models.Provenance{Source: models.SourceAutomatic}

	n, err := s.assignmentRepo.ExpireSweep(ctx, time.Now(), prov)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Expired assignments swept", zap.Int("count", n))
	}
	return n, nil
}

// History returns the audit trail for an entity, newest first.
func (s *AssignmentService) History(ctx context.Context, entityID uuid.UUID, limit, offset int) ([]*models.HistoryRecord, error) {
	return s.historyRepo.ListByEntity(ctx, entityID, limit, offset)
}

// AssignmentHistory returns the full lifecycle trail of one assignment,
// oldest first.
func (s *AssignmentService) AssignmentHistory(ctx context.Context, assignmentID uuid.UUID) ([]*models.HistoryRecord, error) {
	return s.historyRepo.ListByAssignment(ctx, assignmentID)
}

// provenanceSource reads the assignment source from context provenance,
// defaulting to manual for direct API writes.
func provenanceSource(ctx context.Context) models.AssignmentSource {
	if p, ok := models.GetProvenance(ctx); ok && p.Source.IsValid() {
		return p.Source
	}
	return models.SourceManual
}
