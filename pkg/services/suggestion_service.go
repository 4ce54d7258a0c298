package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/apperrors"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/models"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/repositories"
)

// SuggestionConfig tunes the suggestion pipeline.
type SuggestionConfig struct {
	// ConfidenceFloor discards candidates scored below it.
	ConfidenceFloor float64

	// MaxSuggestions caps candidates generated per entity per call.
	MaxSuggestions int

	// TTL is how long a pending suggestion lives before the sweep
	// expires it. Zero means suggestions never expire.
	TTL time.Duration
}

// SuggestionService generates scored, non-binding classification candidates
// and manages their review lifecycle. Accepting a suggestion is the only
// path from this pipeline into the assignment ledger.
type SuggestionService struct {
	suggestionRepo repositories.SuggestionRepository
	assignmentRepo repositories.AssignmentRepository
	valueStore     *ValueStoreService
	assignments    *AssignmentService
	scorer         SimilarityScorer
	cfg            SuggestionConfig
	logger         *zap.Logger
}

// NewSuggestionService creates a new SuggestionService.
func NewSuggestionService(
	suggestionRepo repositories.SuggestionRepository,
	assignmentRepo repositories.AssignmentRepository,
	valueStore *ValueStoreService,
	assignments *AssignmentService,
	scorer SimilarityScorer,
	cfg SuggestionConfig,
	logger *zap.Logger,
) *SuggestionService {
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = 10
	}
	if scorer == nil {
		scorer = NewLexicalScorer()
	}
	return &SuggestionService{
		suggestionRepo: suggestionRepo,
		assignmentRepo: assignmentRepo,
		valueStore:     valueStore,
		assignments:    assignments,
		scorer:         scorer,
		cfg:            cfg,
		logger:         logger.Named("suggestion-service"),
	}
}

// Generate scores the store's known labels of one kind against an entity's
// attribute text and stores the top candidates as pending suggestions.
// Labels already actively assigned or already pending are skipped, so
// repeated generation never duplicates. maxSuggestions overrides the
// configured cap for this call; zero or negative falls back to it.
func (s *SuggestionService) Generate(ctx context.Context, storeID uuid.UUID, input EntityInput, kind models.AssignmentKind, maxSuggestions int) ([]*models.Suggestion, error) {
	if !models.IsValidAssignmentKind(kind) {
		return nil, fmt.Errorf("%w: unknown assignment kind %q", apperrors.ErrValidation, kind)
	}
	if maxSuggestions <= 0 {
		maxSuggestions = s.cfg.MaxSuggestions
	}

	labels, err := s.assignmentRepo.DistinctLabels(ctx, kind)
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, nil
	}

	assigned, err := s.assignmentRepo.ActiveLabels(ctx, input.EntityID, kind)
	if err != nil {
		return nil, err
	}
	pending, err := s.suggestionRepo.PendingLabels(ctx, input.EntityID, kind)
	if err != nil {
		return nil, err
	}

	skip := make(map[string]bool, len(assigned)+len(pending))
	for _, l := range assigned {
		skip[strings.ToLower(l)] = true
	}
	for _, l := range pending {
		skip[strings.ToLower(l)] = true
	}

	snapshot, err := s.valueStore.Snapshot(ctx, input.EntityID, input.Fields)
	if err != nil {
		return nil, err
	}
	text := snapshotText(snapshot)

	var expiresAt *time.Time
	if s.cfg.TTL > 0 {
		e := time.Now().Add(s.cfg.TTL)
		expiresAt = &e
	}

	var candidates []*models.Suggestion
	for _, label := range labels {
		if skip[strings.ToLower(label)] {
			continue
		}

		confidence := s.scorer.Score(label, text)
		if confidence < s.cfg.ConfidenceFloor {
			continue
		}

		candidates = append(candidates, &models.Suggestion{
			StoreID:    storeID,
			EntityID:   input.EntityID,
			Label:      label,
			Kind:       kind,
			Language:   models.DefaultLanguage,
			Confidence: confidence,
			Relevance:  KeywordDensity(label, snapshot),
			Reasoning:  fmt.Sprintf("label %q matches entity attribute text", label),
			ExpiresAt:  expiresAt,
		})
	}

	// Highest confidence first; label breaks ties so the cut at the cap
	// is deterministic.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].Label < candidates[j].Label
	})
	if len(candidates) > maxSuggestions {
		candidates = candidates[:maxSuggestions]
	}

	if err := s.suggestionRepo.CreateBatch(ctx, candidates); err != nil {
		return nil, err
	}

	if len(candidates) > 0 {
		s.logger.Info("Suggestions generated",
			zap.String("entity_id", input.EntityID.String()),
			zap.String("kind", string(kind)),
			zap.Int("count", len(candidates)))
	}

	return candidates, nil
}

// List returns an entity's suggestions, optionally filtered by status.
func (s *SuggestionService) List(ctx context.Context, entityID uuid.UUID, status models.SuggestionStatus) ([]*models.Suggestion, error) {
	if status != "" && !models.IsValidSuggestionStatus(status) {
		return nil, fmt.Errorf("%w: unknown suggestion status %q", apperrors.ErrValidation, status)
	}
	return s.suggestionRepo.ListByEntity(ctx, entityID, status)
}

// Resolve applies a reviewer's decision to a pending suggestion. Accepting
// writes the suggestion into the assignment ledger with suggestion
// provenance; rejecting only records the decision. Either way the
// suggestion is terminal afterwards and resolving again fails.
func (s *SuggestionService) Resolve(ctx context.Context, id uuid.UUID, decision models.SuggestionDecision, feedback string) (*models.Suggestion, error) {
	if !models.IsValidSuggestionDecision(decision) {
		return nil, fmt.Errorf("%w: unknown decision %q", apperrors.ErrValidation, decision)
	}

	status := models.SuggestionStatusRejected
	if decision == models.DecisionAccept {
		status = models.SuggestionStatusAccepted
	}

	prov, _ := models.GetProvenance(ctx)

	resolved, err := s.suggestionRepo.Resolve(ctx, id, status, prov.Actor(), feedback)
	if err != nil {
		return nil, err
	}

	if decision == models.DecisionAccept {
		acceptCtx := models.WithProvenance(ctx, models.Provenance{
			Source:  models.SourceSuggestion,
			ActorID: prov.ActorID,
		})
		_, err := s.assignments.Assign(acceptCtx, AssignParams{
			StoreID:    resolved.StoreID,
			EntityID:   resolved.EntityID,
			Label:      resolved.Label,
			Kind:       resolved.Kind,
			Language:   resolved.Language,
			Confidence: resolved.Confidence,
		})
		if err != nil {
			// Roll the accept back so the reviewer can retry; a suggestion
			// stuck in accepted with no assignment would be unrecoverable.
			if reopenErr := s.suggestionRepo.Reopen(ctx, id); reopenErr != nil {
				s.logger.Error("Failed to reopen suggestion after assignment failure",
					zap.String("suggestion_id", id.String()),
					zap.Error(reopenErr))
			}
			return nil, fmt.Errorf("failed to promote suggestion: %w", err)
		}
	}

	s.logger.Info("Suggestion resolved",
		zap.String("suggestion_id", id.String()),
		zap.String("status", string(status)))

	return resolved, nil
}

// SweepExpired marks pending suggestions past their expiry as expired.
func (s *SuggestionService) SweepExpired(ctx context.Context) (int, error) {
	n, err := s.suggestionRepo.ExpireSweep(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Expired suggestions swept", zap.Int("count", n))
	}
	return n, nil
}

// snapshotText joins a snapshot's values into one searchable blob.
func snapshotText(snapshot models.AttributeSnapshot) string {
	parts := make([]string, 0, len(snapshot))
	for _, v := range snapshot {
		parts = append(parts, v)
	}
	return strings.Join(parts, " ")
}
