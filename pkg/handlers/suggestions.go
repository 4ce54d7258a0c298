package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/auth"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/models"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/services"
)

// GenerateSuggestionsRequest for POST /suggestions/generate
type GenerateSuggestionsRequest struct {
	Kind   string            `json:"kind"`
	Fields map[string]string `json:"fields,omitempty"`

	// Max overrides the configured suggestion cap for this call.
	Max int `json:"max,omitempty"`
}

// ResolveSuggestionRequest for POST /suggestions/{sgid}/resolve
type ResolveSuggestionRequest struct {
	Decision string `json:"decision"`
	Feedback string `json:"feedback,omitempty"`
}

// SuggestionResponse represents one suggestion.
type SuggestionResponse struct {
	ID         string  `json:"id"`
	EntityID   string  `json:"entity_id"`
	Label      string  `json:"label"`
	Kind       string  `json:"kind"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
	Relevance  float64 `json:"relevance"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Status     string  `json:"status"`

	Feedback   *string    `json:"feedback,omitempty"`
	ReviewedBy *string    `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SuggestionListResponse for GET /suggestions
type SuggestionListResponse struct {
	Suggestions []SuggestionResponse `json:"suggestions"`
	Total       int                  `json:"total"`
}

// SuggestionsHandler handles suggestion pipeline HTTP requests.
type SuggestionsHandler struct {
	suggestions *services.SuggestionService
	logger      *zap.Logger
}

// NewSuggestionsHandler creates a new suggestions handler.
func NewSuggestionsHandler(suggestions *services.SuggestionService, logger *zap.Logger) *SuggestionsHandler {
	return &SuggestionsHandler{
		suggestions: suggestions,
		logger:      logger,
	}
}

// RegisterRoutes registers the suggestions handler's routes on the given mux.
func (h *SuggestionsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/stores/{sid}/entities/{eid}/suggestions"

	mux.HandleFunc("GET "+base,
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.List)))
	mux.HandleFunc("POST "+base+"/generate",
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.Generate)))
	mux.HandleFunc("POST /api/stores/{sid}/suggestions/{sgid}/resolve",
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.Resolve)))
}

// List handles GET /api/stores/{sid}/entities/{eid}/suggestions?status=pending
func (h *SuggestionsHandler) List(w http.ResponseWriter, r *http.Request) {
	entityID, ok := parseEntityID(w, r, h.logger)
	if !ok {
		return
	}
	status := models.SuggestionStatus(r.URL.Query().Get("status"))

	suggestions, err := h.suggestions.List(r.Context(), entityID, status)
	if err != nil {
		if err := ErrorResponse(w, statusForError(err), "list_suggestions_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	writeSuggestionList(w, suggestions, h.logger)
}

// Generate handles POST /api/stores/{sid}/entities/{eid}/suggestions/generate
func (h *SuggestionsHandler) Generate(w http.ResponseWriter, r *http.Request) {
	storeID, ok := parseStoreID(w, r, h.logger)
	if !ok {
		return
	}
	entityID, ok := parseEntityID(w, r, h.logger)
	if !ok {
		return
	}

	var req GenerateSuggestionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	kind := models.AssignmentKind(req.Kind)
	if kind == "" {
		kind = models.KindTag
	}

	suggestions, err := h.suggestions.Generate(r.Context(), storeID, services.EntityInput{
		EntityID: entityID,
		Fields:   req.Fields,
	}, kind, req.Max)
	if err != nil {
		h.logger.Error("Failed to generate suggestions",
			zap.String("entity_id", entityID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, statusForError(err), "generate_suggestions_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	writeSuggestionList(w, suggestions, h.logger)
}

// Resolve handles POST /api/stores/{sid}/suggestions/{sgid}/resolve
func (h *SuggestionsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	suggestionID, ok := parsePathUUID(w, r, "sgid", "invalid_suggestion_id", h.logger)
	if !ok {
		return
	}

	var req ResolveSuggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	r = requestProvenance(r)
	resolved, err := h.suggestions.Resolve(r.Context(), suggestionID, models.SuggestionDecision(req.Decision), req.Feedback)
	if err != nil {
		if err := ErrorResponse(w, statusForError(err), "resolve_suggestion_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: toSuggestionResponse(resolved)}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func writeSuggestionList(w http.ResponseWriter, suggestions []*models.Suggestion, logger *zap.Logger) {
	responses := make([]SuggestionResponse, 0, len(suggestions))
	for _, s := range suggestions {
		responses = append(responses, toSuggestionResponse(s))
	}

	response := SuggestionListResponse{Suggestions: responses, Total: len(responses)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

func toSuggestionResponse(s *models.Suggestion) SuggestionResponse {
	return SuggestionResponse{
		ID:         s.ID.String(),
		EntityID:   s.EntityID.String(),
		Label:      s.Label,
		Kind:       string(s.Kind),
		Language:   s.Language,
		Confidence: s.Confidence,
		Relevance:  s.Relevance,
		Reasoning:  s.Reasoning,
		Status:     string(s.Status),
		Feedback:   s.Feedback,
		ReviewedBy: s.ReviewedBy,
		ReviewedAt: s.ReviewedAt,
		ExpiresAt:  s.ExpiresAt,
		CreatedAt:  s.CreatedAt,
	}
}
