package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/auth"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/models"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/services"
)

// AssignRequest for POST /assignments
type AssignRequest struct {
	Label      string     `json:"label"`
	Kind       string     `json:"kind"`
	Language   string     `json:"language,omitempty"`
	IsPrimary  bool       `json:"is_primary,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	IsRequired bool       `json:"is_required,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// UnassignRequest for POST /assignments/unassign
type UnassignRequest struct {
	Label    string `json:"label"`
	Kind     string `json:"kind"`
	Language string `json:"language,omitempty"`
}

// TrackUsageRequest for POST /assignments/{aid}/usage
type TrackUsageRequest struct {
	Interaction string `json:"interaction"`
}

// ReorderRequest for PUT /assignments/order
type ReorderRequest struct {
	Kind          string   `json:"kind"`
	AssignmentIDs []string `json:"assignment_ids"`
}

// AssignmentResponse represents one assignment.
type AssignmentResponse struct {
	ID         string  `json:"id"`
	EntityID   string  `json:"entity_id"`
	Label      string  `json:"label"`
	Kind       string  `json:"kind"`
	Language   string  `json:"language"`
	IsPrimary  bool    `json:"is_primary"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	IsRequired bool    `json:"is_required"`

	IsVisible    bool `json:"is_visible"`
	IsActive     bool `json:"is_active"`
	DisplayOrder int  `json:"display_order"`

	ClickCount      int64 `json:"click_count"`
	ViewCount       int64 `json:"view_count"`
	ConversionCount int64 `json:"conversion_count"`
	SearchCount     int64 `json:"search_count"`

	PerformanceScore float64 `json:"performance_score"`
	RelevanceScore   float64 `json:"relevance_score"`
	PopularityScore  float64 `json:"popularity_score"`

	LastInteractionAt *time.Time `json:"last_interaction_at,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// AssignmentListResponse for GET /assignments
type AssignmentListResponse struct {
	Assignments []AssignmentResponse `json:"assignments"`
	Total       int                  `json:"total"`
}

// HistoryRecordResponse represents one audit trail entry.
type HistoryRecordResponse struct {
	ID            string                        `json:"id"`
	AssignmentID  *string                       `json:"assignment_id,omitempty"`
	EntityID      string                        `json:"entity_id"`
	ChangeType    string                        `json:"change_type"`
	ChangedFields map[string]models.FieldChange `json:"changed_fields,omitempty"`
	Actor         string                        `json:"actor"`
	Source        string                        `json:"source"`
	Reason        string                        `json:"reason,omitempty"`
	CreatedAt     time.Time                     `json:"created_at"`
}

// HistoryListResponse for GET /history
type HistoryListResponse struct {
	Records []HistoryRecordResponse `json:"records"`
	Total   int                     `json:"total"`
}

// AssignmentsHandler handles assignment ledger HTTP requests.
type AssignmentsHandler struct {
	assignments *services.AssignmentService
	logger      *zap.Logger
}

// NewAssignmentsHandler creates a new assignments handler.
func NewAssignmentsHandler(assignments *services.AssignmentService, logger *zap.Logger) *AssignmentsHandler {
	return &AssignmentsHandler{
		assignments: assignments,
		logger:      logger,
	}
}

// RegisterRoutes registers the assignments handler's routes on the given mux.
func (h *AssignmentsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/stores/{sid}/entities/{eid}/assignments"

	mux.HandleFunc("GET "+base,
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.List)))
	mux.HandleFunc("POST "+base,
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.Assign)))
	mux.HandleFunc("POST "+base+"/unassign",
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.Unassign)))
	mux.HandleFunc("PUT "+base+"/order",
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.Reorder)))
	mux.HandleFunc("GET "+base+"/history",
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.History)))

	byID := "/api/stores/{sid}/assignments/{aid}"
	mux.HandleFunc("GET "+byID,
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.Get)))
	mux.HandleFunc("DELETE "+byID,
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.Purge)))
	mux.HandleFunc("POST "+byID+"/usage",
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.TrackUsage)))
	mux.HandleFunc("GET "+byID+"/history",
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.AssignmentHistory)))
}

// List handles GET /api/stores/{sid}/entities/{eid}/assignments?kind=tag&visible=true
func (h *AssignmentsHandler) List(w http.ResponseWriter, r *http.Request) {
	entityID, ok := parseEntityID(w, r, h.logger)
	if !ok {
		return
	}

	kind := models.AssignmentKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = models.KindTag
	}
	visibleOnly := r.URL.Query().Get("visible") == "true"

	assignments, err := h.assignments.List(r.Context(), entityID, kind, visibleOnly)
	if err != nil {
		h.logger.Error("Failed to list assignments",
			zap.String("entity_id", entityID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, statusForError(err), "list_assignments_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	responses := make([]AssignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		responses = append(responses, toAssignmentResponse(a))
	}

	response := AssignmentListResponse{Assignments: responses, Total: len(responses)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Assign handles POST /api/stores/{sid}/entities/{eid}/assignments
func (h *AssignmentsHandler) Assign(w http.ResponseWriter, r *http.Request) {
	storeID, ok := parseStoreID(w, r, h.logger)
	if !ok {
		return
	}
	entityID, ok := parseEntityID(w, r, h.logger)
	if !ok {
		return
	}

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	r = requestProvenance(r)
	assignment, err := h.assignments.Assign(r.Context(), services.AssignParams{
		StoreID:    storeID,
		EntityID:   entityID,
		Label:      req.Label,
		Kind:       models.AssignmentKind(req.Kind),
		Language:   req.Language,
		IsPrimary:  req.IsPrimary,
		Confidence: req.Confidence,
		IsRequired: req.IsRequired,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		if err := ErrorResponse(w, statusForError(err), "assign_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: toAssignmentResponse(assignment)}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Unassign handles POST /api/stores/{sid}/entities/{eid}/assignments/unassign
func (h *AssignmentsHandler) Unassign(w http.ResponseWriter, r *http.Request) {
	entityID, ok := parseEntityID(w, r, h.logger)
	if !ok {
		return
	}

	var req UnassignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	r = requestProvenance(r)
	assignment, err := h.assignments.Unassign(r.Context(), entityID, req.Label, models.AssignmentKind(req.Kind), req.Language)
	if err != nil {
		if err := ErrorResponse(w, statusForError(err), "unassign_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: toAssignmentResponse(assignment)}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/stores/{sid}/assignments/{aid}
func (h *AssignmentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	assignmentID, ok := parsePathUUID(w, r, "aid", "invalid_assignment_id", h.logger)
	if !ok {
		return
	}

	assignment, err := h.assignments.Get(r.Context(), assignmentID)
	if err != nil {
		if err := ErrorResponse(w, statusForError(err), "get_assignment_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: toAssignmentResponse(assignment)}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Purge handles DELETE /api/stores/{sid}/assignments/{aid}
func (h *AssignmentsHandler) Purge(w http.ResponseWriter, r *http.Request) {
	assignmentID, ok := parsePathUUID(w, r, "aid", "invalid_assignment_id", h.logger)
	if !ok {
		return
	}

	r = requestProvenance(r)
	if err := h.assignments.Purge(r.Context(), assignmentID); err != nil {
		if err := ErrorResponse(w, statusForError(err), "purge_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Assignment purged"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// TrackUsage handles POST /api/stores/{sid}/assignments/{aid}/usage
func (h *AssignmentsHandler) TrackUsage(w http.ResponseWriter, r *http.Request) {
	assignmentID, ok := parsePathUUID(w, r, "aid", "invalid_assignment_id", h.logger)
	if !ok {
		return
	}

	var req TrackUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	assignment, err := h.assignments.TrackUsage(r.Context(), assignmentID, models.Interaction(req.Interaction))
	if err != nil {
		if err := ErrorResponse(w, statusForError(err), "track_usage_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: toAssignmentResponse(assignment)}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Reorder handles PUT /api/stores/{sid}/entities/{eid}/assignments/order
func (h *AssignmentsHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	entityID, ok := parseEntityID(w, r, h.logger)
	if !ok {
		return
	}

	var req ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	ids := make([]uuid.UUID, 0, len(req.AssignmentIDs))
	for _, raw := range req.AssignmentIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_assignment_id", "Invalid assignment ID format"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		ids = append(ids, id)
	}

	r = requestProvenance(r)
	if err := h.assignments.Reorder(r.Context(), entityID, models.AssignmentKind(req.Kind), ids); err != nil {
		if err := ErrorResponse(w, statusForError(err), "reorder_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Assignments reordered"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// History handles GET /api/stores/{sid}/entities/{eid}/assignments/history
func (h *AssignmentsHandler) History(w http.ResponseWriter, r *http.Request) {
	entityID, ok := parseEntityID(w, r, h.logger)
	if !ok {
		return
	}

	limit := parseIntQuery(r, "limit", 100)
	offset := parseIntQuery(r, "offset", 0)

	records, err := h.assignments.History(r.Context(), entityID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list history",
			zap.String("entity_id", entityID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, statusForError(err), "list_history_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	writeHistoryList(w, records, h.logger)
}

// AssignmentHistory handles GET /api/stores/{sid}/assignments/{aid}/history
func (h *AssignmentsHandler) AssignmentHistory(w http.ResponseWriter, r *http.Request) {
	assignmentID, ok := parsePathUUID(w, r, "aid", "invalid_assignment_id", h.logger)
	if !ok {
		return
	}

	records, err := h.assignments.AssignmentHistory(r.Context(), assignmentID)
	if err != nil {
		if err := ErrorResponse(w, statusForError(err), "list_history_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	writeHistoryList(w, records, h.logger)
}

func writeHistoryList(w http.ResponseWriter, records []*models.HistoryRecord, logger *zap.Logger) {
	responses := make([]HistoryRecordResponse, 0, len(records))
	for _, rec := range records {
		responses = append(responses, toHistoryRecordResponse(rec))
	}

	response := HistoryListResponse{Records: responses, Total: len(responses)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

func toAssignmentResponse(a *models.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:                a.ID.String(),
		EntityID:          a.EntityID.String(),
		Label:             a.Label,
		Kind:              string(a.Kind),
		Language:          a.Language,
		IsPrimary:         a.IsPrimary,
		Confidence:        a.Confidence,
		Source:            string(a.Source),
		IsRequired:        a.IsRequired,
		IsVisible:         a.IsVisible,
		IsActive:          a.IsActive,
		DisplayOrder:      a.DisplayOrder,
		ClickCount:        a.ClickCount,
		ViewCount:         a.ViewCount,
		ConversionCount:   a.ConversionCount,
		SearchCount:       a.SearchCount,
		PerformanceScore:  a.PerformanceScore,
		RelevanceScore:    a.RelevanceScore,
		PopularityScore:   a.PopularityScore,
		LastInteractionAt: a.LastInteractionAt,
		ExpiresAt:         a.ExpiresAt,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func toHistoryRecordResponse(rec *models.HistoryRecord) HistoryRecordResponse {
	var assignmentID *string
	if rec.AssignmentID != nil {
		s := rec.AssignmentID.String()
		assignmentID = &s
	}
	return HistoryRecordResponse{
		ID:            rec.ID.String(),
		AssignmentID:  assignmentID,
		EntityID:      rec.EntityID.String(),
		ChangeType:    string(rec.ChangeType),
		ChangedFields: rec.ChangedFields,
		Actor:         rec.Actor,
		Source:        rec.Source,
		Reason:        rec.Reason,
		CreatedAt:     rec.CreatedAt,
	}
}
