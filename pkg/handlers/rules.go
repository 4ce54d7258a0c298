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

// SaveRuleRequest for POST /rules and PUT /rules/{rid}
type SaveRuleRequest struct {
	Name         string                    `json:"name"`
	Description  string                    `json:"description,omitempty"`
	Condition    json.RawMessage           `json:"condition"`
	Action       string                    `json:"action"`
	TargetLabels []string                  `json:"target_labels,omitempty"`
	TargetKind   string                    `json:"target_kind,omitempty"`
	ModifyValue  *models.ModifyValueParams `json:"modify_value,omitempty"`
	Priority     int                       `json:"priority"`
	Confidence   float64                   `json:"confidence"`
	IsActive     bool                      `json:"is_active"`
}

// RuleResponse represents one classification rule.
type RuleResponse struct {
	ID           string                    `json:"id"`
	Name         string                    `json:"name"`
	Description  string                    `json:"description,omitempty"`
	Condition    *models.Condition         `json:"condition"`
	Action       string                    `json:"action"`
	TargetLabels []string                  `json:"target_labels,omitempty"`
	TargetKind   string                    `json:"target_kind,omitempty"`
	ModifyValue  *models.ModifyValueParams `json:"modify_value,omitempty"`
	Priority     int                       `json:"priority"`
	Confidence   float64                   `json:"confidence"`
	IsActive     bool                      `json:"is_active"`

	MatchesCount   int64      `json:"matches_count"`
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RuleListResponse for GET /rules
type RuleListResponse struct {
	Rules []RuleResponse `json:"rules"`
	Total int            `json:"total"`
}

// ApplyRulesRequest for POST /rules/apply
type ApplyRulesRequest struct {
	Entities []services.EntityInput `json:"entities"`
}

// ApplyRulesResponse for POST /rules/apply
type ApplyRulesResponse struct {
	Results []*services.ApplyResult `json:"results"`
	Total   int                     `json:"total"`
}

// RulesHandler handles classification rule HTTP requests.
type RulesHandler struct {
	ruleEngine *services.RuleEngineService
	logger     *zap.Logger
}

// NewRulesHandler creates a new rules handler.
func NewRulesHandler(ruleEngine *services.RuleEngineService, logger *zap.Logger) *RulesHandler {
	return &RulesHandler{
		ruleEngine: ruleEngine,
		logger:     logger,
	}
}

// RegisterRoutes registers the rules handler's routes on the given mux.
func (h *RulesHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/stores/{sid}/rules"

	mux.HandleFunc("GET "+base,
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.List)))
	mux.HandleFunc("POST "+base,
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.Create)))
	mux.HandleFunc("GET "+base+"/{rid}",
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.Get)))
	mux.HandleFunc("PUT "+base+"/{rid}",
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.Update)))
	mux.HandleFunc("DELETE "+base+"/{rid}",
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.Delete)))
	mux.HandleFunc("POST "+base+"/apply",
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.Apply)))
}

// List handles GET /api/stores/{sid}/rules
func (h *RulesHandler) List(w http.ResponseWriter, r *http.Request) {
	rules, err := h.ruleEngine.ListRules(r.Context())
	if err != nil {
		h.logger.Error("Failed to list rules", zap.Error(err))
		if err := ErrorResponse(w, statusForError(err), "list_rules_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	responses := make([]RuleResponse, 0, len(rules))
	for _, rule := range rules {
		responses = append(responses, toRuleResponse(rule))
	}

	response := RuleListResponse{Rules: responses, Total: len(responses)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/stores/{sid}/rules
func (h *RulesHandler) Create(w http.ResponseWriter, r *http.Request) {
	storeID, ok := parseStoreID(w, r, h.logger)
	if !ok {
		return
	}

	rule, ok := h.decodeRule(w, r, storeID, uuid.Nil)
	if !ok {
		return
	}

	if err := h.ruleEngine.CreateRule(r.Context(), rule); err != nil {
		if err := ErrorResponse(w, statusForError(err), "create_rule_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: toRuleResponse(rule)}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/stores/{sid}/rules/{rid}
func (h *RulesHandler) Get(w http.ResponseWriter, r *http.Request) {
	ruleID, ok := parsePathUUID(w, r, "rid", "invalid_rule_id", h.logger)
	if !ok {
		return
	}

	rule, err := h.ruleEngine.GetRule(r.Context(), ruleID)
	if err != nil {
		if err := ErrorResponse(w, statusForError(err), "get_rule_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: toRuleResponse(rule)}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /api/stores/{sid}/rules/{rid}
func (h *RulesHandler) Update(w http.ResponseWriter, r *http.Request) {
	storeID, ok := parseStoreID(w, r, h.logger)
	if !ok {
		return
	}
	ruleID, ok := parsePathUUID(w, r, "rid", "invalid_rule_id", h.logger)
	if !ok {
		return
	}

	rule, ok := h.decodeRule(w, r, storeID, ruleID)
	if !ok {
		return
	}

	if err := h.ruleEngine.UpdateRule(r.Context(), rule); err != nil {
		if err := ErrorResponse(w, statusForError(err), "update_rule_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: toRuleResponse(rule)}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/stores/{sid}/rules/{rid}
func (h *RulesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ruleID, ok := parsePathUUID(w, r, "rid", "invalid_rule_id", h.logger)
	if !ok {
		return
	}

	if err := h.ruleEngine.DeleteRule(r.Context(), ruleID); err != nil {
		if err := ErrorResponse(w, statusForError(err), "delete_rule_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Rule deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Apply handles POST /api/stores/{sid}/rules/apply
func (h *RulesHandler) Apply(w http.ResponseWriter, r *http.Request) {
	storeID, ok := parseStoreID(w, r, h.logger)
	if !ok {
		return
	}

	var req ApplyRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if len(req.Entities) == 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "No entities given"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	results, err := h.ruleEngine.ApplyBatch(r.Context(), storeID, req.Entities)
	if err != nil {
		h.logger.Error("Failed to apply rules", zap.Error(err))
		if err := ErrorResponse(w, statusForError(err), "apply_rules_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := ApplyRulesResponse{Results: results, Total: len(results)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *RulesHandler) decodeRule(w http.ResponseWriter, r *http.Request, storeID, ruleID uuid.UUID) (*models.Rule, bool) {
	var req SaveRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, false
	}

	condition, err := models.ParseCondition(req.Condition)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_condition", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, false
	}

	return &models.Rule{
		ID:           ruleID,
		StoreID:      storeID,
		Name:         req.Name,
		Description:  req.Description,
		Condition:    condition,
		Action:       models.RuleAction(req.Action),
		TargetLabels: req.TargetLabels,
		TargetKind:   models.AssignmentKind(req.TargetKind),
		ModifyValue:  req.ModifyValue,
		Priority:     req.Priority,
		Confidence:   req.Confidence,
		IsActive:     req.IsActive,
	}, true
}

func toRuleResponse(rule *models.Rule) RuleResponse {
	return RuleResponse{
		ID:             rule.ID.String(),
		Name:           rule.Name,
		Description:    rule.Description,
		Condition:      rule.Condition,
		Action:         string(rule.Action),
		TargetLabels:   rule.TargetLabels,
		TargetKind:     string(rule.TargetKind),
		ModifyValue:    rule.ModifyValue,
		Priority:       rule.Priority,
		Confidence:     rule.Confidence,
		IsActive:       rule.IsActive,
		MatchesCount:   rule.MatchesCount,
		LastExecutedAt: rule.LastExecutedAt,
		CreatedAt:      rule.CreatedAt,
		UpdatedAt:      rule.UpdatedAt,
	}
}
