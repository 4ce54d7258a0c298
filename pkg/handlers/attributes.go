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

// SetValueRequest for PUT /attributes/{key}
type SetValueRequest struct {
	ValueType string `json:"value_type"`
	Value     string `json:"value"`
	Language  string `json:"language,omitempty"`
}

// AttributeValueResponse represents one stored attribute value.
type AttributeValueResponse struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entity_id"`
	Key       string    `json:"key"`
	Language  string    `json:"language"`
	ValueType string    `json:"value_type"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AttributeListResponse for GET /attributes
type AttributeListResponse struct {
	Values []AttributeValueResponse `json:"values"`
	Total  int                      `json:"total"`
}

// AttributesHandler handles attribute value HTTP requests.
type AttributesHandler struct {
	valueStore *services.ValueStoreService
	logger     *zap.Logger
}

// NewAttributesHandler creates a new attributes handler.
func NewAttributesHandler(valueStore *services.ValueStoreService, logger *zap.Logger) *AttributesHandler {
	return &AttributesHandler{
		valueStore: valueStore,
		logger:     logger,
	}
}

// RegisterRoutes registers the attributes handler's routes on the given mux.
func (h *AttributesHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/stores/{sid}/entities/{eid}/attributes"

	mux.HandleFunc("GET "+base,
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.List)))
	mux.HandleFunc("GET "+base+"/{key}",
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.Get)))
	mux.HandleFunc("PUT "+base+"/{key}",
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.Set)))
	mux.HandleFunc("DELETE "+base+"/{key}",
		authMiddleware.RequireAuthWithPathValidation("sid")(tenantMiddleware(h.Delete)))
}

// List handles GET /api/stores/{sid}/entities/{eid}/attributes
func (h *AttributesHandler) List(w http.ResponseWriter, r *http.Request) {
	entityID, ok := parseEntityID(w, r, h.logger)
	if !ok {
		return
	}

	values, err := h.valueStore.ListValues(r.Context(), entityID)
	if err != nil {
		h.logger.Error("Failed to list attribute values",
			zap.String("entity_id", entityID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, statusForError(err), "list_values_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	responses := make([]AttributeValueResponse, 0, len(values))
	for _, v := range values {
		responses = append(responses, toAttributeValueResponse(v))
	}

	response := AttributeListResponse{Values: responses, Total: len(responses)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/stores/{sid}/entities/{eid}/attributes/{key}
func (h *AttributesHandler) Get(w http.ResponseWriter, r *http.Request) {
	entityID, ok := parseEntityID(w, r, h.logger)
	if !ok {
		return
	}
	key := r.PathValue("key")
	language := r.URL.Query().Get("language")

	value, err := h.valueStore.GetValue(r.Context(), entityID, key, language)
	if err != nil {
		if err := ErrorResponse(w, statusForError(err), "get_value_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: toAttributeValueResponse(value)}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Set handles PUT /api/stores/{sid}/entities/{eid}/attributes/{key}
func (h *AttributesHandler) Set(w http.ResponseWriter, r *http.Request) {
	storeID, ok := parseStoreID(w, r, h.logger)
	if !ok {
		return
	}
	entityID, ok := parseEntityID(w, r, h.logger)
	if !ok {
		return
	}
	key := r.PathValue("key")

	var req SetValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	r = requestProvenance(r)
	value, changed, err := h.valueStore.SetValue(r.Context(), services.SetValueParams{
		StoreID:   storeID,
		EntityID:  entityID,
		Key:       key,
		Language:  req.Language,
		ValueType: models.ValueType(req.ValueType),
		RawValue:  req.Value,
	})
	if err != nil {
		if err := ErrorResponse(w, statusForError(err), "set_value_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	status := http.StatusOK
	if changed {
		status = http.StatusCreated
	}
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: toAttributeValueResponse(value)}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/stores/{sid}/entities/{eid}/attributes/{key}
func (h *AttributesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	entityID, ok := parseEntityID(w, r, h.logger)
	if !ok {
		return
	}
	key := r.PathValue("key")
	language := r.URL.Query().Get("language")

	if err := h.valueStore.DeleteValue(r.Context(), entityID, key, language); err != nil {
		if err := ErrorResponse(w, statusForError(err), "delete_value_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Attribute value deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func toAttributeValueResponse(v *models.AttributeValue) AttributeValueResponse {
	return AttributeValueResponse{
		ID:        v.ID.String(),
		EntityID:  v.EntityID.String(),
		Key:       v.Key,
		Language:  v.Language,
		ValueType: string(v.Value.Type),
		Value:     v.Value.StringValue(),
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}
}
