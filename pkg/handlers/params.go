package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/auth"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/models"
)

// parsePathUUID extracts and parses a UUID path parameter, writing a 400
// response on failure.
func parsePathUUID(w http.ResponseWriter, r *http.Request, param, errorCode string, logger *zap.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(param))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, "Invalid "+param+" format"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

func parseStoreID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parsePathUUID(w, r, "sid", "invalid_store_id", logger)
}

func parseEntityID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parsePathUUID(w, r, "eid", "invalid_entity_id", logger)
}

// parseIntQuery reads an integer query parameter, falling back to def when
// absent or unparsable.
func parseIntQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// requestProvenance attaches manual provenance from the authenticated user
// to the request context, for operations triggered directly over the API.
func requestProvenance(r *http.Request) *http.Request {
	actorID := auth.ActorID(r.Context())
	ctx := models.WithProvenance(r.Context(), models.Provenance{
		Source:  models.SourceManual,
		ActorID: actorID,
	})
	return r.WithContext(ctx)
}
