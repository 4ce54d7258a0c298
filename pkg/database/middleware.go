package database

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WithTenantContext creates middleware that sets up a store-scoped DB connection.
// It runs AFTER auth middleware; the store ID comes from the request path.
// The connection is automatically cleaned up after the handler returns.
func WithTenantContext(db *DB, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			storeID, err := uuid.Parse(r.PathValue("sid"))
			if err != nil {
				logger.Error("Invalid store ID in path",
					zap.String("store_id", r.PathValue("sid")),
					zap.Error(err))
				writeError(w, http.StatusBadRequest, "invalid_store_id", "Invalid store ID format")
				return
			}

			scope, err := db.WithTenant(r.Context(), storeID)
			if err != nil {
				logger.Error("Failed to acquire tenant connection",
					zap.String("store_id", storeID.String()),
					zap.Error(err))
				writeError(w, http.StatusInternalServerError, "database_error", "Database connection error")
				return
			}
			defer scope.Close()

			ctx := SetTenantScope(r.Context(), scope)
			next(w, r.WithContext(ctx))
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
