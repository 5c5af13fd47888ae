// internal/app/features/health/handler.go
package health

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dalemusser/collectives/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Handler holds dependencies needed for health checks.
type Handler struct {
	Client *mongo.Client
	// Remote services running in offline mode are reported as "disabled".
	ExtranetEnabled bool
	PaymentsEnabled bool
	Log             *zap.Logger
}

// NewHandler constructs a health Handler with the Mongo client and logger.
func NewHandler(client *mongo.Client, extranetEnabled, paymentsEnabled bool, logger *zap.Logger) *Handler {
	return &Handler{
		Client:          client,
		ExtranetEnabled: extranetEnabled,
		PaymentsEnabled: paymentsEnabled,
		Log:             logger,
	}
}

// healthResponse is the JSON structure for the health check response.
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Extranet string `json:"extranet"`
	Payments string `json:"payments"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

func mode(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

// Serve handles GET /health.
//
// On success: 200 and
//
//	{ "status":"ok", "database":"connected", "extranet":"enabled", "payments":"disabled" }
//
// On DB failure: 503 and
//
//	{ "status":"error", "database":"disconnected", "message":"Database unavailable", "error":"…"}
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Ping())
	defer cancel()

	w.Header().Set("Content-Type", "application/json")

	resp := healthResponse{
		Status:   "ok",
		Database: "connected",
		Extranet: mode(h.ExtranetEnabled),
		Payments: mode(h.PaymentsEnabled),
	}

	if err := h.Client.Ping(ctx, readpref.Primary()); err != nil {
		h.Log.Error("health-check: mongo ping failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		resp.Status = "error"
		resp.Database = "disconnected"
		resp.Message = "Database unavailable"
		resp.Error = err.Error()
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	_ = json.NewEncoder(w).Encode(resp)
}
