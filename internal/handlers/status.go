package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sound-buttons/pipeline/internal/workflows"
)

// StatusHandler answers instance status lookups from the durable store.
type StatusHandler struct {
	runner *workflows.WorkflowRunner
	logger *slog.Logger
}

// NewStatusHandler creates the status handler.
func NewStatusHandler(runner *workflows.WorkflowRunner, logger *slog.Logger) *StatusHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusHandler{runner: runner, logger: logger}
}

// HandleStatus handles GET /v1/instances/{instanceID}.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	instanceID := r.URL.Path[len("/v1/instances/"):]
	if instanceID == "" {
		http.Error(w, "instance id is required", http.StatusBadRequest)
		return
	}

	status, err := h.runner.GetStatus(r.Context(), instanceID)
	if err != nil {
		h.logger.Warn("status lookup failed", "instance_id", instanceID, "error", err)
		http.Error(w, "Instance not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleHealthz handles GET /healthz.
func HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
