package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/freva-org/freva-rest/internal/common"
)

// APIHandler serves the service-level endpoints: ping, version, 404.
type APIHandler struct {
	config *common.Config
	logger arbor.ILogger
}

// NewAPIHandler creates the system handler.
func NewAPIHandler(config *common.Config, logger arbor.ILogger) *APIHandler {
	return &APIHandler{config: config, logger: logger}
}

// PingHandler answers health probes.
func (h *APIHandler) PingHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"ping": "pong"})
}

// VersionHandler reports the service version.
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"version": common.GetVersion()})
}

// NotFoundHandler answers unmatched API routes.
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteDetail(w, http.StatusNotFound, "not found")
}

// ServiceDisabledHandler answers routes of services switched off via
// API_SERVICES.
func (h *APIHandler) ServiceDisabledHandler(w http.ResponseWriter, r *http.Request) {
	WriteDetail(w, http.StatusServiceUnavailable, "service disabled")
}
