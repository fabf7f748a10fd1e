// Package v1 provides the control API handlers for the sync service.
package v1

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/promptsync/internal/api/common"
	"github.com/stacklok/promptsync/internal/config"
	"github.com/stacklok/promptsync/internal/service"
	pkgsync "github.com/stacklok/promptsync/internal/sync"
)

// maxConfigBytes bounds the size of a configuration document
const maxConfigBytes = 1 << 20

// OpenResponse reports what was opened by POST /open
type OpenResponse struct {
	Target string `json:"target"`
}

// Routes defines the routes for the sync API with dependency injection
type Routes struct {
	service service.SyncService
}

// NewRoutes creates a new Routes instance with the provided service
func NewRoutes(svc service.SyncService) *Routes {
	return &Routes{
		service: svc,
	}
}

// Router creates a new router for the sync API
func Router(svc service.SyncService) http.Handler {
	routes := NewRoutes(svc)

	r := chi.NewRouter()

	r.Get("/status", routes.getStatus)
	r.Post("/sync", routes.syncNow)
	r.Post("/sync/confirm", routes.syncConfirmed)
	r.Post("/test", routes.testAvailability)
	r.Get("/compare", routes.compare)
	r.Post("/open", routes.openSyncDirectory)
	r.Get("/config", routes.getConfig)
	r.Put("/config", routes.putConfig)

	return r
}

// getStatus handles GET /api/v1/status
func (rr *Routes) getStatus(w http.ResponseWriter, r *http.Request) {
	st, err := rr.service.GetSyncStatus(r.Context())
	if err != nil {
		slog.Error("Failed to get sync status", "error", err)
		common.WriteErrorResponse(w, "Failed to get sync status", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, st, http.StatusOK)
}

// syncNow handles POST /api/v1/sync
func (rr *Routes) syncNow(w http.ResponseWriter, r *http.Request) {
	writeResult(w, rr.service.SyncNow(r.Context()))
}

// syncConfirmed handles POST /api/v1/sync/confirm
func (rr *Routes) syncConfirmed(w http.ResponseWriter, r *http.Request) {
	writeResult(w, rr.service.SyncWithMergeConfirmed(r.Context()))
}

// writeResult answers 200 for a finished or paused run. A failed run is
// answered with the status of its first error, still carrying the result.
func writeResult(w http.ResponseWriter, res *pkgsync.Result) {
	statusCode := http.StatusOK
	if !res.Success && !res.NeedsConfirmation && len(res.Errors) > 0 {
		statusCode = common.StatusForCode(res.Errors[0].Code)
	}
	common.WriteJSONResponse(w, res, statusCode)
}

// testAvailability handles POST /api/v1/test
func (rr *Routes) testAvailability(w http.ResponseWriter, r *http.Request) {
	res := rr.service.TestAvailability(r.Context())
	statusCode := http.StatusOK
	if !res.Valid && res.Error != nil {
		statusCode = common.StatusForCode(res.Error.Code)
	}
	common.WriteJSONResponse(w, res, statusCode)
}

// compare handles GET /api/v1/compare
func (rr *Routes) compare(w http.ResponseWriter, r *http.Request) {
	preview, err := rr.service.CompareSnapshots(r.Context())
	if err != nil {
		common.WriteSyncError(w, err)
		return
	}
	common.WriteJSONResponse(w, preview, http.StatusOK)
}

// openSyncDirectory handles POST /api/v1/open
func (rr *Routes) openSyncDirectory(w http.ResponseWriter, r *http.Request) {
	target, err := rr.service.OpenSyncDirectory(r.Context())
	if err != nil {
		common.WriteSyncError(w, err)
		return
	}
	common.WriteJSONResponse(w, OpenResponse{Target: target}, http.StatusOK)
}

// getConfig handles GET /api/v1/config. The configuration is served as the
// same YAML document as the configuration file, with secrets redacted.
func (rr *Routes) getConfig(w http.ResponseWriter, r *http.Request) {
	writeConfig(w, rr.service.GetConfig(r.Context()))
}

// putConfig handles PUT /api/v1/config. The body replaces the whole
// configuration; redacted secrets keep their stored values.
func (rr *Routes) putConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBytes))
	if err != nil {
		common.WriteErrorResponse(w, "Failed to read request body", http.StatusRequestEntityTooLarge)
		return
	}
	if len(body) == 0 {
		common.WriteErrorResponse(w, "Request body is required", http.StatusBadRequest)
		return
	}

	cfg := config.Default()
	if err := yaml.Unmarshal(body, cfg); err != nil {
		common.WriteErrorResponse(w, "Invalid configuration document: "+err.Error(), http.StatusBadRequest)
		return
	}

	saved, err := rr.service.SetConfig(r.Context(), cfg)
	if err != nil {
		slog.Warn("Configuration update rejected", "error", err)
		common.WriteSyncError(w, err)
		return
	}
	writeConfig(w, saved)
}

func writeConfig(w http.ResponseWriter, cfg *config.Config) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		common.WriteErrorResponse(w, "Failed to encode configuration", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
