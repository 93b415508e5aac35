package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/audit"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/models"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/services"
	sqlparams "github.com/ekaya-inc/ekaya-dashboards/pkg/sql"
)

const (
	clientCookieName = "ekaya_dashboards"
	clientIDKey      = "client_id"
	clientCookieAge  = 30 * 24 * 60 * 60
)

// ReloadRequest for POST session/reload.
type ReloadRequest struct {
	Force bool `json:"force"`
}

// RefreshRateRequest for PUT session/refresh-rate. Rate is seconds as a
// number or numeric string; null turns auto-refresh off.
type RefreshRateRequest struct {
	Rate json.RawMessage `json:"rate"`
}

// ValueRequest for PUT session/parameters/{name} and session/filters/{name}.
type ValueRequest struct {
	Value any `json:"value"`
}

// ParametersRequest for PUT session/parameters.
type ParametersRequest struct {
	Values map[string]any `json:"values"`
}

// RenameRequest for PUT session/dashboard.
type RenameRequest struct {
	Name string `json:"name"`
}

// ArchiveRequest for POST session/archive. Confirm answers the archive prompt.
type ArchiveRequest struct {
	Confirm bool `json:"confirm"`
}

// ArchiveResponse reports whether the dashboard was archived.
type ArchiveResponse struct {
	Archived bool `json:"archived"`
}

// DashboardSessionHandler serves the live dashboard page. Each browser gets a
// client ID in a signed cookie; sessions are keyed by client ID and slug.
type DashboardSessionHandler struct {
	manager *services.SessionManager
	store   sessions.Store
	auditor *audit.SecurityAuditor
	logger  *zap.Logger
}

// NewDashboardSessionHandler creates a new DashboardSessionHandler.
func NewDashboardSessionHandler(manager *services.SessionManager, store sessions.Store, auditor *audit.SecurityAuditor, logger *zap.Logger) *DashboardSessionHandler {
	return &DashboardSessionHandler{
		manager: manager,
		store:   store,
		auditor: auditor,
		logger:  logger,
	}
}

// RegisterRoutes registers the session routes on the given mux.
func (h *DashboardSessionHandler) RegisterRoutes(mux *http.ServeMux, scope func(http.HandlerFunc) http.HandlerFunc) {
	base := "/api/dashboards/{slug}/session"

	mux.HandleFunc("POST "+base, h.Open)
	mux.HandleFunc("GET "+base, h.Get)
	mux.HandleFunc("DELETE "+base, h.Close)
	mux.HandleFunc("POST "+base+"/reload", h.Reload)
	mux.HandleFunc("PUT "+base+"/refresh-rate", h.SetRefreshRate)
	mux.HandleFunc("PUT "+base+"/parameters", h.SetParameters)
	mux.HandleFunc("PUT "+base+"/parameters/{name}", h.SetParameter)
	mux.HandleFunc("PUT "+base+"/filters/{name}", h.SetFilter)
	mux.HandleFunc("POST "+base+"/fullscreen", h.ToggleFullscreen)

	// these write through to the database on the request
	mux.HandleFunc("PUT "+base+"/dashboard", scope(h.Rename))
	mux.HandleFunc("POST "+base+"/publish", scope(h.TogglePublished))
	mux.HandleFunc("POST "+base+"/archive", scope(h.Archive))
	mux.HandleFunc("POST "+base+"/widgets-changed", scope(h.WidgetsChanged))
	mux.HandleFunc("POST "+base+"/share", scope(h.ToggleSharing))
}

// clientID returns the client ID from the cookie, issuing one when create is set.
func (h *DashboardSessionHandler) clientID(w http.ResponseWriter, r *http.Request, create bool) (string, error) {
	cookie, err := h.store.Get(r, clientCookieName)
	if err != nil {
		// a cookie signed with another key decodes to a fresh session
		h.logger.Debug("Ignoring unreadable client cookie", zap.Error(err))
	}

	if id, ok := cookie.Values[clientIDKey].(string); ok && id != "" {
		return id, nil
	}
	if !create {
		return "", apperrors.ErrSessionNotFound
	}

	id := uuid.NewString()
	cookie.Values[clientIDKey] = id
	cookie.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   clientCookieAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	}
	if err := cookie.Save(r, w); err != nil {
		return "", err
	}
	return id, nil
}

// session looks up the caller's session on the path's dashboard, writing an
// error response when there is none.
func (h *DashboardSessionHandler) session(w http.ResponseWriter, r *http.Request) (*services.DashboardSession, bool) {
	clientID, err := h.clientID(w, r, false)
	if err != nil {
		writeServiceError(w, err, "Failed to read client cookie", h.logger)
		return nil, false
	}

	session, err := h.manager.Get(clientID, r.PathValue("slug"))
	if err != nil {
		writeServiceError(w, err, "Failed to get dashboard session", h.logger)
		return nil, false
	}
	return session, true
}

// Open handles POST /api/dashboards/{slug}/session. The request's query
// string becomes the page location.
func (h *DashboardSessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	clientID, err := h.clientID(w, r, true)
	if err != nil {
		writeServiceError(w, err, "Failed to issue client cookie", h.logger)
		return
	}

	session := h.manager.Open(clientID, r.PathValue("slug"), r.URL.Query())
	writeData(w, http.StatusCreated, session.View(), h.logger)
}

// Get handles GET /api/dashboards/{slug}/session
func (h *DashboardSessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, session.View(), h.logger)
}

// Close handles DELETE /api/dashboards/{slug}/session
func (h *DashboardSessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	clientID, err := h.clientID(w, r, false)
	if err == nil {
		h.manager.Close(clientID, r.PathValue("slug"))
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reload handles POST /api/dashboards/{slug}/session/reload
func (h *DashboardSessionHandler) Reload(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req ReloadRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req, h.logger) {
		return
	}

	session.Reload(req.Force)
	w.WriteHeader(http.StatusAccepted)
}

// SetRefreshRate handles PUT /api/dashboards/{slug}/session/refresh-rate
func (h *DashboardSessionHandler) SetRefreshRate(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req RefreshRateRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	seconds, ok, err := jsonutil.FlexibleInt(req.Rate)
	if err != nil {
		writeBadRequest(w, "invalid_refresh_rate", err.Error(), h.logger)
		return
	}
	var rate *models.RefreshRate
	if ok {
		rate = &models.RefreshRate{Rate: seconds}
	}
	if err := session.SetRefreshRate(rate); err != nil {
		writeServiceError(w, err, "Failed to set refresh rate", h.logger)
		return
	}

	writeData(w, http.StatusOK, session.View(), h.logger)
}

// SetParameter handles PUT /api/dashboards/{slug}/session/parameters/{name}
func (h *DashboardSessionHandler) SetParameter(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req ValueRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	if err := session.SetGlobalParameter(r.PathValue("name"), req.Value); err != nil {
		h.auditRejected(w, r, session, err)
		writeServiceError(w, err, "Failed to set parameter", h.logger)
		return
	}

	writeData(w, http.StatusOK, session.View(), h.logger)
}

// SetParameters handles PUT /api/dashboards/{slug}/session/parameters
func (h *DashboardSessionHandler) SetParameters(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req ParametersRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if len(req.Values) == 0 {
		writeBadRequest(w, "missing_values", "At least one parameter value is required", h.logger)
		return
	}

	if err := session.SetGlobalParameters(req.Values); err != nil {
		h.auditRejected(w, r, session, err)
		writeServiceError(w, err, "Failed to set parameters", h.logger)
		return
	}

	writeData(w, http.StatusOK, session.View(), h.logger)
}

// auditRejected records a parameter value rejected as SQL injection.
func (h *DashboardSessionHandler) auditRejected(w http.ResponseWriter, r *http.Request, session *services.DashboardSession, err error) {
	var rejected *sqlparams.InjectionCheckResult
	if h.auditor == nil || !errors.As(err, &rejected) {
		return
	}

	var dashboardID uuid.UUID
	if view := session.View(); view.Dashboard != nil {
		dashboardID = view.Dashboard.ID
	}
	clientID, _ := h.clientID(w, r, false)

	h.auditor.LogInjectionAttempt(dashboardID, session.Slug(), audit.SQLInjectionDetails{
		ParamName:   rejected.ParamName,
		ParamValue:  fmt.Sprint(rejected.ParamValue),
		Fingerprint: rejected.Fingerprint,
	}, audit.Source{ClientID: clientID, ClientIP: r.RemoteAddr})
}

// SetFilter handles PUT /api/dashboards/{slug}/session/filters/{name}
func (h *DashboardSessionHandler) SetFilter(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req ValueRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	if err := session.SetFilter(r.PathValue("name"), req.Value); err != nil {
		writeServiceError(w, err, "Failed to set filter", h.logger)
		return
	}

	writeData(w, http.StatusOK, session.View(), h.logger)
}

// ToggleFullscreen handles POST /api/dashboards/{slug}/session/fullscreen
func (h *DashboardSessionHandler) ToggleFullscreen(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	session.ToggleFullscreen()
	writeData(w, http.StatusOK, session.View(), h.logger)
}

// Rename handles PUT /api/dashboards/{slug}/session/dashboard
func (h *DashboardSessionHandler) Rename(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req RenameRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "missing_name", "Dashboard name is required", h.logger)
		return
	}

	if err := session.Rename(r.Context(), req.Name); err != nil {
		writeServiceError(w, err, "Failed to rename dashboard", h.logger)
		return
	}

	writeData(w, http.StatusOK, session.View(), h.logger)
}

// TogglePublished handles POST /api/dashboards/{slug}/session/publish
func (h *DashboardSessionHandler) TogglePublished(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := session.TogglePublished(r.Context()); err != nil {
		writeServiceError(w, err, "Failed to save dashboard", h.logger)
		return
	}

	writeData(w, http.StatusOK, session.View(), h.logger)
}

// Archive handles POST /api/dashboards/{slug}/session/archive
func (h *DashboardSessionHandler) Archive(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req ArchiveRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	archived, err := session.Archive(r.Context(), func(string, string) bool { return req.Confirm })
	if err != nil {
		writeServiceError(w, err, "Failed to archive dashboard", h.logger)
		return
	}

	// an archived dashboard no longer loads
	if archived {
		if clientID, err := h.clientID(w, r, false); err == nil {
			h.manager.Close(clientID, r.PathValue("slug"))
		}
	}

	writeData(w, http.StatusOK, ArchiveResponse{Archived: archived}, h.logger)
}

// WidgetsChanged handles POST /api/dashboards/{slug}/session/widgets-changed
func (h *DashboardSessionHandler) WidgetsChanged(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := session.OnWidgetsChanged(r.Context()); err != nil {
		writeServiceError(w, err, "Failed to refresh widgets", h.logger)
		return
	}

	writeData(w, http.StatusOK, session.View(), h.logger)
}

// ToggleSharing handles POST /api/dashboards/{slug}/session/share
func (h *DashboardSessionHandler) ToggleSharing(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := session.ToggleSharing(r.Context()); err != nil {
		writeServiceError(w, err, "Failed to toggle sharing", h.logger)
		return
	}

	writeData(w, http.StatusOK, session.View(), h.logger)
}
