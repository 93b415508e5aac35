package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/audit"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/events"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/services"
)

const sseKeepAlive = 25 * time.Second

// TagsResponse lists every tag in use.
type TagsResponse struct {
	Tags []string `json:"tags"`
}

// DashboardsHandler serves the dashboard list, its change stream and public
// dashboards.
type DashboardsHandler struct {
	list    services.DashboardListService
	sharing services.ShareService
	bus     *events.Bus
	clock   clock.Clock
	auditor *audit.SecurityAuditor
	logger  *zap.Logger
}

// NewDashboardsHandler creates a new DashboardsHandler.
func NewDashboardsHandler(list services.DashboardListService, sharing services.ShareService, bus *events.Bus, clk clock.Clock, auditor *audit.SecurityAuditor, logger *zap.Logger) *DashboardsHandler {
	if clk == nil {
		clk = clock.New()
	}
	return &DashboardsHandler{
		list:    list,
		sharing: sharing,
		bus:     bus,
		clock:   clk,
		auditor: auditor,
		logger:  logger,
	}
}

// RegisterRoutes registers the dashboard list routes. scope holds a database
// connection for the request; the event stream runs without one.
func (h *DashboardsHandler) RegisterRoutes(mux *http.ServeMux, scope func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("GET /api/dashboards", scope(h.List))
	mux.HandleFunc("GET /api/dashboards/tags", scope(h.Tags))
	mux.HandleFunc("GET /api/dashboards/events", h.Events)
	mux.HandleFunc("GET /public/dashboards/{token}", scope(h.Public))
}

// List handles GET /api/dashboards?page=&tags=&q=
func (h *DashboardsHandler) List(w http.ResponseWriter, r *http.Request) {
	pageNum, ok := parsePage(w, r, h.logger)
	if !ok {
		return
	}

	req := services.ListRequest{
		Page:   pageNum,
		Tags:   parseTags(r),
		Search: r.URL.Query().Get("q"),
	}

	page, err := h.list.List(r.Context(), req)
	if err != nil {
		writeServiceError(w, err, "Failed to list dashboards", h.logger)
		return
	}

	writeData(w, http.StatusOK, page, h.logger)
}

// Tags handles GET /api/dashboards/tags
func (h *DashboardsHandler) Tags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.list.AllTags(r.Context())
	if err != nil {
		writeServiceError(w, err, "Failed to list tags", h.logger)
		return
	}

	writeData(w, http.StatusOK, TagsResponse{Tags: tags}, h.logger)
}

// Events handles GET /api/dashboards/events, a server-sent event stream of
// dashboard list invalidations.
func (h *DashboardsHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		if err := ErrorResponse(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming is not supported"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	notifications, unsubscribe := h.bus.Subscribe(events.ReloadDashboards)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := h.clock.Ticker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				h.logger.Error("Failed to encode notification", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Name, data); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Public handles GET /public/dashboards/{token}
func (h *DashboardsHandler) Public(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	dashboard, err := h.sharing.Resolve(r.Context(), token)
	if err != nil {
		if h.auditor != nil && errors.Is(err, apperrors.ErrNotFound) {
			h.auditor.LogShareLinkRejected(token, err.Error(), audit.Source{ClientIP: r.RemoteAddr})
		}
		writeServiceError(w, err, "Failed to resolve public dashboard", h.logger)
		return
	}

	view := services.NewDashboardView(dashboard)
	view.PublicURL = ""
	writeData(w, http.StatusOK, view, h.logger)
}
