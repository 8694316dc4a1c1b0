package guildconfig

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"bansync/internal/platform/metrics"
	"bansync/internal/platform/middleware"
	audit "bansync/pkg/platform/audit"
	"bansync/pkg/platform/httputil"
	"bansync/pkg/platform/sentinel"
)

// CommunityParam is the route parameter the link guard checks.
const CommunityParam = "communityID"

// Handler serves the per-community config form.
type Handler struct {
	store   *FileStore
	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor audit.Emitter
}

type Option func(*Handler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func WithAuditPublisher(p audit.Emitter) Option {
	return func(h *Handler) {
		h.auditor = p
	}
}

func NewHandler(store *FileStore, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{store: store, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the form behind guard, which must authenticate the
// {communityID} route parameter.
func (h *Handler) Register(r chi.Router, guard func(http.Handler) http.Handler) {
	r.Route("/config/{"+CommunityParam+"}", func(r chi.Router) {
		r.Use(guard)
		r.Get("/", h.HandleForm)
		r.Post("/", h.HandleUpdate)
		r.Get("/json", h.HandleGetJSON)
	})
}

// HandleForm handles GET /config/{communityID}.
func (h *Handler) HandleForm(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, CommunityParam)
	cfg, err := h.store.Load(communityID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, formPage{Community: h.community(communityID), Config: cfg})
}

// HandleUpdate handles POST /config/{communityID}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	communityID := chi.URLParam(r, CommunityParam)
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, httputil.BadRequest(err))
		return
	}
	cfg := Config{
		RoleID:       strings.TrimSpace(r.PostForm.Get("roleId")),
		LogToChannel: r.PostForm.Has("logToChannel"),
		LogChannelID: strings.TrimSpace(r.PostForm.Get("logChannelId")),
	}
	page := formPage{Community: h.community(communityID), Config: cfg}

	if err := h.store.Save(communityID, cfg); err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			page.Error = err.Error()
			h.render(w, r, http.StatusBadRequest, page)
			return
		}
		h.fail(w, r, err)
		return
	}
	h.metrics.ObserveConfigUpdate()
	audit.LogAudit(ctx, h.logger, h.auditor, audit.Event{
		Action:      string(audit.EventGuildConfigUpdated),
		ActorID:     middleware.GetActorID(ctx),
		CommunityID: communityID,
	}, "request_id", middleware.GetRequestID(ctx))

	page.Saved = true
	h.render(w, r, http.StatusOK, page)
}

// HandleGetJSON handles GET /config/{communityID}/json.
func (h *Handler) HandleGetJSON(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.Load(chi.URLParam(r, CommunityParam))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cfg)
}

func (h *Handler) community(communityID string) Community {
	c, err := h.store.Community(communityID)
	if err != nil {
		return Community{ID: communityID}
	}
	return c
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page formPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.Execute(w, page); err != nil {
		h.logger.ErrorContext(r.Context(), "render config form failed",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrInvalidCommunity) {
		err = httputil.BadRequest(err)
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		h.logger.ErrorContext(r.Context(), "config request failed",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
	}
	httputil.WriteError(w, err)
}
