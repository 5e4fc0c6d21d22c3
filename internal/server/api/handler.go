// Package api implements the admin and public HTTP endpoints. Every endpoint
// selects its operation with the action query parameter and reports failures
// as {"ok": false, "error": "..."}.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"reddot-watch/newsdesk/internal/apperr"
	"reddot-watch/newsdesk/internal/auth"
	"reddot-watch/newsdesk/internal/events"
	"reddot-watch/newsdesk/internal/incoming"
	"reddot-watch/newsdesk/internal/models"
	"reddot-watch/newsdesk/internal/process"
	"reddot-watch/newsdesk/internal/publish"
	"reddot-watch/newsdesk/internal/rewrite"
	"reddot-watch/newsdesk/internal/store"
)

const maxBodyBytes = 8 << 20

// Rewriter rewrites a single incoming item.
type Rewriter interface {
	Rewrite(ctx context.Context, id string) (*models.RewriteResult, error)
}

// Diagnostics probes the rewrite endpoint without touching any item.
type Diagnostics interface {
	Health(ctx context.Context) (*rewrite.HealthReport, error)
	Test(ctx context.Context, categories []string, temperature float64) (*models.RewriteResult, error)
}

// Puller runs one feed pull.
type Puller interface {
	Pull(ctx context.Context) (*process.Summary, error)
}

// Handler holds the dependencies of the endpoints.
type Handler struct {
	store       store.Store
	items       *incoming.Service
	publisher   *publish.Service
	rewriter    Rewriter
	diagnostics Diagnostics
	puller      Puller
	auth        auth.Checker
	events      events.Publisher
}

// Deps wires a Handler.
type Deps struct {
	Store       store.Store
	Publisher   *publish.Service
	Rewriter    Rewriter
	Diagnostics Diagnostics
	Puller      Puller
	Auth        auth.Checker
	Events      events.Publisher
}

func NewHandler(d Deps) *Handler {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	return &Handler{
		store:       d.Store,
		items:       incoming.NewService(d.Store),
		publisher:   d.Publisher,
		rewriter:    d.Rewriter,
		diagnostics: d.Diagnostics,
		puller:      d.Puller,
		auth:        d.Auth,
		events:      d.Events,
	}
}

// Register mounts the endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/incoming", h.Incoming)
	mux.HandleFunc("/rewrite", h.Rewrite)
	mux.HandleFunc("/news", h.News)
	mux.HandleFunc("/config", h.Config)
	mux.HandleFunc("/rss_sources", h.Sources)
	mux.HandleFunc("POST /rss_pull", h.Pull)
	mux.HandleFunc("/secrets", h.Secrets)
}

// Routes lists the paths served by Register.
func Routes() []string {
	return []string{"/incoming", "/rewrite", "/news", "/config", "/rss_sources", "/rss_pull", "/secrets"}
}

// requireAdmin writes 401 and returns false unless the request carries the
// admin credential.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if h.auth != nil && h.auth.IsAdmin(r) {
		return true
	}
	writeError(w, r, apperr.New(apperr.Unauthorized, "admin token required"))
	return false
}

func (h *Handler) isAdmin(r *http.Request) bool {
	return h.auth != nil && h.auth.IsAdmin(r)
}

// decodeBody reads a JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return apperr.Wrap(apperr.ValidationFailure, err, "read request body")
	}
	if len(body) == 0 {
		return apperr.New(apperr.ValidationFailure, "request body is empty")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperr.Wrap(apperr.ValidationFailure, err, "invalid JSON body")
	}
	return nil
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.InvalidTransition, apperr.ValidationFailure:
		return http.StatusUnprocessableEntity
	case apperr.ExternalTimeout:
		return http.StatusGatewayTimeout
	case apperr.ExternalFailure:
		return http.StatusBadGateway
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := hlog.FromRequest(r)
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	msg := err.Error()
	var appErr *apperr.Error
	if kind == apperr.StorageFailure && errors.As(err, &appErr) && appErr.Msg != "" {
		// Storage causes stay in the log.
		msg = appErr.Msg
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("kind", string(kind)).Msg("Request failed")
	} else {
		log.Warn().Err(err).Str("kind", string(kind)).Msg("Request rejected")
	}
	writeJSON(w, r, status, errorResponse{Error: msg, Kind: string(kind)})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	log := hlog.FromRequest(r)

	jsonBytes, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling JSON response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(jsonBytes); err != nil {
		log.Error().Err(err).Msg("Error writing JSON response body to client")
		return
	}
	log.Debug().Int("bytes_written", len(jsonBytes)).Msg("Response completed")
}

// ok writes {"ok": true} merged with the given fields.
func ok(w http.ResponseWriter, r *http.Request, fields map[string]any) {
	body := map[string]any{"ok": true}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, r, http.StatusOK, body)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	hlog.FromRequest(r).Warn().Str("method", r.Method).Msg("Method not allowed")
	writeJSON(w, r, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
}

func unknownAction(w http.ResponseWriter, r *http.Request, action string) {
	writeError(w, r, apperr.New(apperr.ValidationFailure, "unknown action %q for %s %s", action, r.Method, r.URL.Path))
}
