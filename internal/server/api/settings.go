package api

import (
	"net/http"

	"github.com/rs/zerolog/hlog"

	"reddot-watch/newsdesk/internal/apperr"
	"reddot-watch/newsdesk/internal/models"
)

// Config serves /config. Reading the settings needs no credential.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	switch r.Method {
	case http.MethodGet:
		switch action {
		case "":
			h.getSettings(w, r)
		case "check_write":
			if h.requireAdmin(w, r) {
				h.checkWrite(w, r)
			}
		default:
			unknownAction(w, r, action)
		}
	case http.MethodPost:
		if !h.requireAdmin(w, r) {
			return
		}
		if action != "" {
			unknownAction(w, r, action)
			return
		}
		h.putSettings(w, r)
	default:
		methodNotAllowed(w, r)
	}
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, settings)
}

func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	settings := models.DefaultSettings()
	if err := decodeBody(w, r, &settings); err != nil {
		writeError(w, r, err)
		return
	}
	if err := settings.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.PutSettings(r.Context(), settings); err != nil {
		writeError(w, r, err)
		return
	}

	stored, err := h.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().Msg("Settings updated")
	ok(w, r, map[string]any{"config": stored})
}

func (h *Handler) checkWrite(w http.ResponseWriter, r *http.Request) {
	writable := true
	if err := h.store.CheckWrite(r.Context()); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Write probe failed")
		writable = false
	}
	ok(w, r, map[string]any{"writable": writable})
}

// Sources serves /rss_sources.
func (h *Handler) Sources(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		sources, err := h.store.ListSources(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, sources)
	case http.MethodPost:
		var sources []models.RssSource
		if err := decodeBody(w, r, &sources); err != nil {
			writeError(w, r, err)
			return
		}
		if err := models.ValidateSources(sources); err != nil {
			writeError(w, r, err)
			return
		}
		if err := h.store.ReplaceSources(r.Context(), sources); err != nil {
			writeError(w, r, err)
			return
		}
		hlog.FromRequest(r).Info().Int("count", len(sources)).Msg("Feed registry replaced")
		ok(w, r, map[string]any{"count": len(sources)})
	default:
		methodNotAllowed(w, r)
	}
}

// Secrets serves /secrets. Values are write-only; reads report which
// secrets are set.
func (h *Handler) Secrets(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.secretFlags(w, r)
	case http.MethodPost:
		var values map[string]string
		if err := decodeBody(w, r, &values); err != nil {
			writeError(w, r, err)
			return
		}
		for name := range values {
			if name == "" {
				writeError(w, r, apperr.New(apperr.ValidationFailure, "secret name must not be empty"))
				return
			}
		}
		if err := h.store.SetSecrets(r.Context(), values); err != nil {
			writeError(w, r, err)
			return
		}
		hlog.FromRequest(r).Info().Int("count", len(values)).Msg("Secrets updated")
		h.secretFlags(w, r)
	default:
		methodNotAllowed(w, r)
	}
}

func (h *Handler) secretFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := h.store.SecretFlags(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, r, map[string]any{"secrets": flags})
}

// Pull serves POST /rss_pull.
func (h *Handler) Pull(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	summary, err := h.puller.Pull(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, r, map[string]any{
		"added":     summary.Added,
		"skipped":   summary.Skipped,
		"truncated": summary.Truncated,
		"examined":  summary.Examined,
		"evicted":   summary.Evicted,
		"errors":    summary.Errors,
	})
}
