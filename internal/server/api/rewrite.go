package api

import (
	"context"
	"net/http"

	"reddot-watch/newsdesk/internal/apperr"
	"reddot-watch/newsdesk/internal/rewrite"
)

type rewriteRequest struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

// Rewrite serves /rewrite. The health and test actions never touch items.
func (h *Handler) Rewrite(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}

	switch action := r.URL.Query().Get("action"); action {
	case rewrite.ActionHealth:
		h.rewriteHealth(w, r)
	case rewrite.ActionTest:
		h.rewriteTest(w, r)
	case "":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		h.rewriteIncoming(w, r)
	default:
		unknownAction(w, r, action)
	}
}

func (h *Handler) rewriteIncoming(w http.ResponseWriter, r *http.Request) {
	var req rewriteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Action != rewrite.ActionRewrite {
		unknownAction(w, r, req.Action)
		return
	}
	if req.ID == "" {
		writeError(w, r, apperr.New(apperr.ValidationFailure, "missing 'id'"))
		return
	}

	result, err := h.rewriter.Rewrite(r.Context(), req.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, r, map[string]any{"result": result})
}

func (h *Handler) rewriteHealth(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), settings.RewriteTimeout())
	defer cancel()

	report, err := h.diagnostics.Health(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, r, map[string]any{"health": report})
}

func (h *Handler) rewriteTest(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), settings.RewriteTimeout())
	defer cancel()

	result, err := h.diagnostics.Test(ctx, settings.Categories, settings.RewriteTemperature)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, r, map[string]any{"result": result})
}
