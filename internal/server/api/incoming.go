package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/hlog"

	"reddot-watch/newsdesk/internal/apperr"
	"reddot-watch/newsdesk/internal/events"
	"reddot-watch/newsdesk/internal/incoming"
	"reddot-watch/newsdesk/internal/models"
	"reddot-watch/newsdesk/internal/publish"
	"reddot-watch/newsdesk/internal/server/pagination"
	"reddot-watch/newsdesk/internal/store"
)

const defaultLimit = 100
const maxLimit = 1000

// HeaderNextCursor carries the cursor of the next incoming page.
const HeaderNextCursor = "X-Next-Cursor"

// Incoming serves /incoming.
func (h *Handler) Incoming(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	action := r.URL.Query().Get("action")
	switch r.Method {
	case http.MethodGet:
		switch action {
		case "", "list":
			h.listIncoming(w, r)
		case "get":
			h.getIncoming(w, r)
		default:
			unknownAction(w, r, action)
		}
	case http.MethodPost:
		switch action {
		case "upsert":
			h.upsertIncoming(w, r)
		case "set_status":
			h.setStatus(w, r)
		case "publish":
			h.promote(w, r)
		default:
			unknownAction(w, r, action)
		}
	default:
		methodNotAllowed(w, r)
	}
}

func (h *Handler) listIncoming(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	query := r.URL.Query()

	limit := defaultLimit
	if limitStr := query.Get("limit"); limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 || parsedLimit > maxLimit {
			writeError(w, r, apperr.New(apperr.ValidationFailure, "invalid 'limit' parameter: must be between 1 and %d", maxLimit))
			return
		}
		limit = parsedLimit
	}

	filter := store.IncomingFilter{Limit: limit + 1} // Fetch one extra
	if statusStr := query.Get("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			status, err := models.ParseStatus(strings.TrimSpace(part))
			if err != nil {
				writeError(w, r, apperr.Wrap(apperr.ValidationFailure, err, "invalid 'status' parameter"))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if cursorStr := query.Get("cursor"); cursorStr != "" {
		ts, id, err := pagination.DecodeCursor(cursorStr)
		if err != nil {
			log.Warn().Err(err).Str("cursor", cursorStr).Msg("Invalid 'cursor' parameter")
			writeError(w, r, apperr.Wrap(apperr.ValidationFailure, err, "invalid 'cursor' parameter"))
			return
		}
		filter.After = &store.Cursor{CreatedAt: ts, ID: id}
	}

	items, err := h.items.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if len(items) > limit {
		items = items[:limit]
		last := items[len(items)-1]
		w.Header().Set(HeaderNextCursor, pagination.EncodeCursor(last.CreatedAt, last.ID))
	}
	writeJSON(w, r, http.StatusOK, items)
}

func (h *Handler) getIncoming(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, r, apperr.New(apperr.ValidationFailure, "missing 'id' parameter"))
		return
	}
	item, err := h.items.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, item)
}

func (h *Handler) upsertIncoming(w http.ResponseWriter, r *http.Request) {
	var item models.IncomingItem
	if err := decodeBody(w, r, &item); err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := h.items.Upsert(r.Context(), item)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, r, map[string]any{"item": saved})
}

type setStatusRequest struct {
	ID              string        `json:"id"`
	Status          models.Status `json:"status"`
	PublishedNewsID string        `json:"publishedNewsId,omitempty"`
	RewriteError    string        `json:"rewriteError,omitempty"`
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ID == "" {
		writeError(w, r, apperr.New(apperr.ValidationFailure, "missing 'id'"))
		return
	}
	to, err := models.ParseStatus(string(req.Status))
	if err != nil {
		writeError(w, r, apperr.Wrap(apperr.ValidationFailure, err, "invalid 'status'"))
		return
	}

	item, err := h.items.SetStatus(r.Context(), req.ID, to, incoming.Params{
		ArticleID: req.PublishedNewsID,
		Err:       req.RewriteError,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	events.Emit(r.Context(), h.events, events.SubjectItemStatus, events.ItemStatus{ID: item.ID, Status: string(item.Status())})
	ok(w, r, map[string]any{"item": item})
}

func (h *Handler) promote(w http.ResponseWriter, r *http.Request) {
	var req publish.PromoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ID == "" {
		writeError(w, r, apperr.New(apperr.ValidationFailure, "missing 'id'"))
		return
	}

	article, version, err := h.publisher.Promote(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, r, map[string]any{"article": article, "newsVersion": version})
}
