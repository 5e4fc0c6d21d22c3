package api

import (
	"net/http"
	"strconv"

	"reddot-watch/newsdesk/internal/apperr"
	"reddot-watch/newsdesk/internal/models"
)

// HeaderNewsVersion carries the news version a save expects, and the current
// version on reads.
const HeaderNewsVersion = "X-News-Version"

type duplicateRequest struct {
	ID              string `json:"id"`
	ExpectedVersion int64  `json:"expectedVersion"`
}

// News serves /news. Readers without the admin credential only see the
// articles the public site may show.
func (h *Handler) News(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if h.isAdmin(r) {
			h.listNews(w, r)
		} else {
			h.listPublicNews(w, r)
		}
	case http.MethodPost:
		if !h.requireAdmin(w, r) {
			return
		}
		switch action := r.URL.Query().Get("action"); action {
		case "", "save":
			h.saveNews(w, r)
		case "duplicate":
			h.duplicateNews(w, r)
		default:
			unknownAction(w, r, action)
		}
	default:
		methodNotAllowed(w, r)
	}
}

func (h *Handler) listNews(w http.ResponseWriter, r *http.Request) {
	articles, version, err := h.publisher.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set(HeaderNewsVersion, strconv.FormatInt(version, 10))
	writeJSON(w, r, http.StatusOK, articles)
}

func (h *Handler) listPublicNews(w http.ResponseWriter, r *http.Request) {
	articles, err := h.publisher.ListPublic(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, articles)
}

// expectedVersion reads the version a save was prepared against.
func expectedVersion(r *http.Request) (int64, error) {
	raw := r.Header.Get(HeaderNewsVersion)
	if raw == "" {
		raw = r.URL.Query().Get("version")
	}
	if raw == "" {
		return 0, apperr.New(apperr.ValidationFailure, "missing expected news version (%s header or 'version' parameter)", HeaderNewsVersion)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, apperr.New(apperr.ValidationFailure, "invalid news version %q", raw)
	}
	return v, nil
}

func (h *Handler) saveNews(w http.ResponseWriter, r *http.Request) {
	expected, err := expectedVersion(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var articles []models.Article
	if err := decodeBody(w, r, &articles); err != nil {
		writeError(w, r, err)
		return
	}

	version, err := h.publisher.Save(r.Context(), articles, expected)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set(HeaderNewsVersion, strconv.FormatInt(version, 10))
	ok(w, r, map[string]any{"newsVersion": version})
}

func (h *Handler) duplicateNews(w http.ResponseWriter, r *http.Request) {
	var req duplicateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ID == "" {
		writeError(w, r, apperr.New(apperr.ValidationFailure, "missing 'id'"))
		return
	}

	article, version, err := h.publisher.Duplicate(r.Context(), req.ID, req.ExpectedVersion)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, r, map[string]any{"article": article, "newsVersion": version})
}
