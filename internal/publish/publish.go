// Package publish manages the version-guarded article list read by the
// public site.
package publish

import (
	"context"
	"encoding/json"
	"reflect"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog/log"

	"reddot-watch/newsdesk/internal/apperr"
	"reddot-watch/newsdesk/internal/cache"
	"reddot-watch/newsdesk/internal/events"
	"reddot-watch/newsdesk/internal/incoming"
	"reddot-watch/newsdesk/internal/metrics"
	"reddot-watch/newsdesk/internal/models"
	"reddot-watch/newsdesk/internal/store"
)

const publicCacheTTL = time.Minute

// Store is the persistence the publish service needs.
type Store interface {
	store.ArticleStore
	store.IncomingStore
	store.SettingsStore
}

// Service implements save, promotion and duplication on top of the
// version-checked article store.
type Service struct {
	store  Store
	items  *incoming.Service
	events events.Publisher
	cache  cache.Cache
	now    func() time.Time
}

func NewService(s Store, pub events.Publisher, c cache.Cache) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	if c == nil {
		c = cache.Nop{}
	}
	return &Service{
		store:  s,
		items:  incoming.NewService(s),
		events: pub,
		cache:  c,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// List returns the full editor list and the current version.
func (s *Service) List(ctx context.Context) ([]models.Article, int64, error) {
	return s.store.ListArticles(ctx)
}

// ListPublic returns the articles the public site may show now: published
// or scheduled with a publish time not in the future, pinned first, then
// newest first.
func (s *Service) ListPublic(ctx context.Context) ([]models.Article, error) {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	key := cache.PublicNewsKey(settings.NewsVersion)
	if raw, err := s.cache.Get(ctx, key); err == nil {
		var cached []models.Article
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	all, version, err := s.store.ListArticles(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	visible := make([]models.Article, 0, len(all))
	for i := range all {
		if all[i].VisibleAt(now) {
			visible = append(visible, all[i])
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		a, b := visible[i], visible[j]
		if a.PinMain != b.PinMain {
			return a.PinMain
		}
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		return a.ID < b.ID
	})

	if raw, err := json.Marshal(visible); err == nil {
		if err := s.cache.Set(ctx, cache.PublicNewsKey(version), raw, publicCacheTTL); err != nil {
			log.Warn().Err(err).Msg("Failed to cache public news list")
		}
	}
	return visible, nil
}

// Save replaces the article list if expectedVersion is current. Articles
// may only disappear from the list once they are in the trash.
func (s *Service) Save(ctx context.Context, articles []models.Article, expectedVersion int64) (int64, error) {
	current, version, err := s.store.ListArticles(ctx)
	if err != nil {
		return 0, err
	}
	if version != expectedVersion {
		metrics.NewsSaves.WithLabelValues("conflict").Inc()
		return 0, apperr.New(apperr.Conflict, "version conflict")
	}

	prepared, err := s.prepare(current, articles)
	if err != nil {
		metrics.NewsSaves.WithLabelValues("invalid").Inc()
		return 0, err
	}
	return s.commit(ctx, prepared, expectedVersion)
}

func (s *Service) commit(ctx context.Context, articles []models.Article, expectedVersion int64) (int64, error) {
	newVersion, err := s.store.SaveArticles(ctx, articles, expectedVersion)
	if err != nil {
		if apperr.Is(err, apperr.Conflict) {
			metrics.NewsSaves.WithLabelValues("conflict").Inc()
		} else {
			metrics.NewsSaves.WithLabelValues("error").Inc()
		}
		return 0, err
	}

	metrics.NewsSaves.WithLabelValues("ok").Inc()
	metrics.NewsVersion.Set(float64(newVersion))
	events.Emit(ctx, s.events, events.SubjectNewsSaved, events.NewsSaved{Version: newVersion, Articles: len(articles)})
	log.Info().
		Int64("version", newVersion).
		Int("articles", len(articles)).
		Msg("News saved")
	return newVersion, nil
}

// prepare validates the submitted list against the stored one and fills in
// server-owned fields.
func (s *Service) prepare(current, submitted []models.Article) ([]models.Article, error) {
	now := s.now()
	stored := make(map[string]models.Article, len(current))
	for _, a := range current {
		stored[a.ID] = a
	}

	out := make([]models.Article, 0, len(submitted))
	ids := make(map[string]bool, len(submitted))
	slugs := make(map[string]bool, len(submitted))
	for _, a := range submitted {
		if a.Slug != "" {
			slugs[a.Slug] = true
		}
	}

	for i := range submitted {
		a := submitted[i].Clone()
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.Status == "" {
			a.Status = models.ArticleDraft
		}
		if a.Slug == "" {
			a.Slug = uniqueSlug(a.Title, slugs)
			slugs[a.Slug] = true
		}
		if ids[a.ID] {
			return nil, apperr.New(apperr.ValidationFailure, "duplicate article id %s", a.ID)
		}
		ids[a.ID] = true

		if prev, ok := stored[a.ID]; ok {
			a.CreatedAt = prev.CreatedAt
			a.UpdatedAt = prev.UpdatedAt
			if !sameContent(prev, a) {
				a.UpdatedAt = now
			}
		} else {
			if a.CreatedAt.IsZero() {
				a.CreatedAt = now
			}
			a.UpdatedAt = now
		}
		if a.PublishedAt.IsZero() && a.Status == models.ArticlePublished {
			a.PublishedAt = now
		}

		if err := a.Validate(); err != nil {
			return nil, err
		}
		out = append(out, a)
	}

	seen := make(map[string]string, len(out))
	for _, a := range out {
		if other, dup := seen[a.Slug]; dup {
			return nil, apperr.New(apperr.ValidationFailure, "slug %q is used by articles %s and %s", a.Slug, other, a.ID)
		}
		seen[a.Slug] = a.ID
	}

	for id, prev := range stored {
		if !ids[id] && prev.Status != models.ArticleTrash {
			return nil, apperr.New(apperr.ValidationFailure, "article %s must be moved to trash before it is deleted", id)
		}
	}
	return out, nil
}

func sameContent(a, b models.Article) bool {
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	return reflect.DeepEqual(a, b)
}

// PromoteRequest asks for an article to be created from a rewritten item.
type PromoteRequest struct {
	ID              string               `json:"id"`
	ExpectedVersion int64                `json:"expectedVersion"`
	Status          models.ArticleStatus `json:"status,omitempty"`
	Author          string               `json:"author,omitempty"`
}

// Promote writes an article built from the item's rewrite result and then
// marks the item published. If the article write fails the item is left
// unchanged. A retry after the item transition failed finds the article by
// its source item and only completes the transition.
func (s *Service) Promote(ctx context.Context, req PromoteRequest) (*models.Article, int64, error) {
	item, err := s.store.GetIncoming(ctx, req.ID)
	if err != nil {
		return nil, 0, err
	}
	rewritten, ok := item.State.(models.Rewritten)
	if !ok {
		return nil, 0, apperr.New(apperr.InvalidTransition, "cannot publish item %s in status %s", item.ID, item.Status())
	}

	status := req.Status
	if status == "" {
		status = models.ArticleDraft
	}
	if !slices.Contains([]models.ArticleStatus{models.ArticleDraft, models.ArticleReview, models.ArticleScheduled, models.ArticlePublished}, status) {
		return nil, 0, apperr.New(apperr.ValidationFailure, "cannot promote to article status %q", status)
	}

	current, version, err := s.store.ListArticles(ctx)
	if err != nil {
		return nil, 0, err
	}
	if version != req.ExpectedVersion {
		return nil, 0, apperr.New(apperr.Conflict, "version conflict")
	}

	for i := range current {
		if current[i].SourceIncomingID == item.ID {
			existing := current[i]
			log.Warn().
				Str("item_id", item.ID).
				Str("article_id", existing.ID).
				Msg("Article already exists for item, completing promotion")
			if _, err := s.items.SetStatus(ctx, item.ID, models.StatusPublished, incoming.Params{ArticleID: existing.ID}); err != nil {
				return nil, 0, err
			}
			return &existing, version, nil
		}
	}

	article := s.articleFrom(item, &rewritten.Result, status, req.Author, current)
	articles := make([]models.Article, 0, len(current)+1)
	articles = append(articles, article)
	articles = append(articles, current...)

	newVersion, err := s.commit(ctx, articles, req.ExpectedVersion)
	if err != nil {
		return nil, 0, err
	}

	if _, err := s.items.SetStatus(ctx, item.ID, models.StatusPublished, incoming.Params{ArticleID: article.ID}); err != nil {
		log.Error().
			Err(err).
			Str("item_id", item.ID).
			Str("article_id", article.ID).
			Msg("Article saved but item transition failed, retry the promotion")
		return nil, 0, err
	}
	return &article, newVersion, nil
}

func (s *Service) articleFrom(item *models.IncomingItem, res *models.RewriteResult, status models.ArticleStatus, author string, existing []models.Article) models.Article {
	now := s.now()
	taken := make(map[string]bool, len(existing))
	for _, a := range existing {
		taken[a.Slug] = true
	}

	res = res.Clone()
	a := models.NewArticle()
	a.Slug = uniqueSlug(res.Title, taken)
	a.Title = res.Title
	a.Excerpt = res.Excerpt
	a.Content = res.Content
	a.Category = res.Category
	a.Tags = res.Tags
	a.Author = author
	a.HeroImage = res.HeroImage
	if a.HeroImage == "" {
		a.HeroImage = item.Image
	}
	a.Status = status
	a.PublishedAt = now
	a.CreatedAt = now
	a.UpdatedAt = now
	a.SourceIncomingID = item.ID
	return *a
}

// Duplicate copies an article under a new id and slug as a fresh draft.
func (s *Service) Duplicate(ctx context.Context, id string, expectedVersion int64) (*models.Article, int64, error) {
	current, version, err := s.store.ListArticles(ctx)
	if err != nil {
		return nil, 0, err
	}
	if version != expectedVersion {
		return nil, 0, apperr.New(apperr.Conflict, "version conflict")
	}

	idx := slices.IndexFunc(current, func(a models.Article) bool { return a.ID == id })
	if idx < 0 {
		return nil, 0, apperr.New(apperr.NotFound, "article %s not found", id)
	}

	taken := make(map[string]bool, len(current))
	for _, a := range current {
		taken[a.Slug] = true
	}

	now := s.now()
	cp := current[idx].Clone()
	cp.ID = uuid.NewString()
	cp.Slug = uniqueSlug(current[idx].Slug+"-copy", taken)
	cp.Status = models.ArticleDraft
	cp.CreatedAt = now
	cp.UpdatedAt = now
	cp.PublishedAt = time.Time{}
	cp.Views = 0
	cp.SourceIncomingID = ""
	cp.PinMain = false
	cp.PinCategory = false

	articles := slices.Insert(slices.Clone(current), idx+1, cp)
	newVersion, err := s.commit(ctx, articles, expectedVersion)
	if err != nil {
		return nil, 0, err
	}
	return &cp, newVersion, nil
}

// uniqueSlug slugifies base and appends -2, -3, ... until it is not taken.
func uniqueSlug(base string, taken map[string]bool) string {
	s := slug.Make(base)
	if s == "" {
		s = "article"
	}
	if len(s) > 180 {
		s = s[:180]
	}
	if !taken[s] {
		return s
	}
	for n := 2; ; n++ {
		candidate := s + "-" + strconv.Itoa(n)
		if !taken[candidate] {
			return candidate
		}
	}
}
