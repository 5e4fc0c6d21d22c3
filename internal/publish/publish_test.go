package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"reddot-watch/newsdesk/internal/apperr"
	"reddot-watch/newsdesk/internal/models"
	"reddot-watch/newsdesk/internal/store/memstore"
)

func article(id, slug string, status models.ArticleStatus) models.Article {
	return models.Article{
		ID:     id,
		Slug:   slug,
		Title:  "Title " + id,
		Status: status,
		Content: []models.ContentBlock{
			{Type: models.BlockParagraph, Text: "Body"},
		},
	}
}

func rewrittenItem(t *testing.T, st *memstore.Store, id string) {
	t.Helper()

	it := *models.NewIncomingItem()
	it.ID = id
	it.Raw.Title = "Raw"
	it.Image = "https://img.example/raw.jpg"
	it.State = models.Rewritten{Result: models.RewriteResult{
		Title:    "Council Approves Budget",
		Excerpt:  "Excerpt",
		Category: "politics",
		Tags:     []string{"city"},
		Content:  []models.ContentBlock{{Type: models.BlockParagraph, Text: "Body"}},
	}}
	if err := st.PutIncoming(context.Background(), it); err != nil {
		t.Fatalf("put item: %v", err)
	}
}

func TestSaveOptimisticConcurrency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewService(memstore.New(), nil, nil)

	_, loaded, _ := svc.List(ctx)

	v, err := svc.Save(ctx, []models.Article{article("a", "a", models.ArticleDraft)}, loaded)
	if err != nil {
		t.Fatalf("first editor: %v", err)
	}
	if v != loaded+1 {
		t.Fatalf("version = %d, want %d", v, loaded+1)
	}

	_, err = svc.Save(ctx, []models.Article{article("b", "b", models.ArticleDraft)}, loaded)
	if !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("second editor: expected Conflict, got %v", err)
	}

	articles, version, _ := svc.List(ctx)
	if version != loaded+1 || len(articles) != 1 || articles[0].ID != "a" {
		t.Fatalf("second save leaked: version=%d articles=%v", version, articles)
	}
}

func TestSaveMaintainsServerFields(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewService(memstore.New(), nil, nil)
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return t0 }

	a := article("a", "a", models.ArticleDraft)
	fresh := article("", "", models.ArticlePublished)
	fresh.Title = "Hello World"
	if _, err := svc.Save(ctx, []models.Article{a, fresh}, 0); err != nil {
		t.Fatalf("save: %v", err)
	}

	saved, _, _ := svc.List(ctx)
	if saved[1].ID == "" || saved[1].Slug != "hello-world" {
		t.Fatalf("server did not fill id/slug: %+v", saved[1])
	}
	if !saved[1].PublishedAt.Equal(t0) || !saved[0].CreatedAt.Equal(t0) {
		t.Fatalf("timestamps not set: %+v", saved)
	}

	t1 := t0.Add(time.Hour)
	svc.now = func() time.Time { return t1 }
	edited := saved[0]
	edited.Title = "Edited"
	edited.CreatedAt = t1
	if _, err := svc.Save(ctx, []models.Article{edited, saved[1]}, 1); err != nil {
		t.Fatalf("save: %v", err)
	}

	again, _, _ := svc.List(ctx)
	if !again[0].CreatedAt.Equal(t0) {
		t.Fatalf("createdAt must be preserved, got %v", again[0].CreatedAt)
	}
	if !again[0].UpdatedAt.Equal(t1) {
		t.Fatalf("edited article updatedAt = %v, want %v", again[0].UpdatedAt, t1)
	}
	if !again[1].UpdatedAt.Equal(t0) {
		t.Fatalf("untouched article updatedAt = %v, want %v", again[1].UpdatedAt, t0)
	}
}

func TestSaveValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewService(memstore.New(), nil, nil)

	cases := map[string][]models.Article{
		"duplicate id":   {article("a", "one", models.ArticleDraft), article("a", "two", models.ArticleDraft)},
		"duplicate slug": {article("a", "same", models.ArticleDraft), article("b", "same", models.ArticleDraft)},
		"bad status":     {article("a", "a", "gone")},
	}
	for name, articles := range cases {
		if _, err := svc.Save(ctx, articles, 0); !apperr.Is(err, apperr.ValidationFailure) {
			t.Fatalf("%s: expected ValidationFailure, got %v", name, err)
		}
	}
}

func TestSaveDeletesOnlyTrashedArticles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewService(memstore.New(), nil, nil)

	v, err := svc.Save(ctx, []models.Article{
		article("keep", "keep", models.ArticlePublished),
		article("live", "live", models.ArticlePublished),
		article("bin", "bin", models.ArticleTrash),
	}, 0)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err = svc.Save(ctx, []models.Article{article("keep", "keep", models.ArticlePublished)}, v)
	if !apperr.Is(err, apperr.ValidationFailure) {
		t.Fatalf("dropping a live article: expected ValidationFailure, got %v", err)
	}

	if _, err := svc.Save(ctx, []models.Article{
		article("keep", "keep", models.ArticlePublished),
		article("live", "live", models.ArticlePublished),
	}, v); err != nil {
		t.Fatalf("dropping a trashed article: %v", err)
	}
}

func TestPromote(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memstore.New()
	svc := NewService(st, nil, nil)
	rewrittenItem(t, st, "item")

	a, v, err := svc.Promote(ctx, PromoteRequest{ID: "item", ExpectedVersion: 0, Author: "desk"})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if v != 1 || a.Slug != "council-approves-budget" || a.Status != models.ArticleDraft || a.SourceIncomingID != "item" {
		t.Fatalf("unexpected article: v=%d %+v", v, a)
	}
	if a.HeroImage != "https://img.example/raw.jpg" || a.Author != "desk" {
		t.Fatalf("hero image/author not carried: %+v", a)
	}

	item, _ := st.GetIncoming(ctx, "item")
	p, ok := item.State.(models.Published)
	if !ok || p.ArticleID != a.ID {
		t.Fatalf("item state = %#v", item.State)
	}

	if _, _, err := svc.Promote(ctx, PromoteRequest{ID: "item", ExpectedVersion: v}); !apperr.Is(err, apperr.InvalidTransition) {
		t.Fatalf("second promotion: expected InvalidTransition, got %v", err)
	}
}

func TestPromoteConflictLeavesItemUnchanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memstore.New()
	svc := NewService(st, nil, nil)
	rewrittenItem(t, st, "item")

	if _, err := svc.Save(ctx, []models.Article{article("a", "a", models.ArticleDraft)}, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, _, err := svc.Promote(ctx, PromoteRequest{ID: "item", ExpectedVersion: 0}); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
	item, _ := st.GetIncoming(ctx, "item")
	if item.Status() != models.StatusRewritten {
		t.Fatalf("item status = %s, want rewritten", item.Status())
	}
	articles, _, _ := svc.List(ctx)
	if len(articles) != 1 {
		t.Fatalf("article written despite conflict: %d", len(articles))
	}
}

type failingSaves struct {
	*memstore.Store
}

func (failingSaves) SaveArticles(context.Context, []models.Article, int64) (int64, error) {
	return 0, apperr.Wrap(apperr.StorageFailure, errors.New("disk full"), "save articles")
}

func TestPromoteStorageFailureLeavesItemUnchanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memstore.New()
	rewrittenItem(t, st, "item")
	svc := NewService(failingSaves{st}, nil, nil)

	if _, _, err := svc.Promote(ctx, PromoteRequest{ID: "item"}); !apperr.Is(err, apperr.StorageFailure) {
		t.Fatalf("expected StorageFailure, got %v", err)
	}
	item, _ := st.GetIncoming(ctx, "item")
	if _, ok := item.State.(models.Rewritten); !ok {
		t.Fatalf("item state = %#v, want rewritten", item.State)
	}
}

func TestPromoteCompletesHalfFinishedPromotion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memstore.New()
	svc := NewService(st, nil, nil)
	rewrittenItem(t, st, "item")

	orphan := article("orphan", "orphan", models.ArticleDraft)
	orphan.SourceIncomingID = "item"
	v, err := svc.Save(ctx, []models.Article{orphan}, 0)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	a, got, err := svc.Promote(ctx, PromoteRequest{ID: "item", ExpectedVersion: v})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if a.ID != "orphan" || got != v {
		t.Fatalf("expected the existing article without a new save, got %s v=%d", a.ID, got)
	}
	item, _ := st.GetIncoming(ctx, "item")
	if item.Status() != models.StatusPublished {
		t.Fatalf("status = %s", item.Status())
	}
}

func TestDuplicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewService(memstore.New(), nil, nil)

	src := article("a", "budget", models.ArticlePublished)
	src.Views = 42
	src.PinMain = true
	src.SourceIncomingID = "item"
	src.PublishedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	v, _ := svc.Save(ctx, []models.Article{src, article("b", "budget-copy", models.ArticleDraft)}, 0)

	cp, v2, err := svc.Duplicate(ctx, "a", v)
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if v2 != v+1 {
		t.Fatalf("version = %d, want %d", v2, v+1)
	}
	if cp.ID == "a" || cp.Slug != "budget-copy-2" || cp.Status != models.ArticleDraft {
		t.Fatalf("unexpected copy: %+v", cp)
	}
	if cp.Views != 0 || cp.PinMain || cp.SourceIncomingID != "" || !cp.PublishedAt.IsZero() {
		t.Fatalf("copy kept publish-only fields: %+v", cp)
	}

	articles, _, _ := svc.List(ctx)
	if len(articles) != 3 || articles[1].ID != cp.ID {
		t.Fatalf("copy should follow the original, got %d articles", len(articles))
	}

	if _, _, err := svc.Duplicate(ctx, "missing", v2); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, _, err := svc.Duplicate(ctx, "a", v); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestListPublic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewService(memstore.New(), nil, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	old := article("old", "old", models.ArticlePublished)
	old.PublishedAt = now.Add(-48 * time.Hour)
	pinned := article("pinned", "pinned", models.ArticlePublished)
	pinned.PublishedAt = now.Add(-72 * time.Hour)
	pinned.PinMain = true
	recent := article("recent", "recent", models.ArticleScheduled)
	recent.PublishedAt = now.Add(-time.Hour)
	future := article("future", "future", models.ArticleScheduled)
	future.PublishedAt = now.Add(time.Hour)
	draft := article("draft", "draft", models.ArticleDraft)

	if _, err := svc.Save(ctx, []models.Article{old, pinned, recent, future, draft}, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	visible, err := svc.ListPublic(ctx)
	if err != nil {
		t.Fatalf("list public: %v", err)
	}
	var ids []string
	for _, a := range visible {
		ids = append(ids, a.ID)
	}
	if len(ids) != 3 || ids[0] != "pinned" || ids[1] != "recent" || ids[2] != "old" {
		t.Fatalf("visible = %v, want [pinned recent old]", ids)
	}
}

func TestUniqueSlug(t *testing.T) {
	t.Parallel()

	taken := map[string]bool{"hello-world": true, "hello-world-2": true}
	if got := uniqueSlug("Hello, World!", taken); got != "hello-world-3" {
		t.Fatalf("uniqueSlug = %q", got)
	}
	if got := uniqueSlug("!!!", nil); got != "article" {
		t.Fatalf("uniqueSlug of symbols = %q", got)
	}
}
