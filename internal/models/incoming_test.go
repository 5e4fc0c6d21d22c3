package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"reddot-watch/newsdesk/internal/apperr"
)

func validResult() RewriteResult {
	return RewriteResult{
		Title:    "Council approves budget",
		Excerpt:  "The city council approved next year's budget.",
		Category: "politics",
		Tags:     []string{"city"},
		Content: []ContentBlock{
			{Type: BlockHeading, Text: "Vote", Level: 2},
			{Type: BlockParagraph, Text: "The vote passed 7 to 2."},
			{Type: BlockList, Items: []string{"schools", "roads"}},
		},
	}
}

func TestIncomingItemJSONStates(t *testing.T) {
	t.Parallel()

	res := validResult()
	created := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		state State
		want  map[string]any
	}{
		{"pending", Pending{}, map[string]any{"status": "new"}},
		{"rewriting keeps last", Rewriting{Last: &res}, map[string]any{"status": "rewriting"}},
		{"rewritten", Rewritten{Result: res}, map[string]any{"status": "rewritten"}},
		{"failed", Failed{Err: "timeout", Last: &res}, map[string]any{"status": "error", "rewriteError": "timeout"}},
		{"ignored", Ignored{}, map[string]any{"status": "ignored"}},
		{"published", Published{ArticleID: "n-1", Result: &res}, map[string]any{"status": "published", "publishedNewsId": "n-1"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			it := IncomingItem{
				ID:          "id-1",
				PublishedAt: created,
				Raw:         RawContent{Title: "Budget"},
				CreatedAt:   created,
				UpdatedAt:   created,
				State:       tc.state,
			}
			data, err := json.Marshal(it)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}

			var flat map[string]any
			if err := json.Unmarshal(data, &flat); err != nil {
				t.Fatalf("unmarshal flat: %v", err)
			}
			for k, v := range tc.want {
				if flat[k] != v {
					t.Fatalf("field %s = %v, want %v", k, flat[k], v)
				}
			}
			if _, hasRewrite := flat["rewrite"]; hasRewrite != (LastResult(tc.state) != nil) {
				t.Fatalf("rewrite presence mismatch in %s", data)
			}

			var back IncomingItem
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if back.Status() != tc.state.Status() {
				t.Fatalf("status = %s, want %s", back.Status(), tc.state.Status())
			}
			if (LastResult(back.State) == nil) != (LastResult(tc.state) == nil) {
				t.Fatalf("last result lost across round trip")
			}
		})
	}
}

func TestIncomingItemJSONRejectsBadStatus(t *testing.T) {
	t.Parallel()

	var it IncomingItem
	if err := json.Unmarshal([]byte(`{"id":"x","status":"rewritten"}`), &it); err == nil {
		t.Fatalf("expected error for rewritten item without result")
	}
	if err := json.Unmarshal([]byte(`{"id":"x","status":"lost"}`), &it); err == nil {
		t.Fatalf("expected error for unknown status")
	}
	if err := json.Unmarshal([]byte(`{"id":"x"}`), &it); err != nil || it.Status() != StatusNew {
		t.Fatalf("missing status should decode as new, got %v %v", it.Status(), err)
	}
}

func TestRewriteResultValidate(t *testing.T) {
	t.Parallel()

	allowed := DefaultSettings().Categories

	ok := validResult()
	if err := ok.Validate(allowed); err != nil {
		t.Fatalf("valid result rejected: %v", err)
	}

	conf := 1.5
	cases := map[string]func(r *RewriteResult){
		"missing title":      func(r *RewriteResult) { r.Title = "" },
		"no content":         func(r *RewriteResult) { r.Content = nil },
		"unknown category":   func(r *RewriteResult) { r.Category = "gossip" },
		"empty paragraph":    func(r *RewriteResult) { r.Content[1].Text = "" },
		"unknown block type": func(r *RewriteResult) { r.Content[0].Type = "video" },
		"empty list":         func(r *RewriteResult) { r.Content[2].Items = nil },
		"bad hero image":     func(r *RewriteResult) { r.HeroImage = "not a url" },
		"confidence range":   func(r *RewriteResult) { r.Confidence = &conf },
		"empty tag":          func(r *RewriteResult) { r.Tags = []string{""} },
	}
	for name, mutate := range cases {
		r := validResult()
		r.Content = cloneBlocks(r.Content)
		mutate(&r)
		err := r.Validate(allowed)
		if !apperr.Is(err, apperr.ValidationFailure) {
			t.Fatalf("%s: expected ValidationFailure, got %v", name, err)
		}
	}

	var nilResult *RewriteResult
	if err := nilResult.Validate(allowed); !apperr.Is(err, apperr.ValidationFailure) {
		t.Fatalf("nil result: expected ValidationFailure, got %v", err)
	}
}

func TestRewriteResultClone(t *testing.T) {
	t.Parallel()

	r := validResult()
	c := r.Clone()
	c.Tags[0] = "changed"
	c.Content[2].Items[0] = "changed"
	if r.Tags[0] != "city" || r.Content[2].Items[0] != "schools" {
		t.Fatalf("clone shares memory with original")
	}
}

func TestArticleVisibleAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := NewArticle()
	a.PublishedAt = now.Add(-time.Hour)

	for _, st := range []ArticleStatus{ArticleDraft, ArticleReview, ArticleArchived, ArticleTrash} {
		a.Status = st
		if a.VisibleAt(now) {
			t.Fatalf("%s article must not be visible", st)
		}
	}
	a.Status = ArticlePublished
	if !a.VisibleAt(now) {
		t.Fatalf("published article in the past must be visible")
	}
	a.Status = ArticleScheduled
	a.PublishedAt = now.Add(time.Hour)
	if a.VisibleAt(now) {
		t.Fatalf("scheduled article in the future must be hidden")
	}
}

func TestArticleValidate(t *testing.T) {
	t.Parallel()

	a := NewArticle()
	a.Slug = "budget"
	a.Title = "Budget"
	if err := a.Validate(); err != nil {
		t.Fatalf("valid article rejected: %v", err)
	}

	a.Status = "deleted"
	err := a.Validate()
	if !apperr.Is(err, apperr.ValidationFailure) || !strings.Contains(err.Error(), "Status") {
		t.Fatalf("expected status validation error, got %v", err)
	}
}

func TestSettingsValidate(t *testing.T) {
	t.Parallel()

	s := DefaultSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("defaults rejected: %v", err)
	}

	s.MaxNewItemsPerRun = 0
	s.Categories = nil
	if err := s.Validate(); !apperr.Is(err, apperr.ValidationFailure) {
		t.Fatalf("expected ValidationFailure, got %v", err)
	}
}

func TestValidateSources(t *testing.T) {
	t.Parallel()

	good := []RssSource{
		*NewRssSource("a", "https://a.example/rss"),
		*NewRssSource("b", "http://b.example/feed.xml"),
	}
	if err := ValidateSources(good); err != nil {
		t.Fatalf("valid sources rejected: %v", err)
	}

	bad := map[string][]RssSource{
		"duplicate name": {*NewRssSource("a", "https://a.example/1"), *NewRssSource("a", "https://a.example/2")},
		"duplicate url":  {*NewRssSource("a", "https://a.example/1"), *NewRssSource("b", "https://a.example/1")},
		"ftp scheme":     {*NewRssSource("a", "ftp://a.example/rss")},
		"missing name":   {*NewRssSource("", "https://a.example/rss")},
	}
	for name, sources := range bad {
		if err := ValidateSources(sources); !apperr.Is(err, apperr.ValidationFailure) {
			t.Fatalf("%s: expected ValidationFailure, got %v", name, err)
		}
	}
}
