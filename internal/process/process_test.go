package process

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"reddot-watch/newsdesk/internal/apperr"
	"reddot-watch/newsdesk/internal/models"
	"reddot-watch/newsdesk/internal/store"
	"reddot-watch/newsdesk/internal/store/memstore"
)

type fakeReader struct {
	mu      sync.Mutex
	feeds   map[string][]Entry
	fail    map[string]error
	block   map[string]chan struct{}
	started chan string
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		feeds: make(map[string][]Entry),
		fail:  make(map[string]error),
		block: make(map[string]chan struct{}),
	}
}

func (f *fakeReader) Read(ctx context.Context, feedURL string) ([]Entry, error) {
	f.mu.Lock()
	entries, err, gate, started := f.feeds[feedURL], f.fail[feedURL], f.block[feedURL], f.started
	f.mu.Unlock()

	if started != nil {
		started <- feedURL
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func entries(prefix string, n int, published time.Time) []Entry {
	out := make([]Entry, n)
	for i := range out {
		out[i] = Entry{
			URL:         fmt.Sprintf("https://news.example/%s/%d", prefix, i),
			Title:       fmt.Sprintf("%s headline %d", prefix, i),
			Text:        "body",
			PublishedAt: published.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

type fixture struct {
	store  *memstore.Store
	reader *fakeReader
	puller *FeedPuller
}

func newFixture(t *testing.T, mutate func(*models.Settings), sources ...models.RssSource) *fixture {
	t.Helper()

	ctx := context.Background()
	st := memstore.New()
	settings := models.DefaultSettings()
	if mutate != nil {
		mutate(&settings)
	}
	if err := st.PutSettings(ctx, settings); err != nil {
		t.Fatalf("put settings: %v", err)
	}
	if err := st.ReplaceSources(ctx, sources); err != nil {
		t.Fatalf("put sources: %v", err)
	}

	reader := newFakeReader()
	return &fixture{
		store:  st,
		reader: reader,
		puller: NewFeedPuller(st, reader, nil, 2),
	}
}

var published = time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)

func TestPullCapsNewItems(t *testing.T) {
	t.Parallel()

	src := *models.NewRssSource("wire", "https://wire.example/rss")
	f := newFixture(t, func(s *models.Settings) { s.MaxNewItemsPerRun = 2 }, src)
	f.reader.feeds[src.URL] = entries("wire", 3, published)

	sum, err := f.puller.Pull(context.Background())
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if sum.Added != 2 || sum.Skipped != 0 || sum.Truncated != 1 {
		t.Fatalf("summary = %+v, want added=2 skipped=0 truncated=1", sum)
	}

	items, _ := f.store.ListIncoming(context.Background(), store.IncomingFilter{})
	if len(items) != 2 {
		t.Fatalf("stored %d items, want 2", len(items))
	}
	for _, it := range items {
		if it.Status() != models.StatusNew {
			t.Fatalf("inserted item has status %s", it.Status())
		}
	}
}

func TestPullRespectsPollLimit(t *testing.T) {
	t.Parallel()

	a := *models.NewRssSource("a", "https://a.example/rss")
	b := *models.NewRssSource("b", "https://b.example/rss")
	f := newFixture(t, func(s *models.Settings) { s.RssPollLimitPerRun = 4 }, a, b)
	f.reader.feeds[a.URL] = entries("a", 3, published)
	f.reader.feeds[b.URL] = entries("b", 3, published)

	sum, err := f.puller.Pull(context.Background())
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if sum.Examined != 4 || sum.Added != 4 || sum.Truncated != 2 {
		t.Fatalf("summary = %+v, want examined=4 added=4 truncated=2", sum)
	}
}

func TestPullIsIdempotentWithinDedupWindow(t *testing.T) {
	t.Parallel()

	src := *models.NewRssSource("wire", "https://wire.example/rss")
	f := newFixture(t, nil, src)
	f.reader.feeds[src.URL] = entries("wire", 3, published)
	ctx := context.Background()

	first, err := f.puller.Pull(ctx)
	if err != nil || first.Added != 3 {
		t.Fatalf("first pull = %+v, %v", first, err)
	}
	second, err := f.puller.Pull(ctx)
	if err != nil {
		t.Fatalf("second pull: %v", err)
	}
	if second.Added != 0 || second.Skipped != 3 {
		t.Fatalf("second pull = %+v, want added=0 skipped=3", second)
	}
}

func TestPullIgnoredItemsDoNotBlockDuplicates(t *testing.T) {
	t.Parallel()

	src := *models.NewRssSource("wire", "https://wire.example/rss")
	f := newFixture(t, nil, src)
	f.reader.feeds[src.URL] = entries("wire", 1, published)
	ctx := context.Background()

	if _, err := f.puller.Pull(ctx); err != nil {
		t.Fatalf("pull: %v", err)
	}
	items, _ := f.store.ListIncoming(ctx, store.IncomingFilter{})
	if _, err := f.store.UpdateIncoming(ctx, items[0].ID, func(it *models.IncomingItem) error {
		it.State = models.Ignored{}
		return nil
	}); err != nil {
		t.Fatalf("ignore: %v", err)
	}

	sum, err := f.puller.Pull(ctx)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if sum.Added != 1 {
		t.Fatalf("ignored item blocked re-ingestion: %+v", sum)
	}
}

func TestPullDedupWindow(t *testing.T) {
	t.Parallel()

	src := *models.NewRssSource("wire", "https://wire.example/rss")
	f := newFixture(t, func(s *models.Settings) { s.DedupWindowDays = 1 }, src)
	ctx := context.Background()

	f.reader.feeds[src.URL] = entries("wire", 1, published)
	if _, err := f.puller.Pull(ctx); err != nil {
		t.Fatalf("pull: %v", err)
	}

	// Same URL republished a week later falls outside the window.
	f.reader.feeds[src.URL] = entries("wire", 1, published.AddDate(0, 0, 7))
	sum, err := f.puller.Pull(ctx)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if sum.Added != 1 {
		t.Fatalf("entry outside dedup window skipped: %+v", sum)
	}
}

func TestPullEvictsOldestByClass(t *testing.T) {
	t.Parallel()

	src := *models.NewRssSource("wire", "https://wire.example/rss")
	f := newFixture(t, func(s *models.Settings) { s.IncomingMaxItems = 4 }, src)
	ctx := context.Background()

	old := published.AddDate(0, 0, -30)
	seed := []models.IncomingItem{
		seedItem("ignored-old", old, models.Ignored{}),
		seedItem("new-old", old, models.Pending{}),
		seedItem("new-older", old.Add(-time.Hour), models.Pending{}),
		seedItem("rewritten", old.Add(-2*time.Hour), models.Rewritten{Result: models.RewriteResult{Title: "t"}}),
	}
	if err := f.store.InsertIncoming(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.reader.feeds[src.URL] = entries("wire", 2, published)

	sum, err := f.puller.Pull(ctx)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if sum.Added != 2 || sum.Evicted != 2 {
		t.Fatalf("summary = %+v, want added=2 evicted=2", sum)
	}

	for id, want := range map[string]bool{"ignored-old": false, "new-older": false, "new-old": true, "rewritten": true} {
		_, err := f.store.GetIncoming(ctx, id)
		if present := err == nil; present != want {
			t.Fatalf("%s present=%v, want %v", id, present, want)
		}
	}
	if n, _ := f.store.CountIncoming(ctx); n != 4 {
		t.Fatalf("backlog = %d, want 4", n)
	}
}

func TestPullNeverEvictsItemsInProgress(t *testing.T) {
	t.Parallel()

	src := *models.NewRssSource("wire", "https://wire.example/rss")
	f := newFixture(t, func(s *models.Settings) { s.IncomingMaxItems = 2 }, src)
	ctx := context.Background()

	seed := []models.IncomingItem{
		seedItem("rewriting", published, models.Rewriting{}),
		seedItem("failed", published, models.Failed{Err: "x"}),
	}
	if err := f.store.InsertIncoming(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.reader.feeds[src.URL] = entries("wire", 2, published)

	sum, err := f.puller.Pull(ctx)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if sum.Added != 0 || sum.Evicted != 0 || sum.Truncated != 2 {
		t.Fatalf("summary = %+v, want added=0 evicted=0 truncated=2", sum)
	}
}

func TestPullIsolatesSourceFailures(t *testing.T) {
	t.Parallel()

	bad := *models.NewRssSource("bad", "https://bad.example/rss")
	slow := *models.NewRssSource("slow", "https://slow.example/rss")
	good := *models.NewRssSource("good", "https://good.example/rss")
	f := newFixture(t, func(s *models.Settings) { s.FetchTimeoutSec = 1 }, bad, slow, good)
	f.reader.fail[bad.URL] = apperr.New(apperr.ExternalFailure, "feed returned HTTP 503")
	f.reader.block[slow.URL] = make(chan struct{})
	f.reader.feeds[good.URL] = entries("good", 2, published)

	sum, err := f.puller.Pull(context.Background())
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if sum.Added != 2 {
		t.Fatalf("good source not ingested: %+v", sum)
	}
	if len(sum.Errors) != 2 || sum.Errors[0] != "bad" || sum.Errors[1] != "slow" {
		t.Fatalf("errors = %v, want [bad slow]", sum.Errors)
	}
}

func TestPullSkipsDisabledSources(t *testing.T) {
	t.Parallel()

	off := *models.NewRssSource("off", "https://off.example/rss")
	off.Enabled = false
	f := newFixture(t, nil, off)
	f.reader.feeds[off.URL] = entries("off", 2, published)

	sum, err := f.puller.Pull(context.Background())
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if sum.Added != 0 || sum.Examined != 0 {
		t.Fatalf("disabled source pulled: %+v", sum)
	}
}

func TestPullRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	src := *models.NewRssSource("wire", "https://wire.example/rss")
	f := newFixture(t, nil, src)
	gate := make(chan struct{})
	f.reader.block[src.URL] = gate
	f.reader.started = make(chan string, 1)
	f.reader.feeds[src.URL] = entries("wire", 1, published)

	done := make(chan error, 1)
	go func() {
		_, err := f.puller.Pull(context.Background())
		done <- err
	}()
	<-f.reader.started

	if _, err := f.puller.Pull(context.Background()); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("expected Conflict for overlapping pull, got %v", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first pull: %v", err)
	}
	if f.puller.Running() {
		t.Fatalf("pull guard not released")
	}
}

func TestBuildItemDefaults(t *testing.T) {
	t.Parallel()

	src := models.RssSource{Name: "wire", URL: "https://wire.example/rss", DefaultCategory: "economy", DefaultTags: []string{"markets"}}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	allowed := models.DefaultSettings().Categories

	item, ok := buildItem(src, Entry{Title: "Rates", URL: "https://wire.example/1"}, allowed, now)
	if !ok {
		t.Fatalf("entry rejected")
	}
	if item.Category != "economy" || len(item.Tags) != 1 || item.Tags[0] != "markets" {
		t.Fatalf("source defaults not applied: %+v", item)
	}
	if !item.PublishedAt.Equal(now) {
		t.Fatalf("missing publish time should default to now, got %v", item.PublishedAt)
	}

	item, _ = buildItem(src, Entry{Title: "Match", Categories: []string{"football", "sport"}}, allowed, now)
	if item.Category != "sport" || len(item.Tags) != 2 {
		t.Fatalf("entry categories not used: %+v", item)
	}

	if _, ok := buildItem(src, Entry{URL: "https://wire.example/2"}, allowed, now); ok {
		t.Fatalf("entry without title or summary accepted")
	}
}

func TestNewReader(t *testing.T) {
	t.Parallel()

	if _, err := NewReader("gofeed", "ua"); err != nil {
		t.Fatalf("gofeed: %v", err)
	}
	if _, err := NewReader("feedfetcher", "ua"); err != nil {
		t.Fatalf("feedfetcher: %v", err)
	}
	if _, err := NewReader("nope", "ua"); err == nil {
		t.Fatalf("unknown reader accepted")
	}
}

func seedItem(id string, publishedAt time.Time, st models.State) models.IncomingItem {
	return models.IncomingItem{
		ID:          id,
		PublishedAt: publishedAt,
		Raw:         models.RawContent{Title: id},
		DedupKey:    "seed-" + id,
		CreatedAt:   publishedAt,
		UpdatedAt:   publishedAt,
		State:       st,
	}
}

