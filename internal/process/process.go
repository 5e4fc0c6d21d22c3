package process

import (
	"context"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reddot-watch/newsdesk/internal/apperr"
	"reddot-watch/newsdesk/internal/events"
	"reddot-watch/newsdesk/internal/incoming"
	"reddot-watch/newsdesk/internal/metrics"
	"reddot-watch/newsdesk/internal/models"
	"reddot-watch/newsdesk/internal/store"
)

// PullStore is the persistence the puller needs.
type PullStore interface {
	store.IncomingStore
	store.SettingsStore
	store.SourceStore
}

// Summary reports the outcome of one pull run.
type Summary struct {
	Added     int      `json:"added"`
	Skipped   int      `json:"skipped"`
	Truncated int      `json:"truncated"`
	Examined  int      `json:"examined"`
	Evicted   int      `json:"evicted"`
	Errors    []string `json:"errors"`
}

// evictionClasses lists, in order, the statuses the backlog cap may evict.
var evictionClasses = [][]models.Status{
	{models.StatusIgnored, models.StatusPublished},
	{models.StatusNew},
}

// FeedPuller fetches the enabled sources of the registry in parallel and
// turns their entries into new incoming items.
type FeedPuller struct {
	store       PullStore
	reader      Reader
	events      events.Publisher
	WorkerCount int

	running atomic.Bool
	now     func() time.Time
}

type fetchJob struct {
	index  int
	source models.RssSource
}

type fetchResult struct {
	entries []Entry
	err     error
}

// NewFeedPuller creates a puller. A non-positive workerCount uses one worker per CPU.
func NewFeedPuller(s PullStore, reader Reader, pub events.Publisher, workerCount int) *FeedPuller {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &FeedPuller{
		store:       s,
		reader:      reader,
		events:      pub,
		WorkerCount: workerCount,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Pull executes one run. A run requested while another is in progress is
// rejected with a Conflict error.
func (p *FeedPuller) Pull(ctx context.Context) (*Summary, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, apperr.New(apperr.Conflict, "pull already running")
	}
	defer p.running.Store(false)

	start := time.Now()
	summary, err := p.pull(ctx)
	metrics.PullDuration.Observe(time.Since(start).Seconds())
	metrics.PullRuns.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	metrics.PullItems.WithLabelValues("added").Add(float64(summary.Added))
	metrics.PullItems.WithLabelValues("skipped").Add(float64(summary.Skipped))
	metrics.PullItems.WithLabelValues("truncated").Add(float64(summary.Truncated))
	metrics.PullItems.WithLabelValues("evicted").Add(float64(summary.Evicted))

	events.Emit(ctx, p.events, events.SubjectIncomingPulled, events.IncomingPulled{
		Added:     summary.Added,
		Skipped:   summary.Skipped,
		Truncated: summary.Truncated,
		Evicted:   summary.Evicted,
	})

	log.Info().
		Int("added", summary.Added).
		Int("skipped", summary.Skipped).
		Int("truncated", summary.Truncated).
		Int("examined", summary.Examined).
		Int("evicted", summary.Evicted).
		Strs("failed_sources", summary.Errors).
		Dur("duration", time.Since(start)).
		Msg("Feed pull finished")
	return summary, nil
}

// Running reports whether a pull is in progress.
func (p *FeedPuller) Running() bool {
	return p.running.Load()
}

func (p *FeedPuller) pull(ctx context.Context) (*Summary, error) {
	settings, err := p.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	all, err := p.store.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	var sources []models.RssSource
	for _, s := range all {
		if s.Enabled {
			sources = append(sources, s)
		}
	}
	log.Info().
		Int("sources", len(sources)).
		Msg("Loaded enabled sources to pull")

	summary := &Summary{Errors: []string{}}
	results := p.fetchAll(ctx, sources, settings.FetchTimeout())

	var candidates []models.IncomingItem
	seen := make(map[string]bool)
	now := p.now()

	for i, src := range sources {
		res := results[i]
		if res.err != nil {
			summary.Errors = append(summary.Errors, src.Name)
			continue
		}

		existing, err := p.existingByKey(ctx, src, res.entries)
		if err != nil {
			return nil, err
		}

		for _, e := range res.entries {
			if summary.Examined >= settings.RssPollLimitPerRun || len(candidates) >= settings.MaxNewItemsPerRun {
				summary.Truncated++
				continue
			}
			summary.Examined++

			item, ok := buildItem(src, e, settings.Categories, now)
			if !ok {
				summary.Skipped++
				continue
			}
			if seen[item.DedupKey] || isDuplicate(item, existing[item.DedupKey], settings.DedupWindow()) {
				summary.Skipped++
				continue
			}
			seen[item.DedupKey] = true
			candidates = append(candidates, item)
		}
	}

	if len(candidates) == 0 {
		return summary, nil
	}

	room, evicted, err := p.makeRoom(ctx, settings.IncomingMaxItems, len(candidates))
	if err != nil {
		return nil, err
	}
	summary.Evicted = evicted
	if room < len(candidates) {
		summary.Truncated += len(candidates) - room
		candidates = candidates[:room]
	}
	if len(candidates) == 0 {
		return summary, nil
	}

	if err := p.store.InsertIncoming(ctx, candidates); err != nil {
		return nil, err
	}
	summary.Added = len(candidates)

	if n, err := p.store.CountIncoming(ctx); err == nil {
		metrics.IncomingItems.Set(float64(n))
	}
	return summary, nil
}

// fetchAll reads every source through the worker pool. Results are indexed
// like sources so they can be consumed in registry order.
func (p *FeedPuller) fetchAll(ctx context.Context, sources []models.RssSource, timeout time.Duration) []fetchResult {
	results := make([]fetchResult, len(sources))
	queue := make(chan fetchJob, len(sources))
	for i, s := range sources {
		queue <- fetchJob{index: i, source: s}
	}
	close(queue)

	workers := min(p.WorkerCount, len(sources))
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.fetchWorker(ctx, queue, results, timeout)
		}()
	}
	wg.Wait()
	return results
}

func (p *FeedPuller) fetchWorker(ctx context.Context, queue <-chan fetchJob, results []fetchResult, timeout time.Duration) {
	for job := range queue {
		if ctx.Err() != nil {
			results[job.index] = fetchResult{err: ctx.Err()}
			continue
		}

		fetchCtx, cancel := context.WithTimeout(ctx, timeout)
		entries, err := p.reader.Read(fetchCtx, job.source.URL)
		cancel()

		results[job.index] = fetchResult{entries: entries, err: err}
		if err != nil {
			metrics.FeedFetches.WithLabelValues(job.source.Name, string(apperr.KindOf(err))).Inc()
			log.Warn().
				Err(err).
				Str("source", job.source.Name).
				Str("url", job.source.URL).
				Msg("Failed to fetch feed")
			continue
		}
		metrics.FeedFetches.WithLabelValues(job.source.Name, "ok").Inc()
		log.Debug().
			Str("source", job.source.Name).
			Int("entries", len(entries)).
			Msg("Feed fetched")
	}
}

// existingByKey loads the stored items sharing a dedup key with the entries of src.
func (p *FeedPuller) existingByKey(ctx context.Context, src models.RssSource, entries []Entry) (map[string][]models.IncomingItem, error) {
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, incoming.DedupKey(src.URL, e.URL, e.Title, e.PublishedAt))
	}
	out := make(map[string][]models.IncomingItem)
	if len(keys) == 0 {
		return out, nil
	}

	items, err := p.store.ListIncoming(ctx, store.IncomingFilter{DedupKeys: keys})
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		out[it.DedupKey] = append(out[it.DedupKey], it)
	}
	return out, nil
}

// isDuplicate reports whether a non-ignored item with the same key was
// published within window of the candidate.
func isDuplicate(candidate models.IncomingItem, existing []models.IncomingItem, window time.Duration) bool {
	for _, it := range existing {
		if it.Status() == models.StatusIgnored {
			continue
		}
		if incoming.WithinWindow(it.PublishedAt, candidate.PublishedAt, window) {
			return true
		}
	}
	return false
}

// makeRoom evicts enough items for n insertions to fit under maxItems and
// returns how many insertions fit.
func (p *FeedPuller) makeRoom(ctx context.Context, maxItems, n int) (int, int, error) {
	count, err := p.store.CountIncoming(ctx)
	if err != nil {
		return 0, 0, err
	}
	excess := count + n - maxItems
	evicted := 0

	for _, class := range evictionClasses {
		if excess <= 0 {
			break
		}
		victims, err := p.store.ListIncoming(ctx, store.IncomingFilter{
			Statuses:    class,
			OldestFirst: true,
			Limit:       excess,
		})
		if err != nil {
			return 0, evicted, err
		}
		if len(victims) == 0 {
			continue
		}
		ids := make([]string, len(victims))
		for i, v := range victims {
			ids[i] = v.ID
		}
		if err := p.store.DeleteIncoming(ctx, ids); err != nil {
			return 0, evicted, err
		}
		evicted += len(ids)
		excess -= len(ids)
		log.Info().
			Int("evicted", len(ids)).
			Str("class", string(class[0])).
			Msg("Evicted incoming items over backlog cap")
	}

	if excess <= 0 {
		return n, evicted, nil
	}
	return max(n-excess, 0), evicted, nil
}

// buildItem converts a feed entry into a new incoming item. Entries without
// a title cannot be edited and are rejected.
func buildItem(src models.RssSource, e Entry, allowed []string, now time.Time) (models.IncomingItem, bool) {
	title := e.Title
	if title == "" {
		title = truncateRunes(e.Summary, 200)
	}
	if title == "" {
		return models.IncomingItem{}, false
	}

	published := e.PublishedAt
	if published.IsZero() {
		published = now
	}

	category := src.DefaultCategory
	for _, c := range e.Categories {
		if slices.Contains(allowed, c) {
			category = c
			break
		}
	}
	tags := slices.Clone(src.DefaultTags)
	if len(e.Categories) > 0 {
		tags = slices.Clone(e.Categories)
	}

	return models.IncomingItem{
		ID:          uuid.NewString(),
		PublishedAt: published,
		Source: models.ItemSource{
			Name:    src.Name,
			FeedURL: src.URL,
			ItemURL: e.URL,
			Title:   e.Title,
		},
		Raw: models.RawContent{
			Title:   title,
			Summary: e.Summary,
			Text:    e.Text,
		},
		Image:     e.Image,
		Category:  category,
		Tags:      tags,
		DedupKey:  incoming.DedupKey(src.URL, e.URL, e.Title, e.PublishedAt),
		CreatedAt: now,
		UpdatedAt: now,
		State:     models.Pending{},
	}, true
}

// Run pulls every interval until ctx is done.
func (p *FeedPuller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", interval).
		Msg("Scheduled feed pulls enabled")

	for {
		select {
		case <-ticker.C:
			if _, err := p.Pull(ctx); err != nil {
				if apperr.Is(err, apperr.Conflict) {
					log.Debug().Msg("Scheduled pull skipped, another pull is running")
					continue
				}
				log.Error().Err(err).Msg("Scheduled pull failed")
			}
		case <-ctx.Done():
			log.Info().
				Err(ctx.Err()).
				Msg("Feed pull scheduler stopping")
			return
		}
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
