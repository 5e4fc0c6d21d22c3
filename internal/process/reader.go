package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/reddot-watch/feedfetcher"

	"reddot-watch/newsdesk/internal/apperr"
)

// Reader kinds selectable in process configuration.
const (
	ReaderGofeed      = "gofeed"
	ReaderFeedfetcher = "feedfetcher"
)

const maxFeedBytes = 10 << 20

// Entry is one parsed feed entry.
type Entry struct {
	URL         string
	Title       string
	Summary     string
	Text        string
	Image       string
	Categories  []string
	PublishedAt time.Time
}

// Reader fetches and parses a feed. Implementations must honour ctx deadlines.
type Reader interface {
	Read(ctx context.Context, feedURL string) ([]Entry, error)
}

// NewReader builds the reader of the given kind.
func NewReader(kind, userAgent string) (Reader, error) {
	switch kind {
	case "", ReaderGofeed:
		return NewGofeedReader(userAgent, nil), nil
	case ReaderFeedfetcher:
		return NewFeedfetcherReader(userAgent), nil
	}
	return nil, fmt.Errorf("unknown feed reader %q", kind)
}

// GofeedReader downloads feeds with net/http and parses RSS, Atom and JSON
// feeds with gofeed.
type GofeedReader struct {
	client    *http.Client
	userAgent string
}

func NewGofeedReader(userAgent string, client *http.Client) *GofeedReader {
	if client == nil {
		client = &http.Client{}
	}
	return &GofeedReader{client: client, userAgent: userAgent}
}

func (r *GofeedReader) Read(ctx context.Context, feedURL string) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.ValidationFailure, err, "invalid feed url")
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, classifyFetchError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.New(apperr.ExternalFailure, "feed returned HTTP %d", resp.StatusCode)
	}

	// Parser keeps per-document state, so one per read.
	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, classifyFetchError(ctx, err)
		}
		return nil, apperr.Wrap(apperr.ExternalFailure, err, "failed to parse feed")
	}

	entries := make([]Entry, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		entries = append(entries, entryFromGofeed(it))
	}
	return entries, nil
}

func entryFromGofeed(it *gofeed.Item) Entry {
	e := Entry{
		URL:        strings.TrimSpace(it.Link),
		Title:      htmlToText(it.Title),
		Summary:    htmlToText(it.Description),
		Text:       htmlToText(it.Content),
		Categories: it.Categories,
	}
	if e.URL == "" && len(it.Links) > 0 {
		e.URL = strings.TrimSpace(it.Links[0])
	}
	if e.Text == "" {
		e.Text = e.Summary
	}

	switch {
	case it.PublishedParsed != nil:
		e.PublishedAt = it.PublishedParsed.UTC()
	case it.UpdatedParsed != nil:
		e.PublishedAt = it.UpdatedParsed.UTC()
	}

	if it.Image != nil && it.Image.URL != "" {
		e.Image = it.Image.URL
	}
	if e.Image == "" {
		for _, enc := range it.Enclosures {
			if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
				e.Image = enc.URL
				break
			}
		}
	}
	if e.Image == "" {
		e.Image = firstImage(it.Content)
	}
	if e.Image == "" {
		e.Image = firstImage(it.Description)
	}
	return e
}

// FeedfetcherReader uses feedfetcher, which applies its own age and heading
// limits to the entries it returns.
type FeedfetcherReader struct {
	fetcher *feedfetcher.FeedFetcher
}

func NewFeedfetcherReader(userAgent string) *FeedfetcherReader {
	return &FeedfetcherReader{
		fetcher: feedfetcher.NewFeedFetcher(feedfetcher.Config{
			UserAgent: userAgent,
			// The caller's context carries the real deadline.
			RequestTimeout:       5 * time.Minute,
			MaxItems:             100,
			MaxHeadingLength:     300,
			MaxAge:               7 * 24 * time.Hour,
			FutureDriftTolerance: 12 * time.Hour,
		}),
	}
}

func (r *FeedfetcherReader) Read(ctx context.Context, feedURL string) ([]Entry, error) {
	items, err := r.fetcher.FetchAndProcess(ctx, feedURL)
	if err != nil {
		return nil, classifyFetchError(ctx, err)
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		text := htmlToText(item.Content)
		entries = append(entries, Entry{
			URL:         item.URL,
			Title:       htmlToText(item.Headline),
			Summary:     text,
			Text:        text,
			Image:       firstImage(item.Content),
			PublishedAt: item.PublishedAt.UTC(),
		})
	}
	return entries, nil
}

func classifyFetchError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.ExternalTimeout, err, "feed fetch timed out")
	}
	return apperr.Wrap(apperr.ExternalFailure, err, "feed fetch failed")
}
