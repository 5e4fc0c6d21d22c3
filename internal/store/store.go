// Package store declares the persistence boundaries of the pipeline. Each
// store is an independently addressable document set; implementations live in
// internal/database (SQL) and internal/store/memstore (in-memory).
package store

import (
	"context"
	"time"

	"reddot-watch/newsdesk/internal/models"
)

// Cursor positions a newest-first incoming listing.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// IncomingFilter selects incoming items. The zero value lists everything,
// newest first.
type IncomingFilter struct {
	Statuses  []models.Status
	DedupKeys []string
	// OldestFirst orders by publishedAt then id ascending (eviction order).
	OldestFirst bool
	After       *Cursor
	Limit       int
}

// IncomingStore persists incoming items.
type IncomingStore interface {
	GetIncoming(ctx context.Context, id string) (*models.IncomingItem, error)
	ListIncoming(ctx context.Context, filter IncomingFilter) ([]models.IncomingItem, error)
	CountIncoming(ctx context.Context) (int, error)
	InsertIncoming(ctx context.Context, items []models.IncomingItem) error
	PutIncoming(ctx context.Context, item models.IncomingItem) error
	// UpdateIncoming runs fn on the stored item and persists the result
	// atomically. If fn returns an error nothing is written.
	UpdateIncoming(ctx context.Context, id string, fn func(*models.IncomingItem) error) (*models.IncomingItem, error)
	DeleteIncoming(ctx context.Context, ids []string) error
}

// ArticleStore is the version-guarded Publish Store.
type ArticleStore interface {
	// ListArticles returns the article list and the current news version.
	ListArticles(ctx context.Context) ([]models.Article, int64, error)
	// SaveArticles replaces the list if expectedVersion matches the current
	// version and returns the incremented version; otherwise it fails with a
	// Conflict and writes nothing.
	SaveArticles(ctx context.Context, articles []models.Article, expectedVersion int64) (int64, error)
}

// SettingsStore holds the editorial Config document.
type SettingsStore interface {
	GetSettings(ctx context.Context) (models.Settings, error)
	// PutSettings stores s; the stored news version is left untouched.
	PutSettings(ctx context.Context, s models.Settings) error
	CheckWrite(ctx context.Context) error
}

// SourceStore holds the ordered Feed Registry.
type SourceStore interface {
	ListSources(ctx context.Context) ([]models.RssSource, error)
	ReplaceSources(ctx context.Context, sources []models.RssSource) error
}

// SecretStore holds credentials. Values never leave the process through the API.
type SecretStore interface {
	GetSecret(ctx context.Context, name string) (string, bool, error)
	SecretFlags(ctx context.Context) (map[string]bool, error)
	// SetSecrets stores the given values; an empty value clears the secret.
	SetSecrets(ctx context.Context, values map[string]string) error
}

// Store bundles every store of the pipeline.
type Store interface {
	IncomingStore
	ArticleStore
	SettingsStore
	SourceStore
	SecretStore
}

// Secret names known to the pipeline.
const (
	SecretRewriteEndpoint = "rewrite_endpoint"
	SecretRewriteKey      = "rewrite_secret"
)

// KnownSecrets lists the secrets reported by SecretFlags even when unset.
var KnownSecrets = []string{SecretRewriteEndpoint, SecretRewriteKey}
