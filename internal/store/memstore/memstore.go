// Package memstore is an in-memory store.Store used by tests and ephemeral runs.
package memstore

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"

	"reddot-watch/newsdesk/internal/apperr"
	"reddot-watch/newsdesk/internal/models"
	"reddot-watch/newsdesk/internal/store"
)

// Store keeps every document as serialized JSON so callers never share memory
// with the stored state.
type Store struct {
	mu       sync.Mutex
	incoming map[string][]byte
	articles []byte
	version  int64
	settings []byte
	sources  []byte
	secrets  map[string]string
}

var _ store.Store = (*Store)(nil)

// New returns an empty store with default settings.
func New() *Store {
	settings, _ := json.Marshal(models.DefaultSettings())
	return &Store{
		incoming: make(map[string][]byte),
		articles: []byte("[]"),
		settings: settings,
		sources:  []byte("[]"),
		secrets:  make(map[string]string),
	}
}

func decodeItem(raw []byte) (models.IncomingItem, error) {
	var it models.IncomingItem
	err := json.Unmarshal(raw, &it)
	return it, err
}

func (s *Store) GetIncoming(_ context.Context, id string) (*models.IncomingItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.incoming[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "incoming item %s not found", id)
	}
	it, err := decodeItem(raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, err, "decode incoming item %s", id)
	}
	return &it, nil
}

func (s *Store) ListIncoming(_ context.Context, f store.IncomingFilter) ([]models.IncomingItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]models.IncomingItem, 0, len(s.incoming))
	for id, raw := range s.incoming {
		it, err := decodeItem(raw)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, err, "decode incoming item %s", id)
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, it.Status()) {
			continue
		}
		if len(f.DedupKeys) > 0 && !slices.Contains(f.DedupKeys, it.DedupKey) {
			continue
		}
		items = append(items, it)
	}

	if f.OldestFirst {
		sort.Slice(items, func(i, j int) bool {
			if !items[i].PublishedAt.Equal(items[j].PublishedAt) {
				return items[i].PublishedAt.Before(items[j].PublishedAt)
			}
			return items[i].ID < items[j].ID
		})
	} else {
		sort.Slice(items, func(i, j int) bool {
			if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
				return items[i].CreatedAt.After(items[j].CreatedAt)
			}
			return items[i].ID > items[j].ID
		})
		if f.After != nil {
			kept := items[:0]
			for _, it := range items {
				if it.CreatedAt.Before(f.After.CreatedAt) ||
					(it.CreatedAt.Equal(f.After.CreatedAt) && it.ID < f.After.ID) {
					kept = append(kept, it)
				}
			}
			items = kept
		}
	}

	if f.Limit > 0 && len(items) > f.Limit {
		items = items[:f.Limit]
	}
	return items, nil
}

func (s *Store) CountIncoming(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.incoming), nil
}

func (s *Store) InsertIncoming(_ context.Context, items []models.IncomingItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded := make(map[string][]byte, len(items))
	for _, it := range items {
		if _, exists := s.incoming[it.ID]; exists {
			return apperr.New(apperr.Conflict, "incoming item %s already exists", it.ID)
		}
		raw, err := json.Marshal(it)
		if err != nil {
			return apperr.Wrap(apperr.StorageFailure, err, "encode incoming item %s", it.ID)
		}
		encoded[it.ID] = raw
	}
	for id, raw := range encoded {
		s.incoming[id] = raw
	}
	return nil
}

func (s *Store) PutIncoming(_ context.Context, item models.IncomingItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, err, "encode incoming item %s", item.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.incoming[item.ID] = raw
	return nil
}

func (s *Store) UpdateIncoming(_ context.Context, id string, fn func(*models.IncomingItem) error) (*models.IncomingItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.incoming[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "incoming item %s not found", id)
	}
	it, err := decodeItem(raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, err, "decode incoming item %s", id)
	}
	if err := fn(&it); err != nil {
		return nil, err
	}
	updated, err := json.Marshal(it)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, err, "encode incoming item %s", id)
	}
	s.incoming[id] = updated
	return &it, nil
}

func (s *Store) DeleteIncoming(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.incoming, id)
	}
	return nil
}

func (s *Store) ListArticles(_ context.Context) ([]models.Article, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var articles []models.Article
	if err := json.Unmarshal(s.articles, &articles); err != nil {
		return nil, 0, apperr.Wrap(apperr.StorageFailure, err, "decode articles")
	}
	return articles, s.version, nil
}

func (s *Store) SaveArticles(_ context.Context, articles []models.Article, expectedVersion int64) (int64, error) {
	if articles == nil {
		articles = []models.Article{}
	}
	raw, err := json.Marshal(articles)
	if err != nil {
		return 0, apperr.Wrap(apperr.StorageFailure, err, "encode articles")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.version != expectedVersion {
		return 0, apperr.New(apperr.Conflict, "version conflict")
	}
	s.articles = raw
	s.version++
	return s.version, nil
}

func (s *Store) GetSettings(_ context.Context) (models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := models.DefaultSettings()
	if err := json.Unmarshal(s.settings, &settings); err != nil {
		return models.Settings{}, apperr.Wrap(apperr.StorageFailure, err, "decode settings")
	}
	settings.NewsVersion = s.version
	return settings, nil
}

func (s *Store) PutSettings(_ context.Context, settings models.Settings) error {
	settings.NewsVersion = 0
	raw, err := json.Marshal(settings)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, err, "encode settings")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = raw
	return nil
}

func (s *Store) CheckWrite(_ context.Context) error { return nil }

func (s *Store) ListSources(_ context.Context) ([]models.RssSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sources []models.RssSource
	if err := json.Unmarshal(s.sources, &sources); err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, err, "decode sources")
	}
	return sources, nil
}

func (s *Store) ReplaceSources(_ context.Context, sources []models.RssSource) error {
	if sources == nil {
		sources = []models.RssSource{}
	}
	raw, err := json.Marshal(sources)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, err, "encode sources")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = raw
	return nil
}

func (s *Store) GetSecret(_ context.Context, name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.secrets[name]
	return v, ok, nil
}

func (s *Store) SecretFlags(_ context.Context) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags := make(map[string]bool, len(store.KnownSecrets)+len(s.secrets))
	for _, name := range store.KnownSecrets {
		flags[name] = false
	}
	for name := range s.secrets {
		flags[name] = true
	}
	return flags, nil
}

func (s *Store) SetSecrets(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, v := range values {
		if v == "" {
			delete(s.secrets, name)
			continue
		}
		s.secrets[name] = v
	}
	return nil
}
