package incoming

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reddot-watch/newsdesk/internal/apperr"
	"reddot-watch/newsdesk/internal/models"
	"reddot-watch/newsdesk/internal/store"
)

// MsgInterrupted is recorded on items whose rewrite was cut short by a restart.
const MsgInterrupted = "rewrite interrupted"

// Service exposes the editor-facing operations on incoming items.
type Service struct {
	store store.IncomingStore
	now   func() time.Time
}

// NewService creates a service over the given store.
func NewService(s store.IncomingStore) *Service {
	return &Service{
		store: s,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Get(ctx context.Context, id string) (*models.IncomingItem, error) {
	return s.store.GetIncoming(ctx, id)
}

func (s *Service) List(ctx context.Context, filter store.IncomingFilter) ([]models.IncomingItem, error) {
	return s.store.ListIncoming(ctx, filter)
}

// Upsert stores editor-supplied content. A new item starts in the new state;
// an existing item keeps its state, creation time and dedup key.
func (s *Service) Upsert(ctx context.Context, item models.IncomingItem) (*models.IncomingItem, error) {
	if item.Raw.Title == "" {
		return nil, apperr.New(apperr.ValidationFailure, "incoming item needs raw.title")
	}
	now := s.now()
	item.UpdatedAt = now

	if item.ID != "" {
		updated, err := s.store.UpdateIncoming(ctx, item.ID, func(cur *models.IncomingItem) error {
			item.State = cur.State
			item.CreatedAt = cur.CreatedAt
			if item.DedupKey == "" {
				item.DedupKey = cur.DedupKey
			}
			*cur = item
			return nil
		})
		if err == nil || !apperr.Is(err, apperr.NotFound) {
			return updated, err
		}
	} else {
		item.ID = uuid.NewString()
	}

	if item.PublishedAt.IsZero() {
		item.PublishedAt = now
	}
	if item.DedupKey == "" {
		item.DedupKey = DedupKey(item.Source.FeedURL, item.Source.ItemURL, item.Raw.Title, item.PublishedAt)
	}
	item.CreatedAt = now
	item.State = models.Pending{}

	if err := s.store.PutIncoming(ctx, item); err != nil {
		return nil, err
	}
	return &item, nil
}

// SetStatus moves an item along the state machine. On any error the stored
// item is left untouched.
func (s *Service) SetStatus(ctx context.Context, id string, to models.Status, p Params) (*models.IncomingItem, error) {
	item, err := s.store.UpdateIncoming(ctx, id, func(it *models.IncomingItem) error {
		next, err := Apply(it.State, to, p)
		if err != nil {
			return err
		}
		it.State = next
		it.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("item_id", id).
		Str("status", string(to)).
		Msg("Incoming item status changed")
	return item, nil
}

// RecoverInterrupted moves items stuck in rewriting (left behind by a stopped
// process) to error so they can be retried.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	stuck, err := s.store.ListIncoming(ctx, store.IncomingFilter{Statuses: []models.Status{models.StatusRewriting}})
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, it := range stuck {
		_, err := s.SetStatus(ctx, it.ID, models.StatusError, Params{Err: MsgInterrupted})
		if err != nil {
			log.Warn().Err(err).Str("item_id", it.ID).Msg("Failed to recover interrupted rewrite")
			continue
		}
		recovered++
	}
	return recovered, nil
}

// BeginRewrite claims the item for a rewrite. At most one rewrite may be in
// flight per item: a second claim fails with Conflict until the first one is
// finished. Besides the table moves (new, error), a rewritten item may be
// rewritten again; its current result is kept as the last result.
func (s *Service) BeginRewrite(ctx context.Context, id string) (*models.IncomingItem, error) {
	return s.store.UpdateIncoming(ctx, id, func(it *models.IncomingItem) error {
		switch it.Status() {
		case models.StatusRewriting:
			return apperr.New(apperr.Conflict, "rewrite already in progress for item %s", id)
		case models.StatusRewritten:
			it.State = models.Rewriting{Last: models.LastResult(it.State)}
		default:
			next, err := Apply(it.State, models.StatusRewriting, Params{})
			if err != nil {
				return err
			}
			it.State = next
		}
		it.UpdatedAt = s.now()
		return nil
	})
}
