package rewrite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"reddot-watch/newsdesk/internal/apperr"
	"reddot-watch/newsdesk/internal/events"
	"reddot-watch/newsdesk/internal/incoming"
	"reddot-watch/newsdesk/internal/metrics"
	"reddot-watch/newsdesk/internal/models"
	"reddot-watch/newsdesk/internal/store"
)

// finalizeTimeout bounds the write recording the outcome of a call. It runs
// detached from the caller so a cancelled request still clears the guard.
const finalizeTimeout = 10 * time.Second

// Store is the persistence the orchestrator needs.
type Store interface {
	store.IncomingStore
	store.SettingsStore
}

// Orchestrator runs rewrites of incoming items. Rewrites of different items
// run concurrently; each item has at most one in flight.
type Orchestrator struct {
	store       Store
	items       *incoming.Service
	transformer Transformer
	events      events.Publisher
}

func NewOrchestrator(s Store, t Transformer, pub events.Publisher) *Orchestrator {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Orchestrator{
		store:       s,
		items:       incoming.NewService(s),
		transformer: t,
		events:      pub,
	}
}

// Rewrite sends the item's raw content to the transformer and records the
// validated result, or the error, on the item. There is no implicit retry.
func (o *Orchestrator) Rewrite(ctx context.Context, id string) (*models.RewriteResult, error) {
	settings, err := o.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	item, err := o.items.BeginRewrite(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.Conflict) {
			metrics.Rewrites.WithLabelValues("conflict").Inc()
		}
		return nil, err
	}

	logger := log.With().Str("item_id", id).Logger()
	logger.Info().Msg("Rewrite started")

	req := Request{
		Action:      ActionRewrite,
		ID:          item.ID,
		Title:       item.Raw.Title,
		Summary:     item.Raw.Summary,
		Text:        truncateRunes(item.Raw.Text, settings.RewriteMaxChars),
		SourceName:  item.Source.Name,
		SourceURL:   item.Source.ItemURL,
		Category:    item.Category,
		Categories:  settings.Categories,
		Temperature: settings.RewriteTemperature,
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, settings.RewriteTimeout())
	result, err := o.transformer.Transform(callCtx, req)
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()
	metrics.RewriteDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		err = result.Validate(settings.Categories)
	}
	if err != nil {
		if timedOut || errors.Is(err, context.DeadlineExceeded) {
			err = apperr.Wrap(apperr.ExternalTimeout, err, "rewrite timed out after %ds", settings.RewriteTimeoutSec)
		}
		o.finish(ctx, id, models.StatusError, incoming.Params{Err: failureMessage(err)})
		metrics.Rewrites.WithLabelValues(string(apperr.KindOf(err))).Inc()
		logger.Warn().Err(err).Msg("Rewrite failed")
		return nil, err
	}

	if err := o.finish(ctx, id, models.StatusRewritten, incoming.Params{Result: result}); err != nil {
		return nil, err
	}
	metrics.Rewrites.WithLabelValues("ok").Inc()
	logger.Info().
		Dur("duration", time.Since(start)).
		Strs("flags", result.Flags).
		Msg("Rewrite stored")
	return result, nil
}

// finish records the outcome. It must run even when ctx is already
// cancelled, otherwise the item would stay in rewriting.
func (o *Orchestrator) finish(ctx context.Context, id string, to models.Status, p incoming.Params) error {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if _, err := o.items.SetStatus(fctx, id, to, p); err != nil {
		log.Error().
			Err(err).
			Str("item_id", id).
			Str("status", string(to)).
			Msg("Failed to record rewrite outcome")
		return err
	}
	events.Emit(fctx, o.events, events.SubjectItemStatus, events.ItemStatus{ID: id, Status: string(to)})
	return nil
}

// failureMessage is the editor-facing text stored in rewriteError.
func failureMessage(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) && e.Msg != "" {
		if e.Kind == apperr.ExternalTimeout {
			return e.Msg
		}
		return err.Error()
	}
	return fmt.Sprintf("rewrite failed: %v", err)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
