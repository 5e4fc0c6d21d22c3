// Package incoming owns the editorial lifecycle of incoming items.
package incoming

import (
	"slices"

	"reddot-watch/newsdesk/internal/apperr"
	"reddot-watch/newsdesk/internal/models"
)

// transitions lists the legal moves. ignored and published are terminal.
var transitions = map[models.Status][]models.Status{
	models.StatusNew:       {models.StatusRewriting, models.StatusIgnored},
	models.StatusRewriting: {models.StatusRewritten, models.StatusError},
	models.StatusRewritten: {models.StatusIgnored, models.StatusPublished},
	models.StatusError:     {models.StatusRewriting, models.StatusIgnored},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to models.Status) bool {
	return slices.Contains(transitions[from], to)
}

// Params carries the data a target state needs.
type Params struct {
	Result    *models.RewriteResult // rewritten
	Err       string                // error
	ArticleID string                // published
}

// Apply computes the state reached from current by moving to the given status.
// The current state is never modified.
func Apply(current models.State, to models.Status, p Params) (models.State, error) {
	if current == nil {
		current = models.Pending{}
	}
	from := current.Status()
	if !CanTransition(from, to) {
		return nil, apperr.New(apperr.InvalidTransition, "cannot move item from %s to %s", from, to)
	}

	last := models.LastResult(current)
	switch to {
	case models.StatusRewriting:
		return models.Rewriting{Last: last}, nil
	case models.StatusRewritten:
		if p.Result == nil {
			return nil, apperr.New(apperr.ValidationFailure, "rewritten status requires a rewrite result")
		}
		return models.Rewritten{Result: *p.Result.Clone()}, nil
	case models.StatusError:
		msg := p.Err
		if msg == "" {
			msg = "rewrite failed"
		}
		return models.Failed{Err: msg, Last: last}, nil
	case models.StatusIgnored:
		return models.Ignored{Last: last}, nil
	case models.StatusPublished:
		if p.ArticleID == "" {
			return nil, apperr.New(apperr.ValidationFailure, "published status requires publishedNewsId")
		}
		return models.Published{ArticleID: p.ArticleID, Result: last}, nil
	}
	return nil, apperr.New(apperr.InvalidTransition, "cannot move item from %s to %s", from, to)
}
