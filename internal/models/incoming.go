package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the editorial status of an incoming item as seen on the wire.
type Status string

const (
	StatusNew       Status = "new"
	StatusRewriting Status = "rewriting"
	StatusRewritten Status = "rewritten"
	StatusError     Status = "error"
	StatusIgnored   Status = "ignored"
	StatusPublished Status = "published"
)

// ParseStatus validates a wire status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusNew, StatusRewriting, StatusRewritten, StatusError, StatusIgnored, StatusPublished:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// State is the closed set of item states. Each variant carries exactly the
// data that is meaningful in that state.
type State interface {
	Status() Status
	isState()
}

// Pending is a freshly ingested item awaiting editorial processing.
type Pending struct{}

// Rewriting marks an in-flight rewrite. Last keeps the previous result, if any.
type Rewriting struct{ Last *RewriteResult }

// Rewritten holds a validated rewrite result.
type Rewritten struct{ Result RewriteResult }

// Failed records the last rewrite error. Last is the most recent successful
// result, kept visible to the editor alongside the error.
type Failed struct {
	Err  string
	Last *RewriteResult
}

// Ignored is terminal.
type Ignored struct{ Last *RewriteResult }

// Published is terminal and points at the Article created from the item.
type Published struct {
	ArticleID string
	Result    *RewriteResult
}

func (Pending) Status() Status   { return StatusNew }
func (Rewriting) Status() Status { return StatusRewriting }
func (Rewritten) Status() Status { return StatusRewritten }
func (Failed) Status() Status    { return StatusError }
func (Ignored) Status() Status   { return StatusIgnored }
func (Published) Status() Status { return StatusPublished }

func (Pending) isState()   {}
func (Rewriting) isState() {}
func (Rewritten) isState() {}
func (Failed) isState()    {}
func (Ignored) isState()   {}
func (Published) isState() {}

// LastResult returns the most recent rewrite result carried by s, if any.
func LastResult(s State) *RewriteResult {
	switch st := s.(type) {
	case Rewriting:
		return st.Last
	case Rewritten:
		r := st.Result
		return &r
	case Failed:
		return st.Last
	case Ignored:
		return st.Last
	case Published:
		return st.Result
	}
	return nil
}

// ItemSource is the provenance of an incoming item.
type ItemSource struct {
	Name    string `json:"name"`
	FeedURL string `json:"feedUrl,omitempty"`
	ItemURL string `json:"itemUrl,omitempty"`
	Title   string `json:"title,omitempty"`
}

// RawContent is the unmodified source content.
type RawContent struct {
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
	Text    string `json:"text,omitempty"`
}

// IncomingItem is one ingested feed entry and its editorial state.
type IncomingItem struct {
	ID          string
	PublishedAt time.Time
	Source      ItemSource
	Raw         RawContent
	Image       string
	Category    string
	Tags        []string
	DedupKey    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	State       State
}

// NewIncomingItem returns an item in the Pending state.
func NewIncomingItem() *IncomingItem {
	now := time.Now().UTC()
	return &IncomingItem{
		CreatedAt: now,
		UpdatedAt: now,
		State:     Pending{},
	}
}

// Status reports the wire status of the item's state.
func (it *IncomingItem) Status() Status {
	if it.State == nil {
		return StatusNew
	}
	return it.State.Status()
}

type incomingJSON struct {
	ID              string         `json:"id"`
	PublishedAt     time.Time      `json:"publishedAt"`
	Source          ItemSource     `json:"source"`
	Raw             RawContent     `json:"raw"`
	Image           string         `json:"image,omitempty"`
	Category        string         `json:"category,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	DedupKey        string         `json:"dedupKey,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	Status          Status         `json:"status"`
	Rewrite         *RewriteResult `json:"rewrite,omitempty"`
	RewriteError    string         `json:"rewriteError,omitempty"`
	PublishedNewsID string         `json:"publishedNewsId,omitempty"`
}

// MarshalJSON flattens the state into status/rewrite/rewriteError/publishedNewsId.
func (it IncomingItem) MarshalJSON() ([]byte, error) {
	w := incomingJSON{
		ID:          it.ID,
		PublishedAt: it.PublishedAt,
		Source:      it.Source,
		Raw:         it.Raw,
		Image:       it.Image,
		Category:    it.Category,
		Tags:        it.Tags,
		DedupKey:    it.DedupKey,
		CreatedAt:   it.CreatedAt,
		UpdatedAt:   it.UpdatedAt,
		Status:      it.Status(),
		Rewrite:     LastResult(it.State),
	}
	switch st := it.State.(type) {
	case Failed:
		w.RewriteError = st.Err
	case Published:
		w.PublishedNewsID = st.ArticleID
	}
	return json.Marshal(w)
}

// UnmarshalJSON rebuilds the state variant from the flat wire fields.
func (it *IncomingItem) UnmarshalJSON(data []byte) error {
	var w incomingJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	state, err := buildState(w)
	if err != nil {
		return err
	}

	*it = IncomingItem{
		ID:          w.ID,
		PublishedAt: w.PublishedAt,
		Source:      w.Source,
		Raw:         w.Raw,
		Image:       w.Image,
		Category:    w.Category,
		Tags:        w.Tags,
		DedupKey:    w.DedupKey,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
		State:       state,
	}
	return nil
}

func buildState(w incomingJSON) (State, error) {
	status := w.Status
	if status == "" {
		status = StatusNew
	}
	switch status {
	case StatusNew:
		return Pending{}, nil
	case StatusRewriting:
		return Rewriting{Last: w.Rewrite}, nil
	case StatusRewritten:
		if w.Rewrite == nil {
			return nil, fmt.Errorf("item %s: status rewritten without rewrite result", w.ID)
		}
		return Rewritten{Result: *w.Rewrite}, nil
	case StatusError:
		return Failed{Err: w.RewriteError, Last: w.Rewrite}, nil
	case StatusIgnored:
		return Ignored{Last: w.Rewrite}, nil
	case StatusPublished:
		return Published{ArticleID: w.PublishedNewsID, Result: w.Rewrite}, nil
	}
	return nil, fmt.Errorf("item %s: unknown status %q", w.ID, w.Status)
}
