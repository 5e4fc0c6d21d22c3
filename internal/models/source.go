package models

import (
	"net/url"

	"reddot-watch/newsdesk/internal/apperr"
)

// RssSource is an entry of the Feed Registry.
type RssSource struct {
	Name            string   `json:"name" validate:"required"`
	URL             string   `json:"url" validate:"required,url"`
	Enabled         bool     `json:"enabled"`
	DefaultCategory string   `json:"defaultCategory,omitempty"`
	DefaultTags     []string `json:"defaultTags,omitempty"`
}

// NewRssSource creates an enabled source.
func NewRssSource(name, feedURL string) *RssSource {
	return &RssSource{
		Name:    name,
		URL:     feedURL,
		Enabled: true,
	}
}

// Validate checks required fields and that the feed URL is http or https.
func (s *RssSource) Validate() error {
	if err := validateStruct("rss source "+s.Name, s); err != nil {
		return err
	}
	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperr.New(apperr.ValidationFailure, "rss source %s: url must be http or https", s.Name)
	}
	return nil
}

// ValidateSources checks every source and that names and URLs are unique.
func ValidateSources(sources []RssSource) error {
	names := make(map[string]bool, len(sources))
	urls := make(map[string]bool, len(sources))
	for i := range sources {
		s := &sources[i]
		if err := s.Validate(); err != nil {
			return err
		}
		if names[s.Name] {
			return apperr.New(apperr.ValidationFailure, "duplicate rss source name %q", s.Name)
		}
		if urls[s.URL] {
			return apperr.New(apperr.ValidationFailure, "duplicate rss source url %q", s.URL)
		}
		names[s.Name] = true
		urls[s.URL] = true
	}
	return nil
}
