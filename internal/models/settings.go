package models

import "time"

// Settings is the editorial Config Store document. NewsVersion is owned by the
// Publish Store and only advances through a successful article save.
type Settings struct {
	RssPollLimitPerRun int      `json:"rssPollLimitPerRun" validate:"min=1"`
	IncomingMaxItems   int      `json:"incomingMaxItems" validate:"min=1"`
	MaxNewItemsPerRun  int      `json:"maxNewItemsPerRun" validate:"min=1"`
	DedupWindowDays    int      `json:"dedupWindowDays" validate:"min=0"`
	FetchTimeoutSec    int      `json:"fetchTimeoutSec" validate:"min=1,max=300"`
	RewriteMaxChars    int      `json:"rewriteMaxChars" validate:"min=100"`
	RewriteTimeoutSec  int      `json:"rewriteTimeoutSec" validate:"min=1,max=600"`
	RewriteTemperature float64  `json:"rewriteTemperature" validate:"gte=0,lte=2"`
	NewsVersion        int64    `json:"newsVersion"`
	Categories         []string `json:"categories" validate:"min=1,dive,required"`
}

// DefaultSettings returns the values used until an administrator saves settings.
func DefaultSettings() Settings {
	return Settings{
		RssPollLimitPerRun: 200,
		IncomingMaxItems:   2000,
		MaxNewItemsPerRun:  50,
		DedupWindowDays:    7,
		FetchTimeoutSec:    15,
		RewriteMaxChars:    12000,
		RewriteTimeoutSec:  90,
		RewriteTemperature: 0.4,
		Categories:         []string{"news", "politics", "economy", "society", "culture", "sport", "tech"},
	}
}

// Validate checks the limits.
func (s *Settings) Validate() error {
	return validateStruct("settings", s)
}

func (s *Settings) FetchTimeout() time.Duration {
	return time.Duration(s.FetchTimeoutSec) * time.Second
}

func (s *Settings) RewriteTimeout() time.Duration {
	return time.Duration(s.RewriteTimeoutSec) * time.Second
}

// DedupWindow is the span within which two entries with the same key are duplicates.
func (s *Settings) DedupWindow() time.Duration {
	return time.Duration(s.DedupWindowDays) * 24 * time.Hour
}
