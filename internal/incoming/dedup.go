package incoming

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// DedupKey derives the stable identity of a feed entry: the feed URL plus the
// entry URL, or the normalized title plus publish day when the entry has no URL.
func DedupKey(feedURL, itemURL, title string, publishedAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(feedURL)))
	h.Write([]byte{0})
	if u := strings.TrimSpace(itemURL); u != "" {
		h.Write([]byte(u))
	} else {
		h.Write([]byte(strings.ToLower(strings.Join(strings.Fields(title), " "))))
		h.Write([]byte{0})
		h.Write([]byte(publishedAt.UTC().Format("2006-01-02")))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// WithinWindow reports whether a and b are at most window apart.
func WithinWindow(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= window
}
