package process

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reddot-watch/newsdesk/internal/apperr"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Wire</title>
  <link>https://wire.example/</link>
  <item>
    <title>Council approves &lt;b&gt;budget&lt;/b&gt;</title>
    <link>https://wire.example/budget</link>
    <description><![CDATA[<p>The council met on <b>Tuesday</b>.</p><p>It voted 7 to 2.</p><img src="https://img.example/a.jpg">]]></description>
    <category>politics</category>
    <pubDate>Wed, 02 Apr 2025 09:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Second</title>
    <link>https://wire.example/second</link>
    <enclosure url="https://img.example/b.png" length="100" type="image/png"/>
  </item>
</channel>
</rss>`

func TestGofeedReaderParsesRSS(t *testing.T) {
	t.Parallel()

	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	entries, err := NewGofeedReader("newsdesk-test/1.0", srv.Client()).Read(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if gotUA != "newsdesk-test/1.0" {
		t.Fatalf("user agent = %q", gotUA)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	e := entries[0]
	if e.Title != "Council approves budget" {
		t.Fatalf("title = %q", e.Title)
	}
	if e.URL != "https://wire.example/budget" {
		t.Fatalf("url = %q", e.URL)
	}
	if e.Summary != "The council met on Tuesday.\n\nIt voted 7 to 2." {
		t.Fatalf("summary = %q", e.Summary)
	}
	if e.Text != e.Summary {
		t.Fatalf("text should fall back to summary, got %q", e.Text)
	}
	if e.Image != "https://img.example/a.jpg" {
		t.Fatalf("image = %q", e.Image)
	}
	if len(e.Categories) != 1 || e.Categories[0] != "politics" {
		t.Fatalf("categories = %v", e.Categories)
	}
	if !e.PublishedAt.Equal(time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("published = %v", e.PublishedAt)
	}
	if entries[1].Image != "https://img.example/b.png" {
		t.Fatalf("enclosure image = %q", entries[1].Image)
	}
}

func TestGofeedReaderErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/slow":
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
		default:
			_, _ = w.Write([]byte("this is not a feed"))
		}
	}))
	defer srv.Close()

	reader := NewGofeedReader("", srv.Client())

	if _, err := reader.Read(context.Background(), srv.URL+"/missing"); !apperr.Is(err, apperr.ExternalFailure) || !strings.Contains(err.Error(), "404") {
		t.Fatalf("404: got %v", err)
	}
	if _, err := reader.Read(context.Background(), srv.URL+"/garbage"); !apperr.Is(err, apperr.ExternalFailure) {
		t.Fatalf("garbage: got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := reader.Read(ctx, srv.URL+"/slow"); !apperr.Is(err, apperr.ExternalTimeout) {
		t.Fatalf("slow: expected ExternalTimeout, got %v", err)
	}
}

func TestHTMLToText(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"plain   text\n here":                    "plain text here",
		"Hello <b>world</b>":                     "Hello world",
		"<p>One</p><p>Two</p>":                   "One\n\nTwo",
		"<div>Keep<script>drop()</script></div>": "Keep",
		"Fish &amp; chips":                       "Fish & chips",
		"":                                       "",
	}
	for in, want := range tests {
		if got := htmlToText(in); got != want {
			t.Fatalf("htmlToText(%q) = %q, want %q", in, got, want)
		}
	}
}
