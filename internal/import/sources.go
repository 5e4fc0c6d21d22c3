package importsources

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"reddot-watch/newsdesk/internal/models"
	"reddot-watch/newsdesk/internal/store"
)

// Result summarizes an import.
type Result struct {
	Imported int
	Errors   []string
}

// Importer loads the feed registry from CSV
type Importer struct {
	store      store.SourceStore
	httpClient *http.Client
}

// NewImporter creates a new source importer
func NewImporter(s store.SourceStore, httpClient *http.Client) *Importer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Importer{store: s, httpClient: httpClient}
}

// ImportSources replaces the feed registry with the sources listed in the
// CSV at location, a local path or an http(s) URL. Rows that fail
// validation are reported and skipped.
func (i *Importer) ImportSources(ctx context.Context, location string) (*Result, error) {
	log.Info().Str("csv", location).Msg("Starting source import")

	csvData, err := i.open(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to get CSV data: %w", err)
	}
	defer csvData.Close()

	sources, result, err := parseSources(csvData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sources: %w", err)
	}

	if err := i.store.ReplaceSources(ctx, sources); err != nil {
		return nil, fmt.Errorf("failed to store sources: %w", err)
	}
	result.Imported = len(sources)

	log.Info().
		Int("imported", result.Imported).
		Int("errors", len(result.Errors)).
		Msg("Import summary")
	return result, nil
}

func (i *Importer) open(ctx context.Context, location string) (io.ReadCloser, error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		log.Info().Str("path", location).Msg("Using local CSV file")
		return os.Open(location)
	}

	log.Debug().Str("url", location).Msg("Downloading CSV file")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to download file: HTTP status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func parseSources(csvData io.Reader) ([]models.RssSource, *Result, error) {
	reader := csv.NewReader(csvData)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, err
	}
	log.Debug().Strs("header", header).Msg("CSV header read")

	nameIdx := findColumnIndex(header, "name")
	urlIdx := findColumnIndex(header, "url")
	if nameIdx < 0 || urlIdx < 0 {
		return nil, nil, fmt.Errorf("CSV header needs 'name' and 'url' columns")
	}
	enabledIdx := findColumnIndex(header, "enabled")
	categoryIdx := findColumnIndex(header, "category")
	tagsIdx := findColumnIndex(header, "tags")

	result := &Result{}
	var sources []models.RssSource
	names := make(map[string]bool)
	urls := make(map[string]bool)

	lineCount := 1 // Header was already read
	for {
		lineCount++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Int("line", lineCount).Msg("Error reading CSV line")
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineCount, err))
			continue
		}
		if len(record) == 0 || (len(record) == 1 && record[0] == "") {
			continue
		}

		src := models.NewRssSource(field(record, nameIdx), field(record, urlIdx))
		if raw := field(record, enabledIdx); raw != "" {
			enabled, err := strconv.ParseBool(raw)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: invalid enabled value %q", lineCount, raw))
				continue
			}
			src.Enabled = enabled
		}
		src.DefaultCategory = field(record, categoryIdx)
		src.DefaultTags = splitTags(field(record, tagsIdx))

		logger := log.With().
			Int("line", lineCount).
			Str("source", src.Name).
			Str("url", src.URL).
			Logger()

		if err := src.Validate(); err != nil {
			logger.Warn().Err(err).Msg("Skipping invalid source")
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineCount, err))
			continue
		}
		if names[src.Name] || urls[src.URL] {
			logger.Warn().Msg("Duplicate source")
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: duplicate source %s", lineCount, src.Name))
			continue
		}
		names[src.Name] = true
		urls[src.URL] = true

		sources = append(sources, *src)
		logger.Debug().Msg("Source accepted")
	}
	return sources, result, nil
}

// splitTags accepts tags separated by '|' or ';'.
func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.FieldsFunc(raw, func(r rune) bool { return r == '|' || r == ';' }) {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func findColumnIndex(header []string, columnName string) int {
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), columnName) {
			return i
		}
	}
	return -1
}

// field returns the trimmed value at index, or "" when the column is absent.
func field(record []string, index int) string {
	if index >= 0 && index < len(record) {
		return strings.TrimSpace(record[index])
	}
	return ""
}
