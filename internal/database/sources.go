package database

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"reddot-watch/newsdesk/internal/apperr"
	"reddot-watch/newsdesk/internal/models"
)

func (db *DB) ListSources(ctx context.Context) ([]models.RssSource, error) {
	var docs []string
	if err := db.SelectContext(ctx, &docs, "SELECT doc FROM rss_sources ORDER BY position"); err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, err, "list sources")
	}

	sources := make([]models.RssSource, len(docs))
	for i, doc := range docs {
		if err := json.Unmarshal([]byte(doc), &sources[i]); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, err, "decode source")
		}
	}
	return sources, nil
}

func (db *DB) ReplaceSources(ctx context.Context, sources []models.RssSource) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	return db.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM rss_sources"); err != nil {
			return apperr.Wrap(apperr.StorageFailure, err, "clear sources")
		}
		for i, s := range sources {
			doc, err := json.Marshal(s)
			if err != nil {
				return apperr.Wrap(apperr.StorageFailure, err, "encode source %s", s.Name)
			}
			query, args, err := db.sb.Insert("rss_sources").
				Columns("position", "name", "doc").
				Values(i, s.Name, string(doc)).
				ToSql()
			if err != nil {
				return apperr.Wrap(apperr.StorageFailure, err, "build source insert")
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return apperr.Wrap(apperr.StorageFailure, err, "write source %s", s.Name)
			}
		}
		return nil
	})
}
