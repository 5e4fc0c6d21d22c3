package database

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"reddot-watch/newsdesk/internal/apperr"
	"reddot-watch/newsdesk/internal/models"
)

func (db *DB) ListArticles(ctx context.Context) ([]models.Article, int64, error) {
	var (
		version int64
		docs    []string
	)
	// Read version and list in one transaction so they describe the same state.
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &version, "SELECT news_version FROM settings WHERE id = 1"); err != nil {
			return apperr.Wrap(apperr.StorageFailure, err, "load news version")
		}
		if err := tx.SelectContext(ctx, &docs, "SELECT doc FROM articles ORDER BY position"); err != nil {
			return apperr.Wrap(apperr.StorageFailure, err, "list articles")
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	articles := make([]models.Article, len(docs))
	for i, doc := range docs {
		if err := json.Unmarshal([]byte(doc), &articles[i]); err != nil {
			return nil, 0, apperr.Wrap(apperr.StorageFailure, err, "decode article")
		}
	}
	return articles, version, nil
}

func (db *DB) SaveArticles(ctx context.Context, articles []models.Article, expectedVersion int64) (int64, error) {
	docs := make([]string, len(articles))
	for i, a := range articles {
		doc, err := json.Marshal(a)
		if err != nil {
			return 0, apperr.Wrap(apperr.StorageFailure, err, "encode article %s", a.ID)
		}
		docs[i] = string(doc)
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			tx.Rebind("UPDATE settings SET news_version = news_version + 1 WHERE id = 1 AND news_version = ?"),
			expectedVersion)
		if err != nil {
			return apperr.Wrap(apperr.StorageFailure, err, "bump news version")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return apperr.Wrap(apperr.StorageFailure, err, "bump news version")
		}
		if n == 0 {
			return apperr.New(apperr.Conflict, "version conflict")
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM articles"); err != nil {
			return apperr.Wrap(apperr.StorageFailure, err, "clear articles")
		}
		for i, a := range articles {
			query, args, err := db.sb.Insert("articles").
				Columns("id", "slug", "position", "doc").
				Values(a.ID, a.Slug, i, docs[i]).
				ToSql()
			if err != nil {
				return apperr.Wrap(apperr.StorageFailure, err, "build article insert")
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return apperr.Wrap(apperr.StorageFailure, err, "write article %s", a.ID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expectedVersion + 1, nil
}
