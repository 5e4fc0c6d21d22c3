package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"reddot-watch/newsdesk/internal/apperr"
	"reddot-watch/newsdesk/internal/models"
	"reddot-watch/newsdesk/internal/store"
)

const incomingTable = "incoming_items"

func (db *DB) GetIncoming(ctx context.Context, id string) (*models.IncomingItem, error) {
	return getIncoming(ctx, db.DB, id)
}

func getIncoming(ctx context.Context, q sqlx.ExtContext, id string) (*models.IncomingItem, error) {
	var doc string
	err := sqlx.GetContext(ctx, q, &doc, q.Rebind("SELECT doc FROM incoming_items WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "incoming item %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, err, "load incoming item %s", id)
	}

	var it models.IncomingItem
	if err := json.Unmarshal([]byte(doc), &it); err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, err, "decode incoming item %s", id)
	}
	return &it, nil
}

func (db *DB) ListIncoming(ctx context.Context, f store.IncomingFilter) ([]models.IncomingItem, error) {
	q := db.sb.Select("doc").From(incomingTable)

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where(sq.Eq{"status": statuses})
	}
	if len(f.DedupKeys) > 0 {
		q = q.Where(sq.Eq{"dedup_key": f.DedupKeys})
	}

	if f.OldestFirst {
		q = q.OrderBy("published_at ASC", "id ASC")
	} else {
		if f.After != nil {
			ts := formatTime(f.After.CreatedAt)
			q = q.Where(sq.Or{
				sq.Lt{"created_at": ts},
				sq.And{sq.Eq{"created_at": ts}, sq.Lt{"id": f.After.ID}},
			})
		}
		q = q.OrderBy("created_at DESC", "id DESC")
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, err, "build incoming query")
	}

	var docs []string
	if err := db.SelectContext(ctx, &docs, query, args...); err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, err, "list incoming items")
	}

	items := make([]models.IncomingItem, len(docs))
	for i, doc := range docs {
		if err := json.Unmarshal([]byte(doc), &items[i]); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, err, "decode incoming item")
		}
	}
	return items, nil
}

func (db *DB) CountIncoming(ctx context.Context) (int, error) {
	var n int
	if err := db.GetContext(ctx, &n, "SELECT COUNT(*) FROM incoming_items"); err != nil {
		return 0, apperr.Wrap(apperr.StorageFailure, err, "count incoming items")
	}
	return n, nil
}

func (db *DB) InsertIncoming(ctx context.Context, items []models.IncomingItem) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	return db.withTx(ctx, func(tx *sqlx.Tx) error {
		query, args, err := db.sb.Select("COUNT(*)").From(incomingTable).Where(sq.Eq{"id": ids}).ToSql()
		if err != nil {
			return apperr.Wrap(apperr.StorageFailure, err, "build incoming query")
		}
		var existing int
		if err := tx.GetContext(ctx, &existing, query, args...); err != nil {
			return apperr.Wrap(apperr.StorageFailure, err, "check incoming ids")
		}
		if existing > 0 {
			return apperr.New(apperr.Conflict, "%d incoming items already exist", existing)
		}

		for _, it := range items {
			if err := db.writeIncoming(ctx, tx, it, false); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) PutIncoming(ctx context.Context, item models.IncomingItem) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	return db.withTx(ctx, func(tx *sqlx.Tx) error {
		return db.writeIncoming(ctx, tx, item, true)
	})
}

func (db *DB) UpdateIncoming(ctx context.Context, id string, fn func(*models.IncomingItem) error) (*models.IncomingItem, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	var updated *models.IncomingItem
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		it, err := getIncoming(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(it); err != nil {
			return err
		}
		it.ID = id
		if err := db.writeIncoming(ctx, tx, *it, true); err != nil {
			return err
		}
		updated = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (db *DB) DeleteIncoming(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := db.sb.Delete(incomingTable).Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, err, "build incoming delete")
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return apperr.Wrap(apperr.StorageFailure, err, "delete incoming items")
	}
	return nil
}

func (db *DB) writeIncoming(ctx context.Context, tx *sqlx.Tx, it models.IncomingItem, upsert bool) error {
	doc, err := json.Marshal(it)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, err, "encode incoming item %s", it.ID)
	}

	q := db.sb.Insert(incomingTable).
		Columns("id", "dedup_key", "status", "published_at", "created_at", "updated_at", "doc").
		Values(it.ID, it.DedupKey, string(it.Status()), formatTime(it.PublishedAt), formatTime(it.CreatedAt), formatTime(it.UpdatedAt), string(doc))
	if upsert {
		q = q.Suffix(`ON CONFLICT (id) DO UPDATE SET
			dedup_key = excluded.dedup_key,
			status = excluded.status,
			published_at = excluded.published_at,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			doc = excluded.doc`)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, err, "build incoming write")
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return apperr.Wrap(apperr.StorageFailure, err, "write incoming item %s", it.ID)
	}
	return nil
}
