package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"reddot-watch/newsdesk/internal/apperr"
	"reddot-watch/newsdesk/internal/store"
)

func (db *DB) GetSecret(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := db.GetContext(ctx, &value, db.Rebind("SELECT value FROM secrets WHERE name = ?"), name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Wrap(apperr.StorageFailure, err, "load secret %s", name)
	}
	return value, true, nil
}

func (db *DB) SecretFlags(ctx context.Context) (map[string]bool, error) {
	var names []string
	if err := db.SelectContext(ctx, &names, "SELECT name FROM secrets"); err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, err, "list secrets")
	}

	flags := make(map[string]bool, len(store.KnownSecrets)+len(names))
	for _, name := range store.KnownSecrets {
		flags[name] = false
	}
	for _, name := range names {
		flags[name] = true
	}
	return flags, nil
}

func (db *DB) SetSecrets(ctx context.Context, values map[string]string) error {
	now := formatTime(time.Now())

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	return db.withTx(ctx, func(tx *sqlx.Tx) error {
		for name, value := range values {
			if value == "" {
				if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM secrets WHERE name = ?"), name); err != nil {
					return apperr.Wrap(apperr.StorageFailure, err, "clear secret %s", name)
				}
				continue
			}
			query, args, err := db.sb.Insert("secrets").
				Columns("name", "value", "updated_at").
				Values(name, value, now).
				Suffix("ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
				ToSql()
			if err != nil {
				return apperr.Wrap(apperr.StorageFailure, err, "build secret write")
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return apperr.Wrap(apperr.StorageFailure, err, "write secret %s", name)
			}
		}
		return nil
	})
}
