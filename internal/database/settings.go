package database

import (
	"context"
	"encoding/json"

	"reddot-watch/newsdesk/internal/apperr"
	"reddot-watch/newsdesk/internal/models"
)

type settingsRow struct {
	Doc         string `db:"doc"`
	NewsVersion int64  `db:"news_version"`
}

// GetSettings returns the stored document over the defaults, so fields added
// later keep their default value.
func (db *DB) GetSettings(ctx context.Context) (models.Settings, error) {
	var row settingsRow
	if err := db.GetContext(ctx, &row, "SELECT doc, news_version FROM settings WHERE id = 1"); err != nil {
		return models.Settings{}, apperr.Wrap(apperr.StorageFailure, err, "load settings")
	}

	settings := models.DefaultSettings()
	if err := json.Unmarshal([]byte(row.Doc), &settings); err != nil {
		return models.Settings{}, apperr.Wrap(apperr.StorageFailure, err, "decode settings")
	}
	settings.NewsVersion = row.NewsVersion
	return settings, nil
}

func (db *DB) PutSettings(ctx context.Context, s models.Settings) error {
	s.NewsVersion = 0
	doc, err := json.Marshal(s)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, err, "encode settings")
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if _, err := db.ExecContext(ctx, db.Rebind("UPDATE settings SET doc = ? WHERE id = 1"), string(doc)); err != nil {
		return apperr.Wrap(apperr.StorageFailure, err, "write settings")
	}
	return nil
}

// CheckWrite performs a write inside a transaction and rolls it back.
func (db *DB) CheckWrite(ctx context.Context) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, err, "begin write probe")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE settings SET doc = doc WHERE id = 1"); err != nil {
		return apperr.Wrap(apperr.StorageFailure, err, "write probe")
	}
	return nil
}
