package repository

import (
	"context"
	"time"

	"vjudge/internal/common/db"
)

// SettingLanguages is the setting holding the platform language table as YAML.
const SettingLanguages = "langs"

// SettingRepository stores system-wide settings as text.
type SettingRepository interface {
	Get(ctx context.Context, name string) (string, error)
	Set(ctx context.Context, name, value string) error
}

type SQLSettingRepository struct {
	db db.Database
}

func NewSettingRepository(database db.Database) *SQLSettingRepository {
	return &SQLSettingRepository{db: database}
}

func (r *SQLSettingRepository) Get(ctx context.Context, name string) (string, error) {
	var value string
	if err := r.db.QueryRow(ctx, "SELECT value FROM system_setting WHERE name = ?", name).Scan(&value); err != nil {
		if db.IsNoRows(err) {
			return "", ErrSettingNotFound
		}
		return "", err
	}
	return value, nil
}

func (r *SQLSettingRepository) Set(ctx context.Context, name, value string) error {
	query := "INSERT INTO system_setting (name, value, updated_at) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)"
	if r.db.Dialect() == db.DialectPostgres {
		query = "INSERT INTO system_setting (name, value, updated_at) VALUES (?, ?, ?) ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at"
	}
	_, err := r.db.Exec(ctx, query, name, value, time.Now())
	return err
}

var _ SettingRepository = (*SQLSettingRepository)(nil)
