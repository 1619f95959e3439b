package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"vjudge/internal/common/db"
	"vjudge/internal/vjudge/model"
)

// MountRepository stores which domains mirror which remote catalogue.
type MountRepository interface {
	ListByProvider(ctx context.Context, provider string) ([]model.Mount, error)
	// MarkSyncDone records that list finished its first full pass for domainID.
	MarkSyncDone(ctx context.Context, domainID, list string) error
}

type SQLMountRepository struct {
	db db.Database
}

func NewMountRepository(database db.Database) *SQLMountRepository {
	return &SQLMountRepository{db: database}
}

func (r *SQLMountRepository) ListByProvider(ctx context.Context, provider string) ([]model.Mount, error) {
	query := "SELECT domain_id, provider, sync_done FROM vjudge_mount WHERE provider = ? ORDER BY domain_id"
	rows, err := r.db.Query(ctx, query, provider)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mounts []model.Mount
	for rows.Next() {
		mount, err := scanMount(rows)
		if err != nil {
			return nil, err
		}
		mounts = append(mounts, mount)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return mounts, nil
}

func (r *SQLMountRepository) MarkSyncDone(ctx context.Context, domainID, list string) error {
	return r.db.Transaction(ctx, func(tx db.Transaction) error {
		row := tx.QueryRow(ctx, "SELECT domain_id, provider, sync_done FROM vjudge_mount WHERE domain_id = ? FOR UPDATE", domainID)
		mount, err := scanMount(row)
		if err != nil {
			if db.IsNoRows(err) {
				return ErrMountNotFound
			}
			return err
		}
		if mount.Done(list) {
			return nil
		}
		if mount.SyncDone == nil {
			mount.SyncDone = make(map[string]bool)
		}
		mount.SyncDone[list] = true
		raw, err := json.Marshal(mount.SyncDone)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, "UPDATE vjudge_mount SET sync_done = ?, updated_at = ? WHERE domain_id = ?", string(raw), time.Now(), domainID)
		return err
	})
}

func scanMount(scanner db.Row) (model.Mount, error) {
	var (
		mount model.Mount
		raw   sql.NullString
	)
	if err := scanner.Scan(&mount.DomainID, &mount.Provider, &raw); err != nil {
		return model.Mount{}, err
	}
	mount.SyncDone = make(map[string]bool)
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &mount.SyncDone); err != nil {
			return model.Mount{}, fmt.Errorf("mount %s: decode sync_done: %w", mount.DomainID, err)
		}
	}
	return mount, nil
}

var _ MountRepository = (*SQLMountRepository)(nil)
