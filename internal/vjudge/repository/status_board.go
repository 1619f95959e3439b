package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vjudge/internal/common/cache"
	"vjudge/internal/vjudge/model"
)

const (
	statusBoardPrefix = "vjudge:status:"
	statusBoardHosts  = "vjudge:status-hosts"
)

// StatusBoard publishes the account status of each node so any node can report the whole fleet.
type StatusBoard struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewStatusBoard(cacheClient cache.Cache, ttl time.Duration) *StatusBoard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StatusBoard{cache: cacheClient, ttl: ttl}
}

// Publish replaces the statuses reported by host in one transaction.
func (b *StatusBoard) Publish(ctx context.Context, host string, statuses map[string]model.AccountStatus) error {
	fields := make(map[string]interface{}, len(statuses))
	for account, status := range statuses {
		raw, err := json.Marshal(status)
		if err != nil {
			return err
		}
		fields[account] = string(raw)
	}
	if err := b.cache.HReplace(ctx, statusBoardPrefix+host, fields, cache.JitterTTL(b.ttl)); err != nil {
		return err
	}
	return b.cache.HSet(ctx, statusBoardHosts, host, time.Now().Unix())
}

// Read returns the statuses last published by host.
func (b *StatusBoard) Read(ctx context.Context, host string) (map[string]model.AccountStatus, error) {
	fields, err := b.cache.HGetAll(ctx, statusBoardPrefix+host)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.AccountStatus, len(fields))
	for account, raw := range fields {
		var status model.AccountStatus
		if err := json.Unmarshal([]byte(raw), &status); err != nil {
			return nil, fmt.Errorf("decode status of %s: %w", account, err)
		}
		out[account] = status
	}
	return out, nil
}

// ReadAll returns the statuses of every node that published within the ttl, keyed by host.
func (b *StatusBoard) ReadAll(ctx context.Context) (map[string]map[string]model.AccountStatus, error) {
	hosts, err := b.cache.HGetAll(ctx, statusBoardHosts)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]model.AccountStatus, len(hosts))
	for host := range hosts {
		statuses, err := b.Read(ctx, host)
		if err != nil {
			return nil, err
		}
		if len(statuses) == 0 {
			_ = b.cache.HDel(ctx, statusBoardHosts, host)
			continue
		}
		out[host] = statuses
	}
	return out, nil
}
