package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"vjudge/internal/common/cache"
	"vjudge/pkg/utils/logger"

	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"
)

// ImportGuard keeps two workers from importing the same remote problem into a domain at once.
type ImportGuard interface {
	// Acquire returns ok=false when the pair is already being imported.
	// release must be called exactly once when ok is true.
	Acquire(ctx context.Context, domainID, remoteID string) (release func(), ok bool)
}

// SyncGuard is the in-process set of imports in flight.
type SyncGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func NewSyncGuard() *SyncGuard {
	return &SyncGuard{active: make(map[string]struct{})}
}

func guardKey(domainID, remoteID string) string {
	return domainID + "/" + remoteID
}

func (g *SyncGuard) Acquire(_ context.Context, domainID, remoteID string) (func(), bool) {
	key := guardKey(domainID, remoteID)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.active[key]; held {
		return nil, false
	}
	g.active[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, key)
			g.mu.Unlock()
		})
	}, true
}

// Held reports whether the pair is being imported.
func (g *SyncGuard) Held(domainID, remoteID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.active[guardKey(domainID, remoteID)]
	return held
}

// DistributedGuard extends SyncGuard across processes with a Redis lock.
// The lock is extended while the import runs. When Redis is unreachable it
// degrades to the local guard.
type DistributedGuard struct {
	local  *SyncGuard
	locks  cache.LockOps
	ttl    time.Duration
	prefix string
}

func NewDistributedGuard(local *SyncGuard, locks cache.LockOps, ttl time.Duration) *DistributedGuard {
	if local == nil {
		local = NewSyncGuard()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &DistributedGuard{local: local, locks: locks, ttl: ttl, prefix: "vjudge:import:"}
}

func (g *DistributedGuard) Acquire(ctx context.Context, domainID, remoteID string) (func(), bool) {
	releaseLocal, ok := g.local.Acquire(ctx, domainID, remoteID)
	if !ok {
		return nil, false
	}
	key := g.prefix + guardKey(domainID, remoteID)
	token, ok, err := g.locks.TryLock(ctx, key, g.ttl)
	if err != nil {
		logger.Warn(ctx, "import lock unavailable, using local guard only", zap.String("key", key), zap.Error(err))
		return releaseLocal, true
	}
	if !ok {
		releaseLocal()
		return nil, false
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	threading.GoSafe(func() {
		defer close(done)
		g.keepAlive(context.WithoutCancel(ctx), key, token, stop)
	})
	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			if err := g.locks.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
				logger.Warn(ctx, "release import lock failed", zap.String("key", key), zap.Error(err))
			}
			releaseLocal()
		})
	}, true
}

// keepAlive extends the lock every third of its ttl until stop is closed.
func (g *DistributedGuard) keepAlive(ctx context.Context, key, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(g.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := g.locks.ExtendLock(ctx, key, token, g.ttl); err != nil {
				logger.Warn(ctx, "extend import lock failed", zap.String("key", key), zap.Error(err))
				if errors.Is(err, cache.ErrLockNotHeld) {
					return
				}
			}
		}
	}
}

var (
	_ ImportGuard = (*SyncGuard)(nil)
	_ ImportGuard = (*DistributedGuard)(nil)
)
