package service

import (
	"context"
	"sort"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/penwork/internal/ratelimit"
	"go.uber.org/zap"
)

// keyedMutex serializes work per assignment id inside one process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[snowflake.ID]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[snowflake.ID]*keyedEntry)}
}

func (k *keyedMutex) lock(id snowflake.ID) func() {
	k.mu.Lock()
	entry := k.locks[id]
	if entry == nil {
		entry = &keyedEntry{}
		k.locks[id] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

// assignmentLocks combines the local mutex with the optional Redis lock
// shared by every instance.
type assignmentLocks struct {
	local  *keyedMutex
	remote *ratelimit.Locker
	log    *zap.Logger
}

func lockKey(id snowflake.ID) string {
	return "penwork:lock:assignment:" + id.String()
}

func (l *assignmentLocks) acquire(ctx context.Context, id snowflake.ID) (func(), error) {
	unlockLocal := l.local.lock(id)
	if l.remote == nil {
		return unlockLocal, nil
	}
	key := lockKey(id)
	token, err := l.remote.Lock(ctx, key)
	if err != nil {
		unlockLocal()
		return nil, err
	}
	return func() {
		if err := l.remote.Release(context.Background(), key, token); err != nil {
			l.log.Warn("failed to release assignment lock", zap.String("assignment_id", id.String()), zap.Error(err))
		}
		unlockLocal()
	}, nil
}

// acquireAll locks ids in ascending order so concurrent batches cannot deadlock.
func (l *assignmentLocks) acquireAll(ctx context.Context, ids []snowflake.ID) (func(), error) {
	sorted := uniqueSorted(ids)
	releases := make([]func(), 0, len(sorted))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, id := range sorted {
		release, err := l.acquire(ctx, id)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

func uniqueSorted(ids []snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
