package storage

import (
	"context"
	"fmt"
	"sync"
)

// keyedLocks hands out one RWMutex per key and forgets it once unused.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.RWMutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*refLock)}
}

func (k *keyedLocks) acquire(key string) *refLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *keyedLocks) release(key string, l *refLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *keyedLocks) Lock(key string) func() {
	l := k.acquire(key)
	l.Lock()
	return func() {
		l.Unlock()
		k.release(key, l)
	}
}

// RLock shares key with other readers.
func (k *keyedLocks) RLock(key string) func() {
	l := k.acquire(key)
	l.RLock()
	return func() {
		l.RUnlock()
		k.release(key, l)
	}
}

// LockArchive serialises archivers of one (cluster, day) in this process.
// Archivers of other clusters may share the day, purges of it wait.
func (s *Storage) LockArchive(clusterID int64, day Day) func() {
	unlockDay := s.locks.RLock("day/" + day.String())
	unlockRun := s.locks.Lock(fmt.Sprintf("archive/%d/%s", clusterID, day))
	return func() {
		unlockRun()
		unlockDay()
	}
}

// LockPurge excludes every archiver and purge of day in this process.
func (s *Storage) LockPurge(day Day) func() {
	return s.locks.Lock("day/" + day.String())
}

// dayLockClass namespaces the advisory locks taken by LockDay.
const dayLockClass = 0x6b6368

// LockDay holds a transaction-scoped lock on day until q commits or rolls
// back. It must be the first statement of the transaction. Shared holders
// (archivers) exclude exclusive ones (purges) across processes.
//
// On Postgres this is an advisory lock keyed by the day, so it also covers
// days no run row exists for yet. SQLite has a single writer per database,
// so any write takes it.
func LockDay(ctx context.Context, q Querier, day Day, shared bool) error {
	if day.IsZero() {
		return &ValidationError{Field: "day", Reason: "must be set"}
	}
	return instrument("lock day", func() error {
		if q.DriverName() == DriverPostgres {
			fn := "pg_advisory_xact_lock"
			if shared {
				fn = "pg_advisory_xact_lock_shared"
			}
			_, err := q.ExecContext(ctx, `SELECT `+fn+`($1, $2)`, dayLockClass, dayKey(day))
			return err
		}
		_, err := q.ExecContext(ctx, q.Rebind(`
			UPDATE history_archive_runs SET state = state WHERE saved_date = ?`), day)
		return err
	})
}

// dayKey is the number of days since the Unix epoch.
func dayKey(day Day) int32 {
	return int32(day.Time().Unix() / 86400)
}
