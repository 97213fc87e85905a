// Package gc implements the periodic tombstone sweeper: for each known
// context, scan entities and remove those whose
// deleted_at is older than the retention threshold. Deletion is a plain
// store delete — swept entries are not themselves tombstoned — and an
// entity with a live (non-tombstone) child is never deleted.
//
// The sweep collects expired keys first and deletes only once the scan
// completes, so a mid-sweep store mutation can never invalidate the
// iteration cursor.
package gc

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calimero-network/core/internal/crdt"
	"github.com/calimero-network/core/internal/store"
	"github.com/calimero-network/core/pkg/ids"
)

// Stats summarizes one sweep cycle, mirroring gc.rs's GCStats.
type Stats struct {
	TombstonesCollected int
	ContextsScanned     int
	Duration            time.Duration
}

// Sweeper periodically deletes expired tombstones across every context.
type Sweeper struct {
	st        *store.Store
	retention time.Duration
	interval  time.Duration
	now       func() int64 // nanoseconds since epoch; overridable in tests
}

// New creates a Sweeper. retention and interval come from
// Config.Storage.TombstoneRetain / Config.Storage.GCInterval.
func New(st *store.Store, retention, interval time.Duration) *Sweeper {
	return &Sweeper{
		st:        st,
		retention: retention,
		interval:  interval,
		now:       func() int64 { return time.Now().UnixNano() },
	}
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logrus.WithField("interval", s.interval).Info("gc: sweeper started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("gc: sweeper stopped")
			return
		case <-ticker.C:
			stats, err := s.SweepAll()
			if err != nil {
				logrus.WithError(err).Warn("gc: sweep failed")
				continue
			}
			if stats.TombstonesCollected > 0 {
				logrus.WithFields(logrus.Fields{
					"tombstones": stats.TombstonesCollected,
					"contexts":   stats.ContextsScanned,
					"duration":   stats.Duration,
				}).Info("gc: sweep complete")
			}
		}
	}
}

// SweepAll runs one collection cycle across every known context and
// returns its statistics.
func (s *Sweeper) SweepAll() (Stats, error) {
	start := time.Now()

	contextIDs, err := s.listContexts()
	if err != nil {
		return Stats{}, err
	}

	var total int
	for _, cid := range contextIDs {
		n, err := s.sweepContext(cid)
		if err != nil {
			logrus.WithError(err).WithField("context", cid.String()).Warn("gc: sweep context failed")
			continue
		}
		total += n
	}

	return Stats{
		TombstonesCollected: total,
		ContextsScanned:     len(contextIDs),
		Duration:            time.Since(start),
	}, nil
}

func (s *Sweeper) listContexts() ([]ids.ContextId, error) {
	var out []ids.ContextId
	err := s.st.IteratePrefix(store.ColumnContextMeta, nil, func(e store.Entry) error {
		if len(e.Key) != 32 {
			return nil
		}
		out = append(out, ids.NewContextId(e.Key))
		return nil
	})
	return out, err
}

// sweepContext collects and deletes expired tombstones in both the
// synced and private state columns of one context.
func (s *Sweeper) sweepContext(cid ids.ContextId) (int, error) {
	collected := 0
	for _, col := range []store.Column{store.ColumnContextState, store.ColumnContextPrivate} {
		n, err := s.sweepColumn(cid, col)
		if err != nil {
			return collected, err
		}
		collected += n
	}
	return collected, nil
}

func (s *Sweeper) sweepColumn(cid ids.ContextId, col store.Column) (int, error) {
	now := s.now()
	prefix := cid.Bytes()

	entities := make(map[ids.EntityId]*crdt.Entity)
	var candidates [][]byte

	err := s.st.IteratePrefix(col, prefix, func(e store.Entry) error {
		ent, decodeErr := crdt.DecodeEntity(e.Value)
		if decodeErr != nil {
			return nil
		}
		entities[ent.ID] = ent
		if ent.EligibleForGC(now, s.retention) {
			candidates = append(candidates, append([]byte(nil), e.Key...))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	var toDelete [][]byte
	for _, key := range candidates {
		id := ids.NewEntityId(key[len(prefix):])
		if hasLiveChild(entities[id], entities) {
			continue
		}
		toDelete = append(toDelete, key)
	}

	for _, key := range toDelete {
		if err := s.st.Delete(col, key); err != nil {
			return len(toDelete), err
		}
	}
	return len(toDelete), nil
}

// hasLiveChild reports whether e has any child not itself a tombstone;
// an entity with a live child is never deleted. A child missing from
// this scan is treated as live, since its tombstone status was never
// confirmed.
func hasLiveChild(e *crdt.Entity, entities map[ids.EntityId]*crdt.Entity) bool {
	for _, ref := range e.Children {
		child, ok := entities[ref.ID]
		if !ok {
			return true
		}
		if !child.IsTombstoned() {
			return true
		}
	}
	return false
}
