// Package syncmgr implements the per-node sync manager: it chooses
// peers, drives outbound sync cycles on a timer, and dispatches inbound
// sync streams through the Select/BlobCheck/Reconcile per-context state
// machine. It sits on top of internal/p2p's libp2p mesh, internal/wire's
// stream message schema, and internal/crypto's X25519/chacha20poly1305
// stream encryption.
package syncmgr

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sirupsen/logrus"

	"github.com/calimero-network/core/internal/blob"
	"github.com/calimero-network/core/internal/crdt"
	"github.com/calimero-network/core/internal/p2p"
	"github.com/calimero-network/core/pkg/ids"
)

// Config is the sync manager's tunable schedule (Config.Sync in
// pkg/config).
type Config struct {
	Interval        time.Duration
	Timeout         time.Duration
	ContextsPerTick int
	PeersPerTick    int
}

// ContextStore is the per-context state surface the sync manager needs
// from the node orchestrator: member identities, DAG heads/deltas, delta
// application, and the set of known contexts. Declared as an interface
// here (rather than importing internal/node) since internal/node depends
// on syncmgr and a direct import would cycle; internal/node implements
// this interface over its own context bookkeeping.
type ContextStore interface {
	// Contexts lists every context this node currently participates in.
	Contexts() []ids.ContextId
	// Members returns the current member public keys of a context.
	Members(contextID ids.ContextId) ([]ids.PublicKey, error)
	// RequiredBlob returns the application blob a context's runtime
	// needs, and whether one is required at all (some contexts' apps may
	// already be fully installed).
	RequiredBlob(contextID ids.ContextId) (ids.BlobId, bool, error)
	// Heads returns the local DAG frontier for a context.
	Heads(contextID ids.ContextId) ([]ids.Hash, error)
	// GetDelta fetches a previously-seen delta by id.
	GetDelta(contextID ids.ContextId, id ids.Hash) (*crdt.Delta, bool, error)
	// ApplyDelta merges d into local state, commits the underlying
	// temporal layer, and appends d to the local DAG.
	ApplyDelta(contextID ids.ContextId, d *crdt.Delta) error
	// SyncContextConfig refreshes a context's membership from the
	// verifier, called by the responder when an inbound stream's
	// party_id is not among the currently known members.
	SyncContextConfig(contextID ids.ContextId) error
}

// Manager is the per-node sync actor.
type Manager struct {
	host  *p2p.Host
	store ContextStore
	blobs *blob.Manager
	priv  ed25519.PrivateKey
	pub   ids.PublicKey
	cfg   Config

	limiter *rate.Limiter

	mu           sync.Mutex
	contextLocks map[ids.ContextId]*sync.Mutex
	pending      []ids.ContextId
	queued       map[ids.ContextId]bool
}

// New creates a sync manager and registers its stream handler on host.
func New(host *p2p.Host, store ContextStore, blobs *blob.Manager, priv ed25519.PrivateKey, pub ids.PublicKey, cfg Config) *Manager {
	if cfg.ContextsPerTick <= 0 {
		cfg.ContextsPerTick = 1
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	m := &Manager{
		host:         host,
		store:        store,
		blobs:        blobs,
		priv:         priv,
		pub:          pub,
		cfg:          cfg,
		limiter:      rate.NewLimiter(rate.Every(interval/time.Duration(cfg.ContextsPerTick)), cfg.ContextsPerTick),
		contextLocks: make(map[ids.ContextId]*sync.Mutex),
		queued:       make(map[ids.ContextId]bool),
	}
	host.SetStreamHandler(ProtocolID, m.handleStream)
	return m
}

// Run drives the sync schedule until ctx is cancelled: a timer fires
// every Config.Interval, and each tick drains up to Config.ContextsPerTick
// pending contexts.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	batch := m.drain(m.cfg.ContextsPerTick)
	var wg sync.WaitGroup
	for _, cid := range batch {
		if err := m.limiter.Wait(cycleCtx); err != nil {
			return // per-cycle timeout exhausted; partial progress is kept
		}
		cid := cid
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.RunCycle(cycleCtx, cid); err != nil {
				logrus.WithError(err).WithField("context", cid.String()).Warn("syncmgr: cycle failed")
			}
		}()
	}
	wg.Wait()
}

// drain pops up to n contexts from the pending FIFO queue, refilling it
// from the full context set when empty, so every context gets a turn
// without any one tick fanning out unboundedly.
func (m *Manager) drain(n int) []ids.ContextId {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 {
		for _, cid := range m.store.Contexts() {
			if !m.queued[cid] {
				m.queued[cid] = true
				m.pending = append(m.pending, cid)
			}
		}
	}
	if n > len(m.pending) {
		n = len(m.pending)
	}
	batch := append([]ids.ContextId(nil), m.pending[:n]...)
	m.pending = m.pending[n:]
	for _, cid := range batch {
		delete(m.queued, cid)
	}
	return batch
}

// Enqueue schedules contextID for the next tick's drain ahead of the full
// refill, e.g. right after a local invocation broadcasts new state and a
// prompt reconcile is worth attempting.
func (m *Manager) Enqueue(contextID ids.ContextId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queued[contextID] {
		return
	}
	m.queued[contextID] = true
	m.pending = append(m.pending, contextID)
}

func (m *Manager) lockFor(cid ids.ContextId) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.contextLocks[cid]
	if !ok {
		l = &sync.Mutex{}
		m.contextLocks[cid] = l
	}
	return l
}

// ContextTopic is the gossipsub topic name for a context's state
// broadcast and mesh membership, shared with the node orchestrator's
// broadcast path so both sides derive the identical topic string.
func ContextTopic(contextID ids.ContextId) string {
	return "calimero/ctx/" + contextID.String()
}
