package node

import (
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/calimero-network/core/internal/blob"
	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/internal/chainclient"
	"github.com/calimero-network/core/internal/crdt"
	"github.com/calimero-network/core/internal/crypto"
	"github.com/calimero-network/core/internal/gc"
	"github.com/calimero-network/core/internal/p2p"
	"github.com/calimero-network/core/internal/store"
	"github.com/calimero-network/core/internal/syncmgr"
	"github.com/calimero-network/core/internal/wasmvm"
	"github.com/calimero-network/core/pkg/config"
	"github.com/calimero-network/core/pkg/ids"
)

// entityCacheSize bounds the shared hot-entity LRU across every context's
// tree; sized for a single node's working set rather than per-context.
const entityCacheSize = 8192

// identityPrimaryKey is the reserved, non-32-byte key under
// store.ColumnIdentities that points at the node's own primary identity
// (the sync protocol authenticates every stream under exactly
// one node-wide identity, so one keypair must be distinguished as "the"
// one syncmgr signs with even though NewIdentity can mint others for
// use as context members).
var identityPrimaryKey = []byte("\x00primary")

// Node is the orchestrator wiring every subsystem together for one
// calimerod process.
type Node struct {
	cfg *config.Config

	store *store.Store
	blobs *blob.Manager
	cache *crdt.EntityCache
	merge *crdt.Registry
	dag   *crdt.DAG
	vm    *wasmvm.Engine

	host *p2p.Host
	sync *syncmgr.Manager
	gc   *gc.Sweeper

	transport chainclient.Transport

	priv ed25519.PrivateKey
	pub  ids.PublicKey

	mu        sync.Mutex
	chains    map[string]*chainclient.Client // "networkID/contractID" -> client
	unsub     map[ids.ContextId]func()
	runCancel context.CancelFunc

	// locks holds one *sync.Mutex per context, lazily created, enforcing
	// the ordering guarantee: "invocations are totally ordered
	// by a per-context lock" and "merges of incoming deltas are
	// serialized with local invocations — the merger takes the same
	// context lock". Invoke and ApplyDelta both acquire it.
	locks sync.Map // ids.ContextId -> *sync.Mutex
}

// contextLock returns (lazily creating) the per-context mutex guarding
// invocation and merge ordering for contextID.
func (n *Node) contextLock(contextID ids.ContextId) *sync.Mutex {
	v, _ := n.locks.LoadOrStore(contextID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// New opens (or creates) a node's storage and wires every subsystem
// together. transport is the chainclient.Transport
// backing every context's signed-config verifier; a process typically
// constructs one (e.g. chainclient/evmcompat's in-process Verifier for
// tests, or a real adapter) and shares it across all contexts.
func New(cfg *config.Config, transport chainclient.Transport) (*Node, error) {
	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	blobs, err := blob.NewManager(st, cfg.Storage.BlobDir, cfg.Storage.BlobChunkSize)
	if err != nil {
		st.Close()
		return nil, err
	}

	cache, err := crdt.NewEntityCache(entityCacheSize)
	if err != nil {
		st.Close()
		return nil, err
	}

	n := &Node{
		cfg:       cfg,
		store:     st,
		blobs:     blobs,
		cache:     cache,
		merge:     crdt.NewRegistry(),
		dag:       crdt.NewDAG(st),
		vm:        wasmvm.NewEngine(runtimeLimits(cfg)),
		gc:        gc.New(st, cfg.Storage.TombstoneRetain, cfg.Storage.GCInterval),
		transport: transport,
		chains:    make(map[string]*chainclient.Client),
		unsub:     make(map[ids.ContextId]func()),
	}

	priv, pub, err := n.loadOrCreatePrimaryIdentity()
	if err != nil {
		st.Close()
		return nil, err
	}
	n.priv, n.pub = priv, pub

	host, err := p2p.New(context.Background(), cfg.Network.ListenAddr, priv, cfg.Network.BootstrapPeers, cfg.Network.DiscoveryTag)
	if err != nil {
		st.Close()
		return nil, err
	}
	n.host = host

	n.sync = syncmgr.New(host, n, blobs, priv, pub, syncmgr.Config{
		Interval:        cfg.Sync.Interval,
		Timeout:         cfg.Sync.Timeout,
		ContextsPerTick: cfg.Sync.ContextsPerTick,
		PeersPerTick:    cfg.Sync.PeersPerTick,
	})

	return n, nil
}

func runtimeLimits(cfg *config.Config) wasmvm.Limits {
	l := wasmvm.DefaultLimits()
	l.MaxMemoryPages = cfg.Runtime.MaxMemoryPages
	l.MaxRegisters = cfg.Runtime.MaxRegisters
	l.MaxRegisterSize = cfg.Runtime.MaxRegisterSize
	l.MaxLogs = cfg.Runtime.MaxLogs
	l.MaxLogSize = cfg.Runtime.MaxLogSize
	l.MaxEvents = cfg.Runtime.MaxEvents
	l.MaxEventKindSize = cfg.Runtime.MaxEventKindSize
	l.MaxEventDataSize = cfg.Runtime.MaxEventDataSize
	l.MaxStorageKeySize = cfg.Runtime.MaxStorageKeySize
	l.MaxStorageValueSize = cfg.Runtime.MaxStorageValueSize
	return l
}

// loadOrCreatePrimaryIdentity returns the node's own sync identity,
// minting one on first run.
func (n *Node) loadOrCreatePrimaryIdentity() (ed25519.PrivateKey, ids.PublicKey, error) {
	raw, ok, err := n.store.Get(store.ColumnIdentities, identityPrimaryKey)
	if err != nil {
		return nil, ids.PublicKey{}, err
	}
	if ok {
		pub, err := ids.ParsePublicKey(string(raw))
		if err != nil {
			return nil, ids.PublicKey{}, err
		}
		priv, ok, err := n.store.Get(store.ColumnIdentities, pub.Bytes())
		if err != nil {
			return nil, ids.PublicKey{}, err
		}
		if !ok {
			return nil, ids.PublicKey{}, calerr.New(calerr.KindStorage, "primary identity key missing")
		}
		return ed25519.PrivateKey(priv), pub, nil
	}

	pub, priv, err := crypto.GenerateIdentity()
	if err != nil {
		return nil, ids.PublicKey{}, err
	}
	id := ids.NewPublicKey(pub)
	if err := n.store.Put(store.ColumnIdentities, id.Bytes(), priv); err != nil {
		return nil, ids.PublicKey{}, err
	}
	if err := n.store.Put(store.ColumnIdentities, identityPrimaryKey, []byte(id.String())); err != nil {
		return nil, ids.PublicKey{}, err
	}
	return priv, id, nil
}

// Identity returns the node's own primary public key.
func (n *Node) Identity() ids.PublicKey { return n.pub }

// Start resumes gossip subscriptions for every known context and launches
// the sync scheduler and GC sweeper as background loops. Run until ctx is
// cancelled or Close is called.
func (n *Node) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	n.runCancel = cancel

	contexts, err := n.allContextIDs()
	if err != nil {
		cancel()
		return err
	}
	for _, cid := range contexts {
		if err := n.subscribeContext(runCtx, cid); err != nil {
			logrus.WithError(err).WithField("context", cid.String()).Warn("node: resubscribe failed")
		}
	}

	go n.sync.Run(runCtx)
	go n.gc.Run(runCtx)
	return nil
}

// Close releases the node's network and storage handles.
func (n *Node) Close() error {
	if n.runCancel != nil {
		n.runCancel()
	}
	if err := n.host.Close(); err != nil {
		logrus.WithError(err).Warn("node: host close")
	}
	return n.store.Close()
}

// chainClientFor returns (constructing and caching, if needed) the
// chainclient.Client bound to one (network, contract) pair.
func (n *Node) chainClientFor(networkID, contractID string) *chainclient.Client {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := networkID + "/" + contractID
	if c, ok := n.chains[key]; ok {
		return c
	}
	c := chainclient.New(n.transport, networkID, contractID)
	n.chains[key] = c
	return c
}

func contextMetaKey(contextID ids.ContextId) []byte { return append([]byte(nil), contextID.Bytes()...) }
