package node

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/internal/crdt"
	"github.com/calimero-network/core/internal/wasmvm"
	"github.com/calimero-network/core/pkg/ids"
)

// InvokeResult is the caller-facing outcome of one successful call into a
// context's application.
type InvokeResult struct {
	ReturnTag   uint8
	ReturnValue []byte
	Logs        []string
	Events      []wasmvm.Event
	RootHash    ids.Hash
	// DeltaID is the zero hash if the invocation dirtied no entity; a
	// call produces at most one delta.
	DeltaID ids.Hash
}

// Invoke runs export in contextID's installed application with input,
// under the per-context lock that totally orders it against every other
// invocation and incoming merge. The lifecycle:
//  1. acquire a context-scoped temporal store
//  2. instantiate the WASM module with host imports wired to it
//  3. call export, collecting the return value, logs, and events
//  4. on success: recompute merkle hashes, build and commit the delta,
//     append it to the DAG, and broadcast it
//  5. on failure: discard the temporal store; nothing persists
func (n *Node) Invoke(ctx context.Context, contextID ids.ContextId, export string, input []byte) (*InvokeResult, error) {
	lock := n.contextLock(contextID)
	lock.Lock()
	defer lock.Unlock()

	c, ok, err := n.getContext(contextID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, calerr.Newf(calerr.KindNotFound, "context %s not known locally", contextID.String())
	}

	app, ok, err := n.getApplication(c.ApplicationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, calerr.Newf(calerr.KindNotFound, "application %s not installed", c.ApplicationID.String())
	}

	code, err := n.loadApplicationBundle(app.BlobID, contextID)
	if err != nil {
		return nil, err
	}

	parents, err := n.dag.Heads(contextID)
	if err != nil {
		return nil, err
	}

	tx := n.store.Begin()
	tree := crdt.NewTreeWithCache(tx, contextID, n.cache)
	rootID := crdt.RootEntityID(contextID)
	if err := tree.EnsureRoot(rootID, false); err != nil {
		tx.Discard()
		return nil, err
	}

	now := time.Now().UnixNano()
	inv := wasmvm.Invocation{
		ContextID: contextID,
		Export:    export,
		Caller:    n.pub,
		Input:     input,
		Parents:   parents,
		RootHash:  crdt.ContextAnchor(contextID),
		Tree:      tree,
	}

	receipt, err := n.vm.Invoke(code, inv, now)
	if err != nil {
		tx.Discard()
		return nil, calerr.Wrap(calerr.KindFatal, err, "invoke application")
	}
	if !receipt.Success {
		tx.Discard()
		return nil, invokeError(receipt.Err)
	}

	touched, err := tree.RecomputeHashes(false)
	if err != nil {
		tx.Discard()
		return nil, err
	}

	result := &InvokeResult{
		ReturnTag:   receipt.ReturnTag,
		ReturnValue: receipt.ReturnValue,
		Logs:        receipt.Logs,
		Events:      receipt.Events,
	}
	if root, rok, rerr := tree.Get(rootID, false); rerr != nil {
		tx.Discard()
		return nil, rerr
	} else if rok {
		result.RootHash = root.MerkleHash
	}

	if len(touched) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		tree.PublishCache()
		return result, nil
	}

	d, err := crdt.BuildDelta(contextID, n.pub, now, parents, touched)
	if err != nil {
		tx.Discard()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	tree.PublishCache()
	if err := n.dag.Append(d); err != nil {
		return nil, err
	}
	result.DeltaID = d.ID

	c.RootHash = result.RootHash
	if err := n.putContext(c); err != nil {
		logrus.WithError(err).WithField("context", contextID.String()).Warn("node: persist updated context root hash")
	}

	// Broadcast failure is a local recoverable fault: the
	// delta is already durably committed and on the DAG, so a peer that
	// misses this gossip message still converges via the sync protocol.
	if err := n.broadcastDelta(ctx, contextID, n.pub, result.RootHash, d); err != nil {
		logrus.WithError(err).WithField("context", contextID.String()).Warn("node: broadcast delta")
	}

	return result, nil
}

// loadApplicationBundle fetches blobID's bytes from local blob storage.
// A context may reference an application whose blob is not yet present;
// in that case the fetch happens on the next sync cycle's BlobShare
// exchange rather than synchronously blocking this call, so the miss is
// reported loudly and a cycle enqueued.
func (n *Node) loadApplicationBundle(blobID ids.BlobId, contextID ids.ContextId) ([]byte, error) {
	present, err := n.blobs.Has(blobID)
	if err != nil {
		return nil, err
	}
	if !present {
		n.sync.Enqueue(contextID)
		return nil, calerr.Newf(calerr.KindNotFound, "application blob %s not yet available locally; a sync cycle has been enqueued to fetch it", blobID.String())
	}
	rc, err := n.blobs.Get(blobID)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	code, err := io.ReadAll(rc)
	if err != nil {
		return nil, calerr.Wrap(calerr.KindStorage, err, "read application bundle")
	}
	return code, nil
}

// invokeError maps a wasmvm.ExecutionError's narrower taxonomy onto the
// node-wide calerr.Kind taxonomy: ResourceExhausted and
// StorageFault map directly; a guest panic, trap, or host-reported
// invalid input (wasmvm.ErrorExecution) is treated as InvalidArgument
// since it always stems from how the caller's input drove the guest,
// never from the node's own state.
func invokeError(e *wasmvm.ExecutionError) error {
	if e == nil {
		return calerr.New(calerr.KindFatal, "invocation failed with no error detail")
	}
	switch e.Kind {
	case wasmvm.ErrorResourceExhausted:
		return calerr.New(calerr.KindResourceExhausted, e.Message)
	case wasmvm.ErrorStorageFault:
		return calerr.New(calerr.KindStorage, e.Message)
	case wasmvm.ErrorFatal:
		return calerr.New(calerr.KindFatal, e.Message)
	default:
		return calerr.New(calerr.KindInvalidArgument, e.Message)
	}
}
