package node

import (
	"context"
	"io"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/internal/store"
	"github.com/calimero-network/core/pkg/ids"
)

// InstallApplication ingests a WASM application bundle from r into
// content-addressed blob storage and registers it as an installed
// application. The application id is derived from the same content hash
// the blob manager assigns, so re-installing identical bytes is
// idempotent.
func (n *Node) InstallApplication(ctx context.Context, r io.Reader) (*Application, error) {
	blobID, size, err := n.blobs.Add(ctx, r, nil, nil)
	if err != nil {
		return nil, err
	}

	appID := ids.NewApplicationId(blobID.Bytes())
	app := &Application{ID: appID, BlobID: blobID, Size: size, InstalledAt: nowNanos()}
	raw, err := app.encode()
	if err != nil {
		return nil, calerr.Wrap(calerr.KindInvalidArgument, err, "encode application meta")
	}
	if err := n.store.Put(store.ColumnApplicationMeta, appID.Bytes(), raw); err != nil {
		return nil, err
	}
	return app, nil
}

// ListApplications returns every installed application.
func (n *Node) ListApplications() ([]*Application, error) {
	var out []*Application
	err := n.store.IteratePrefix(store.ColumnApplicationMeta, nil, func(e store.Entry) error {
		a, err := decodeApplication(e.Value)
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

// UninstallApplication removes an application's local metadata. The
// underlying blob is left in content-addressed storage, since other
// applications or contexts may share identical bytes and blob lifetime is
// independent of any one application record (the blob store has no
// application-scoped reference count).
func (n *Node) UninstallApplication(applicationID ids.ApplicationId) error {
	if _, ok, err := n.getApplication(applicationID); err != nil {
		return err
	} else if !ok {
		return calerr.Newf(calerr.KindNotFound, "application %s not installed", applicationID.String())
	}
	return n.store.Delete(store.ColumnApplicationMeta, applicationID.Bytes())
}
