// Package p2p wraps the libp2p mesh host the sync manager and gossip
// broadcast are built on: one gossipsub-joined topic per context, raw
// length-prefixed streams for the direct sync protocol, and peer
// bookkeeping. NAT traversal uses libp2p.NATPortMap(), whose
// goupnp/go-nat-pmp clients go-libp2p already carries for exactly this
// purpose.
package p2p

import (
	"context"
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/pkg/ids"
)

// GossipMessage is one decoded pubsub delivery.
type GossipMessage struct {
	From  peer.ID
	Topic string
	Data  []byte
}

// Host is the per-node libp2p mesh handle every context's sync manager
// and gossip broadcast share.
type Host struct {
	host   host.Host
	pubsub *pubsub.PubSub

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription
}

// PrivKeyFromEd25519 converts a node identity's Ed25519 private key into
// the libp2p host key, so the host's PeerID is deterministically derived
// from the same identity used for signing and X25519 key agreement.
func PrivKeyFromEd25519(priv ed25519.PrivateKey) (libp2pcrypto.PrivKey, error) {
	pk, err := libp2pcrypto.UnmarshalEd25519PrivateKey(priv)
	if err != nil {
		return nil, calerr.Wrap(calerr.KindCrypto, err, "unmarshal ed25519 host key")
	}
	return pk, nil
}

// PeerIDFromPublicKey derives the libp2p peer.ID a member's Ed25519
// public key would present as a host identity, letting syncmgr address
// a context member by its member PublicKey rather than a separate
// libp2p-only identifier.
func PeerIDFromPublicKey(pub ids.PublicKey) (peer.ID, error) {
	pk, err := libp2pcrypto.UnmarshalEd25519PublicKey(pub.Bytes())
	if err != nil {
		return "", calerr.Wrap(calerr.KindCrypto, err, "unmarshal ed25519 public key")
	}
	id, err := peer.IDFromPublicKey(pk)
	if err != nil {
		return "", calerr.Wrap(calerr.KindCrypto, err, "derive peer id")
	}
	return id, nil
}

// New creates the libp2p host and its gossipsub router, dials any
// bootstrap peers, and starts mDNS discovery under discoveryTag.
func New(ctx context.Context, listenAddr string, priv ed25519.PrivateKey, bootstrapPeers []string, discoveryTag string) (*Host, error) {
	hostCtx, cancel := context.WithCancel(ctx)

	key, err := PrivKeyFromEd25519(priv)
	if err != nil {
		cancel()
		return nil, err
	}

	h, err := libp2p.New(
		libp2p.Identity(key),
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.NATPortMap(),
	)
	if err != nil {
		cancel()
		return nil, calerr.Wrap(calerr.KindProtocol, err, "create libp2p host")
	}

	ps, err := pubsub.NewGossipSub(hostCtx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, calerr.Wrap(calerr.KindProtocol, err, "create gossipsub router")
	}

	hh := &Host{
		host:   h,
		pubsub: ps,
		ctx:    hostCtx,
		cancel: cancel,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
	}

	hh.dialSeeds(bootstrapPeers)

	if discoveryTag != "" {
		mdns.NewMdnsService(h, discoveryTag, mdnsNotifee{hh})
	}

	return hh, nil
}

func (hh *Host) dialSeeds(seeds []string) {
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			logrus.Warnf("p2p: invalid bootstrap addr %s: %v", addr, err)
			continue
		}
		ctx, cancel := context.WithTimeout(hh.ctx, 10*time.Second)
		err = hh.host.Connect(ctx, *pi)
		cancel()
		if err != nil {
			logrus.Warnf("p2p: dial bootstrap peer %s: %v", addr, err)
			continue
		}
		logrus.Infof("p2p: bootstrapped to %s", addr)
	}
}

// mdnsNotifee connects to peers discovered via local mDNS.
type mdnsNotifee struct{ h *Host }

func (n mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.h.host.ID() {
		return
	}
	ctx, cancel := context.WithTimeout(n.h.ctx, 10*time.Second)
	defer cancel()
	if err := n.h.host.Connect(ctx, info); err != nil {
		logrus.Warnf("p2p: connect to mdns peer %s: %v", info.ID, err)
		return
	}
	logrus.Infof("p2p: connected to mdns peer %s", info.ID)
}

// ID returns this node's own peer identity.
func (hh *Host) ID() peer.ID { return hh.host.ID() }

// Close tears down the host and every background subscription goroutine.
func (hh *Host) Close() error {
	hh.cancel()
	return hh.host.Close()
}

func (hh *Host) joinTopic(topic string) (*pubsub.Topic, error) {
	hh.mu.Lock()
	defer hh.mu.Unlock()
	t, ok := hh.topics[topic]
	if ok {
		return t, nil
	}
	t, err := hh.pubsub.Join(topic)
	if err != nil {
		return nil, calerr.Wrapf(calerr.KindProtocol, err, "join topic %s", topic)
	}
	hh.topics[topic] = t
	return t, nil
}

// Broadcast publishes data on a context's gossip topic. The StateDelta
// envelope is opaque to this layer; it just moves bytes.
func (hh *Host) Broadcast(ctx context.Context, topic string, data []byte) error {
	t, err := hh.joinTopic(topic)
	if err != nil {
		return err
	}
	if err := t.Publish(ctx, data); err != nil {
		return calerr.Wrapf(calerr.KindProtocol, err, "publish topic %s", topic)
	}
	return nil
}

// Subscribe joins topic (if not already) and returns a channel of
// decoded deliveries. Subscribing twice to the same topic returns an
// InvalidArgument error.
func (hh *Host) Subscribe(topic string) (<-chan GossipMessage, error) {
	t, err := hh.joinTopic(topic)
	if err != nil {
		return nil, err
	}

	hh.mu.Lock()
	if _, ok := hh.subs[topic]; ok {
		hh.mu.Unlock()
		return nil, calerr.Newf(calerr.KindInvalidArgument, "already subscribed to topic %s", topic)
	}
	sub, err := t.Subscribe()
	if err != nil {
		hh.mu.Unlock()
		return nil, calerr.Wrapf(calerr.KindProtocol, err, "subscribe topic %s", topic)
	}
	hh.subs[topic] = sub
	hh.mu.Unlock()

	out := make(chan GossipMessage, 64)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(hh.ctx)
			if err != nil {
				return
			}
			select {
			case out <- GossipMessage{From: msg.GetFrom(), Topic: topic, Data: msg.Data}:
			case <-hh.ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// MeshPeers lists the peers gossipsub currently has meshed for topic,
// the candidate set the peer selection draws from.
func (hh *Host) MeshPeers(topic string) []peer.ID {
	hh.mu.Lock()
	t, ok := hh.topics[topic]
	hh.mu.Unlock()
	if !ok {
		return nil
	}
	return t.ListPeers()
}

// SamplePeers returns up to n peers drawn uniformly at random from
// MeshPeers(topic), shuffled with crypto/rand rather than math/rand,
// since peer selection feeds directly into which peer's state a node
// trusts to reconcile against.
func (hh *Host) SamplePeers(topic string, n int) []peer.ID {
	peers := hh.MeshPeers(topic)
	if n > len(peers) {
		n = len(peers)
	}
	for i := len(peers) - 1; i > 0; i-- {
		r, err := cryptorand.Int(cryptorand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			break
		}
		j := int(r.Int64())
		peers[i], peers[j] = peers[j], peers[i]
	}
	return peers[:n]
}

// SetStreamHandler registers the responder for proto: on accept it
// reads one frame, inspects the InitPayload, and hands off.
func (hh *Host) SetStreamHandler(proto protocol.ID, handler network.StreamHandler) {
	hh.host.SetStreamHandler(proto, handler)
}

// OpenStream dials pid and opens a new stream under proto, the
// initiator's half of every sync cycle.
func (hh *Host) OpenStream(ctx context.Context, pid peer.ID, proto protocol.ID) (network.Stream, error) {
	s, err := hh.host.NewStream(ctx, pid, proto)
	if err != nil {
		return nil, calerr.Wrapf(calerr.KindProtocol, err, "open stream to %s", pid)
	}
	return s, nil
}

// Connect dials addr directly (the bootstrap/seed dialing
// path outside of mesh membership).
func (hh *Host) Connect(ctx context.Context, addr string) error {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return calerr.Wrapf(calerr.KindInvalidArgument, err, "parse peer addr %s", addr)
	}
	if err := hh.host.Connect(ctx, *pi); err != nil {
		return calerr.Wrapf(calerr.KindProtocol, err, "connect %s", addr)
	}
	return nil
}
