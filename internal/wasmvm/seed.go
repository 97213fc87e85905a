package wasmvm

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/calimero-network/core/pkg/ids"
)

// DeriveSeed computes the seed for invocation randomness: random bytes
// and UUIDs are both seeded from
// H(context_id ‖ delta_parents ‖ caller ‖ input); time_now is not, it
// reports the caller-supplied frozen timestamp. Parents
// are sorted first so that replaying the same causal inputs in a
// different enumeration order still yields the same seed.
func DeriveSeed(contextID ids.ContextId, parents []ids.Hash, caller ids.PublicKey, input []byte) [32]byte {
	sorted := append([]ids.Hash(nil), parents...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i].Bytes(), sorted[j].Bytes()
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})

	h := sha256.New()
	h.Write(contextID.Bytes())
	for _, p := range sorted {
		h.Write(p.Bytes())
	}
	h.Write(caller.Bytes())
	h.Write(input)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// drbg is a trivial counter-mode deterministic byte stream keyed by an
// invocation seed: every call to Next advances a 64-bit counter and
// hashes it alongside the seed, so two invocations sharing a seed produce
// byte-identical output regardless of real wall-clock time or host
// entropy. It is not intended as a general-purpose CSPRNG — only to give
// guest code a deterministic source for generate_uuid and random_bytes.
type drbg struct {
	seed    [32]byte
	counter uint64
}

func newDRBG(seed [32]byte) *drbg {
	return &drbg{seed: seed}
}

// Next returns n deterministic bytes, advancing the internal counter by
// as many sha256 blocks as needed to cover them.
func (d *drbg) Next(n int) []byte {
	out := make([]byte, 0, n)
	for len(out) < n {
		var ctr [8]byte
		binary.BigEndian.PutUint64(ctr[:], d.counter)
		d.counter++
		h := sha256.New()
		h.Write(d.seed[:])
		h.Write(ctr[:])
		out = append(out, h.Sum(nil)...)
	}
	return out[:n]
}
