// Package dacs implements a permission lock encoder: a deterministic
// byte encoding of a service id plus a list of entitlement codes,
// combined with OR semantics. The real downstream wire library's DACS
// format is proprietary and treated as opaque; this encoder
// produces a stable, self-describing byte buffer that plays the same
// role for everything above the transport boundary.
package dacs

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Combinator selects how multiple entitlement codes are combined.
// Callers only ever use OR (a single-entitlement list), but the
// encoding supports more to mirror the real DACS lock shape.
type Combinator uint8

const (
	CombinatorOR Combinator = iota
	CombinatorAND
)

// Lock is an opaque permission blob attached to a refresh message.
type Lock []byte

const magic = 0xDA

// -----------------------------------------------------------------------------

// Encode builds a lock over serviceID and the given entitlement
// codes. Codes are sorted ascending so the encoding is deterministic
// regardless of input order — callers should treat encode failures
// (returned err) as non-fatal: the message still publishes, just
// unlocked.
func Encode(serviceID uint32, codes []uint32, combinator Combinator) (Lock, error) {
	if len(codes) == 0 {
		return nil, fmt.Errorf("dacs: at least one entitlement code required")
	}

	sorted := append([]uint32(nil), codes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	buf := make([]byte, 0, 6+4*len(sorted))
	buf = append(buf, magic, byte(combinator))
	var head [8]byte
	binary.BigEndian.PutUint32(head[0:4], serviceID)
	binary.BigEndian.PutUint32(head[4:8], uint32(len(sorted)))
	buf = append(buf, head[:]...)
	for _, code := range sorted {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], code)
		buf = append(buf, b[:]...)
	}
	return Lock(buf), nil
}

// -----------------------------------------------------------------------------

// Decode parses a Lock back into its fields; used by tests to confirm
// round-tripping.
func Decode(l Lock) (serviceID uint32, codes []uint32, combinator Combinator, err error) {
	if len(l) < 10 || l[0] != magic {
		return 0, nil, 0, fmt.Errorf("dacs: malformed lock")
	}
	combinator = Combinator(l[1])
	serviceID = binary.BigEndian.Uint32(l[2:6])
	n := binary.BigEndian.Uint32(l[6:10])
	if len(l) != 10+4*int(n) {
		return 0, nil, 0, fmt.Errorf("dacs: malformed lock: length mismatch")
	}
	codes = make([]uint32, n)
	for i := range codes {
		codes[i] = binary.BigEndian.Uint32(l[10+4*i : 14+4*i])
	}
	return serviceID, codes, combinator, nil
}
