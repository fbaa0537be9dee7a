package packet

import (
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

// IDGenerator produces the 12-bit correlation IDs a client stamps on its
// requests. Each client instance owns its own generator: the sequence
// starts at a random value and wraps modulo 4096 under a mutex, so
// independent clients produce independent streams.
type IDGenerator struct {
	mu      sync.Mutex
	current uint16
	version uint8
}

// NewIDGenerator creates a generator seeded at a random 12-bit value.
// The version nibble is used by NextIDBytes.
func NewIDGenerator(version uint8) *IDGenerator {
	return &IDGenerator{
		current: uint16(rand.N(MaxPacketID + 1)),
		version: version & 0xF,
	}
}

// NextID returns the current ID and advances the sequence. After 4095
// the next value is 0.
func (g *IDGenerator) NextID() uint16 {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.current
	g.current = (g.current + 1) % (MaxPacketID + 1)

	return id
}

// NextIDBytes returns the next ID encoded as the first two wire bytes:
// little-endian 16 bits with the version nibble in the low 4 bits and
// the ID in bits 4..15.
func (g *IDGenerator) NextIDBytes() []byte {
	v := g.NextID()<<4 | uint16(g.version)

	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, v)

	return buf
}
