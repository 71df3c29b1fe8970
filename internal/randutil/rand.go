package randutil

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	rand "math/rand/v2"
)

const (
	goldenRatio64 = 0x9e3779b97f4a7c15
)

// New returns a *rand.Rand seeded deterministically from the provided int64.
// Both PCG words are derived from the one seed so every call site that shares
// a seed observes the same sequence.
func New(seed int64) *rand.Rand {
	u := uint64(seed)
	return rand.New(rand.NewPCG(mix(u), mix(u+goldenRatio64)))
}

// Derive returns an independent stream for a sub-entity (a card number, a
// round counter) of a root seed. Streams for different ids do not overlap in
// practice and are stable across process restarts.
func Derive(seed int64, id uint64) *rand.Rand {
	u := mix(uint64(seed)) ^ mix(id*goldenRatio64+1)
	return rand.New(rand.NewPCG(u, mix(u+goldenRatio64)))
}

func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// Seed returns an unpredictable seed from the operating system's CSPRNG.
func Seed() int64 {
	var b [8]byte
	_, _ = cryptorand.Read(b[:])
	return int64(binary.LittleEndian.Uint64(b[:]))
}
