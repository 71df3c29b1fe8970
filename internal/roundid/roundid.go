// Package roundid mints identifiers for bingo rounds.
//
// An id is a UUIDv7 rendered as 26 lowercase Crockford base32 characters, so
// ids sort by the time the round was opened and are safe to use as file names
// and database keys.
package roundid

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/coder/quartz"
)

// Crockford's base32 alphabet, lowercase.
const alphabet = "0123456789abcdefghjkmnpqrstvwxyz"

// Length of an encoded id.
const Length = 26

// RandSource supplies entropy for the random part of an id.
type RandSource interface {
	Intn(n int) int
}

// Generator mints round ids. The zero value is not usable; use New.
type Generator struct {
	clock quartz.Clock
	rand  RandSource
}

// New returns a generator reading time from clock. A nil source uses
// crypto/rand.
func New(clock quartz.Clock, source RandSource) *Generator {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Generator{clock: clock, rand: source}
}

// Next returns a fresh round id.
func (g *Generator) Next() string {
	return encode(g.uuidV7())
}

func (g *Generator) uuidV7() [16]byte {
	var id [16]byte

	ms := g.clock.Now().UnixMilli()
	for i := range 6 {
		id[i] = byte(ms >> (40 - 8*i))
	}

	if g.rand != nil {
		for i := 6; i < 16; i++ {
			id[i] = byte(g.rand.Intn(256))
		}
	} else if _, err := rand.Read(id[6:]); err != nil {
		panic("roundid: reading random bytes: " + err.Error())
	}

	id[6] = (id[6] & 0x0f) | 0x70 // version 7
	id[8] = (id[8] & 0x3f) | 0x80 // RFC 4122 variant
	return id
}

// encode packs 128 bits into 26 five-bit groups, most significant first. The
// final group only carries three bits.
func encode(id [16]byte) string {
	var sb strings.Builder
	sb.Grow(Length)
	for i := range Length {
		bit := i * 5
		b, off := bit/8, bit%8

		var v byte
		if off <= 3 {
			v = (id[b] >> (3 - off)) & 0x1f
		} else {
			v = (id[b] << (off - 3)) & 0x1f
			if b+1 < len(id) {
				v |= id[b+1] >> (11 - off)
			}
		}
		sb.WriteByte(alphabet[v])
	}
	return sb.String()
}

// Validate reports whether s is a well-formed round id.
func Validate(s string) error {
	if len(s) != Length {
		return fmt.Errorf("round id must be %d characters, got %d", Length, len(s))
	}
	if s[0] > '7' {
		return fmt.Errorf("round id first character must be 0-7, got %c", s[0])
	}
	for i, r := range s {
		if !strings.ContainsRune(alphabet, r) {
			return fmt.Errorf("invalid character %c at position %d", r, i)
		}
	}
	return nil
}
