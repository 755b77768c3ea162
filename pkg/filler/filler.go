// Package filler produces the payload streamed to tarpit peers. The content
// carries no meaning; only its length matters.
package filler

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	// DefaultChunkSize is the number of bytes written per loop iteration.
	DefaultChunkSize = 1024
	// MaxChunkSize bounds a single write.
	MaxChunkSize = 1 << 20

	// zeroPace is the sleep between chunks for the zero variant.
	zeroPace = 100 * time.Nanosecond
)

var ErrUnknownKind = errors.New("unknown filler kind")

// Source hands out the next chunk to send. The returned slice is only valid
// until the following call to Next and must not be modified.
type Source interface {
	Next(size int) []byte
}

// Factory builds one Source per connection.
type Factory func() Source

type Kind string

const (
	KindZero   Kind = "zero"
	KindRandom Kind = "random"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindZero, KindRandom:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// DefaultPace is the delay a worker waits after each chunk. The zero filler
// yields briefly between writes, the random filler writes as fast as the
// socket drains.
func (k Kind) DefaultPace() time.Duration {
	if k == KindZero {
		return zeroPace
	}
	return 0
}

func NewFactory(k Kind) (Factory, error) {
	switch k {
	case KindZero:
		return func() Source { return Zero{} }, nil
	case KindRandom:
		return func() Source { return NewRandom() }, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
	}
}

// zeros is shared by every Zero source and is never written to.
var zeros = make([]byte, 64*1024)

// Zero serves all-zero chunks.
type Zero struct{}

func (Zero) Next(size int) []byte {
	if size <= len(zeros) {
		return zeros[:size:size]
	}
	return make([]byte, size)
}

// Random serves pseudo random chunks from its own generator. It is not safe
// for concurrent use; every connection gets its own instance.
type Random struct {
	rng *rand.Rand
	buf []byte
}

// NewRandom returns a Random seeded from the runtime's global generator.
func NewRandom() *Random {
	return NewRandomSeed(rand.Uint64(), rand.Uint64())
}

func NewRandomSeed(seed1, seed2 uint64) *Random {
	return &Random{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

func (r *Random) Next(size int) []byte {
	if cap(r.buf) < size {
		// round up so the word loop below never needs a tail case
		r.buf = make([]byte, (size+7)&^7)
	}
	buf := r.buf[:cap(r.buf)]
	for i := 0; i < size; i += 8 {
		binary.LittleEndian.PutUint64(buf[i:], r.rng.Uint64())
	}
	return buf[:size:size]
}
