package id

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// crockford is the Crockford base32 alphabet. Its byte order matches the
// numeric order of the digits, so encoded keys sort lexicographically.
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const (
	// OrderKeyLen is the fixed width of an OrderKey.
	OrderKeyLen = timeLen + suffixLen

	timeLen   = 10
	suffixLen = 16

	// MaxOrderKeyMillis is the largest millisecond instant an OrderKey can hold.
	MaxOrderKeyMillis = 1<<48 - 1

	maxSuffixHi = 1<<16 - 1
)

// minSuffix is the all-zero suffix used to build scan boundaries.
var minSuffix = strings.Repeat("0", suffixLen)

var (
	// ErrOrderKeyTime is returned for instants outside [epoch, MaxOrderKeyMillis].
	ErrOrderKeyTime = errors.New("id: order key time out of range")

	// ErrOrderKeyOverflow is returned when the monotonic suffix for a single
	// millisecond is exhausted.
	ErrOrderKeyOverflow = errors.New("id: order key suffix overflow")
)

// OrderKey is a time-sortable unique identifier: ten base32 characters of
// millisecond time followed by a sixteen-character random suffix. Keys
// compare lexicographically in time order.
type OrderKey string

// NewOrderKey returns a fresh key for instant t using the package generator.
func NewOrderKey(t time.Time) (OrderKey, error) {
	return defaultGenerator.New(t)
}

// MinOrderKey returns the smallest key any transaction at instant t can
// receive (time part of t, all-zero suffix). Use it as a scan boundary.
func MinOrderKey(t time.Time) (OrderKey, error) {
	tp, err := encodeTime(t.UnixMilli())
	if err != nil {
		return "", err
	}
	return OrderKey(tp + minSuffix), nil
}

// MustMinOrderKey is like MinOrderKey but panics on error.
func MustMinOrderKey(t time.Time) OrderKey {
	k, err := MinOrderKey(t)
	if err != nil {
		panic(fmt.Sprintf("id: min order key for %v: %v", t, err))
	}
	return k
}

// ParseOrderKey validates s and returns it as an OrderKey. Lowercase input
// is accepted and normalized.
func ParseOrderKey(s string) (OrderKey, error) {
	if len(s) != OrderKeyLen {
		return "", fmt.Errorf("id: parse order key %q: want %d characters, got %d", s, OrderKeyLen, len(s))
	}
	s = strings.ToUpper(s)
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(crockford, s[i]) < 0 {
			return "", fmt.Errorf("id: parse order key %q: invalid character %q", s, s[i])
		}
	}
	// The first character may only carry three bits of a 48-bit time.
	if s[0] > '7' {
		return "", fmt.Errorf("id: parse order key %q: %w", s, ErrOrderKeyTime)
	}
	return OrderKey(s), nil
}

// String returns the key text.
func (k OrderKey) String() string { return string(k) }

// IsZero reports whether k is empty.
func (k OrderKey) IsZero() bool { return k == "" }

// Time returns the millisecond instant encoded in the key.
func (k OrderKey) Time() (time.Time, error) {
	if len(k) != OrderKeyLen {
		return time.Time{}, fmt.Errorf("id: order key %q: invalid length", string(k))
	}
	var ms int64
	for i := 0; i < timeLen; i++ {
		v := strings.IndexByte(crockford, k[i])
		if v < 0 {
			return time.Time{}, fmt.Errorf("id: order key %q: invalid character %q", string(k), k[i])
		}
		ms = ms<<5 | int64(v)
	}
	return time.UnixMilli(ms), nil
}

func encodeTime(ms int64) (string, error) {
	if ms < 0 || ms > MaxOrderKeyMillis {
		return "", fmt.Errorf("%w: %d", ErrOrderKeyTime, ms)
	}
	var buf [timeLen]byte
	for i := timeLen - 1; i >= 0; i-- {
		buf[i] = crockford[ms%32]
		ms /= 32
	}
	return string(buf[:]), nil
}

// suffix is the 80-bit random part, held as 16 high bits and 64 low bits.
type suffix struct {
	hi uint64
	lo uint64
}

func (s suffix) encode() string {
	var buf [suffixLen]byte
	for i := 0; i < suffixLen; i++ {
		shift := uint((suffixLen - 1 - i) * 5)
		var v uint64
		switch {
		case shift >= 64:
			v = s.hi >> (shift - 64)
		case shift+5 <= 64:
			v = s.lo >> shift
		default:
			v = s.lo>>shift | s.hi<<(64-shift)
		}
		buf[i] = crockford[v&31]
	}
	return string(buf[:])
}

func (s *suffix) increment() error {
	s.lo++
	if s.lo != 0 {
		return nil
	}
	if s.hi == maxSuffixHi {
		return ErrOrderKeyOverflow
	}
	s.hi++
	return nil
}

// OrderKeyGenerator issues strictly increasing keys within a millisecond:
// the first key of a millisecond gets a random suffix and later keys in the
// same millisecond increment it.
type OrderKeyGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
	lastMs  int64
	last    suffix
	started bool
}

// NewOrderKeyGenerator returns a generator reading suffix randomness from
// entropy, or from crypto/rand when entropy is nil.
func NewOrderKeyGenerator(entropy io.Reader) *OrderKeyGenerator {
	if entropy == nil {
		entropy = rand.Reader
	}
	return &OrderKeyGenerator{entropy: entropy}
}

var defaultGenerator = NewOrderKeyGenerator(nil)

// New returns a key for instant t.
func (g *OrderKeyGenerator) New(t time.Time) (OrderKey, error) {
	ms := t.UnixMilli()
	tp, err := encodeTime(ms)
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started && ms == g.lastMs {
		if err := g.last.increment(); err != nil {
			return "", err
		}
		return OrderKey(tp + g.last.encode()), nil
	}

	var b [10]byte
	if _, err := io.ReadFull(g.entropy, b[:]); err != nil {
		return "", fmt.Errorf("id: read order key entropy: %w", err)
	}
	g.last = suffix{
		hi: uint64(binary.BigEndian.Uint16(b[:2])),
		lo: binary.BigEndian.Uint64(b[2:]),
	}
	g.lastMs = ms
	g.started = true
	return OrderKey(tp + g.last.encode()), nil
}
