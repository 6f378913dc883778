package entityid

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// --------------------------------------------------------------------------
// Identifier
// --------------------------------------------------------------------------

// Size is the length of an identifier in bytes.
const Size = 16

// MaxRoutingGroup is the largest replication group id an identifier can carry (44 bits).
const MaxRoutingGroup uint64 = 1<<44 - 1

const (
	tsOff        = 0
	peerOff      = 6
	seqOff       = 8
	routeHighOff = 10
	routeLowOff  = 14

	// identityLen is the prefix that defines equality: timestamp, peer and sequence
	identityLen = 10

	timestampMask = 1<<48 - 1
)

var (
	ErrRoutingGroupOverflow = errors.New("entityid: routing group exceeds 44 bits")
	ErrInvalidID            = errors.New("entityid: invalid identifier")
)

// ID is a 128 bit entity identifier, laid out big endian:
//
//	[0:6]   milliseconds since the unix epoch (48 bits)
//	[6:8]   peer id
//	[8:10]  per-generator sequence
//	[10:14] replication group, high 32 bits
//	[14:16] replication group, low 12 bits shifted left by 4
//
// The routing group can be changed after generation. It is not part of the
// identity: Equal, Hash and Key only look at the first 10 bytes. Use Key, not
// the ID itself, as a map key.
type ID [Size]byte

// Key is the comparable identity part of an ID.
type Key [identityLen]byte

// FromBytes copies an identifier out of b.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Size {
		return id, fmt.Errorf("%w: %d bytes", ErrInvalidID, len(b))
	}
	copy(id[:], b)
	if id[routeLowOff+1]&0x0F != 0 {
		return ID{}, fmt.Errorf("%w: reserved routing bits set", ErrInvalidID)
	}
	return id, nil
}

// Parse parses the 32 character hex form produced by String.
func Parse(s string) (ID, error) {
	if len(s) != 2*Size {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return FromBytes(b)
}

// Timestamp returns the generation time in milliseconds since the unix epoch.
func (id ID) Timestamp() int64 {
	var b [8]byte
	copy(b[2:], id[tsOff:peerOff])
	return int64(binary.BigEndian.Uint64(b[:]))
}

// Time returns the generation time.
func (id ID) Time() time.Time {
	return time.UnixMilli(id.Timestamp())
}

func (id ID) Peer() uint16 {
	return binary.BigEndian.Uint16(id[peerOff:seqOff])
}

func (id ID) Sequence() uint16 {
	return binary.BigEndian.Uint16(id[seqOff:routeHighOff])
}

// RoutingGroup returns the 44 bit replication group id.
func (id ID) RoutingGroup() uint64 {
	high := binary.BigEndian.Uint32(id[routeHighOff:routeLowOff])
	low := binary.BigEndian.Uint16(id[routeLowOff:]) >> 4
	return uint64(high)<<12 | uint64(low)
}

// SetRoutingGroup stores the replication group in place. Identity is unchanged.
func (id *ID) SetRoutingGroup(group uint64) error {
	if group > MaxRoutingGroup {
		return fmt.Errorf("%w: %d", ErrRoutingGroupOverflow, group)
	}
	binary.BigEndian.PutUint32(id[routeHighOff:routeLowOff], uint32(group>>12))
	binary.BigEndian.PutUint16(id[routeLowOff:], uint16(group&0xFFF)<<4)
	return nil
}

// WithRoutingGroup returns a copy carrying the given replication group.
func (id ID) WithRoutingGroup(group uint64) (ID, error) {
	err := id.SetRoutingGroup(group)
	return id, err
}

// Key returns the identity part, usable as a map key.
func (id ID) Key() Key {
	var k Key
	copy(k[:], id[:identityLen])
	return k
}

// Equal compares identity, ignoring the routing group.
func (id ID) Equal(other ID) bool {
	return id.Key() == other.Key()
}

// Hash hashes the identity part, ignoring the routing group.
func (id ID) Hash() uint64 {
	return xxhash.Sum64(id[:identityLen])
}

func (id ID) IsZero() bool {
	return id == ID{}
}

// Bytes returns a copy of the raw 16 bytes.
func (id ID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, id[:])
	return b
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// --------------------------------------------------------------------------
// Generator
// --------------------------------------------------------------------------

// Sequence hands out per-generator sequence numbers. Values wrap modulo 2^16.
type Sequence interface {
	Next() uint16
}

// AtomicSequence is a lock-free Sequence starting at zero.
type AtomicSequence struct {
	v atomic.Uint32
}

func (s *AtomicSequence) Next() uint16 {
	return uint16(s.v.Add(1) - 1)
}

// Generator creates identifiers for one peer. It is safe for concurrent use.
//
// Uniqueness relies on distinct peer ids and on fewer than 65536 identifiers per
// peer and millisecond. When the sequence wraps inside one millisecond two
// identifiers can collide. This is accepted rather than prevented.
type Generator struct {
	peer uint16
	seq  Sequence
	now  func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithSequence injects the sequence counter, for example to share it between
// generators of the same process or to make tests deterministic.
func WithSequence(seq Sequence) Option {
	return func(g *Generator) { g.seq = seq }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func NewGenerator(peer uint16, opts ...Option) *Generator {
	g := &Generator{peer: peer, seq: &AtomicSequence{}, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) Peer() uint16 {
	return g.peer
}

// New returns a fresh identifier with routing group zero.
func (g *Generator) New() ID {
	var id ID
	ts := uint64(g.now().UnixMilli()) & timestampMask

	var b [8]byte
	binary.BigEndian.PutUint64(b[:], ts)
	copy(id[tsOff:peerOff], b[2:])
	binary.BigEndian.PutUint16(id[peerOff:seqOff], g.peer)
	binary.BigEndian.PutUint16(id[seqOff:routeHighOff], g.seq.Next())
	return id
}

// NewInGroup returns a fresh identifier routed to the given replication group.
func (g *Generator) NewInGroup(group uint64) (ID, error) {
	return g.New().WithRoutingGroup(group)
}
