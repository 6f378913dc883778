package entityid

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSequence struct{ next uint16 }

func (s *fixedSequence) Next() uint16 {
	v := s.next
	s.next++
	return v
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func TestNewEncodesFields(t *testing.T) {
	gen := NewGenerator(0xBEEF,
		WithSequence(&fixedSequence{next: 41}),
		WithClock(fixedClock(1_700_000_000_123)),
	)

	id := gen.New()
	assert.Equal(t, int64(1_700_000_000_123), id.Timestamp())
	assert.Equal(t, uint16(0xBEEF), id.Peer())
	assert.Equal(t, uint16(41), id.Sequence())
	assert.Equal(t, uint64(0), id.RoutingGroup())
	assert.Equal(t, time.UnixMilli(1_700_000_000_123), id.Time())

	next := gen.New()
	assert.Equal(t, uint16(42), next.Sequence())
	assert.False(t, id.Equal(next))
}

func TestSequenceWraps(t *testing.T) {
	seq := &AtomicSequence{}
	seq.v.Store(0xFFFF)
	assert.Equal(t, uint16(0xFFFF), seq.Next())
	assert.Equal(t, uint16(0), seq.Next())
}

func TestRoutingGroup(t *testing.T) {
	gen := NewGenerator(1)

	tests := []uint64{0, 1, 0xFFF, 0x1000, 0xABCDE_F12, MaxRoutingGroup}
	for _, group := range tests {
		id := gen.New()
		require.NoError(t, id.SetRoutingGroup(group))
		assert.Equal(t, group, id.RoutingGroup(), "group %#x", group)
		assert.Equal(t, byte(0), id[15]&0x0F, "low nibble must stay clear")
	}

	id := gen.New()
	assert.ErrorIs(t, id.SetRoutingGroup(MaxRoutingGroup+1), ErrRoutingGroupOverflow)
}

// re-routing an identifier never changes its identity, hash or generated fields
func TestEqualityIgnoresRouting(t *testing.T) {
	gen := NewGenerator(7)
	groups := [][2]uint64{{1, 2}, {0, MaxRoutingGroup}, {0xFFF, 0x1000}, {123456789, 42}}

	for _, g := range groups {
		id := gen.New()
		original := id
		ts, peer, seq := id.Timestamp(), id.Peer(), id.Sequence()

		require.NoError(t, id.SetRoutingGroup(g[0]))
		hash1, key1 := id.Hash(), id.Key()
		first := id

		require.NoError(t, id.SetRoutingGroup(g[1]))
		assert.Equal(t, hash1, id.Hash())
		assert.Equal(t, key1, id.Key())
		assert.True(t, first.Equal(id))
		assert.True(t, original.Equal(id))
		assert.Equal(t, original.Hash(), id.Hash())

		assert.Equal(t, ts, id.Timestamp())
		assert.Equal(t, peer, id.Peer())
		assert.Equal(t, seq, id.Sequence())
		assert.Equal(t, g[1], id.RoutingGroup())
	}
}

func TestKeyAsMapKey(t *testing.T) {
	id := NewGenerator(3).New()
	m := map[Key]string{id.Key(): "entity"}

	rerouted, err := id.WithRoutingGroup(99)
	require.NoError(t, err)
	assert.Equal(t, "entity", m[rerouted.Key()])
	assert.Equal(t, uint64(0), id.RoutingGroup(), "WithRoutingGroup must not modify the receiver")
}

func TestConcurrentGenerationIsUnique(t *testing.T) {
	gen := NewGenerator(5)
	const goroutines, perGoroutine = 8, 1000

	var mu sync.Mutex
	seen := make(map[Key]struct{}, goroutines*perGoroutine)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]ID, perGoroutine)
			for j := range local {
				local[j] = gen.New()
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				seen[id.Key()] = struct{}{}
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestStringAndParse(t *testing.T) {
	id, err := NewGenerator(9).NewInGroup(0x123_456)
	require.NoError(t, err)

	s := id.String()
	assert.Len(t, s, 32)

	parsed, err := Parse(s)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.Equal(t, uint64(0x123_456), parsed.RoutingGroup())

	_, err = Parse("not-an-id")
	assert.ErrorIs(t, err, ErrInvalidID)

	bad := id
	bad[15] |= 0x01
	_, err = Parse(bad.String())
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestJSON(t *testing.T) {
	type entity struct {
		ID ID `json:"id"`
	}
	in := entity{ID: NewGenerator(2).New()}

	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), in.ID.String())

	var out entity
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

func TestFromBytes(t *testing.T) {
	id := NewGenerator(4).New()
	copied, err := FromBytes(id.Bytes())
	require.NoError(t, err)
	assert.Equal(t, id, copied)

	_, err = FromBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.True(t, ID{}.IsZero())
}
