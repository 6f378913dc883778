package nativebuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocAndFrom(t *testing.T) {
	o := From([]byte("hello"))
	defer o.Free()

	assert.Equal(t, 5, o.Len())
	assert.Equal(t, "hello", o.String())

	z := Alloc(8)
	defer z.Free()
	assert.Equal(t, make([]byte, 8), z.Bytes())

	s := AllocString("key")
	defer s.Free()
	assert.Equal(t, []byte("key"), s.Bytes())
}

func TestFromCopies(t *testing.T) {
	src := []byte("abc")
	o := From(src)
	defer o.Free()

	src[0] = 'x'
	assert.Equal(t, "abc", o.String())
}

func TestZeroValue(t *testing.T) {
	var o Owned
	assert.True(t, o.IsNil())
	assert.Nil(t, o.Bytes())
	assert.Equal(t, 0, o.Len())
	assert.True(t, o.Move().IsNil())
	o.Free()

	assert.True(t, From(nil).IsNil())
}

func TestMoveInvalidatesSource(t *testing.T) {
	o := From([]byte("payload"))
	moved := o.Move()
	defer moved.Free()

	assert.Equal(t, "payload", moved.String())
	assert.Panics(t, func() { _ = o.Bytes() })
	assert.Panics(t, func() { o.Free() })

	// copies of the old handle share its state
	alias := o
	assert.Panics(t, func() { _ = alias.Len() })
}

func TestFree(t *testing.T) {
	o := From([]byte("data"))
	kept := o.Copy()
	o.Free()
	o.Free()

	assert.Panics(t, func() { _ = o.Bytes() })
	assert.Equal(t, []byte("data"), kept)
}

func TestLargeBuffersBypassPool(t *testing.T) {
	o := Alloc(pooledMax + 1)
	require.Equal(t, pooledMax+1, o.Len())
	o.Free()

	FreeAll(From([]byte("a")), From([]byte("b")), Owned{})
}
