package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase_RegisterAndGet(t *testing.T) {
	r := New[int]()
	require.NoError(t, r.Register("a", 1))

	v, ok := r.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestBase_RegisterDuplicate(t *testing.T) {
	r := New[string]()
	require.NoError(t, r.Register("x", "one"))
	err := r.Register("x", "two")
	assert.Error(t, err)
}

func TestBase_RegisterEmptyName(t *testing.T) {
	r := New[string]()
	err := r.Register("", "v")
	assert.Error(t, err)
}

func TestBase_ListSorted(t *testing.T) {
	r := New[int]()
	require.NoError(t, r.Register("c", 3))
	require.NoError(t, r.Register("a", 1))
	require.NoError(t, r.Register("b", 2))

	assert.Equal(t, []string{"a", "b", "c"}, r.Names())
	assert.Equal(t, []int{1, 2, 3}, r.List())
}

func TestBase_RemoveAndCount(t *testing.T) {
	r := New[int]()
	require.NoError(t, r.Register("a", 1))
	assert.Equal(t, 1, r.Count())

	require.NoError(t, r.Remove("a"))
	assert.Equal(t, 0, r.Count())

	assert.Error(t, r.Remove("a"))
}

func TestBase_Clear(t *testing.T) {
	r := New[int]()
	require.NoError(t, r.Register("a", 1))
	require.NoError(t, r.Register("b", 2))
	r.Clear()
	assert.Equal(t, 0, r.Count())
}

func TestBase_Replace(t *testing.T) {
	r := New[int]()
	r.Replace("a", 1)
	r.Replace("a", 2)
	v, ok := r.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}
