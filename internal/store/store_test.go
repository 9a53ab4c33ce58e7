package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BeamMW/beam-sub003/api"
)

func TestKey(t *testing.T) {
	k := Key([]byte{1, 2, 3}, api.VarRefs, []byte{9})
	require.Equal(t, []byte{1, 2, 3, byte(api.VarRefs), 9}, k)
}

func testStoreRoundTrip(t *testing.T, s Store) {
	t.Helper()
	key := []byte("contract||tag||payload")

	_, ok, err := s.Get(key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put(key, []byte("hello")))
	v, ok, err := s.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), v)

	require.NoError(t, s.Put(key, []byte("world")))
	v, ok, err = s.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("world"), v)

	require.NoError(t, s.Delete(key))
	_, ok, err = s.Get(key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Delete(key)) // deleting an absent key is not an error
}

func TestMemoryStore(t *testing.T) {
	testStoreRoundTrip(t, NewMemoryStore())
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bvm.bolt")
	s, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer s.Close()
	testStoreRoundTrip(t, s)
}
