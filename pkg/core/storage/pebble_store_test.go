package storage

import (
	"testing"

	"github.com/nspcc-dev/mptkv/pkg/core/storage/dbconfig"
	"github.com/stretchr/testify/require"
)

func newPebbleStoreForTesting(t testing.TB) Store {
	s, err := NewPebbleDBStore(dbconfig.PebbleDBOptions{DataDirectoryPath: t.TempDir()})
	require.NoError(t, err)
	return s
}

func TestPebbleReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewPebbleDBStore(dbconfig.PebbleDBOptions{DataDirectoryPath: dir})
	require.NoError(t, err)
	require.NoError(t, s.PutChangeSet(map[string][]byte{"key": []byte("value")}))
	require.NoError(t, s.Close())

	s, err = NewPebbleDBStore(dbconfig.PebbleDBOptions{DataDirectoryPath: dir})
	require.NoError(t, err)
	v, err := s.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), v)
	require.NoError(t, s.Close())
}
