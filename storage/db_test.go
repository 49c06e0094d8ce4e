package storage

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func runDatabaseSuite(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, db.Put([]byte("alpha"), []byte("one")))
	value, err := db.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), value)

	require.NoError(t, db.Put([]byte("alpha"), []byte("two")))
	value, err = db.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte("two"), value)

	require.NoError(t, db.Delete([]byte("alpha")))
	_, err = db.Get([]byte("alpha"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	// Deleting an absent key is a no-op.
	require.NoError(t, db.Delete([]byte("alpha")))

	require.NoError(t, db.Put([]byte("market/ledger/USDM"), []byte("a")))
	require.NoError(t, db.Put([]byte("market/ledger/ETHM"), []byte("b")))
	require.NoError(t, db.Put([]byte("account/anc1x"), []byte("c")))

	keys, err := db.KeysWithPrefix([]byte("market/ledger/"))
	require.NoError(t, err)
	got := make([]string, 0, len(keys))
	for _, k := range keys {
		got = append(got, string(k))
	}
	sort.Strings(got)
	require.Equal(t, []string{"market/ledger/ETHM", "market/ledger/USDM"}, got)

	keys, err = db.KeysWithPrefix([]byte("votes/"))
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	runDatabaseSuite(t, db)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	runDatabaseSuite(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	buf := []byte("value")
	require.NoError(t, db.Put([]byte("k"), buf))
	buf[0] = 'X'

	stored, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), stored)

	// Mutating the returned slice must not touch the store either.
	stored[0] = 'Y'
	again, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), again)
}

func TestLevelDBReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("persist"), []byte("yes")))
	db.Close()

	reopened, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer reopened.Close()
	value, err := reopened.Get([]byte("persist"))
	require.NoError(t, err)
	require.Equal(t, []byte("yes"), value)
}
