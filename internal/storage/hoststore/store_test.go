package hoststore

import (
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	pebbleStore, err := OpenPebble(PebbleConfig{Dir: "rent", FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { pebbleStore.Close() })

	return map[string]Store{
		"pebble": pebbleStore,
		"memory": NewMemoryStore(0),
	}
}

func TestStore_UsageAccounting(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			txn, err := store.Begin()
			require.NoError(t, err)
			assert.Equal(t, uint64(0), txn.StorageUsage())

			require.NoError(t, txn.Set([]byte("acct/alice"), make([]byte, 29)))
			assert.Equal(t, uint64(40+10+29), txn.StorageUsage())

			// Overwrite with a value of the same width leaves usage unchanged
			require.NoError(t, txn.Set([]byte("acct/alice"), make([]byte, 29)))
			assert.Equal(t, uint64(79), txn.StorageUsage())

			// Bookkeeping keys are not billed
			require.NoError(t, txn.Set([]byte("meta/seq"), []byte{1}))
			assert.Equal(t, uint64(79), txn.StorageUsage())

			require.NoError(t, txn.Commit())

			usage, err := store.StorageUsage()
			require.NoError(t, err)
			assert.Equal(t, uint64(79), usage)

			txn, err = store.Begin()
			require.NoError(t, err)
			assert.Equal(t, uint64(79), txn.StorageUsage())
			require.NoError(t, txn.Delete([]byte("acct/alice")))
			assert.Equal(t, uint64(0), txn.StorageUsage())
			require.NoError(t, txn.Delete([]byte("acct/missing")))
			require.NoError(t, txn.Commit())
		})
	}
}

func TestStore_DiscardRollsBack(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			txn, err := store.Begin()
			require.NoError(t, err)
			require.NoError(t, txn.Set([]byte("acct/bob"), []byte("v")))
			txn.Discard()

			_, err = txn.Get([]byte("acct/bob"))
			assert.ErrorIs(t, err, ErrTxnClosed)

			txn, err = store.Begin()
			require.NoError(t, err)
			defer txn.Discard()

			_, err = txn.Get([]byte("acct/bob"))
			assert.ErrorIs(t, err, ErrNotFound)
			assert.Equal(t, uint64(0), txn.StorageUsage())
		})
	}
}

func TestStore_ReadYourWrites(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			txn, err := store.Begin()
			require.NoError(t, err)
			require.NoError(t, txn.Set([]byte("acct/a"), []byte("1")))
			require.NoError(t, txn.Commit())

			txn, err = store.Begin()
			require.NoError(t, err)
			defer txn.Discard()

			require.NoError(t, txn.Set([]byte("acct/b"), []byte("2")))
			require.NoError(t, txn.Delete([]byte("acct/a")))
			require.NoError(t, txn.Set([]byte("payout/1"), []byte("3")))

			v, err := txn.Get([]byte("acct/b"))
			require.NoError(t, err)
			assert.Equal(t, []byte("2"), v)

			var keys []string
			err = txn.Scan([]byte("acct/"), func(key, value []byte) error {
				keys = append(keys, string(key))
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"acct/b"}, keys)
		})
	}
}

func TestStore_CommitTwice(t *testing.T) {
	store := NewMemoryStore(0)
	txn, err := store.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.Commit())
	assert.ErrorIs(t, txn.Commit(), ErrTxnClosed)
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("acct0"), prefixUpperBound([]byte("acct/")))
	assert.Equal(t, []byte{0x02}, prefixUpperBound([]byte{0x01, 0xFF}))
	assert.Nil(t, prefixUpperBound([]byte{0xFF}))
}
