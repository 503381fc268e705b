package hoststore

import (
	"bytes"
	"sort"
	"sync"

	"github.com/devrev/pairdb/storage-rent/internal/storage/memtable"
)

// MemoryStore is a volatile host store backed by a skip list. Transactions
// buffer writes in their own skip list and apply them under the store lock
// on Commit.
type MemoryStore struct {
	mu       sync.RWMutex
	data     *memtable.SkipList[[]byte]
	overhead uint64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(recordOverhead uint64) *MemoryStore {
	if recordOverhead == 0 {
		recordOverhead = DefaultRecordOverhead
	}
	return &MemoryStore{
		data:     memtable.NewSkipList[[]byte](),
		overhead: recordOverhead,
	}
}

// Begin starts a transaction
func (s *MemoryStore) Begin() (Txn, error) {
	return newTxn(&memoryTxn{store: s, writes: memtable.NewSkipList[memoryWrite]()}, s.overhead)
}

// StorageUsage returns the committed byte-usage counter
func (s *MemoryStore) StorageUsage() (uint64, error) {
	return readUsage(&memoryTxn{store: s, writes: memtable.NewSkipList[memoryWrite]()})
}

// Len returns the number of committed keys, including bookkeeping keys
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Len()
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

// memoryWrite is a buffered write; deleted marks a tombstone
type memoryWrite struct {
	value   []byte
	deleted bool
}

type memoryTxn struct {
	store  *MemoryStore
	writes *memtable.SkipList[memoryWrite]
}

func (t *memoryTxn) get(key []byte) ([]byte, error) {
	if w, ok := t.writes.Search(string(key)); ok {
		if w.deleted {
			return nil, ErrNotFound
		}
		return append([]byte(nil), w.value...), nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if v, ok := t.store.data.Search(string(key)); ok {
		return append([]byte(nil), v...), nil
	}
	return nil, ErrNotFound
}

func (t *memoryTxn) set(key, value []byte) error {
	t.writes.Insert(string(key), memoryWrite{value: append([]byte(nil), value...)})
	return nil
}

func (t *memoryTxn) del(key []byte) error {
	t.writes.Insert(string(key), memoryWrite{deleted: true})
	return nil
}

func (t *memoryTxn) scan(prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)

	t.store.mu.RLock()
	for it := t.store.data.Seek(string(prefix)); it.Next(); {
		if !bytes.HasPrefix([]byte(it.Key()), prefix) {
			break
		}
		merged[it.Key()] = it.Value()
	}
	t.store.mu.RUnlock()

	for it := t.writes.Seek(string(prefix)); it.Next(); {
		if !bytes.HasPrefix([]byte(it.Key()), prefix) {
			break
		}
		if w := it.Value(); w.deleted {
			delete(merged, it.Key())
		} else {
			merged[it.Key()] = w.value
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := fn([]byte(k), append([]byte(nil), merged[k]...)); err != nil {
			return err
		}
	}
	return nil
}

func (t *memoryTxn) commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for it := t.writes.Iterator(); it.Next(); {
		if w := it.Value(); w.deleted {
			t.store.data.Delete(it.Key())
		} else {
			t.store.data.Insert(it.Key(), w.value)
		}
	}
	return nil
}

func (t *memoryTxn) discard() {
	t.writes = memtable.NewSkipList[memoryWrite]()
}
