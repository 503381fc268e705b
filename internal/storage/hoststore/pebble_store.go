package hoststore

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// PebbleConfig configures a pebble-backed store
type PebbleConfig struct {
	Dir            string
	FS             vfs.FS // nil uses the OS filesystem
	SyncWrites     bool
	RecordOverhead uint64
}

// PebbleStore is the persistent host store. Transactions are indexed
// batches, so reads observe the transaction's own writes.
type PebbleStore struct {
	db       *pebble.DB
	writeOpt *pebble.WriteOptions
	overhead uint64
}

// OpenPebble opens or creates a pebble database in cfg.Dir
func OpenPebble(cfg PebbleConfig) (*PebbleStore, error) {
	opts := &pebble.Options{}
	if cfg.FS != nil {
		opts.FS = cfg.FS
	}

	db, err := pebble.Open(cfg.Dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", cfg.Dir, err)
	}

	writeOpt := pebble.NoSync
	if cfg.SyncWrites {
		writeOpt = pebble.Sync
	}

	overhead := cfg.RecordOverhead
	if overhead == 0 {
		overhead = DefaultRecordOverhead
	}

	return &PebbleStore{db: db, writeOpt: writeOpt, overhead: overhead}, nil
}

// Begin starts a transaction on a fresh indexed batch
func (s *PebbleStore) Begin() (Txn, error) {
	return newTxn(&pebbleTxn{batch: s.db.NewIndexedBatch(), writeOpt: s.writeOpt}, s.overhead)
}

// StorageUsage returns the committed byte-usage counter
func (s *PebbleStore) StorageUsage() (uint64, error) {
	return readUsage(&pebbleReader{db: s.db})
}

// Close closes the database
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

type pebbleTxn struct {
	batch    *pebble.Batch
	writeOpt *pebble.WriteOptions
}

func (t *pebbleTxn) get(key []byte) ([]byte, error) {
	return copyValue(t.batch.Get(key))
}

func (t *pebbleTxn) set(key, value []byte) error {
	return t.batch.Set(key, value, nil)
}

func (t *pebbleTxn) del(key []byte) error {
	return t.batch.Delete(key, nil)
}

func (t *pebbleTxn) scan(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := t.batch.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		value := append([]byte(nil), iter.Value()...)
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (t *pebbleTxn) commit() error {
	defer t.batch.Close()
	return t.batch.Commit(t.writeOpt)
}

func (t *pebbleTxn) discard() {
	t.batch.Close()
}

// pebbleReader reads committed state outside a transaction
type pebbleReader struct {
	db *pebble.DB
}

func (r *pebbleReader) get(key []byte) ([]byte, error) {
	return copyValue(r.db.Get(key))
}

func (r *pebbleReader) set(key, value []byte) error { return errors.New("hoststore: read-only") }
func (r *pebbleReader) del(key []byte) error        { return errors.New("hoststore: read-only") }
func (r *pebbleReader) commit() error               { return nil }
func (r *pebbleReader) discard()                    {}

func (r *pebbleReader) scan(prefix []byte, fn func(key, value []byte) error) error {
	return errors.New("hoststore: read-only")
}

// copyValue detaches a value from pebble's buffer before the closer runs
func copyValue(value []byte, closer interface{ Close() error }, err error) ([]byte, error) {
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), value...), nil
}
