// Package hoststore provides the transactional key-value store that hosts the
// rent ledger. Every call runs on one Txn: its writes, including the running
// byte-usage counter, become visible only on Commit.
package hoststore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MetaPrefix namespaces bookkeeping keys that are not billed as storage
	MetaPrefix = "meta/"

	// UsageKey holds the persisted byte-usage counter
	UsageKey = MetaPrefix + "storage_usage"

	// DefaultRecordOverhead is the per-record cost charged on top of key and value bytes
	DefaultRecordOverhead = 40
)

var (
	// ErrNotFound is returned by Get when the key does not exist
	ErrNotFound = errors.New("hoststore: key not found")

	// ErrTxnClosed is returned when a committed or discarded Txn is used
	ErrTxnClosed = errors.New("hoststore: transaction closed")
)

// Store opens transactions over the host key-value data
type Store interface {
	// Begin starts a new transaction
	Begin() (Txn, error)
	// StorageUsage returns the committed byte-usage counter
	StorageUsage() (uint64, error)
	// Close releases the store
	Close() error
}

// Txn is a single all-or-nothing unit of work
type Txn interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// Scan calls fn for every key with the given prefix in key order
	Scan(prefix []byte, fn func(key, value []byte) error) error
	// StorageUsage returns the byte-usage counter including this txn's writes
	StorageUsage() uint64
	Commit() error
	Discard()
}

// kvTxn is the engine-specific half of a transaction
type kvTxn interface {
	get(key []byte) ([]byte, error)
	set(key, value []byte) error
	del(key []byte) error
	scan(prefix []byte, fn func(key, value []byte) error) error
	commit() error
	discard()
}

// txn layers byte-usage accounting over an engine transaction
type txn struct {
	kv       kvTxn
	usage    uint64
	overhead uint64
	closed   bool
}

func newTxn(kv kvTxn, overhead uint64) (*txn, error) {
	usage, err := readUsage(kv)
	if err != nil {
		kv.discard()
		return nil, err
	}
	return &txn{kv: kv, usage: usage, overhead: overhead}, nil
}

func readUsage(kv kvTxn) (uint64, error) {
	raw, err := kv.get([]byte(UsageKey))
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("hoststore: usage counter has %d bytes", len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (t *txn) footprint(key, value []byte) uint64 {
	return t.overhead + uint64(len(key)) + uint64(len(value))
}

func billable(key []byte) bool {
	return !bytes.HasPrefix(key, []byte(MetaPrefix))
}

func (t *txn) Get(key []byte) ([]byte, error) {
	if t.closed {
		return nil, ErrTxnClosed
	}
	return t.kv.get(key)
}

func (t *txn) Set(key, value []byte) error {
	if t.closed {
		return ErrTxnClosed
	}
	if billable(key) {
		old, err := t.kv.get(key)
		switch {
		case err == nil:
			t.usage -= t.footprint(key, old)
		case !errors.Is(err, ErrNotFound):
			return err
		}
		t.usage += t.footprint(key, value)
	}
	return t.kv.set(key, value)
}

func (t *txn) Delete(key []byte) error {
	if t.closed {
		return ErrTxnClosed
	}
	old, err := t.kv.get(key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if billable(key) {
		t.usage -= t.footprint(key, old)
	}
	return t.kv.del(key)
}

func (t *txn) Scan(prefix []byte, fn func(key, value []byte) error) error {
	if t.closed {
		return ErrTxnClosed
	}
	return t.kv.scan(prefix, fn)
}

func (t *txn) StorageUsage() uint64 {
	return t.usage
}

func (t *txn) Commit() error {
	if t.closed {
		return ErrTxnClosed
	}
	t.closed = true

	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], t.usage)
	if err := t.kv.set([]byte(UsageKey), raw[:]); err != nil {
		t.kv.discard()
		return err
	}
	return t.kv.commit()
}

func (t *txn) Discard() {
	if t.closed {
		return
	}
	t.closed = true
	t.kv.discard()
}

// prefixUpperBound returns the smallest key greater than every key with the prefix
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
