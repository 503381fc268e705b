package model

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/devrev/pairdb/storage-rent/internal/amount"
	"github.com/devrev/pairdb/storage-rent/internal/util"
)

const (
	// AccountKeyPrefix namespaces account records in the host store
	AccountKeyPrefix = "acct/"

	// AccountRecordVersion is the only encoding version currently written
	AccountRecordVersion byte = 1

	// AccountRecordSize is the fixed width of an encoded account value:
	// version (1) + balance (16) + storage usage (8) + checksum (4)
	AccountRecordSize = 1 + amount.Size + 8 + util.ChecksumSize
)

// ErrUnknownVersion is returned when a persisted record carries a version
// this build cannot decode
var ErrUnknownVersion = errors.New("unknown record version")

// Account is the ledger entry of one registered tenant
type Account struct {
	ID             string
	PrepaidBalance amount.Amount
	StorageUsage   uint64 // Bytes measured when the account was registered
}

// StorageBalance is the {total, available} view returned by balance queries
type StorageBalance struct {
	Total     amount.Amount `json:"total"`
	Available amount.Amount `json:"available"`
}

// StorageBalanceBounds describes the accepted balance range. A nil Max
// means the balance is unbounded.
type StorageBalanceBounds struct {
	Min amount.Amount  `json:"min"`
	Max *amount.Amount `json:"max"`
}

// AccountKey returns the host store key of an account
func AccountKey(id string) []byte {
	return []byte(AccountKeyPrefix + id)
}

// EncodeAccount serializes the account value.
// Format: [version:1][balance:16][storage_usage:8][crc32:4]
func EncodeAccount(acct *Account) []byte {
	buf := make([]byte, 0, AccountRecordSize-util.ChecksumSize)
	buf = append(buf, AccountRecordVersion)
	buf = append(buf, acct.PrepaidBalance.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, acct.StorageUsage)
	return util.SealRecord(buf)
}

// DecodeAccount parses an account value stored under the given identifier
func DecodeAccount(id string, value []byte) (*Account, error) {
	if len(value) != AccountRecordSize {
		return nil, fmt.Errorf("account %s: record size %d, want %d", id, len(value), AccountRecordSize)
	}

	payload, err := util.OpenRecord(value)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", id, err)
	}

	if payload[0] != AccountRecordVersion {
		return nil, fmt.Errorf("account %s: version %d: %w", id, payload[0], ErrUnknownVersion)
	}

	balance, err := amount.FromBytes(payload[1 : 1+amount.Size])
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", id, err)
	}

	return &Account{
		ID:             id,
		PrepaidBalance: balance,
		StorageUsage:   binary.BigEndian.Uint64(payload[1+amount.Size:]),
	}, nil
}
