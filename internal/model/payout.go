package model

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/devrev/pairdb/storage-rent/internal/amount"
)

// PayoutKeyPrefix namespaces the payout outbox in the host store
const PayoutKeyPrefix = "payout/"

// PayoutSeqKey stores the next outbox sequence number
const PayoutSeqKey = "meta/payout_seq"

// PayoutReason records why currency leaves the ledger
type PayoutReason string

const (
	PayoutReasonRefund     PayoutReason = "refund"
	PayoutReasonWithdraw   PayoutReason = "withdraw"
	PayoutReasonUnregister PayoutReason = "unregister"
)

// Payout is a committed currency transfer waiting to be delivered
type Payout struct {
	Sequence    uint64        `json:"sequence"`
	Destination string        `json:"destination"`
	Amount      amount.Amount `json:"amount"`
	Reason      PayoutReason  `json:"reason"`
	RequestID   string        `json:"request_id,omitempty"`
	CreatedAt   int64         `json:"created_at"`
}

// PayoutKey returns the outbox key of a payout. Sequences are encoded
// big-endian so a prefix scan returns payouts in commit order.
func PayoutKey(seq uint64) []byte {
	key := make([]byte, len(PayoutKeyPrefix)+8)
	copy(key, PayoutKeyPrefix)
	binary.BigEndian.PutUint64(key[len(PayoutKeyPrefix):], seq)
	return key
}

// EncodePayout serializes a payout for the outbox
func EncodePayout(p *Payout) ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayout parses an outbox value
func DecodePayout(value []byte) (*Payout, error) {
	var p Payout
	if err := json.Unmarshal(value, &p); err != nil {
		return nil, fmt.Errorf("decode payout: %w", err)
	}
	return &p, nil
}
