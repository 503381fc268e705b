package model

import "github.com/devrev/pairdb/storage-rent/internal/amount"

// CallOutcome is the result class of a call recorded in the journal
type CallOutcome string

const (
	CallOutcomeCommitted CallOutcome = "committed"
	CallOutcomeRejected  CallOutcome = "rejected"
)

// JournalEvent represents one committed or rejected call in the journal
type JournalEvent struct {
	SequenceNumber uint64         `json:"seq"` // Monotonically increasing within a journal
	Timestamp      int64          `json:"ts"`
	RequestID      string         `json:"request_id,omitempty"`
	Operation      Operation      `json:"op"`
	Caller         string         `json:"caller"`
	AccountID      string         `json:"account_id,omitempty"`
	Attached       amount.Amount  `json:"attached"`
	Outcome        CallOutcome    `json:"outcome"`
	ErrorCode      string         `json:"error_code,omitempty"`
	Balance        *amount.Amount `json:"balance,omitempty"`
	Payouts        []Payout       `json:"payouts,omitempty"`
	Checksum       uint32         `json:"crc"` // CRC32 over the event without this field
}

// AccountInfo is the administrative view of an account record
type AccountInfo struct {
	AccountID    string        `json:"account_id"`
	Total        amount.Amount `json:"total"`
	Available    amount.Amount `json:"available"`
	StorageUsage uint64        `json:"storage_usage"`
}
