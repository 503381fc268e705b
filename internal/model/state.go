package model

import (
	"encoding/binary"
	"fmt"

	"github.com/devrev/pairdb/storage-rent/internal/util"
)

// ContractStateKey is the host store key of the contract state record
const ContractStateKey = "state"

// ContractStateVersion is the only encoding version currently written
const ContractStateVersion byte = 1

// RunningState gates all mutating operations
type RunningState string

const (
	RunningStateRunning RunningState = "running"
	RunningStatePaused  RunningState = "paused"
)

// Valid reports whether the state is one of the known values
func (s RunningState) Valid() bool {
	return s == RunningStateRunning || s == RunningStatePaused
}

// ContractState is the persisted administrative state
type ContractState struct {
	Owner        string       `json:"owner"`
	RunningState RunningState `json:"running_state"`
}

// EncodeContractState serializes the contract state.
// Format: [version:1][running:1][owner_len:2][owner][crc32:4]
func EncodeContractState(st *ContractState) []byte {
	buf := make([]byte, 0, 4+len(st.Owner))
	buf = append(buf, ContractStateVersion)
	if st.RunningState == RunningStateRunning {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(st.Owner)))
	buf = append(buf, st.Owner...)
	return util.SealRecord(buf)
}

// DecodeContractState parses a contract state record
func DecodeContractState(value []byte) (*ContractState, error) {
	payload, err := util.OpenRecord(value)
	if err != nil {
		return nil, fmt.Errorf("contract state: %w", err)
	}
	if len(payload) < 4 {
		return nil, fmt.Errorf("contract state: truncated record of %d bytes", len(payload))
	}
	if payload[0] != ContractStateVersion {
		return nil, fmt.Errorf("contract state: version %d: %w", payload[0], ErrUnknownVersion)
	}

	ownerLen := int(binary.BigEndian.Uint16(payload[2:4]))
	if len(payload) != 4+ownerLen {
		return nil, fmt.Errorf("contract state: owner length %d does not match record", ownerLen)
	}

	st := &ContractState{
		Owner:        string(payload[4:]),
		RunningState: RunningStatePaused,
	}
	if payload[1] == 1 {
		st.RunningState = RunningStateRunning
	}
	return st, nil
}
