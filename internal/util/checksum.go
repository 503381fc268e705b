package util

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// ChecksumSize is the width of the trailer appended by SealRecord
const ChecksumSize = 4

// ErrChecksumMismatch is returned when a sealed record fails validation
var ErrChecksumMismatch = errors.New("checksum mismatch")

var crc32Table = crc32.MakeTable(crc32.Castagnoli)

// ComputeChecksum computes a CRC32-C checksum for the given data
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// SealRecord appends a big-endian checksum trailer to data.
// Format: [data][checksum (4 bytes)]
func SealRecord(data []byte) []byte {
	out := make([]byte, len(data)+ChecksumSize)
	copy(out, data)
	binary.BigEndian.PutUint32(out[len(data):], ComputeChecksum(data))
	return out
}

// OpenRecord validates the checksum trailer and returns the payload without it
func OpenRecord(sealed []byte) ([]byte, error) {
	if len(sealed) < ChecksumSize {
		return nil, ErrChecksumMismatch
	}

	n := len(sealed) - ChecksumSize
	payload := sealed[:n]
	if binary.BigEndian.Uint32(sealed[n:]) != ComputeChecksum(payload) {
		return nil, ErrChecksumMismatch
	}
	return payload, nil
}
