// Package keys encodes the two key shapes stored by the ledger: raw identity
// keys for claims and fixed-width (timestamp, status) keys for the audit log.
package keys

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// LogKeySize is 8 (big-endian timestamp) + 1 (zero separator) + 1 (status).
	LogKeySize = 10

	StatusFailure uint8 = 0
	StatusSuccess uint8 = 1
)

var ErrDecode = errors.New("malformed key")

// Identity returns the identity bytes unmodified. No normalization is applied,
// so "0xABC" and "0xabc" are distinct claim keys.
func Identity(id string) []byte {
	return []byte(id)
}

// Log builds the composite audit key for a claim attempt.
func Log(timestamp uint64, success bool) []byte {
	status := StatusFailure
	if success {
		status = StatusSuccess
	}
	return LogStatus(timestamp, status)
}

// LogStatus builds a composite audit key with an arbitrary status byte.
func LogStatus(timestamp uint64, status uint8) []byte {
	buf := make([]byte, LogKeySize)
	binary.BigEndian.PutUint64(buf[0:8], timestamp)
	buf[8] = 0
	buf[9] = status
	return buf
}

// DecodeLog splits a composite audit key into its timestamp and status byte.
// The status byte is returned as stored; only the length and separator are checked.
func DecodeLog(b []byte) (uint64, uint8, error) {
	if len(b) != LogKeySize {
		return 0, 0, fmt.Errorf("%w: log key length %d, want %d", ErrDecode, len(b), LogKeySize)
	}
	if b[8] != 0 {
		return 0, 0, fmt.Errorf("%w: log key separator 0x%02x", ErrDecode, b[8])
	}
	return binary.BigEndian.Uint64(b[0:8]), b[9], nil
}

// Uint64 encodes n big-endian so byte order matches numeric order.
func Uint64(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

// DecodeUint64 is the inverse of Uint64.
func DecodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: u64 length %d, want 8", ErrDecode, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
