package store

import (
	"errors"
	"fmt"
	"iter"
)

// Store is a partitioned key-value engine. Partitions are declared when the
// engine is opened and each one is retained independently under a size ceiling.
// The initial implementation uses bbolt; the interface keeps the ledger
// independent of the engine.
type Store interface {
	Get(partition string, key []byte) ([]byte, error)
	Set(partition string, key, value []byte) error
	Scan(partition string, r Range) iter.Seq2[Record, error]
	Stats() (Stats, error)
	Close() error
}

// Range selects the half-open key interval [Start, Limit). A nil bound is
// unbounded on that side.
type Range struct {
	Start   []byte
	Limit   []byte
	Reverse bool
}

// Record is a key-value pair copied out of the engine.
type Record struct {
	Key   []byte
	Value []byte
}

// PartitionStats describes one partition's physical state.
type PartitionStats struct {
	Name      string
	Entries   int
	DiskSpace uint64
	Segments  int
	SizeLimit uint64
}

// Stats describes the whole engine.
type Stats struct {
	DiskSpace  uint64
	Partitions map[string]PartitionStats
}

// Error kinds. Match with errors.Is.
var (
	ErrInit   = errors.New("store init")
	ErrIO     = errors.New("store io")
	ErrDecode = errors.New("store decode")
)

// ErrUnknownPartition is returned for a partition that was not declared at open.
var ErrUnknownPartition = errors.New("unknown partition")

// Error carries the failed operation's name, the error kind and the cause.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v during %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%v during %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Wrap returns nil for a nil err, otherwise an *Error of the given kind.
func Wrap(op string, kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}
