// Package ledger persists per-identity claim timestamps and the audit log of
// claim attempts in two independently retained partitions of one store.
package ledger

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"time"

	"faucet/internal/keys"
	"faucet/internal/logging"
	"faucet/internal/store"
	boltstore "faucet/internal/store/bolt"
)

const (
	ClaimsPartition = "claims"
	LogsPartition   = "logs"
)

var logger = logging.For("ledger")

// Options configures Open. SizeLimit is the ceiling shared by both
// partitions; ClaimsLimit and LogsLimit override it when non-zero.
type Options struct {
	SizeLimit   uint64
	ClaimsLimit uint64
	LogsLimit   uint64
	Segments    int
	NoSync      bool
}

// LogEntry is one audit record. Status is the raw status byte of the key.
type LogEntry struct {
	Timestamp uint64
	Status    uint8
	Input     string
	Result    string
}

// Success reports whether the entry records a successful claim.
func (e LogEntry) Success() bool {
	return e.Status == keys.StatusSuccess
}

func (e LogEntry) String() string {
	status := "failed"
	if e.Success() {
		status = "ok"
	}
	ts := time.Unix(int64(e.Timestamp), 0).UTC().Format(time.RFC3339)
	return fmt.Sprintf("%s %-6s %s -> %s", ts, status, e.Input, e.Result)
}

// Meta is an operational snapshot of the store.
type Meta struct {
	JournalDiskSpace   uint64
	PartitionCount     int
	PartitionSizeLimit uint64

	LogEntries   int
	LogDiskSpace uint64
	LogSegments  int
	LogSizeLimit uint64

	ClaimEntries   int
	ClaimDiskSpace uint64
	ClaimSegments  int
	ClaimSizeLimit uint64
}

// DB owns the claims and logs partitions. It is safe for concurrent use.
type DB struct {
	st        store.Store
	sizeLimit uint64
}

// Open opens or creates the ledger inside the directory at path.
func Open(path string, opts Options) (*DB, error) {
	limits := map[string]uint64{}
	if opts.ClaimsLimit > 0 {
		limits[ClaimsPartition] = opts.ClaimsLimit
	}
	if opts.LogsLimit > 0 {
		limits[LogsPartition] = opts.LogsLimit
	}
	st, err := boltstore.Open(path, boltstore.Options{
		Partitions: []string{ClaimsPartition, LogsPartition},
		SizeLimit:  opts.SizeLimit,
		Limits:     limits,
		Segments:   opts.Segments,
		NoSync:     opts.NoSync,
	})
	if err != nil {
		return nil, store.Wrap("open", store.ErrInit, err)
	}
	logger.Debug("ledger opened", "path", path, "size_limit", opts.SizeLimit)
	return New(st, opts.SizeLimit), nil
}

// New wraps an already opened engine that declares both partitions.
func New(st store.Store, sizeLimit uint64) *DB {
	return &DB{st: st, sizeLimit: sizeLimit}
}

func (db *DB) Close() error {
	return db.st.Close()
}

// PutClaim records ts as identity's latest successful claim, replacing any
// previous value.
func (db *DB) PutClaim(identity string, ts uint64) error {
	err := db.st.Set(ClaimsPartition, keys.Identity(identity), keys.Uint64(ts))
	return store.Wrap("insert claim", store.ErrIO, err)
}

// GetClaim returns identity's latest claim timestamp. ok is false when the
// identity never claimed or its record was evicted.
func (db *DB) GetClaim(identity string) (ts uint64, ok bool, err error) {
	v, err := db.st.Get(ClaimsPartition, keys.Identity(identity))
	if err != nil {
		return 0, false, store.Wrap("get claim", store.ErrIO, err)
	}
	if v == nil {
		return 0, false, nil
	}
	ts, err = keys.DecodeUint64(v)
	if err != nil {
		return 0, false, store.Wrap("get claim", store.ErrDecode, err)
	}
	return ts, true, nil
}

// AppendLog writes one audit entry. Two entries with the same second and
// status share a key; the later one replaces the earlier.
func (db *DB) AppendLog(ts uint64, success bool, input, result string) error {
	err := db.st.Set(LogsPartition, keys.Log(ts, success), encodeLogValue(input, result))
	return store.Wrap("insert log", store.ErrIO, err)
}

// GetLog looks up the audit entry stored under (ts, success).
func (db *DB) GetLog(ts uint64, success bool) (LogEntry, bool, error) {
	k := keys.Log(ts, success)
	v, err := db.st.Get(LogsPartition, k)
	if err != nil {
		return LogEntry{}, false, store.Wrap("get log", store.ErrIO, err)
	}
	if v == nil {
		return LogEntry{}, false, nil
	}
	e, err := decodeEntry(store.Record{Key: k, Value: v})
	if err != nil {
		return LogEntry{}, false, store.Wrap("get log", store.ErrDecode, err)
	}
	return e, true, nil
}

// ScanLogs yields every audit entry ascending by (timestamp, status). Each call
// starts a fresh pass. A malformed entry yields a decode error and the scan
// continues; an engine error ends it.
func (db *DB) ScanLogs() iter.Seq2[LogEntry, error] {
	return func(yield func(LogEntry, error) bool) {
		for rec, err := range db.st.Scan(LogsPartition, store.Range{}) {
			if err != nil {
				yield(LogEntry{}, store.Wrap("scan logs", store.ErrIO, err))
				return
			}
			e, err := decodeEntry(rec)
			if err != nil {
				err = store.Wrap("scan logs", store.ErrDecode, err)
			}
			if !yield(e, err) {
				return
			}
		}
	}
}

// LastSuccessfulClaim returns the largest timestamp in [low, high] that has a
// successful audit entry. The scan runs newest first and stops at the first hit.
func (db *DB) LastSuccessfulClaim(low, high uint64) (uint64, bool, error) {
	if low > high {
		return 0, false, nil
	}
	r := store.Range{Start: keys.Log(low, false), Reverse: true}
	if high < math.MaxUint64 {
		r.Limit = keys.Log(high+1, false)
	}
	for rec, err := range db.st.Scan(LogsPartition, r) {
		if err != nil {
			return 0, false, store.Wrap("last claim", store.ErrIO, err)
		}
		ts, status, err := keys.DecodeLog(rec.Key)
		if err != nil {
			return 0, false, store.Wrap("last claim", store.ErrDecode, err)
		}
		if status == keys.StatusSuccess {
			return ts, true, nil
		}
	}
	return 0, false, nil
}

// LastSuccessfulClaimInRange is LastSuccessfulClaim with 0 standing for
// "no successful claim in range".
func (db *DB) LastSuccessfulClaimInRange(low, high uint64) (uint64, error) {
	ts, _, err := db.LastSuccessfulClaim(low, high)
	return ts, err
}

// Meta reports entry counts, footprint and segments of both partitions.
func (db *DB) Meta() (Meta, error) {
	st, err := db.st.Stats()
	if err != nil {
		return Meta{}, store.Wrap("meta", store.ErrIO, err)
	}
	logs, okLogs := st.Partitions[LogsPartition]
	claims, okClaims := st.Partitions[ClaimsPartition]
	if !okLogs || !okClaims {
		return Meta{}, store.Wrap("meta", store.ErrIO, errors.New("partition stats missing"))
	}
	return Meta{
		JournalDiskSpace:   st.DiskSpace,
		PartitionCount:     len(st.Partitions),
		PartitionSizeLimit: db.sizeLimit,
		LogEntries:         logs.Entries,
		LogDiskSpace:       logs.DiskSpace,
		LogSegments:        logs.Segments,
		LogSizeLimit:       logs.SizeLimit,
		ClaimEntries:       claims.Entries,
		ClaimDiskSpace:     claims.DiskSpace,
		ClaimSegments:      claims.Segments,
		ClaimSizeLimit:     claims.SizeLimit,
	}, nil
}

func decodeEntry(rec store.Record) (LogEntry, error) {
	ts, status, err := keys.DecodeLog(rec.Key)
	if err != nil {
		return LogEntry{}, err
	}
	input, result, err := decodeLogValue(rec.Value)
	if err != nil {
		return LogEntry{}, fmt.Errorf("log %d/%d: %w", ts, status, err)
	}
	return LogEntry{Timestamp: ts, Status: status, Input: input, Result: result}, nil
}
