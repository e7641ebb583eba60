package bolt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"faucet/internal/keys"
	"faucet/internal/logging"
	"faucet/internal/store"
)

const (
	// FileName is the bbolt file created inside the store directory.
	FileName = "faucet.db"

	// DefaultSegments is the number of segments a partition is split into
	// when Options.Segments is unset.
	DefaultSegments = 8

	// leafElementSize is bbolt's per-element leaf page header.
	leafElementSize = 16
)

var (
	segBucket = []byte("seg")
	idxBucket = []byte("idx")
)

var logger = logging.For("store")

// Options configures the partitions of a Store.
type Options struct {
	Partitions []string
	SizeLimit  uint64            // ceiling shared by every partition
	Limits     map[string]uint64 // optional per-partition override of SizeLimit
	Segments   int
	NoSync     bool
}

type partition struct {
	name    []byte
	limit   uint64
	segSize uint64
}

// Store implements store.Store on bbolt. Each partition is a top-level bucket
// holding numbered segment sub-buckets. Writes land in the newest segment and
// the oldest segments are dropped once the pages allocated to the partition's
// segments outgrow its ceiling.
type Store struct {
	db    *bolt.DB
	parts map[string]*partition
	order []string
}

var _ store.Store = (*Store)(nil)

// Open creates or opens the store inside dir.
func Open(dir string, opts Options) (*Store, error) {
	if len(opts.Partitions) == 0 {
		return nil, errors.New("no partitions configured")
	}
	if opts.SizeLimit == 0 {
		return nil, errors.New("size limit must be positive")
	}
	segments := opts.Segments
	if segments <= 0 {
		segments = DefaultSegments
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dir, FileName), 0600, &bolt.Options{
		Timeout: time.Second,
		NoSync:  opts.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	s := &Store{db: db, parts: make(map[string]*partition, len(opts.Partitions))}
	for _, name := range opts.Partitions {
		limit := opts.SizeLimit
		if l := opts.Limits[name]; l > 0 {
			limit = l
		}
		segSize := limit / uint64(segments)
		if segSize == 0 {
			segSize = 1
		}
		s.parts[name] = &partition{name: []byte(name), limit: limit, segSize: segSize}
		s.order = append(s.order, name)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range s.order {
			root, err := tx.CreateBucketIfNotExists([]byte(name))
			if err != nil {
				return fmt.Errorf("creating partition %s: %w", name, err)
			}
			if _, err := root.CreateBucketIfNotExists(segBucket); err != nil {
				return err
			}
			if _, err := root.CreateBucketIfNotExists(idxBucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) partition(name string) (*partition, error) {
	p, ok := s.parts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownPartition, name)
	}
	return p, nil
}

// Get returns the newest copy of key, or nil if no segment holds it.
func (s *Store) Get(partition string, key []byte) ([]byte, error) {
	p, err := s.partition(partition)
	if err != nil {
		return nil, err
	}
	var val []byte
	err = s.db.View(func(tx *bolt.Tx) error {
		segs := tx.Bucket(p.name).Bucket(segBucket)
		c := segs.Cursor()
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			seg := segs.Bucket(k)
			if seg == nil {
				continue
			}
			if v := seg.Get(key); v != nil {
				val = make([]byte, len(v))
				copy(val, v)
				return nil
			}
		}
		return nil
	})
	return val, err
}

// Set writes key into the active segment, rolling to a new segment when the
// active one is full, then evicts the oldest segments over the ceiling.
//
// Segment sizes are the pages bbolt allocated for them. The active segment
// has not been touched yet in this transaction, so its stats describe the
// committed pages; the record written now is counted by its leaf size until
// the next write measures it.
func (s *Store) Set(partition string, key, value []byte) error {
	p, err := s.partition(partition)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(p.name)
		segs, idx := root.Bucket(segBucket), root.Bucket(idxBucket)

		id, seg, acct, err := activeSegment(segs, idx)
		if err != nil {
			return err
		}
		if acct.entries > 0 {
			acct.bytes = allocated(seg)
		}
		size := leafSize(key, value)
		if acct.entries > 0 && acct.bytes+size > p.segSize {
			if err := idx.Put(keys.Uint64(id), acct.encode()); err != nil {
				return err
			}
			id++
			if seg, err = segs.CreateBucket(keys.Uint64(id)); err != nil {
				return fmt.Errorf("creating segment %d: %w", id, err)
			}
			acct = segmentAcct{}
		}
		// Log keys arrive in ascending order; full pages keep the
		// allocation close to the data.
		seg.FillPercent = 1.0
		if seg.Get(key) == nil {
			acct.entries++
		}
		if err := seg.Put(key, value); err != nil {
			return err
		}
		acct.bytes += size
		if err := idx.Put(keys.Uint64(id), acct.encode()); err != nil {
			return err
		}
		return p.evict(segs, idx)
	})
}

// Scan iterates the partition in key order across all segments. When a key is
// present in several segments only the newest copy is yielded. The read
// transaction stays open while ranging, so callers must not write to the
// store from inside the loop.
func (s *Store) Scan(partition string, r store.Range) iter.Seq2[store.Record, error] {
	return func(yield func(store.Record, error) bool) {
		p, err := s.partition(partition)
		if err != nil {
			yield(store.Record{}, err)
			return
		}
		stopped := false
		err = s.db.View(func(tx *bolt.Tx) error {
			m := newMerge(tx.Bucket(p.name).Bucket(segBucket), r)
			for rec, ok := m.next(); ok; rec, ok = m.next() {
				if !yield(rec, nil) {
					stopped = true
					return nil
				}
			}
			return nil
		})
		if err != nil && !stopped {
			yield(store.Record{}, err)
		}
	}
}

// Stats reports the bbolt file size and, per partition, the pages bbolt has
// allocated to it and the number of live keys. Counting keys walks the whole
// partition.
func (s *Store) Stats() (store.Stats, error) {
	st := store.Stats{Partitions: make(map[string]store.PartitionStats, len(s.order))}
	err := s.db.View(func(tx *bolt.Tx) error {
		st.DiskSpace = uint64(tx.Size())
		for _, name := range s.order {
			p := s.parts[name]
			root := tx.Bucket(p.name)
			bs := root.Stats()
			ps := store.PartitionStats{
				Name:      name,
				SizeLimit: p.limit,
				DiskSpace: uint64(bs.LeafAlloc + bs.BranchAlloc),
				Entries:   liveKeys(root.Bucket(segBucket)),
			}
			err := root.Bucket(idxBucket).ForEach(func(_, _ []byte) error {
				ps.Segments++
				return nil
			})
			if err != nil {
				return err
			}
			st.Partitions[name] = ps
		}
		return nil
	})
	return st, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// activeSegment returns the newest segment, creating the first one on demand.
func activeSegment(segs, idx *bolt.Bucket) (uint64, *bolt.Bucket, segmentAcct, error) {
	k, _ := segs.Cursor().Last()
	if k == nil {
		seg, err := segs.CreateBucket(keys.Uint64(1))
		if err != nil {
			return 0, nil, segmentAcct{}, fmt.Errorf("creating segment 1: %w", err)
		}
		return 1, seg, segmentAcct{}, nil
	}
	id := binary.BigEndian.Uint64(k)
	return id, segs.Bucket(k), decodeAcct(idx.Get(k)), nil
}

// evict drops the oldest segments while the partition is over its ceiling.
// The active segment is never dropped.
func (p *partition) evict(segs, idx *bolt.Bucket) error {
	var total uint64
	count := 0
	_ = idx.ForEach(func(_, v []byte) error {
		total += decodeAcct(v).bytes
		count++
		return nil
	})

	for total > p.limit && count > 1 {
		k, v := idx.Cursor().First()
		id := make([]byte, len(k))
		copy(id, k)
		acct := decodeAcct(v)

		if err := segs.DeleteBucket(id); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("dropping segment %d: %w", binary.BigEndian.Uint64(id), err)
		}
		if err := idx.Delete(id); err != nil {
			return err
		}
		total -= acct.bytes
		count--
		logger.Debug("evicted segment", "partition", string(p.name),
			"segment", binary.BigEndian.Uint64(id), "entries", acct.entries, "bytes", acct.bytes)
	}
	return nil
}

// leafSize is what a record adds to a leaf page: the element header plus the
// key and value bytes.
func leafSize(key, value []byte) uint64 {
	return uint64(len(key) + len(value) + leafElementSize)
}

// allocated returns the bytes bbolt holds for a segment: its leaf and branch
// pages, or the bytes it takes inside its parent's page while it is inline.
func allocated(seg *bolt.Bucket) uint64 {
	st := seg.Stats()
	return uint64(st.LeafAlloc + st.BranchAlloc + st.InlineBucketInuse)
}

// liveKeys counts distinct keys across segments; shadowed copies count once.
func liveKeys(segs *bolt.Bucket) int {
	n := 0
	m := newMerge(segs, store.Range{})
	for _, ok := m.next(); ok; _, ok = m.next() {
		n++
	}
	return n
}

// segmentAcct is the per-segment bookkeeping stored in the idx bucket: the
// allocated bytes last measured and the number of records written.
type segmentAcct struct {
	bytes   uint64
	entries uint64
}

func (a segmentAcct) encode() []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], a.bytes)
	binary.BigEndian.PutUint64(buf[8:16], a.entries)
	return buf
}

func decodeAcct(b []byte) segmentAcct {
	if len(b) != 16 {
		return segmentAcct{}
	}
	return segmentAcct{
		bytes:   binary.BigEndian.Uint64(b[0:8]),
		entries: binary.BigEndian.Uint64(b[8:16]),
	}
}
