package bolt

import (
	"bytes"

	bolt "go.etcd.io/bbolt"

	"faucet/internal/store"
)

type segCursor struct {
	c    *bolt.Cursor
	k, v []byte
}

// merge walks all segment cursors of a partition in lock step, yielding the
// smallest (or largest, in reverse) key each round. Cursors are ordered oldest
// segment first, so on equal keys the last one wins.
type merge struct {
	cs      []*segCursor
	start   []byte
	limit   []byte
	reverse bool
}

func newMerge(segs *bolt.Bucket, r store.Range) *merge {
	m := &merge{start: r.Start, limit: r.Limit, reverse: r.Reverse}
	c := segs.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		seg := segs.Bucket(k)
		if seg == nil {
			continue
		}
		cur := &segCursor{c: seg.Cursor()}
		m.seek(cur)
		m.cs = append(m.cs, cur)
	}
	return m
}

func (m *merge) seek(cur *segCursor) {
	switch {
	case !m.reverse && m.start == nil:
		cur.k, cur.v = cur.c.First()
	case !m.reverse:
		cur.k, cur.v = cur.c.Seek(m.start)
	case m.limit == nil:
		cur.k, cur.v = cur.c.Last()
	default:
		// Seek lands on the first key >= limit; the one before it is the
		// last key inside the range.
		if k, _ := cur.c.Seek(m.limit); k == nil {
			cur.k, cur.v = cur.c.Last()
		} else {
			cur.k, cur.v = cur.c.Prev()
		}
	}
	m.clip(cur)
}

func (m *merge) advance(cur *segCursor) {
	if m.reverse {
		cur.k, cur.v = cur.c.Prev()
	} else {
		cur.k, cur.v = cur.c.Next()
	}
	m.clip(cur)
}

// clip exhausts a cursor that has walked past the range bound.
func (m *merge) clip(cur *segCursor) {
	if cur.k == nil {
		return
	}
	if m.reverse && m.start != nil && bytes.Compare(cur.k, m.start) < 0 {
		cur.k, cur.v = nil, nil
	}
	if !m.reverse && m.limit != nil && bytes.Compare(cur.k, m.limit) >= 0 {
		cur.k, cur.v = nil, nil
	}
}

func (m *merge) next() (store.Record, bool) {
	best := -1
	for i, cur := range m.cs {
		if cur.k == nil {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		c := bytes.Compare(cur.k, m.cs[best].k)
		if m.reverse {
			c = -c
		}
		if c <= 0 {
			best = i
		}
	}
	if best < 0 {
		return store.Record{}, false
	}

	win := m.cs[best]
	rec := store.Record{
		Key:   bytes.Clone(win.k),
		Value: bytes.Clone(win.v),
	}
	for _, cur := range m.cs {
		if cur.k != nil && bytes.Equal(cur.k, rec.Key) {
			m.advance(cur)
		}
	}
	return rec, true
}
