// Package lsm wires the memtable, WAL and SSTable packages together into
// the storage engine described in spec.md §4.4: one active memtable, a
// durable WAL in front of it, and a single level of immutable segments
// behind it, compacted as a whole once too many accumulate.
//
// The shape is grounded on the teacher repo's velocity.go DB type (WAL
// write-then-memtable-apply on the write path, memtable-then-levels on
// the read path, flush-on-threshold, periodic compaction), generalized
// from the teacher's seven-level leveled scheme down to the single
// count-triggered level spec.md's Open Question resolves in favor of
// (see DESIGN.md), and with flush triggered synchronously under the
// write lock instead of the teacher's fire-and-forget goroutine, so a
// caller's Put only returns once the data it just wrote is durable in
// either the WAL or a published segment — never in neither.
package lsm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oarkflow/nexadb/errs"
	"github.com/oarkflow/nexadb/memtable"
	"github.com/oarkflow/nexadb/sstable"
	"github.com/oarkflow/nexadb/wal"
)

// Options configures an Engine. Zero values are replaced by sensible
// defaults in Open.
type Options struct {
	Dir string

	// MemtableThreshold is the accumulated key+value byte size at which
	// the active memtable is sealed and flushed to a new segment.
	MemtableThreshold int64

	// CompactionTrigger is how many segments accumulate before they are
	// merged into one (spec.md's single-level, count-triggered policy).
	CompactionTrigger int

	WALMaxBatchRecords int
	WALMaxBatchDelay   time.Duration
}

const (
	DefaultMemtableThreshold = 4 * 1024 * 1024
	DefaultCompactionTrigger = 3
)

// Entry is one key's resolved state as seen by a caller, after merging
// across the active memtable and every segment.
type Entry struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// Engine is a single NexaDB storage instance rooted at one data directory.
type Engine struct {
	mu sync.RWMutex

	dir               string
	memtableThreshold int64
	compactionTrigger int

	wal     *wal.WAL
	active  *memtable.MemTable
	tables  []*sstable.Table // ascending by Seq, oldest first
	nextSeq uint64

	compacting sync.Mutex
	closed     bool
}

// Open recovers (or initializes) an engine at opts.Dir: it loads any
// existing segments, replays the WAL into a fresh memtable, and starts
// ready to serve reads and writes.
func Open(opts Options) (*Engine, error) {
	if opts.Dir == "" {
		return nil, errs.New(errs.Internal, "lsm: Dir is required")
	}
	if opts.MemtableThreshold <= 0 {
		opts.MemtableThreshold = DefaultMemtableThreshold
	}
	if opts.CompactionTrigger <= 0 {
		opts.CompactionTrigger = DefaultCompactionTrigger
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "lsm: create data directory %s", opts.Dir)
	}

	tables, nextSeq, err := loadSegments(opts.Dir)
	if err != nil {
		return nil, err
	}

	walPath := filepath.Join(opts.Dir, "wal.log")
	w, err := wal.Open(walPath)
	if err != nil {
		return nil, errs.Wrap(errs.StorageDegraded, err, "lsm: open WAL")
	}
	if opts.WALMaxBatchRecords > 0 || opts.WALMaxBatchDelay > 0 {
		w.SetBatchBounds(opts.WALMaxBatchRecords, opts.WALMaxBatchDelay)
	}

	active := memtable.New()
	truncated, err := wal.Replay(walPath, func(rec wal.Record) error {
		switch rec.Op {
		case wal.OpPut:
			active.Put(rec.Key, rec.Value, rec.Timestamp)
		case wal.OpDelete:
			active.Delete(rec.Key, rec.Timestamp)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.StorageDegraded, err, "lsm: replay WAL")
	}
	if truncated > 0 {
		// A torn tail is tolerated silently; nothing further to do — the
		// incomplete record never reached memtable.
		_ = truncated
	}

	e := &Engine{
		dir:               opts.Dir,
		memtableThreshold: opts.MemtableThreshold,
		compactionTrigger: opts.CompactionTrigger,
		wal:               w,
		active:            active,
		tables:            tables,
		nextSeq:           nextSeq,
	}
	return e, nil
}

func loadSegments(dir string) ([]*sstable.Table, uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, errs.Wrap(errs.Internal, err, "lsm: read data directory")
	}

	var seqs []uint64
	seen := map[uint64]bool{}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "sstable_") || !strings.HasSuffix(name, ".data") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, "sstable_"), ".data")
		seq, err := strconv.ParseUint(numStr, 10, 64)
		if err != nil || seen[seq] {
			continue
		}
		seen[seq] = true
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	tables := make([]*sstable.Table, 0, len(seqs))
	var maxSeq uint64
	for _, seq := range seqs {
		t, err := sstable.Open(dir, seq)
		if err != nil {
			return nil, 0, errs.Wrap(errs.StorageDegraded, err, "lsm: open segment %d", seq)
		}
		tables = append(tables, t)
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	nextSeq := uint64(1)
	if len(seqs) > 0 {
		nextSeq = maxSeq + 1
	}
	return tables, nextSeq, nil
}

// Put durably writes key=value and applies it to the active memtable,
// sealing and flushing a new segment if the threshold is crossed.
func (e *Engine) Put(key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errs.New(errs.Internal, "lsm: engine closed")
	}

	ts := uint64(time.Now().UnixNano())
	if err := e.wal.Append(wal.OpPut, key, value); err != nil {
		return errs.Wrap(errs.WriteFailed, err, "lsm: append WAL")
	}
	e.active.Put(key, value, ts)

	return e.maybeFlushLocked()
}

// Delete durably writes a tombstone for key.
func (e *Engine) Delete(key []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errs.New(errs.Internal, "lsm: engine closed")
	}

	ts := uint64(time.Now().UnixNano())
	if err := e.wal.Append(wal.OpDelete, key, nil); err != nil {
		return errs.Wrap(errs.WriteFailed, err, "lsm: append WAL")
	}
	e.active.Delete(key, ts)

	return e.maybeFlushLocked()
}

// Get resolves key across the active memtable and every segment, newest
// first, returning errs.NotFound if the key has no live value.
func (e *Engine) Get(key []byte) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if entry := e.active.Get(key); entry != nil {
		if entry.IsTombstone() {
			return nil, errs.New(errs.NotFound, "key not found")
		}
		return entry.Value, nil
	}

	for i := len(e.tables) - 1; i >= 0; i-- {
		tbl := e.tables[i]
		rec, err := tbl.Get(key)
		if err != nil {
			return nil, errs.Wrap(errs.StorageDegraded, err, "lsm: read segment")
		}
		if rec == nil {
			continue
		}
		if rec.IsTombstone() {
			return nil, errs.New(errs.NotFound, "key not found")
		}
		return rec.Value, nil
	}

	return nil, errs.New(errs.NotFound, "key not found")
}

// RangeScan returns every live key in [start, end) across the active
// memtable and all segments, ascending, with the memtable and newer
// segments taking precedence over older ones for the same key. An empty
// end means unbounded.
func (e *Engine) RangeScan(start, end []byte) ([]Entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	seen := map[string]bool{}
	var order []string
	values := map[string]Entry{}

	add := func(key, value []byte, tombstone bool) {
		ks := string(key)
		if seen[ks] {
			return
		}
		seen[ks] = true
		order = append(order, ks)
		values[ks] = Entry{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...), Tombstone: tombstone}
	}

	e.active.Range(start, end, func(en *memtable.Entry) bool {
		add(en.Key, en.Value, en.IsTombstone())
		return true
	})

	for i := len(e.tables) - 1; i >= 0; i-- {
		it := sstable.NewRangeIterator(e.tables[i], start, end)
		for it.Next() {
			rec := it.Record()
			add(rec.Key, rec.Value, rec.IsTombstone())
		}
	}

	sort.Strings(order)
	out := make([]Entry, 0, len(order))
	for _, k := range order {
		en := values[k]
		if en.Tombstone {
			continue
		}
		out = append(out, en)
	}
	return out, nil
}

func (e *Engine) maybeFlushLocked() error {
	if e.active.Size() < e.memtableThreshold {
		return nil
	}
	if err := e.flushLocked(); err != nil {
		return err
	}
	if len(e.tables) >= e.compactionTrigger {
		return e.compactLocked()
	}
	return nil
}

func (e *Engine) flushLocked() error {
	old := e.active
	entries := old.Entries()
	if len(entries) == 0 {
		return nil
	}

	records := make([]sstable.Record, len(entries))
	for i, en := range entries {
		op := sstable.OpPut
		if en.IsTombstone() {
			op = sstable.OpDelete
		}
		records[i] = sstable.Record{Key: en.Key, Value: en.Value, Op: op}
	}

	seq := e.nextSeq
	e.nextSeq++
	tbl, err := sstable.Build(e.dir, seq, records)
	if err != nil {
		return errs.Wrap(errs.StorageDegraded, err, "lsm: flush memtable to segment %d", seq)
	}

	e.tables = append(e.tables, tbl)
	e.active = memtable.New()

	if err := e.wal.Truncate(); err != nil {
		return errs.Wrap(errs.StorageDegraded, err, "lsm: truncate WAL after flush")
	}
	return nil
}

// compactLocked merges every current segment into one, oldest to newest
// so later segments win on key conflicts, then retires the inputs.
func (e *Engine) compactLocked() error {
	if len(e.tables) < 2 {
		return nil
	}

	merged := map[string]sstable.Record{}
	var order []string
	for _, tbl := range e.tables {
		it := sstable.NewIterator(tbl)
		for it.Next() {
			rec := it.Record()
			ks := string(rec.Key)
			if _, exists := merged[ks]; !exists {
				order = append(order, ks)
			}
			merged[ks] = rec
		}
	}
	sort.Strings(order)

	records := make([]sstable.Record, 0, len(order))
	for _, k := range order {
		records = append(records, merged[k])
	}

	seq := e.nextSeq
	e.nextSeq++
	newTable, err := sstable.Build(e.dir, seq, records)
	if err != nil {
		return errs.Wrap(errs.StorageDegraded, err, "lsm: compact into segment %d", seq)
	}

	old := e.tables
	e.tables = []*sstable.Table{newTable}

	for _, tbl := range old {
		tbl.MarkForDeletion()
		if err := tbl.Release(); err != nil {
			return errs.Wrap(errs.StorageDegraded, err, "lsm: release compacted segment")
		}
	}
	return nil
}

// Compact forces an out-of-band compaction of all current segments,
// regardless of CompactionTrigger. Intended for maintenance tooling.
func (e *Engine) Compact() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compactLocked()
}

// Flush forces the active memtable to seal into a new segment even if it
// hasn't crossed MemtableThreshold yet.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushLocked()
}

// Close flushes any pending writes and releases all held resources.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	if err := e.flushLocked(); err != nil {
		return err
	}
	for _, tbl := range e.tables {
		if err := tbl.Release(); err != nil {
			return fmt.Errorf("lsm: release segment: %w", err)
		}
	}
	return e.wal.Close()
}
