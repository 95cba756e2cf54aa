// Package sstable implements the immutable, sorted on-disk segment
// described in spec.md §4.3: a `.data` file of key-ordered records, a
// sparse `.index` over it, and a `.bloom` filter, all sharing one
// monotonically increasing sequence number.
//
// The mmap-and-binary-search read path is grounded on the teacher repo's
// sstable.go, generalized from its single `.db` file (header + data +
// embedded bloom + embedded index) into the three separate artifacts
// spec.md's directory layout names, and using golang.org/x/sys/unix
// (already a direct dependency of the teacher's own go.mod) instead of
// the teacher's raw syscall.Mmap call.
package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/oarkflow/nexadb/bloom"
)

// Op mirrors the WAL's operation tag at the record level.
type Op uint8

const (
	OpPut    Op = 1
	OpDelete Op = 2
)

// Record is one key's value (or tombstone) as stored in a segment.
type Record struct {
	Key   []byte
	Value []byte
	Op    Op
}

func (r Record) IsTombstone() bool { return r.Op == OpDelete }

// BlockRecords is how many records share one sparse index entry,
// matching spec.md §4.3's "every ... 128 records" example.
const BlockRecords = 128

type blockEntry struct {
	FirstKey []byte
	Offset   uint32
}

// Table is one immutable SSTable segment, reference-counted so readers
// mid-scan are never affected by a concurrent compaction retiring it
// (spec.md §5's "Shared-resource policy").
type Table struct {
	Seq uint64

	dataPath  string
	indexPath string
	bloomPath string

	file *os.File
	data []byte // mmap of the .data file

	index  []blockEntry
	filter *bloom.Filter

	minKey, maxKey []byte
	entryCount     int

	refs    int32
	mu      sync.Mutex
	closed  bool
	deleted bool
}

func paths(dir string, seq uint64) (data, index, bloomFile string) {
	base := filepath.Join(dir, fmt.Sprintf("sstable_%d", seq))
	return base + ".data", base + ".index", base + ".bloom"
}

// Build writes a brand-new segment from records (already sorted ascending
// by key, as MemTable.Entries or a compaction merge produce), fsyncs all
// three artifacts, then opens it for reading.
func Build(dir string, seq uint64, records []Record) (*Table, error) {
	dataPath, indexPath, bloomPath := paths(dir, seq)

	filter := bloom.New(len(records))
	var index []blockEntry

	dataFile, err := os.Create(dataPath)
	if err != nil {
		return nil, fmt.Errorf("sstable: create data file: %w", err)
	}
	bw := bufio.NewWriter(dataFile)

	var offset uint32
	for i, rec := range records {
		if i%BlockRecords == 0 {
			index = append(index, blockEntry{FirstKey: append([]byte(nil), rec.Key...), Offset: offset})
		}
		filter.Add(rec.Key)

		n, werr := writeRecord(bw, rec)
		if werr != nil {
			dataFile.Close()
			return nil, fmt.Errorf("sstable: write record: %w", werr)
		}
		offset += uint32(n)
	}
	if err := bw.Flush(); err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("sstable: flush data file: %w", err)
	}
	if err := dataFile.Sync(); err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("sstable: fsync data file: %w", err)
	}
	if err := dataFile.Close(); err != nil {
		return nil, fmt.Errorf("sstable: close data file: %w", err)
	}

	if err := os.WriteFile(bloomPath, filter.Marshal(), 0644); err != nil {
		return nil, fmt.Errorf("sstable: write bloom file: %w", err)
	}
	if err := fsyncPath(bloomPath); err != nil {
		return nil, err
	}

	if err := writeIndexFile(indexPath, index); err != nil {
		return nil, err
	}
	if err := fsyncPath(indexPath); err != nil {
		return nil, err
	}

	t, err := Open(dir, seq)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		t.minKey = append([]byte(nil), records[0].Key...)
		t.maxKey = append([]byte(nil), records[len(records)-1].Key...)
	}
	return t, nil
}

func fsyncPath(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("sstable: reopen %s for fsync: %w", path, err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sstable: fsync %s: %w", path, err)
	}
	return nil
}

func writeRecord(w *bufio.Writer, rec Record) (int, error) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(rec.Key)))
	n1, err := w.Write(hdr[:])
	if err != nil {
		return 0, err
	}
	n2, err := w.Write(rec.Key)
	if err != nil {
		return 0, err
	}
	if err := w.WriteByte(byte(rec.Op)); err != nil {
		return 0, err
	}
	binary.BigEndian.PutUint32(hdr[:], uint32(len(rec.Value)))
	n3, err := w.Write(hdr[:])
	if err != nil {
		return 0, err
	}
	n4, err := w.Write(rec.Value)
	if err != nil {
		return 0, err
	}
	return n1 + n2 + 1 + n3 + n4, nil
}

func writeIndexFile(path string, index []blockEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("sstable: create index file: %w", err)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(index)))
	if _, err := bw.Write(countBuf[:]); err != nil {
		return err
	}
	for _, e := range index {
		var klenBuf [4]byte
		binary.BigEndian.PutUint32(klenBuf[:], uint32(len(e.FirstKey)))
		if _, err := bw.Write(klenBuf[:]); err != nil {
			return err
		}
		if _, err := bw.Write(e.FirstKey); err != nil {
			return err
		}
		var offBuf [4]byte
		binary.BigEndian.PutUint32(offBuf[:], e.Offset)
		if _, err := bw.Write(offBuf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Open loads an existing segment. If its .index or .bloom file is
// missing or fails to parse, both are rebuilt by a full scan of .data,
// per spec.md §4.4's recovery contract.
func Open(dir string, seq uint64) (*Table, error) {
	dataPath, indexPath, bloomPath := paths(dir, seq)

	file, err := os.Open(dataPath)
	if err != nil {
		return nil, fmt.Errorf("sstable: open data file: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("sstable: stat data file: %w", err)
	}

	var data []byte
	if stat.Size() > 0 {
		data, err = unix.Mmap(int(file.Fd()), 0, int(stat.Size()), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("sstable: mmap data file: %w", err)
		}
	}

	t := &Table{Seq: seq, dataPath: dataPath, indexPath: indexPath, bloomPath: bloomPath, file: file, data: data, refs: 1}

	index, indexOK := readIndexFile(indexPath)
	filter, bloomOK := readBloomFile(bloomPath)

	if !indexOK || !bloomOK {
		index, filter = rebuild(data)
		if err := writeIndexFile(indexPath, index); err != nil {
			file.Close()
			return nil, err
		}
		if err := os.WriteFile(bloomPath, filter.Marshal(), 0644); err != nil {
			file.Close()
			return nil, err
		}
	}

	t.index = index
	t.filter = filter
	t.entryCount = countEntries(data)
	if len(index) > 0 {
		t.minKey = index[0].FirstKey
		for off := index[len(index)-1].Offset; off < uint32(len(data)); {
			key, _, next, ok := decodeRecordAt(data, off)
			if !ok {
				break
			}
			t.maxKey = append([]byte(nil), key...)
			off = next
		}
	}
	return t, nil
}

func countEntries(data []byte) int {
	n := 0
	var off uint32
	for off < uint32(len(data)) {
		_, _, next, ok := decodeRecordAt(data, off)
		if !ok {
			break
		}
		n++
		off = next
	}
	return n
}

func rebuild(data []byte) ([]blockEntry, *bloom.Filter) {
	var index []blockEntry
	var off uint32
	count := countEntries(data)
	filter := bloom.New(count)

	i := 0
	for off < uint32(len(data)) {
		key, _, next, ok := decodeRecordAt(data, off)
		if !ok {
			break
		}
		if i%BlockRecords == 0 {
			index = append(index, blockEntry{FirstKey: append([]byte(nil), key...), Offset: off})
		}
		filter.Add(key)
		off = next
		i++
	}
	return index, filter
}

func readIndexFile(path string) ([]blockEntry, bool) {
	b, err := os.ReadFile(path)
	if err != nil || len(b) < 4 {
		return nil, false
	}
	count := binary.BigEndian.Uint32(b[0:4])
	pos := 4
	index := make([]blockEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if pos+4 > len(b) {
			return nil, false
		}
		klen := int(binary.BigEndian.Uint32(b[pos : pos+4]))
		pos += 4
		if pos+klen+4 > len(b) {
			return nil, false
		}
		key := append([]byte(nil), b[pos:pos+klen]...)
		pos += klen
		off := binary.BigEndian.Uint32(b[pos : pos+4])
		pos += 4
		index = append(index, blockEntry{FirstKey: key, Offset: off})
	}
	return index, true
}

func readBloomFile(path string) (*bloom.Filter, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	f, ok := bloom.Unmarshal(b)
	if !ok {
		return nil, false
	}
	return f, true
}

func decodeRecordAt(data []byte, offset uint32) (key []byte, rec Record, next uint32, ok bool) {
	buf := data[offset:]
	r := bytes.NewReader(buf)

	var klen uint32
	if err := binary.Read(r, binary.BigEndian, &klen); err != nil {
		return nil, Record{}, 0, false
	}
	if int(klen) > len(buf)-4 {
		return nil, Record{}, 0, false
	}
	k := buf[4 : 4+klen]

	pos := 4 + int(klen)
	if pos >= len(buf) {
		return nil, Record{}, 0, false
	}
	op := Op(buf[pos])
	pos++

	if pos+4 > len(buf) {
		return nil, Record{}, 0, false
	}
	vlen := binary.BigEndian.Uint32(buf[pos : pos+4])
	pos += 4
	if pos+int(vlen) > len(buf) {
		return nil, Record{}, 0, false
	}
	v := buf[pos : pos+int(vlen)]
	pos += int(vlen)

	return k, Record{Key: k, Value: v, Op: op}, offset + uint32(pos), true
}

// Ref increments the reader refcount; call Release when done. Lookups
// through the LSM engine do not call it: the engine's read lock keeps its
// segments open for the whole of a Get or RangeScan.
func (t *Table) Ref() { atomic.AddInt32(&t.refs, 1) }

// Release decrements the refcount, unmapping and deleting the segment's
// files once it hits zero and the segment has been marked for removal
// (post-compaction).
func (t *Table) Release() error {
	if atomic.AddInt32(&t.refs, -1) > 0 {
		return nil
	}
	return t.closeFiles()
}

func (t *Table) closeFiles() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.data != nil {
		if err := unix.Munmap(t.data); err != nil {
			return fmt.Errorf("sstable: munmap: %w", err)
		}
	}
	if err := t.file.Close(); err != nil {
		return fmt.Errorf("sstable: close: %w", err)
	}
	if t.deleted {
		os.Remove(t.dataPath)
		os.Remove(t.indexPath)
		os.Remove(t.bloomPath)
	}
	return nil
}

// MarkForDeletion flags the segment's on-disk files for removal once the
// last reader releases it. Called on compaction inputs after the merged
// output segment has been durably published.
func (t *Table) MarkForDeletion() {
	t.mu.Lock()
	t.deleted = true
	t.mu.Unlock()
}

// Get looks up key, returning (nil, nil) on a definite miss, the record
// if found (caller checks IsTombstone), or an error on a malformed
// record. Records carry no checksum.
func (t *Table) Get(key []byte) (*Record, error) {
	if t.filter != nil && !t.filter.MightContain(key) {
		return nil, nil
	}
	if len(t.index) == 0 {
		return nil, nil
	}

	blockIdx := sort.Search(len(t.index), func(i int) bool {
		return bytes.Compare(t.index[i].FirstKey, key) > 0
	}) - 1
	if blockIdx < 0 {
		return nil, nil
	}

	off := t.index[blockIdx].Offset
	var limit uint32 = uint32(len(t.data))
	if blockIdx+1 < len(t.index) {
		limit = t.index[blockIdx+1].Offset
	}

	for off < limit {
		k, rec, next, ok := decodeRecordAt(t.data, off)
		if !ok {
			return nil, fmt.Errorf("sstable: malformed record at offset %d in %s", off, t.dataPath)
		}
		cmp := bytes.Compare(k, key)
		if cmp == 0 {
			out := Record{Key: append([]byte(nil), rec.Key...), Value: append([]byte(nil), rec.Value...), Op: rec.Op}
			return &out, nil
		}
		if cmp > 0 {
			return nil, nil
		}
		off = next
	}
	return nil, nil
}

// MinKey and MaxKey bound the segment's key range, [] if empty.
func (t *Table) MinKey() []byte { return t.minKey }
func (t *Table) MaxKey() []byte { return t.maxKey }

// EntryCount is the number of records (including tombstones) in the segment.
func (t *Table) EntryCount() int { return t.entryCount }

// Iterator walks a segment's records in ascending key order, optionally
// bounded to [start, end).
type Iterator struct {
	table      *Table
	off        uint32
	start, end []byte
	rec        Record
	valid      bool
}

// NewIterator returns a forward cursor over the whole of t.
func NewIterator(t *Table) *Iterator {
	return &Iterator{table: t}
}

// NewRangeIterator returns a cursor bounded to [start, end), using the
// sparse index to seek directly to the first candidate block instead of
// scanning from the beginning of the segment. An empty start or end means
// unbounded on that side.
func NewRangeIterator(t *Table, start, end []byte) *Iterator {
	it := &Iterator{table: t, start: start, end: end}
	if len(start) > 0 && len(t.index) > 0 {
		blockIdx := sort.Search(len(t.index), func(i int) bool {
			return bytes.Compare(t.index[i].FirstKey, start) > 0
		}) - 1
		if blockIdx < 0 {
			blockIdx = 0
		}
		it.off = t.index[blockIdx].Offset
	}
	return it
}

// Next advances the cursor, returning false when exhausted or the end
// bound is reached.
func (it *Iterator) Next() bool {
	for it.off < uint32(len(it.table.data)) {
		_, rec, next, ok := decodeRecordAt(it.table.data, it.off)
		if !ok {
			break
		}
		it.off = next

		if len(it.start) > 0 && bytes.Compare(rec.Key, it.start) < 0 {
			continue
		}
		if len(it.end) > 0 && bytes.Compare(rec.Key, it.end) >= 0 {
			break
		}
		it.rec = Record{Key: append([]byte(nil), rec.Key...), Value: append([]byte(nil), rec.Value...), Op: rec.Op}
		it.valid = true
		return true
	}
	it.valid = false
	return false
}

// Record returns the record the cursor currently points at.
func (it *Iterator) Record() Record { return it.rec }
