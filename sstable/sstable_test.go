package sstable

import (
	"fmt"
	"os"
	"testing"
)

func buildFixture(t *testing.T, dir string, n int) *Table {
	t.Helper()
	records := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%04d", i))
		records = append(records, Record{Key: key, Value: []byte(fmt.Sprintf("v%d", i)), Op: OpPut})
	}
	tbl, err := Build(dir, 1, records)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return tbl
}

func TestBuildAndGet(t *testing.T) {
	dir := t.TempDir()
	tbl := buildFixture(t, dir, 10)
	defer tbl.Release()

	rec, err := tbl.Get([]byte("k0005"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil || string(rec.Value) != "v5" {
		t.Fatalf("expected v5, got %+v", rec)
	}

	rec, err = tbl.Get([]byte("missing"))
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil for missing key, got %+v", rec)
	}
}

func TestBuildSpansMultipleBlocks(t *testing.T) {
	dir := t.TempDir()
	n := BlockRecords*3 + 17
	tbl := buildFixture(t, dir, n)
	defer tbl.Release()

	if len(tbl.index) < 3 {
		t.Fatalf("expected at least 3 index blocks, got %d", len(tbl.index))
	}

	for _, i := range []int{0, 1, BlockRecords - 1, BlockRecords, BlockRecords * 2, n - 1} {
		key := []byte(fmt.Sprintf("k%04d", i))
		rec, err := tbl.Get(key)
		if err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
		if rec == nil {
			t.Fatalf("expected hit for %s", key)
		}
	}
}

func TestTombstoneRecord(t *testing.T) {
	dir := t.TempDir()
	records := []Record{
		{Key: []byte("a"), Value: []byte("1"), Op: OpPut},
		{Key: []byte("b"), Op: OpDelete},
	}
	tbl, err := Build(dir, 2, records)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer tbl.Release()

	rec, err := tbl.Get([]byte("b"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil || !rec.IsTombstone() {
		t.Fatalf("expected tombstone, got %+v", rec)
	}
}

func TestOpenRebuildsMissingIndexAndBloom(t *testing.T) {
	dir := t.TempDir()
	tbl := buildFixture(t, dir, 50)
	dataPath, indexPath, bloomPath := tbl.dataPath, tbl.indexPath, tbl.bloomPath
	if err := tbl.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	if err := os.Remove(indexPath); err != nil {
		t.Fatalf("remove index: %v", err)
	}
	if err := os.Remove(bloomPath); err != nil {
		t.Fatalf("remove bloom: %v", err)
	}
	if _, err := os.Stat(dataPath); err != nil {
		t.Fatalf("data file missing: %v", err)
	}

	reopened, err := Open(dir, 1)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Release()

	rec, err := reopened.Get([]byte("k0042"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil || string(rec.Value) != "v42" {
		t.Fatalf("expected v42 after rebuild, got %+v", rec)
	}

	if _, err := os.Stat(indexPath); err != nil {
		t.Fatalf("expected index file to be rewritten: %v", err)
	}
	if _, err := os.Stat(bloomPath); err != nil {
		t.Fatalf("expected bloom file to be rewritten: %v", err)
	}
}

func TestIteratorOrder(t *testing.T) {
	dir := t.TempDir()
	tbl := buildFixture(t, dir, 25)
	defer tbl.Release()

	it := NewIterator(tbl)
	count := 0
	var last string
	for it.Next() {
		rec := it.Record()
		if count > 0 && string(rec.Key) < last {
			t.Fatalf("iterator out of order: %s after %s", rec.Key, last)
		}
		last = string(rec.Key)
		count++
	}
	if count != 25 {
		t.Fatalf("expected 25 records, got %d", count)
	}
}

func TestRefcountDeletesOnlyAfterRelease(t *testing.T) {
	dir := t.TempDir()
	tbl := buildFixture(t, dir, 5)
	tbl.Ref()
	tbl.MarkForDeletion()

	if err := tbl.Release(); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if _, err := os.Stat(tbl.dataPath); err != nil {
		t.Fatalf("expected data file to still exist after one release, got: %v", err)
	}

	if err := tbl.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if _, err := os.Stat(tbl.dataPath); !os.IsNotExist(err) {
		t.Fatalf("expected data file removed after final release, stat err: %v", err)
	}
}
