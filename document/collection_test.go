package document

import (
	"testing"

	"github.com/oarkflow/nexadb/errs"
	"github.com/oarkflow/nexadb/lsm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	engine, err := lsm.Open(lsm.Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return NewStore(engine)
}

func TestInsertGeneratesIDAndReservedFields(t *testing.T) {
	s := newTestStore(t)

	doc := NewDocument()
	doc.Set("name", StringValue("Alice"))
	doc.Set("age", IntValue(28))

	id, err := s.Insert("users", doc)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(id) != 16 {
		t.Fatalf("expected 16-char id, got %q", id)
	}

	got, err := s.Get("users", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	name, _ := got.Get("name")
	if name.Str != "Alice" {
		t.Fatalf("expected name Alice, got %v", name)
	}
	if _, ok := got.Get("_created_at"); !ok {
		t.Fatalf("expected _created_at to be set")
	}
	if idVal, _ := got.Get("_id"); idVal.Str != id {
		t.Fatalf("expected _id %q in stored document, got %v", id, idVal)
	}
}

func TestInsertExplicitDuplicateIDFails(t *testing.T) {
	s := newTestStore(t)

	doc := NewDocument()
	doc.Set("_id", StringValue("fixedid0000000a"))
	doc.Set("name", StringValue("a"))
	if _, err := s.Insert("users", doc); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	doc2 := NewDocument()
	doc2.Set("_id", StringValue("fixedid0000000a"))
	doc2.Set("name", StringValue("b"))
	_, err := s.Insert("users", doc2)
	if errs.KindOf(err) != errs.Duplicate {
		t.Fatalf("expected DUPLICATE, got %v", err)
	}
}

func TestDeleteThenGetIsNotFound(t *testing.T) {
	s := newTestStore(t)

	doc := NewDocument()
	doc.Set("name", StringValue("x"))
	id, err := s.Insert("users", doc)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.Delete("users", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = s.Get("users", id)
	if errs.KindOf(err) != errs.NotFound {
		t.Fatalf("expected NOT_FOUND after delete, got %v", err)
	}
}

func TestUpdatePreservesCreatedAtAndBumpsUpdatedAt(t *testing.T) {
	s := newTestStore(t)

	doc := NewDocument()
	doc.Set("name", StringValue("x"))
	id, err := s.Insert("users", doc)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	before, _ := s.Get("users", id)
	createdAt, _ := before.Get("_created_at")

	patch := NewDocument()
	patch.Set("name", StringValue("y"))
	if err := s.Update("users", id, patch); err != nil {
		t.Fatalf("update: %v", err)
	}

	after, err := s.Get("users", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	name, _ := after.Get("name")
	if name.Str != "y" {
		t.Fatalf("expected updated name y, got %v", name)
	}
	afterCreatedAt, _ := after.Get("_created_at")
	if afterCreatedAt.Int != createdAt.Int {
		t.Fatalf("expected _created_at preserved")
	}
}

func TestUpdateMissingIDIsNotFound(t *testing.T) {
	s := newTestStore(t)
	patch := NewDocument()
	patch.Set("name", StringValue("x"))
	err := s.Update("users", "doesnotexist0001", patch)
	if errs.KindOf(err) != errs.NotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestQueryFiltersCollection(t *testing.T) {
	s := newTestStore(t)
	for _, age := range []int64{20, 30, 40} {
		d := NewDocument()
		d.Set("age", IntValue(age))
		if _, err := s.Insert("users", d); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	filter := NewDocument()
	gte := NewDocument()
	gte.Set("$gte", IntValue(30))
	filter.Set("age", ObjectValue(gte))

	results, err := s.Query("users", filter)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestQueryEmptyCollectionReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	results, err := s.Query("empty", NewDocument())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestQueryDoesNotCrossCollections(t *testing.T) {
	s := newTestStore(t)
	d := NewDocument()
	d.Set("x", IntValue(1))
	if _, err := s.Insert("a", d); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if _, err := s.Insert("ab", d); err != nil {
		t.Fatalf("insert ab: %v", err)
	}

	results, err := s.Query("a", NewDocument())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly 1 document in collection 'a', got %d", len(results))
	}
}
