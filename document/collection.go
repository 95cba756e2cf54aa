package document

import (
	"time"

	"github.com/oarkflow/nexadb/errs"
	"github.com/oarkflow/nexadb/lsm"
	"github.com/oarkflow/nexadb/storekey"
)

// Store is the collection-level API in front of one lsm.Engine. Nothing
// here requires collections to be declared up front — per spec.md §3,
// "first write creates them".
type Store struct {
	engine *lsm.Engine
}

// NewStore wraps engine with the document/query layer.
func NewStore(engine *lsm.Engine) *Store {
	return &Store{engine: engine}
}

// Engine returns the underlying storage engine, so sibling packages
// (e.g. vector) can open stores against the same data directory.
func (s *Store) Engine() *lsm.Engine { return s.engine }

func nowMillis() int64 { return time.Now().UnixNano() / int64(time.Millisecond) }

// Insert stores doc in collection, generating `_id` if absent and
// injecting `_created_at`/`_updated_at`. Returns the document's id.
func (s *Store) Insert(collection string, doc *Document) (string, error) {
	id, explicit := doc.Get("_id")
	var idStr string
	if explicit && id.Kind == KindString && id.Str != "" {
		idStr = id.Str
		_, getErr := s.engine.Get([]byte(storekey.DocKey(collection, idStr)))
		if getErr == nil {
			return "", errs.New(errs.Duplicate, "document %q already exists in %q", idStr, collection)
		}
		if errs.KindOf(getErr) != errs.NotFound {
			return "", getErr
		}
	} else {
		idStr = NewID()
	}

	stored := doc.Clone()
	ts := nowMillis()
	stored.Set("_id", StringValue(idStr))
	stored.Set("_created_at", IntValue(ts))
	stored.Set("_updated_at", IntValue(ts))

	data, err := MarshalDocument(stored)
	if err != nil {
		return "", errs.Wrap(errs.Internal, err, "marshal document")
	}
	if err := s.engine.Put([]byte(storekey.DocKey(collection, idStr)), data); err != nil {
		return "", err
	}
	return idStr, nil
}

// Get returns the document with id in collection.
func (s *Store) Get(collection, id string) (*Document, error) {
	data, err := s.engine.Get([]byte(storekey.DocKey(collection, id)))
	if err != nil {
		return nil, err
	}
	doc, err := UnmarshalDocument(data)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "unmarshal document %q/%q", collection, id)
	}
	return doc, nil
}

// Update performs a shallow merge of patch's top-level fields onto the
// current document, refreshing `_updated_at` and preserving `_id` and
// `_created_at` regardless of patch content.
func (s *Store) Update(collection, id string, patch *Document) error {
	current, err := s.Get(collection, id)
	if err != nil {
		return err
	}

	for _, field := range patch.Keys() {
		if field == "_id" || field == "_created_at" || field == "_updated_at" {
			continue
		}
		v, _ := patch.Get(field)
		current.Set(field, v)
	}
	current.Set("_updated_at", IntValue(nowMillis()))

	data, err := MarshalDocument(current)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "marshal document")
	}
	return s.engine.Put([]byte(storekey.DocKey(collection, id)), data)
}

// Delete removes the document with id from collection.
func (s *Store) Delete(collection, id string) error {
	if _, err := s.Get(collection, id); err != nil {
		return err
	}
	return s.engine.Delete([]byte(storekey.DocKey(collection, id)))
}

// scan returns every live document in collection, in key order.
func (s *Store) scan(collection string) ([]*Document, error) {
	prefix := storekey.DocPrefix(collection)
	end := storekey.PrefixRangeEnd(prefix)

	entries, err := s.engine.RangeScan([]byte(prefix), []byte(end))
	if err != nil {
		return nil, err
	}

	docs := make([]*Document, 0, len(entries))
	for _, en := range entries {
		doc, err := UnmarshalDocument(en.Value)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err, "unmarshal document during scan")
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Query returns every live document in collection matching filter, in
// key order. An empty/nil filter matches everything.
func (s *Store) Query(collection string, filter *Document) ([]*Document, error) {
	docs, err := s.scan(collection)
	if err != nil {
		return nil, err
	}
	out := make([]*Document, 0, len(docs))
	for _, d := range docs {
		ok, err := Matches(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// Aggregate runs stages over collection's full scan.
func (s *Store) Aggregate(collection string, stages []Value) ([]*Document, error) {
	docs, err := s.scan(collection)
	if err != nil {
		return nil, err
	}
	return RunPipeline(docs, stages)
}
