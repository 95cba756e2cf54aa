package server

import (
	"github.com/oarkflow/nexadb/document"
	"github.com/oarkflow/nexadb/errs"
	"github.com/oarkflow/nexadb/protocol"
	"github.com/oarkflow/nexadb/vector"
)

// dispatch runs one request frame to completion and builds its
// response frame. Requests on a connection are handled strictly one at
// a time, per spec.md §4.7 — dispatch is only ever called from
// handleConnection's read/respond loop, never concurrently for the
// same connection.
func (s *Server) dispatch(frame protocol.Frame) protocol.Frame {
	switch frame.Type {
	case protocol.MsgCreate:
		return s.handleCreate(frame.Payload)
	case protocol.MsgRead:
		return s.handleRead(frame.Payload)
	case protocol.MsgUpdate:
		return s.handleUpdate(frame.Payload)
	case protocol.MsgDelete:
		return s.handleDelete(frame.Payload)
	case protocol.MsgQuery:
		return s.handleQuery(frame.Payload)
	case protocol.MsgVectorSearch:
		return s.handleVectorSearch(frame.Payload)
	case protocol.MsgBatchWrite:
		return s.handleBatchWrite(frame.Payload)
	case protocol.MsgPing:
		return protocol.Frame{Type: protocol.MsgPong, Payload: map[string]any{}}
	default:
		return errorFrame(errs.BadPayload, "unknown request type")
	}
}

func errorFrame(kind errs.Kind, message string) protocol.Frame {
	return protocol.Frame{
		Type:    protocol.MsgError,
		Payload: map[string]any{"error": message, "kind": string(kind)},
	}
}

func errFrame(err error) protocol.Frame {
	kind := errs.KindOf(err)
	msgType := protocol.MsgError
	switch kind {
	case errs.NotFound:
		msgType = protocol.MsgNotFound
	case errs.Duplicate:
		msgType = protocol.MsgDuplicate
	}
	return protocol.Frame{
		Type:    msgType,
		Payload: map[string]any{"error": err.Error(), "kind": string(kind)},
	}
}

func stringField(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key].(string)
	return v, ok && v != ""
}

func (s *Server) handleCreate(payload map[string]any) protocol.Frame {
	collection, ok := stringField(payload, "collection")
	if !ok {
		return errorFrame(errs.BadPayload, "collection is required")
	}
	data, _ := payload["data"].(map[string]any)
	doc := document.DocumentFromMap(data)

	id, err := s.docs.Insert(collection, doc)
	if err != nil {
		return errFrame(err)
	}

	if rawVec, present := payload["vector"]; present {
		vec, ok := toFloat32Slice(rawVec)
		if !ok {
			return errorFrame(errs.BadVector, "vector field must be an array of numbers")
		}
		vs, err := s.vectorStoreFor(collection, len(vec))
		if err != nil {
			return errFrame(err)
		}
		if err := vs.store.Insert(collection, id, vec); err != nil {
			return errFrame(err)
		}
	}

	return protocol.Frame{Type: protocol.MsgSuccess, Payload: map[string]any{"id": id}}
}

func (s *Server) handleRead(payload map[string]any) protocol.Frame {
	collection, ok := stringField(payload, "collection")
	if !ok {
		return errorFrame(errs.BadPayload, "collection is required")
	}
	id, ok := stringField(payload, "key")
	if !ok {
		return errorFrame(errs.BadPayload, "key is required")
	}

	doc, err := s.docs.Get(collection, id)
	if err != nil {
		return errFrame(err)
	}
	return protocol.Frame{Type: protocol.MsgSuccess, Payload: map[string]any{"data": doc.ToMap()}}
}

func (s *Server) handleUpdate(payload map[string]any) protocol.Frame {
	collection, ok := stringField(payload, "collection")
	if !ok {
		return errorFrame(errs.BadPayload, "collection is required")
	}
	id, ok := stringField(payload, "key")
	if !ok {
		return errorFrame(errs.BadPayload, "key is required")
	}
	updates, _ := payload["updates"].(map[string]any)
	patch := document.DocumentFromMap(updates)

	if err := s.docs.Update(collection, id, patch); err != nil {
		return errFrame(err)
	}
	return protocol.Frame{Type: protocol.MsgSuccess, Payload: map[string]any{"key": id}}
}

func (s *Server) handleDelete(payload map[string]any) protocol.Frame {
	collection, ok := stringField(payload, "collection")
	if !ok {
		return errorFrame(errs.BadPayload, "collection is required")
	}
	id, ok := stringField(payload, "key")
	if !ok {
		return errorFrame(errs.BadPayload, "key is required")
	}

	if err := s.docs.Delete(collection, id); err != nil {
		return errFrame(err)
	}
	return protocol.Frame{Type: protocol.MsgSuccess, Payload: map[string]any{"key": id}}
}

func (s *Server) handleQuery(payload map[string]any) protocol.Frame {
	collection, ok := stringField(payload, "collection")
	if !ok {
		return errorFrame(errs.BadPayload, "collection is required")
	}

	if rawStages, present := payload["pipeline"]; present {
		stages, ok := toValueSlice(rawStages)
		if !ok {
			return errorFrame(errs.BadQuery, "pipeline must be an array of stage objects")
		}
		docs, err := s.docs.Aggregate(collection, stages)
		if err != nil {
			return errFrame(err)
		}
		return protocol.Frame{Type: protocol.MsgSuccess, Payload: map[string]any{"results": docsToAny(docs)}}
	}

	var filter *document.Document
	if rawFilter, present := payload["filters"]; present {
		m, ok := rawFilter.(map[string]any)
		if !ok {
			return errorFrame(errs.BadQuery, "filters must be an object")
		}
		filter = document.DocumentFromMap(m)
	}

	docs, err := s.docs.Query(collection, filter)
	if err != nil {
		return errFrame(err)
	}

	if rawLimit, present := payload["limit"]; present {
		n, ok := toInt(rawLimit)
		if !ok {
			return errorFrame(errs.BadQuery, "limit must be a number")
		}
		if n < 0 {
			n = 0
		}
		if n < len(docs) {
			docs = docs[:n]
		}
	}

	return protocol.Frame{Type: protocol.MsgSuccess, Payload: map[string]any{"results": docsToAny(docs)}}
}

func (s *Server) handleVectorSearch(payload map[string]any) protocol.Frame {
	collection, ok := stringField(payload, "collection")
	if !ok {
		return errorFrame(errs.BadPayload, "collection is required")
	}
	rawQuery, present := payload["vector"]
	if !present {
		return errorFrame(errs.BadPayload, "vector is required")
	}
	query, ok := toFloat32Slice(rawQuery)
	if !ok {
		return errorFrame(errs.BadVector, "vector must be an array of numbers")
	}
	k := 10
	if rawK, present := payload["k"]; present {
		if n, ok := toInt(rawK); ok {
			k = n
		}
	}

	s.mu.RLock()
	vc, registered := s.vectors[collection]
	s.mu.RUnlock()
	if !registered {
		return errFrame(errs.New(errs.NotFound, "no vector collection %q", collection))
	}

	matches, err := vc.store.Search(query, k)
	if err != nil {
		return errFrame(err)
	}

	results := make([]any, len(matches))
	for i, m := range matches {
		results[i] = map[string]any{"id": m.ID, "similarity": m.Similarity}
	}
	return protocol.Frame{Type: protocol.MsgSuccess, Payload: map[string]any{"results": results}}
}

// handleBatchWrite performs a bulk insert of documents into collection,
// one Insert per document. Per spec.md §4.5, a bulk insert is N
// individual puts: one document's failure does not abort the rest, and
// each document's outcome is reported individually.
func (s *Server) handleBatchWrite(payload map[string]any) protocol.Frame {
	collection, ok := stringField(payload, "collection")
	if !ok {
		return errorFrame(errs.BadPayload, "collection is required")
	}
	rawDocs, ok := payload["documents"].([]any)
	if !ok {
		return errorFrame(errs.BadPayload, "documents must be an array")
	}

	results := make([]any, len(rawDocs))
	for i, rawDoc := range rawDocs {
		data, ok := rawDoc.(map[string]any)
		if !ok {
			results[i] = map[string]any{"error": "document must be an object", "kind": string(errs.BadPayload)}
			continue
		}
		id, err := s.docs.Insert(collection, document.DocumentFromMap(data))
		if err != nil {
			results[i] = map[string]any{"error": err.Error(), "kind": string(errs.KindOf(err))}
			continue
		}
		results[i] = map[string]any{"id": id}
	}
	return protocol.Frame{Type: protocol.MsgSuccess, Payload: map[string]any{"results": results}}
}

// vectorStoreFor returns the registered vector store for collection,
// registering a fresh one with dimension locked from the first insert
// if none exists yet. spec.md's protocol table has no dedicated
// "create vector collection" request, so CREATE's optional `vector`
// payload field is what establishes a collection's dimension.
func (s *Server) vectorStoreFor(collection string, dimension int) (*vectorCollection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if vc, ok := s.vectors[collection]; ok {
		if vc.dimension != dimension {
			return nil, errs.New(errs.BadVector, "collection %q is dimension %d, got %d", collection, vc.dimension, dimension)
		}
		return vc, nil
	}

	store, err := vector.NewStore(s.docs.Engine(), dimension, vector.NewFullScanIndex())
	if err != nil {
		return nil, err
	}
	vc := &vectorCollection{dimension: dimension, store: store}
	s.vectors[collection] = vc
	return vc, nil
}

func docsToAny(docs []*document.Document) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d.ToMap()
	}
	return out
}

func toFloat32Slice(raw any) ([]float32, bool) {
	arr, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(arr))
	for i, v := range arr {
		f, ok := toFloat64(v)
		if !ok {
			return nil, false
		}
		out[i] = float32(f)
	}
	return out, true
}

func toFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	f, ok := toFloat64(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func toValueSlice(raw any) ([]document.Value, bool) {
	arr, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]document.Value, len(arr))
	for i, v := range arr {
		out[i] = document.FromAny(v)
	}
	return out, true
}
