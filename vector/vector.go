// Package vector implements spec.md §4.5's vector collections: fixed
// dimension float32 vectors stored alongside a document under
// `vector:<name>:<id>`, searched by cosine similarity through a
// pluggable ANN interface with a full-scan fallback.
package vector

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/oarkflow/nexadb/errs"
	"github.com/oarkflow/nexadb/lsm"
	"github.com/oarkflow/nexadb/storekey"
)

// Index is the pluggable ANN contract spec.md §4.5 names. FullScanIndex
// below is the correct, non-approximate fallback implementation.
type Index interface {
	Add(id string, vec []float32)
	Remove(id string)
	Search(query []float32, k int) []Match
}

// Match is one search result.
type Match struct {
	ID         string
	Similarity float32
}

// Store is a vector collection of fixed dimension backed by an Index
// and the same lsm.Engine the document layer uses for persistence.
type Store struct {
	engine    *lsm.Engine
	dimension int
	index     Index
}

// NewStore returns a vector store for a collection of the given
// dimension. index is typically a *FullScanIndex. NewStore does not load
// vectors already persisted in the engine: the index holds only what is
// added to it, through Insert or by the caller.
func NewStore(engine *lsm.Engine, dimension int, index Index) (*Store, error) {
	if dimension <= 0 {
		return nil, errs.New(errs.BadVector, "vector dimension must be positive, got %d", dimension)
	}
	return &Store{engine: engine, dimension: dimension, index: index}, nil
}

// Insert stores vec under id in collection and registers it with the
// store's ANN index.
func (s *Store) Insert(collection, id string, vec []float32) error {
	if err := s.validate(vec); err != nil {
		return err
	}
	if err := s.engine.Put([]byte(storekey.VectorKey(collection, id)), encodeVector(vec)); err != nil {
		return err
	}
	s.index.Add(id, vec)
	return nil
}

// Remove deletes id's vector from collection and the ANN index.
func (s *Store) Remove(collection, id string) error {
	if err := s.engine.Delete([]byte(storekey.VectorKey(collection, id))); err != nil {
		return err
	}
	s.index.Remove(id)
	return nil
}

// Search returns the k nearest vectors to query by cosine similarity,
// descending, ties broken by ascending id.
func (s *Store) Search(query []float32, k int) ([]Match, error) {
	if err := s.validate(query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	return s.index.Search(query, k), nil
}

func (s *Store) validate(vec []float32) error {
	if len(vec) != s.dimension {
		return errs.New(errs.BadVector, "expected dimension %d, got %d", s.dimension, len(vec))
	}
	for _, f := range vec {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return errs.New(errs.BadVector, "vector contains a non-finite component")
		}
	}
	return nil
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.BigEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector reverses encodeVector, turning a stored vector record back
// into its float32 components. Nothing in this module calls it.
func DecodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// CosineSimilarity computes cosine similarity between a and b, both
// length D. The cosine of the zero vector is defined as 0, per spec.md.
func CosineSimilarity(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// FullScanIndex is the correct, non-approximate ANN fallback: it holds
// every vector in memory and scores them all on every search.
type FullScanIndex struct {
	ids  []string
	vecs map[string][]float32
}

// NewFullScanIndex returns an empty full-scan index.
func NewFullScanIndex() *FullScanIndex {
	return &FullScanIndex{vecs: make(map[string][]float32)}
}

func (f *FullScanIndex) Add(id string, vec []float32) {
	if _, exists := f.vecs[id]; !exists {
		f.ids = append(f.ids, id)
	}
	cp := append([]float32(nil), vec...)
	f.vecs[id] = cp
}

func (f *FullScanIndex) Remove(id string) {
	if _, exists := f.vecs[id]; !exists {
		return
	}
	delete(f.vecs, id)
	for i, existing := range f.ids {
		if existing == id {
			f.ids = append(f.ids[:i], f.ids[i+1:]...)
			break
		}
	}
}

func (f *FullScanIndex) Search(query []float32, k int) []Match {
	matches := make([]Match, 0, len(f.ids))
	for _, id := range f.ids {
		matches = append(matches, Match{ID: id, Similarity: CosineSimilarity(query, f.vecs[id])})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches
}
