// Package embedding holds per-entry vectors and ranks candidates by cosine
// similarity. Vectors are unit-normalized at storage time so cosine reduces
// to a dot product at query time.
package embedding

import (
	"math"
	"sort"
	"sync"
	"time"
)

type Entry struct {
	EntryID   string
	Vector    []float32
	Fallback  bool // true when the vector came from the deterministic fallback
	UpdatedAt time.Time
}

type Result struct {
	EntryID string  `json:"entry_id"`
	Score   float64 `json:"score"`
}

// Store is an in-memory vector store. Reads run under a shared lock, so
// search is safe under unlimited concurrency.
type Store struct {
	mu      sync.RWMutex
	dim     int
	entries map[string]Entry
	clock   func() time.Time
}

func NewStore(dim int) *Store {
	return NewStoreWithClock(dim, time.Now)
}

func NewStoreWithClock(dim int, clock func() time.Time) *Store {
	return &Store{
		dim:     dim,
		entries: make(map[string]Entry),
		clock:   clock,
	}
}

// Dimension is the system-wide fixed vector dimensionality. Vectors of any
// other length score 0 in search.
func (s *Store) Dimension() int { return s.dim }

// Upsert stores a normalized copy of the vector, replacing any prior vector
// for the entry.
func (s *Store) Upsert(entryID string, vector []float32, fallback bool) {
	normalized := Normalize(vector)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entryID] = Entry{
		EntryID:   entryID,
		Vector:    normalized,
		Fallback:  fallback,
		UpdatedAt: s.clock(),
	}
}

func (s *Store) Delete(entryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, entryID)
}

func (s *Store) Get(entryID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[entryID]
	return e, ok
}

// IDs returns every stored entry id, in no particular order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// Search scores every candidate with a stored vector against the query and
// returns the topK results above minSimilarity, descending by score with ties
// broken by most recent update. Candidates without a vector have not entered
// the embedding pipeline yet and are skipped, not scored as zero. An empty
// candidate set yields an empty result.
func (s *Store) Search(query []float32, candidateIDs []string, topK int, minSimilarity float64) []Result {
	q := Normalize(query)

	s.mu.RLock()
	type scored struct {
		Result
		updatedAt time.Time
	}
	var hits []scored
	for _, id := range candidateIDs {
		e, ok := s.entries[id]
		if !ok {
			continue
		}
		sim := CosineSimilarity(q, e.Vector)
		if sim <= minSimilarity {
			continue
		}
		hits = append(hits, scored{Result{EntryID: id, Score: sim}, e.UpdatedAt})
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].updatedAt.After(hits[j].updatedAt)
	})

	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = h.Result
	}
	return out
}

// Normalize returns a unit-length copy of v. A zero vector stays zero.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// CosineSimilarity of two unit vectors is their dot product. A dimension
// mismatch is defined as 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
