package matching

import (
	"container/heap"
	"math"
	"sort"
)

// DefaultLimit is the number of suggestions returned when the caller does
// not ask for a specific amount.
const DefaultLimit = 10

// Similarity returns the cosine similarity of a and b in [-1, 1]. Empty
// vectors, mismatched lengths and zero magnitudes score 0.
func Similarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / math.Sqrt(na*nb)
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	}
	return s
}

// Entry is one member of a ranking pool.
type Entry struct {
	ID     string
	Vector []float32
}

// Scored is a ranked pool member.
type Scored struct {
	ID    string
	Score float64
}

// before reports whether a ranks ahead of b: higher score first, then
// lower id.
func before(a, b Scored) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

// Rank scores every pool entry that has a vector against query and returns
// at most limit results in rank order. Entries without a vector are skipped.
func Rank(query []float32, pool []Entry, limit int) []Scored {
	if limit <= 0 {
		return []Scored{}
	}

	h := make(worstFirst, 0, min(limit+1, len(pool)+1))
	for _, e := range pool {
		if len(e.Vector) == 0 {
			continue
		}
		heap.Push(&h, Scored{ID: e.ID, Score: Similarity(query, e.Vector)})
		if h.Len() > limit {
			heap.Pop(&h)
		}
	}

	out := []Scored(h)
	sort.Slice(out, func(i, j int) bool { return before(out[i], out[j]) })
	return out
}

// worstFirst is a heap whose root is the lowest-ranked entry, so the top-K
// survive repeated pops.
type worstFirst []Scored

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return before(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(Scored)) }
func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
