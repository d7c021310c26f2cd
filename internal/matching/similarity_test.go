package matching

import (
	"math"
	"math/rand"
	"testing"
)

func TestSimilarity_Degenerate(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
	}{
		{"nil a", nil, []float32{1, 2}},
		{"empty both", []float32{}, []float32{}},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}},
		{"zero a", []float32{0, 0}, []float32{1, 1}},
		{"zero b", []float32{1, 1}, []float32{0, 0}},
	}
	for _, tt := range tests {
		if got := Similarity(tt.a, tt.b); got != 0 {
			t.Errorf("%s: Similarity = %v, want 0", tt.name, got)
		}
	}
}

func TestSimilarity_Known(t *testing.T) {
	tests := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 1},
		{[]float32{1, 0}, []float32{0, 1}, 0},
		{[]float32{1, 0}, []float32{-1, 0}, -1},
		{[]float32{1, 1}, []float32{1, 0}, 1 / math.Sqrt2},
		{[]float32{3, 4}, []float32{6, 8}, 1},
	}
	for _, tt := range tests {
		got := Similarity(tt.a, tt.b)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Similarity(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSimilarity_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	randVec := func(n int) []float32 {
		v := make([]float32, n)
		for i := range v {
			v[i] = rng.Float32()*2 - 1
		}
		return v
	}

	for i := 0; i < 200; i++ {
		a, b := randVec(16), randVec(16)

		ab, ba := Similarity(a, b), Similarity(b, a)
		if ab != ba {
			t.Fatalf("not symmetric: %v vs %v", ab, ba)
		}
		if ab < -1 || ab > 1 {
			t.Fatalf("score out of range: %v", ab)
		}
		if self := Similarity(a, a); math.Abs(self-1) > 1e-12 {
			t.Fatalf("Similarity(a, a) = %v, want 1", self)
		}
	}
}

func TestRank_SkipsAbsentVectorsAndOrders(t *testing.T) {
	pool := []Entry{
		{ID: "Y", Vector: []float32{0, 1}},
		{ID: "Z"},
		{ID: "X", Vector: []float32{1, 0}},
	}
	got := Rank([]float32{1, 0}, pool, 10)
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2: %+v", len(got), got)
	}
	if got[0].ID != "X" || got[0].Score != 1 {
		t.Errorf("first = %+v, want X with score 1", got[0])
	}
	if got[1].ID != "Y" || got[1].Score != 0 {
		t.Errorf("second = %+v, want Y with score 0", got[1])
	}
}

func TestRank_TieBreakByID(t *testing.T) {
	v := []float32{1, 1}
	pool := []Entry{
		{ID: "c", Vector: v},
		{ID: "a", Vector: v},
		{ID: "b", Vector: v},
	}
	got := Rank(v, pool, 10)
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("order = %+v, want %v", got, want)
		}
	}
}

func TestRank_Limit(t *testing.T) {
	pool := []Entry{
		{ID: "far", Vector: []float32{-1, 0}},
		{ID: "near", Vector: []float32{1, 0.1}},
		{ID: "exact", Vector: []float32{1, 0}},
		{ID: "mid", Vector: []float32{1, 1}},
	}
	query := []float32{1, 0}

	got := Rank(query, pool, 2)
	if len(got) != 2 || got[0].ID != "exact" || got[1].ID != "near" {
		t.Errorf("Rank(limit=2) = %+v, want [exact near]", got)
	}

	if got := Rank(query, pool, 0); len(got) != 0 {
		t.Errorf("Rank(limit=0) = %+v, want empty", got)
	}
	if got := Rank(query, pool, -3); len(got) != 0 {
		t.Errorf("Rank(limit=-3) = %+v, want empty", got)
	}
	if got := Rank(query, pool, 100); len(got) != len(pool) {
		t.Errorf("Rank(limit=100) returned %d, want full pool %d", len(got), len(pool))
	}
}

func TestRank_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pool := make([]Entry, 50)
	for i := range pool {
		pool[i] = Entry{ID: string(rune('a'+i%26)) + string(rune('a'+i/26)), Vector: []float32{float32(rng.Intn(3)), float32(rng.Intn(3))}}
	}
	query := []float32{1, 2}

	first := Rank(query, pool, 20)
	for i := 0; i < 5; i++ {
		again := Rank(query, pool, 20)
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("run %d differs at %d: %+v vs %+v", i, j, first[j], again[j])
			}
		}
	}
	for j := 1; j < len(first); j++ {
		if before(first[j], first[j-1]) {
			t.Fatalf("not sorted at %d: %+v before %+v", j, first[j-1], first[j])
		}
	}
}
