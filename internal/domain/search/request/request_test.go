package request

import (
	"testing"

	"github.com/pawrescue/kbengine/internal/domain/search/filter"
)

func f64(v float64) *float64 { return &v }

func TestNew_Defaults(t *testing.T) {
	q, err := New([]float32{1, 0}, 0, filter.Filter{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.TopK() != DefaultTopK {
		t.Errorf("TopK = %d, want %d", q.TopK(), DefaultTopK)
	}
	if _, ok := q.MinScore(); ok {
		t.Error("expected no min score")
	}
	if !q.Accepts(-5) {
		t.Error("query without threshold must accept any score")
	}
}

func TestNew_ClampsTopK(t *testing.T) {
	q, err := New([]float32{1}, MaxTopK+10, filter.Filter{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.TopK() != MaxTopK {
		t.Errorf("TopK = %d, want %d", q.TopK(), MaxTopK)
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name     string
		vec      []float32
		topK     int
		minScore *float64
	}{
		{"empty embedding", nil, 5, nil},
		{"negative topK", []float32{1}, -1, nil},
		{"min score below 0", []float32{1}, 5, f64(-0.1)},
		{"min score above 1", []float32{1}, 5, f64(1.5)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.vec, tc.topK, filter.Filter{}, tc.minScore); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestAccepts(t *testing.T) {
	q, err := New([]float32{1}, 3, filter.Filter{}, f64(0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.Accepts(0.5) {
		t.Error("threshold is inclusive")
	}
	if q.Accepts(0.49) {
		t.Error("expected 0.49 to be rejected")
	}
	if v, ok := q.MinScore(); !ok || v != 0.5 {
		t.Errorf("MinScore = %v, %v", v, ok)
	}
}

func TestNew_CopiesEmbedding(t *testing.T) {
	vec := []float32{1, 2}
	q, _ := New(vec, 1, filter.Filter{}, nil)
	vec[0] = 9
	if q.Embedding()[0] != 1 {
		t.Error("query embedding aliased caller slice")
	}
}
