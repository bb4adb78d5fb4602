package result

import (
	"testing"

	"github.com/pawrescue/kbengine/internal/domain/document"
)

func doc(id string) document.Document {
	return document.Reconstruct(id, []float32{1}, "content "+id, document.Metadata{})
}

func TestNew(t *testing.T) {
	r := New(doc("kb-1"), 0.95, 0.05)

	if r.ID() != "kb-1" {
		t.Errorf("ID() = %q", r.ID())
	}
	if r.Score() != 0.95 || r.Distance() != 0.05 {
		t.Errorf("Score/Distance = %f/%f", r.Score(), r.Distance())
	}
	d := r.Document()
	if d.Content() != "content kb-1" {
		t.Errorf("Content() = %q", d.Content())
	}
}

func TestSortByScore_StableTies(t *testing.T) {
	rs := []Result{
		New(doc("a"), 0.5, 0.5),
		New(doc("b"), 0.9, 0.1),
		New(doc("c"), 0.5, 0.5),
		New(doc("d"), 0.7, 0.3),
	}

	SortByScore(rs)

	want := []string{"b", "d", "a", "c"}
	for i, id := range want {
		if rs[i].ID() != id {
			t.Fatalf("position %d: got %s, want %s", i, rs[i].ID(), id)
		}
	}
}

func TestTruncate(t *testing.T) {
	rs := []Result{New(doc("a"), 1, 0), New(doc("b"), 1, 0)}
	if got := Truncate(rs, 1); len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
	if got := Truncate(rs, 5); len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}
