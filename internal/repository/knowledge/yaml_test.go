package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const seed = `
items:
  - id: faq-adopt-1
    title: How adoption works
    content: Fill in the form and we schedule a home visit.
    category: adoption
    agent_types: [adopter]
    audience: [adopters, guardians]
    metadata:
      source: faq
      updated_at: "2025-06-01T00:00:00Z"
  - id: faq-donate-1
    title: Tax receipts
    content: Donations above 20 EUR receive a receipt by email.
    category: donations
    agent_types: [donor]
    audience: [donors]
`

func TestParse(t *testing.T) {
	items, err := Parse([]byte(seed))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	first := items[0]
	if first.ID != "faq-adopt-1" || first.Category != "adoption" {
		t.Errorf("unexpected first item: %+v", first)
	}
	if len(first.Audience) != 2 || first.Audience[1] != "guardians" {
		t.Errorf("audience = %v", first.Audience)
	}
	if first.Source() != "faq" {
		t.Errorf("source = %q", first.Source())
	}
	if _, ok := first.UpdatedAt(); !ok {
		t.Error("expected updated_at to parse")
	}
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("items:\n  - id: x\n    titel: typo\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParse_Empty(t *testing.T) {
	items, err := Parse(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.yaml")
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatal(err)
	}

	items, err := NewFileSource(path).Items(context.Background())
	if err != nil {
		t.Fatalf("Items failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	if _, err := NewFileSource(filepath.Join(t.TempDir(), "missing.yaml")).Items(context.Background()); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFileSource_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewFileSource("unused.yaml").Items(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

func TestFileSource_BundledSeed(t *testing.T) {
	items, err := NewFileSource(filepath.Join("..", "..", "..", "config", "knowledge.yaml")).Items(context.Background())
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("bundled seed has no items")
	}

	seen := make(map[string]bool, len(items))
	for i := range items {
		it := &items[i]
		if it.ID == "" || it.Title == "" || it.Content == "" || it.Category == "" {
			t.Errorf("item %d incomplete: %+v", i, it)
		}
		if seen[it.ID] {
			t.Errorf("duplicate id %q", it.ID)
		}
		seen[it.ID] = true
		if _, ok := it.UpdatedAt(); !ok && it.Metadata["updated_at"] != "" {
			t.Errorf("item %q: unparseable updated_at %q", it.ID, it.Metadata["updated_at"])
		}
	}
}
