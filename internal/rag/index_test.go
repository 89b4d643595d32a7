package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"plancheck/internal/task"
)

// axisEmbedder maps each text onto a fixed axis by keyword, which makes
// cosine ranking deterministic in tests.
type axisEmbedder struct {
	calls int
	err   error
}

func (e *axisEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		switch {
		case strings.Contains(text, "asbestos"):
			out[i] = []float32{1, 0, 0}
		case strings.Contains(text, "ventilation"):
			out[i] = []float32{0, 1, 0}
		default:
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

func testPages() []task.Page {
	return []task.Page{
		{Number: 1, Text: "The facility handles asbestos removal with certified staff."},
		{Number: 2, Text: "Proper ventilation is maintained in all work areas."},
		{Number: 3, Text: "General administrative procedures are documented."},
	}
}

func TestBuildIndexAndSearchRanking(t *testing.T) {
	b := NewBuilder(&axisEmbedder{}, 1000, 100)
	idx, err := b.BuildIndex(context.Background(), testPages())
	if err != nil {
		t.Fatalf("build index: %v", err)
	}

	got, err := idx.Search(context.Background(), "asbestos handling requirement", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if got[0].Page != 1 {
		t.Fatalf("most similar chunk should come from page 1, got page %d", got[0].Page)
	}
	if !strings.Contains(got[0].Content, "asbestos") {
		t.Fatalf("unexpected top chunk: %q", got[0].Content)
	}
}

func TestSearchCapsKAtIndexSize(t *testing.T) {
	b := NewBuilder(&axisEmbedder{}, 1000, 100)
	idx, err := b.BuildIndex(context.Background(), testPages())
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	got, err := idx.Search(context.Background(), "anything", 50)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("k beyond index size must return everything, got %d", len(got))
	}
}

func TestBuildIndexEmptyDocument(t *testing.T) {
	b := NewBuilder(&axisEmbedder{}, 1000, 100)
	_, err := b.BuildIndex(context.Background(), []task.Page{{Number: 1, Text: "   "}})
	if err == nil {
		t.Fatalf("expected error for a document with no indexable text")
	}
}

func TestBuildIndexEmbedderFailure(t *testing.T) {
	b := NewBuilder(&axisEmbedder{err: errors.New("quota exceeded")}, 1000, 100)
	_, err := b.BuildIndex(context.Background(), testPages())
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected embedder failure to propagate, got %v", err)
	}
}
