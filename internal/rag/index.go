// Package rag builds a per-document searchable index and answers top-k
// context queries with page attribution.
package rag

import (
	"context"
	"fmt"
	"math"
	"sort"

	"plancheck/internal/task"

	"github.com/rs/zerolog/log"
)

// Builder chunks extracted pages, embeds the chunks and assembles an
// in-memory vector index. Implements the orchestrator's Indexer contract.
type Builder struct {
	embedder Embedder
	splitter Splitter
}

func NewBuilder(embedder Embedder, chunkSize, chunkOverlap int) *Builder {
	return &Builder{
		embedder: embedder,
		splitter: Splitter{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap},
	}
}

type indexedChunk struct {
	content string
	page    int
	vector  []float32
}

// memoryIndex is a flat exhaustive-scan index. Exact nearest neighbours keep
// retrieval deterministic for a given embedding set.
type memoryIndex struct {
	chunks   []indexedChunk
	embedder Embedder
}

// BuildIndex splits pages into chunks, embeds them and returns a searchable
// index. The index is task-scoped and discarded with the run.
func (b *Builder) BuildIndex(ctx context.Context, pages []task.Page) (task.Index, error) {
	var contents []string
	var chunks []indexedChunk
	for _, page := range pages {
		for _, piece := range b.splitter.Split(page.Text) {
			contents = append(contents, piece)
			chunks = append(chunks, indexedChunk{content: piece, page: page.Number})
		}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("document produced no indexable chunks")
	}

	vectors, err := b.embedder.Embed(ctx, contents)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i := range chunks {
		chunks[i].vector = vectors[i]
	}
	log.Info().Int("pages", len(pages)).Int("chunks", len(chunks)).Msg("report index built")
	return &memoryIndex{chunks: chunks, embedder: b.embedder}, nil
}

// Search embeds the query and returns the k most similar chunks by cosine
// similarity, most similar first.
func (idx *memoryIndex) Search(ctx context.Context, query string, k int) ([]task.Chunk, error) {
	vectors, err := idx.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	qv := vectors[0]

	type scored struct {
		chunk task.Chunk
		score float64
	}
	ranked := make([]scored, 0, len(idx.chunks))
	for _, c := range idx.chunks {
		ranked = append(ranked, scored{
			chunk: task.Chunk{Content: c.content, Page: c.page},
			score: cosine(qv, c.vector),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]task.Chunk, 0, k)
	for _, r := range ranked[:k] {
		out = append(out, r.chunk)
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
