package routing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/relaybot/relay/internal/embeddings"
	"github.com/relaybot/relay/pkg/models"
)

// Candidate is one skill match from the embedding index.
type Candidate struct {
	Name        string
	Description string
	Score       float32
}

type indexEntry struct {
	name        string
	description string
	vector      []float32
}

type indexSnapshot struct {
	entries []indexEntry
}

// Index maps skill names to unit-length embeddings. Rebuilds install a new
// snapshot atomically, so concurrent readers see either the old or the new
// index, never a mix.
type Index struct {
	provider embeddings.Provider

	rebuildMu sync.Mutex
	current   atomic.Pointer[indexSnapshot]
}

// NewIndex creates an empty skill embedding index.
func NewIndex(provider embeddings.Provider) *Index {
	idx := &Index{provider: provider}
	idx.current.Store(&indexSnapshot{})
	return idx
}

// IndexSkills embeds every skill's name and description and installs the
// resulting index. Batch embedding is tried first; on failure each skill is
// embedded individually and items that still fail are skipped.
func (idx *Index) IndexSkills(ctx context.Context, skills []*models.Skill) error {
	idx.rebuildMu.Lock()
	defer idx.rebuildMu.Unlock()

	texts := make([]string, len(skills))
	for i, skill := range skills {
		texts[i] = embeddingText(skill)
	}

	vectors, err := idx.provider.EmbedBatch(ctx, texts)
	if err != nil || len(vectors) != len(skills) {
		vectors = make([][]float32, len(skills))
		for i, text := range texts {
			vec, itemErr := idx.provider.Embed(ctx, text)
			if itemErr != nil {
				continue
			}
			vectors[i] = vec
		}
	}

	entries := make([]indexEntry, 0, len(skills))
	for i, skill := range skills {
		if len(vectors[i]) == 0 {
			continue
		}
		entries = append(entries, indexEntry{
			name:        skill.Name,
			description: skill.Description,
			vector:      embeddings.Normalize(vectors[i]),
		})
	}
	if len(entries) == 0 && len(skills) > 0 {
		return fmt.Errorf("failed to embed any of %d skills", len(skills))
	}

	idx.current.Store(&indexSnapshot{entries: entries})
	return nil
}

// FindSimilar returns up to topK candidates with cosine similarity to the
// query vector of at least minScore, sorted descending.
func (idx *Index) FindSimilar(queryVec []float32, topK int, minScore float32) []Candidate {
	snapshot := idx.current.Load()

	var out []Candidate
	for _, entry := range snapshot.entries {
		score := embeddings.CosineSimilarity(queryVec, entry.vector)
		if score < minScore {
			continue
		}
		out = append(out, Candidate{Name: entry.name, Description: entry.description, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// Len returns the number of indexed skills.
func (idx *Index) Len() int {
	return len(idx.current.Load().entries)
}

func embeddingText(skill *models.Skill) string {
	return skill.Name + ": " + skill.Description
}
