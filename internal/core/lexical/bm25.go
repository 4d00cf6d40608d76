package lexical

import (
	"math"
	"sort"

	"github.com/markdave123-py/Sourcebook/internal/models"
)

const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// Stats describes the corpus a query is scored against: the chunks of the scoped
// sources at their current generation.
type Stats struct {
	Docs      int
	AvgDocLen float64
	DocFreq   map[string]int
}

// CollectStats computes corpus statistics for terms over tokenized documents.
func CollectStats(terms []string, docs [][]string) Stats {
	st := Stats{Docs: len(docs), DocFreq: make(map[string]int, len(terms))}
	if len(docs) == 0 {
		return st
	}
	want := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		want[t] = struct{}{}
	}
	total := 0
	for _, doc := range docs {
		total += len(doc)
		seen := make(map[string]struct{})
		for _, tok := range doc {
			if _, ok := want[tok]; !ok {
				continue
			}
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			st.DocFreq[tok]++
		}
	}
	st.AvgDocLen = float64(total) / float64(len(docs))
	return st
}

type Scorer struct {
	K1 float64
	B  float64
}

func NewScorer() Scorer {
	return Scorer{K1: DefaultK1, B: DefaultB}
}

func (s Scorer) idf(df, n int) float64 {
	return math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
}

// Score computes the BM25 score of one tokenized document.
func (s Scorer) Score(terms []string, doc []string, st Stats) float64 {
	if len(doc) == 0 || st.Docs == 0 {
		return 0
	}
	tf := make(map[string]int, len(terms))
	for _, tok := range doc {
		tf[tok]++
	}
	avg := st.AvgDocLen
	if avg <= 0 {
		avg = float64(len(doc))
	}
	norm := s.K1 * (1 - s.B + s.B*float64(len(doc))/avg)

	var score float64
	for _, term := range terms {
		f := float64(tf[term])
		if f == 0 {
			continue
		}
		score += s.idf(st.DocFreq[term], st.Docs) * (f * (s.K1 + 1)) / (f + norm)
	}
	return score
}

// Rank scores candidates for query, drops non-matching ones and returns at most limit
// hits ordered by rank desc, then source id asc, then chunk index asc.
func (s Scorer) Rank(terms []string, candidates []models.RetrievedChunk, st Stats, limit int) []models.RetrievedChunk {
	out := make([]models.RetrievedChunk, 0, len(candidates))
	for _, c := range candidates {
		c.Rank = s.Score(terms, Tokenize(c.Content), st)
		if c.Rank <= 0 {
			continue
		}
		out = append(out, c)
	}
	SortHits(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func SortHits(hits []models.RetrievedChunk) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Rank != b.Rank {
			return a.Rank > b.Rank
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		return a.ChunkIndex < b.ChunkIndex
	})
}
