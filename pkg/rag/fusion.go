package rag

import "sort"

// FusionMode selects how vector and keyword rankings combine.
type FusionMode string

const (
	// FusionRRF combines by reciprocal rank, score = sum of 1/(k + rank).
	FusionRRF FusionMode = "rrf"

	// FusionWeighted min-max normalizes each list and takes a weighted sum.
	FusionWeighted FusionMode = "weighted"

	FusionVectorOnly  FusionMode = "vector"
	FusionKeywordOnly FusionMode = "keyword"
)

// rrfK is the rank damping constant.
const rrfK = 60

// rankedHit is one entry of a scored candidate list, ordered best-first.
type rankedHit struct {
	key    chunkKey
	score  float64
	result SearchResult
}

// fuseRRF merges ranked lists by reciprocal rank fusion. Ranks are 1-based;
// a candidate absent from a list contributes nothing for it.
func fuseRRF(lists ...[]rankedHit) []SearchResult {
	scores := make(map[chunkKey]float64)
	results := make(map[chunkKey]SearchResult)
	for _, list := range lists {
		for rank, hit := range list {
			scores[hit.key] += 1.0 / float64(rrfK+rank+1)
			if _, ok := results[hit.key]; !ok {
				results[hit.key] = hit.result
			}
		}
	}
	return collectFused(scores, results)
}

// fuseWeighted min-max normalizes each list to [0,1] and sums with the given
// weights. A single-element list normalizes to 1.
func fuseWeighted(vectorWeight, keywordWeight float64, vec, kw []rankedHit) []SearchResult {
	scores := make(map[chunkKey]float64)
	results := make(map[chunkKey]SearchResult)
	accumulate := func(list []rankedHit, weight float64) {
		normalized := minMaxNormalize(list)
		for i, hit := range list {
			scores[hit.key] += weight * normalized[i]
			if _, ok := results[hit.key]; !ok {
				results[hit.key] = hit.result
			}
		}
	}
	accumulate(vec, vectorWeight)
	accumulate(kw, keywordWeight)
	return collectFused(scores, results)
}

func minMaxNormalize(list []rankedHit) []float64 {
	if len(list) == 0 {
		return nil
	}
	lo, hi := list[0].score, list[0].score
	for _, hit := range list[1:] {
		if hit.score < lo {
			lo = hit.score
		}
		if hit.score > hi {
			hi = hit.score
		}
	}
	out := make([]float64, len(list))
	for i, hit := range list {
		if hi == lo {
			out[i] = 1
		} else {
			out[i] = (hit.score - lo) / (hi - lo)
		}
	}
	return out
}

func collectFused(scores map[chunkKey]float64, results map[chunkKey]SearchResult) []SearchResult {
	out := make([]SearchResult, 0, len(scores))
	for key, score := range scores {
		r := results[key]
		r.Score = score
		out = append(out, r)
	}
	sortResults(out)
	return out
}

// sortResults orders by descending score, breaking ties by ascending chunk
// index then lexicographic document id.
func sortResults(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].ChunkIndex != results[j].ChunkIndex {
			return results[i].ChunkIndex < results[j].ChunkIndex
		}
		return results[i].DocID < results[j].DocID
	})
}

// lessHit applies the same ordering to ranked hit lists.
func lessHit(a, b rankedHit) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.key.Index != b.key.Index {
		return a.key.Index < b.key.Index
	}
	return a.key.DocID < b.key.DocID
}
