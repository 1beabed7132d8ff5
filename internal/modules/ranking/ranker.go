// Package ranking orders vetted candidates and summarizes their score distribution.
package ranking

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cerbero/coordinator/internal/domain"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrInvalidTopK is returned for a negative K
var ErrInvalidTopK = errors.New("top-k must be non-negative")

// Rank sorts candidates by descending P×E and keeps the first k.
// The sort is stable: ties keep their input order. The input slice is not modified.
func Rank(candidates []domain.Candidate, k int) (domain.RankedSelection, error) {
	if k < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, k)
	}

	sorted := make([]domain.Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Combined() > sorted[j].Combined()
	})

	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return domain.RankedSelection(sorted), nil
}

// Summary describes the combined-score distribution of a candidate set
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Max    float64 `json:"max"`
}

// Summarize computes the summary of P×E over candidates
func Summarize(candidates []domain.Candidate) Summary {
	if len(candidates) == 0 {
		return Summary{}
	}

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = c.Combined()
	}

	summary := Summary{
		Count: len(scores),
		Mean:  stat.Mean(scores, nil),
		Max:   floats.Max(scores),
	}
	if len(scores) > 1 {
		summary.StdDev = stat.StdDev(scores, nil)
	}
	return summary
}
