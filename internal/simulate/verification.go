package simulate

import (
	"fmt"
	"math"
	"sort"

	"github.com/okian/duel/internal/domain/model"
)

// verifyOrdering checks that entries follow the leaderboard direction and
// carry consecutive ranks.
func verifyOrdering(doc model.LeaderboardDocument) error {
	for i, e := range doc.Entries {
		if e.Rank != i+1 {
			return fmt.Errorf("%w: entry %d has rank %d", ErrUnsorted, i, e.Rank)
		}
		if i == 0 {
			continue
		}
		prev := doc.Entries[i-1].Rating
		if doc.Config.Direction == model.DirectionBottom && e.Rating < prev {
			return fmt.Errorf("%w: entry %d rating %.2f below %.2f", ErrUnsorted, i, e.Rating, prev)
		}
		if doc.Config.Direction != model.DirectionBottom && e.Rating > prev {
			return fmt.Errorf("%w: entry %d rating %.2f above %.2f", ErrUnsorted, i, e.Rating, prev)
		}
	}
	return nil
}

// qualityCorrelation is the Spearman correlation between displayed rating
// and hidden quality over the entries this run seeded.
func qualityCorrelation(doc model.LeaderboardDocument, quality map[string]float64) (float64, int) {
	var ratings, qualities []float64
	for _, e := range doc.Entries {
		q, ok := quality[e.ImageID]
		if !ok {
			continue
		}
		ratings = append(ratings, e.Rating)
		qualities = append(qualities, q)
	}
	return spearman(ratings, qualities), len(ratings)
}

// spearman returns the rank correlation of x and y, or 0 when it is undefined.
func spearman(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0
	}
	return pearson(ranks(x), ranks(y))
}

// ranks assigns 1-based ranks, averaging ties.
func ranks(v []float64) []float64 {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return v[idx[a]] < v[idx[b]] })

	out := make([]float64, len(v))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && v[idx[j+1]] == v[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}

func pearson(x, y []float64) float64 {
	n := float64(len(x))
	var mx, my float64
	for i := range x {
		mx += x[i]
		my += y[i]
	}
	mx /= n
	my /= n

	var cov, vx, vy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	return cov / math.Sqrt(vx*vy)
}
