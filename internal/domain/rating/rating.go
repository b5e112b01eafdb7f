// Package rating implements Glicko-2 rating initialization and the
// two-player post-battle update. It performs no I/O.
package rating

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/okian/duel/internal/domain/model"
)

// Default engine configuration constants.
const (
	Version = "glicko2-v1"

	defaultTau           = 0.5
	defaultEpsilon       = 1e-6
	defaultVolatility    = 0.06
	defaultMinRD         = 50.0
	defaultMaxRD         = 350.0
	defaultMaxIterations = 100
)

// Threshold maps a minimum battle count to the RD assigned on initialization.
type Threshold struct {
	MinBattles int
	RD         float64
}

// DefaultRDTable is the initialization table: more history means a tighter RD.
var DefaultRDTable = []Threshold{
	{MinBattles: 150, RD: 50},
	{MinBattles: 80, RD: 65},
	{MinBattles: 40, RD: 90},
	{MinBattles: 20, RD: 120},
	{MinBattles: 10, RD: 170},
	{MinBattles: 5, RD: 220},
	{MinBattles: 1, RD: 280},
	{MinBattles: 0, RD: 350},
}

// Engine computes rating states. It is safe for concurrent use.
type Engine struct {
	tau               float64
	epsilon           float64
	defaultVolatility float64
	minRD             float64
	maxRD             float64
	maxIterations     int
	table             []Threshold
	now               func() time.Time
}

// New creates an Engine with configuration options.
func New(opts ...Option) *Engine {
	e := &Engine{
		tau:               defaultTau,
		epsilon:           defaultEpsilon,
		defaultVolatility: defaultVolatility,
		minRD:             defaultMinRD,
		maxRD:             defaultMaxRD,
		maxIterations:     defaultMaxIterations,
		table:             sortedTable(DefaultRDTable),
		now:               time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Version returns the algorithm tag recorded on battles.
func (e *Engine) Version() string {
	return Version
}

// Initialize returns the starting state for an image with the given prior
// rating and battle history. A non-positive prior starts at the default rating.
func (e *Engine) Initialize(prior float64, battles int) model.RatingState {
	if prior <= 0 || math.IsNaN(prior) || math.IsInf(prior, 0) {
		prior = model.DefaultRating
	}
	return model.NewRatingState(prior, e.initialRD(battles), e.defaultVolatility, e.now())
}

func (e *Engine) initialRD(battles int) float64 {
	for _, t := range e.table {
		if t.MinBattles <= battles {
			return e.clampRD(t.RD)
		}
	}
	return e.maxRD
}

// Update applies one battle outcome and returns the new winner and loser states.
func (e *Engine) Update(winner, loser model.RatingState) (model.RatingState, model.RatingState, error) {
	if err := validState(winner); err != nil {
		return model.RatingState{}, model.RatingState{}, fmt.Errorf("winner: %w", err)
	}
	if err := validState(loser); err != nil {
		return model.RatingState{}, model.RatingState{}, fmt.Errorf("loser: %w", err)
	}

	now := e.now()
	w, err := e.step(winner, loser, 1, now)
	if err != nil {
		return model.RatingState{}, model.RatingState{}, fmt.Errorf("winner update: %w", err)
	}
	l, err := e.step(loser, winner, 0, now)
	if err != nil {
		return model.RatingState{}, model.RatingState{}, fmt.Errorf("loser update: %w", err)
	}
	return w, l, nil
}

// step updates self after one game against opp with the given actual score.
func (e *Engine) step(self, opp model.RatingState, score float64, now time.Time) (model.RatingState, error) {
	// Display values are authoritative; the internal scale is re-derived.
	mu, phi := toInternal(self)
	oppMu, oppPhi := toInternal(opp)

	g := gFactor(oppPhi)
	expected := 1 / (1 + math.Exp(-g*(mu-oppMu)))
	v := 1 / (g * g * expected * (1 - expected))
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return model.RatingState{}, fmt.Errorf("%w: degenerate variance", ErrInvalidState)
	}
	delta := v * g * (score - expected)

	sigma := self.Volatility
	if sigma <= 0 {
		sigma = e.defaultVolatility
	}
	newSigma, err := e.volatility(phi, v, delta, sigma)
	if err != nil {
		return model.RatingState{}, err
	}

	phiStar := math.Sqrt(phi*phi + newSigma*newSigma)
	newPhi := 1 / math.Sqrt(1/(phiStar*phiStar)+1/v)
	newMu := mu + newPhi*newPhi*g*(score-expected)

	rating := model.RatingScale*newMu + model.DefaultRating
	rd := e.clampRD(model.RatingScale * newPhi)
	return model.NewRatingState(rating, rd, newSigma, now), nil
}

// volatility solves for the new sigma with the Illinois algorithm.
// Both the bracket search and the iteration are bounded.
func (e *Engine) volatility(phi, v, delta, sigma float64) (float64, error) {
	a := math.Log(sigma * sigma)
	tau2 := e.tau * e.tau
	phi2 := phi * phi
	delta2 := delta * delta

	f := func(x float64) float64 {
		ex := math.Exp(x)
		d := phi2 + v + ex
		return ex*(delta2-phi2-v-ex)/(2*d*d) - (x-a)/tau2
	}

	A := a
	var B float64
	if delta2 > phi2+v {
		B = math.Log(delta2 - phi2 - v)
	} else {
		k := 1
		for f(a-float64(k)*e.tau) < 0 {
			k++
			if k > e.maxIterations {
				return 0, fmt.Errorf("%w: no bracket after %d steps", ErrNoConvergence, e.maxIterations)
			}
		}
		B = a - float64(k)*e.tau
	}

	fA, fB := f(A), f(B)
	for i := 0; math.Abs(B-A) > e.epsilon; i++ {
		if i >= e.maxIterations || fB == fA {
			return 0, fmt.Errorf("%w: |B-A|=%g after %d iterations", ErrNoConvergence, math.Abs(B-A), i)
		}
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C)
		if fC*fB <= 0 {
			A, fA = B, fB
		} else {
			fA /= 2
		}
		B, fB = C, fC
	}

	return math.Exp(A / 2), nil
}

func (e *Engine) clampRD(rd float64) float64 {
	return math.Max(e.minRD, math.Min(e.maxRD, rd))
}

func gFactor(phi float64) float64 {
	return 1 / math.Sqrt(1+3*phi*phi/(math.Pi*math.Pi))
}

func toInternal(s model.RatingState) (float64, float64) {
	return (s.Rating - model.DefaultRating) / model.RatingScale, s.RD / model.RatingScale
}

func validState(s model.RatingState) error {
	for _, x := range []float64{s.Rating, s.RD, s.Volatility} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidState)
		}
	}
	if s.RD <= 0 {
		return fmt.Errorf("%w: rd must be positive, got %g", ErrInvalidState, s.RD)
	}
	return nil
}

func sortedTable(table []Threshold) []Threshold {
	out := make([]Threshold, len(table))
	copy(out, table)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MinBattles > out[j].MinBattles
	})
	return out
}
