package rating

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/okian/duel/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(opts ...Option) *Engine {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(opts...)
}

func TestInitialize(t *testing.T) {
	convey.Convey("Given a rating engine with the default table", t, func() {
		e := newTestEngine()

		convey.Convey("When initializing with various battle counts", func() {
			convey.So(e.Initialize(1500, 0).RD, convey.ShouldEqual, 350)
			convey.So(e.Initialize(1500, 1).RD, convey.ShouldEqual, 280)
			convey.So(e.Initialize(1500, 5).RD, convey.ShouldEqual, 220)
			convey.So(e.Initialize(1500, 85).RD, convey.ShouldEqual, 65)
			convey.So(e.Initialize(1500, 149).RD, convey.ShouldEqual, 65)
			convey.So(e.Initialize(1500, 1000).RD, convey.ShouldEqual, 50)
		})

		convey.Convey("Then RD never increases with more battles", func() {
			prev := math.Inf(1)
			for battles := 0; battles <= 300; battles++ {
				rd := e.Initialize(1500, battles).RD
				convey.So(rd, convey.ShouldBeLessThanOrEqualTo, prev)
				prev = rd
			}
		})

		convey.Convey("Then volatility and the internal scale are derived", func() {
			st := e.Initialize(1673.7178, 20)
			convey.So(st.Volatility, convey.ShouldEqual, 0.06)
			convey.So(st.Mu, convey.ShouldAlmostEqual, 1.0, 1e-9)
			convey.So(st.Phi, convey.ShouldAlmostEqual, 120/model.RatingScale, 1e-12)
			convey.So(st.LastUpdateAt, convey.ShouldEqual, fixedNow)
		})

		convey.Convey("Then a missing prior starts at the default rating", func() {
			convey.So(e.Initialize(0, 0).Rating, convey.ShouldEqual, model.DefaultRating)
			convey.So(e.Initialize(-10, 0).Rating, convey.ShouldEqual, model.DefaultRating)
			convey.So(e.Initialize(math.NaN(), 0).Rating, convey.ShouldEqual, model.DefaultRating)
		})

		convey.Convey("Then a negative battle count falls back to the widest RD", func() {
			convey.So(e.Initialize(1500, -3).RD, convey.ShouldEqual, 350)
		})
	})

	convey.Convey("Given a custom unsorted table", t, func() {
		e := newTestEngine(WithRDTable([]Threshold{{MinBattles: 0, RD: 300}, {MinBattles: 10, RD: 100}}))

		convey.Convey("Then thresholds are applied in descending order", func() {
			convey.So(e.Initialize(1500, 3).RD, convey.ShouldEqual, 300)
			convey.So(e.Initialize(1500, 12).RD, convey.ShouldEqual, 100)
		})
	})
}

func TestUpdate(t *testing.T) {
	convey.Convey("Given two images with equal initial ratings", t, func() {
		e := newTestEngine()
		a := e.Initialize(1500, 0)
		b := e.Initialize(1500, 0)

		convey.Convey("When the first wins", func() {
			w, l, err := e.Update(a, b)
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then the winner rises and the loser falls by the same amount", func() {
				convey.So(w.Rating, convey.ShouldBeGreaterThan, 1500)
				convey.So(l.Rating, convey.ShouldBeLessThan, 1500)
				convey.So(w.Rating-1500, convey.ShouldAlmostEqual, 1500-l.Rating, 1e-9)
			})

			convey.Convey("Then uncertainty shrinks and states are stamped", func() {
				convey.So(w.RD, convey.ShouldBeLessThan, 350)
				convey.So(l.RD, convey.ShouldBeLessThan, 350)
				convey.So(w.LastUpdateAt, convey.ShouldEqual, fixedNow)
			})

			convey.Convey("Then mu and phi mirror rating and rd", func() {
				for _, st := range []model.RatingState{w, l} {
					convey.So(st.Mu, convey.ShouldAlmostEqual, (st.Rating-1500)/model.RatingScale, 1e-12)
					convey.So(st.Phi, convey.ShouldAlmostEqual, st.RD/model.RatingScale, 1e-12)
				}
			})
		})
	})

	convey.Convey("Given equal ratings but different RDs", t, func() {
		e := newTestEngine()
		a := model.NewRatingState(1500, 350, 0.06, fixedNow)
		b := model.NewRatingState(1500, 50, 0.06, fixedNow)

		convey.Convey("Then the uncertain winner moves more than the confident loser", func() {
			w, l, err := e.Update(a, b)
			convey.So(err, convey.ShouldBeNil)
			convey.So(w.Rating-1500, convey.ShouldBeGreaterThan, 1500-l.Rating)
		})
	})

	convey.Convey("Given an underdog and a favourite", t, func() {
		e := newTestEngine()
		low := model.NewRatingState(1300, 100, 0.06, fixedNow)
		high := model.NewRatingState(1700, 100, 0.06, fixedNow)

		convey.Convey("Then an upset moves ratings further than the expected result", func() {
			upW, _, err := e.Update(low, high)
			convey.So(err, convey.ShouldBeNil)
			expW, _, err := e.Update(high, low)
			convey.So(err, convey.ShouldBeNil)
			convey.So(upW.Rating-low.Rating, convey.ShouldBeGreaterThan, expW.Rating-high.Rating)
		})
	})

	convey.Convey("Given random valid inputs", t, func() {
		e := newTestEngine()
		rng := rand.New(rand.NewSource(7)) //nolint:gosec // deterministic test input

		convey.Convey("Then every updated RD stays within bounds", func() {
			for i := 0; i < 2000; i++ {
				a := model.NewRatingState(800+rng.Float64()*1400, 10+rng.Float64()*400, 0.01+rng.Float64()*0.1, fixedNow)
				b := model.NewRatingState(800+rng.Float64()*1400, 10+rng.Float64()*400, 0.01+rng.Float64()*0.1, fixedNow)
				w, l, err := e.Update(a, b)
				convey.So(err, convey.ShouldBeNil)
				convey.So(w.RD, convey.ShouldBeBetweenOrEqual, 50, 350)
				convey.So(l.RD, convey.ShouldBeBetweenOrEqual, 50, 350)
				convey.So(w.Rating, convey.ShouldBeGreaterThan, a.Rating)
				convey.So(l.Rating, convey.ShouldBeLessThan, b.Rating)
			}
		})
	})

	convey.Convey("Given a state with a tiny RD", t, func() {
		e := newTestEngine()
		a := model.NewRatingState(1500, 1, 0.0001, fixedNow)
		b := model.NewRatingState(1500, 1, 0.0001, fixedNow)

		convey.Convey("Then the output RD is clamped to the minimum", func() {
			w, l, err := e.Update(a, b)
			convey.So(err, convey.ShouldBeNil)
			convey.So(w.RD, convey.ShouldEqual, 50)
			convey.So(l.RD, convey.ShouldEqual, 50)
		})
	})

	convey.Convey("Given invalid states", t, func() {
		e := newTestEngine()
		good := e.Initialize(1500, 0)

		convey.Convey("Then a zero RD is rejected", func() {
			_, _, err := e.Update(model.RatingState{Rating: 1500}, good)
			convey.So(errors.Is(err, ErrInvalidState), convey.ShouldBeTrue)
		})

		convey.Convey("Then a NaN rating is rejected", func() {
			bad := good
			bad.Rating = math.NaN()
			_, _, err := e.Update(good, bad)
			convey.So(errors.Is(err, ErrInvalidState), convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given an engine that cannot converge", t, func() {
		e := newTestEngine(WithMaxIterations(1), WithEpsilon(1e-15))
		a := e.Initialize(1500, 0)
		b := e.Initialize(1500, 0)

		convey.Convey("Then the update fails loudly", func() {
			_, _, err := e.Update(a, b)
			convey.So(errors.Is(err, ErrNoConvergence), convey.ShouldBeTrue)
		})
	})
}

func TestVersion(t *testing.T) {
	convey.Convey("Given an engine", t, func() {
		convey.So(New().Version(), convey.ShouldEqual, Version)
	})
}
