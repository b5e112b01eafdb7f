package api_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/duel/internal/adapters/http/api"
	service "github.com/okian/duel/internal/app"
	"github.com/okian/duel/internal/domain/leaderboard"
	"github.com/okian/duel/internal/domain/model"
)

type mockDeps struct {
	candidates   []model.ImageRecord
	candidateErr error
	gotCount     int
	gotGender    model.Gender

	battleErr error
	gotBattle []string

	docs     map[string]model.LeaderboardDocument
	regenErr error
	regenMD  model.GlobalMetadata

	imported  []service.ImageUpsert
	importErr error

	started bool
}

func (m *mockDeps) SelectCandidates(_ context.Context, count int, gender model.Gender) ([]model.ImageRecord, error) {
	m.gotCount, m.gotGender = count, gender
	return m.candidates, m.candidateErr
}

func (m *mockDeps) SubmitBattle(_ context.Context, winnerID, loserID, voterID string) (model.BattleRecord, error) {
	m.gotBattle = []string{winnerID, loserID, voterID}
	if m.battleErr != nil {
		return model.BattleRecord{}, m.battleErr
	}
	return model.BattleRecord{
		ID:            "b-1",
		WinnerImageID: winnerID,
		LoserImageID:  loserID,
		WinnerBefore:  model.RatingState{Rating: 1500},
		WinnerAfter:   model.RatingState{Rating: 1662.3},
		LoserBefore:   model.RatingState{Rating: 1500},
		LoserAfter:    model.RatingState{Rating: 1337.7},
	}, nil
}

func (m *mockDeps) GetLeaderboard(_ context.Context, key string) (model.LeaderboardDocument, error) {
	doc, ok := m.docs[key]
	if !ok {
		return model.LeaderboardDocument{}, fmt.Errorf("%w: %q", leaderboard.ErrUnknownLeaderboard, key)
	}
	return doc, nil
}

func (m *mockDeps) ListLeaderboards(context.Context) (service.LeaderboardListing, error) {
	return service.LeaderboardListing{Leaderboards: []model.LeaderboardConfig{
		{Key: "top-all", Direction: model.DirectionTop, Limit: 10},
	}}, nil
}

func (m *mockDeps) ForceRegenerate(context.Context) (model.GlobalMetadata, error) {
	return m.regenMD, m.regenErr
}

func (m *mockDeps) UpsertImages(_ context.Context, images []service.ImageUpsert) (service.ImportResult, error) {
	m.imported = images
	if m.importErr != nil {
		return service.ImportResult{}, m.importErr
	}
	return service.ImportResult{Created: len(images)}, nil
}

func (m *mockDeps) GetStats(context.Context) (service.Stats, error) {
	return service.Stats{Started: m.started, StoreBackend: "memory"}, nil
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder, v any) {
	So(json.Unmarshal(w.Body.Bytes(), v), ShouldBeNil)
}

func TestRoutes(t *testing.T) {
	Convey("Given an API server over mock dependencies", t, func() {
		deps := &mockDeps{started: true, docs: map[string]model.LeaderboardDocument{
			"top-all": {Key: "top-all", Entries: []model.LeaderboardEntry{{Rank: 1, ImageID: "a"}}},
		}}
		h := api.NewServer(deps).Routes(context.Background())

		Convey("Health reflects service start", func() {
			So(do(h, http.MethodGet, "/healthz", "").Code, ShouldEqual, http.StatusOK)
			deps.started = false
			So(do(h, http.MethodGet, "/healthz", "").Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("Stats, metrics and docs are served", func() {
			So(do(h, http.MethodGet, "/stats", "").Code, ShouldEqual, http.StatusOK)
			So(do(h, http.MethodGet, "/metrics", "").Code, ShouldEqual, http.StatusOK)
			So(do(h, http.MethodGet, "/openapi.yaml", "").Code, ShouldEqual, http.StatusOK)
			So(do(h, http.MethodGet, "/api-docs", "").Code, ShouldEqual, http.StatusOK)
		})

		Convey("Candidates default to a pair", func() {
			deps.candidates = []model.ImageRecord{
				{ID: "a", OwnerID: "o1", Gender: model.GenderFemale, Rating: model.RatingState{Rating: 1500, RD: 350}},
				{ID: "b", OwnerID: "o2", Gender: model.GenderFemale, Rating: model.RatingState{Rating: 1510, RD: 300}, Battles: 3},
			}
			w := do(h, http.MethodGet, "/candidates?gender=female", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.gotCount, ShouldEqual, 2)
			So(deps.gotGender, ShouldEqual, model.GenderFemale)

			var body struct {
				Candidates   []api.Candidate `json:"candidates"`
				Insufficient bool            `json:"insufficient"`
			}
			decode(w, &body)
			So(body.Insufficient, ShouldBeFalse)
			So(body.Candidates, ShouldHaveLength, 2)
			So(body.Candidates[1].Battles, ShouldEqual, 3)
			So(body.Candidates[1].RD, ShouldEqual, 300)
		})

		Convey("Running out of owners is flagged, not failed", func() {
			deps.candidateErr = fmt.Errorf("%w: wanted 2, found 1", model.ErrInsufficientCandidates)
			w := do(h, http.MethodGet, "/candidates?count=2", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"insufficient":true`)
			So(w.Body.String(), ShouldContainSubstring, `"candidates":[]`)
		})

		Convey("Bad candidate requests are 400", func() {
			So(do(h, http.MethodGet, "/candidates?count=two", "").Code, ShouldEqual, http.StatusBadRequest)
			deps.candidateErr = service.ErrInvalidCount
			So(do(h, http.MethodGet, "/candidates?count=50", "").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A valid battle is created", func() {
			w := do(h, http.MethodPost, "/battles", `{"winner_id":"a","loser_id":"b","voter_id":"v"}`)
			So(w.Code, ShouldEqual, http.StatusCreated)
			So(deps.gotBattle, ShouldResemble, []string{"a", "b", "v"})

			var body struct {
				Battle      model.BattleRecord `json:"battle"`
				WinnerDelta float64            `json:"winner_delta"`
				LoserDelta  float64            `json:"loser_delta"`
			}
			decode(w, &body)
			So(body.Battle.ID, ShouldEqual, "b-1")
			So(body.WinnerDelta, ShouldAlmostEqual, 162.3, 1e-9)
			So(body.LoserDelta, ShouldAlmostEqual, -162.3, 1e-9)
		})

		Convey("Malformed battles never reach the service", func() {
			for _, body := range []string{
				``,
				`{"winner_id":"a"`,
				`{"winner_id":"a"}`,
				`{"winner_id":"a","loser_id":"a"}`,
				`{"winner_id":"a","loser_id":"b","extra":1}`,
			} {
				So(do(h, http.MethodPost, "/battles", body).Code, ShouldEqual, http.StatusBadRequest)
			}
			So(deps.gotBattle, ShouldBeNil)
		})

		Convey("Service errors map onto status codes", func() {
			deps.battleErr = fmt.Errorf("image ghost: %w", model.ErrNotFound)
			So(do(h, http.MethodPost, "/battles", `{"winner_id":"a","loser_id":"ghost"}`).Code, ShouldEqual, http.StatusNotFound)

			deps.battleErr = service.ErrNotStarted
			So(do(h, http.MethodPost, "/battles", `{"winner_id":"a","loser_id":"b"}`).Code, ShouldEqual, http.StatusServiceUnavailable)

			deps.battleErr = errors.New("disk on fire")
			w := do(h, http.MethodPost, "/battles", `{"winner_id":"a","loser_id":"b"}`)
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(w.Body.String(), ShouldNotContainSubstring, "disk on fire")
		})

		Convey("Leaderboards are listed and fetched by key", func() {
			So(do(h, http.MethodGet, "/leaderboards", "").Code, ShouldEqual, http.StatusOK)

			w := do(h, http.MethodGet, "/leaderboards/top-all", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var doc model.LeaderboardDocument
			decode(w, &doc)
			So(doc.Entries[0].ImageID, ShouldEqual, "a")

			So(do(h, http.MethodGet, "/leaderboards/nope", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Regeneration reports its outcome", func() {
			deps.regenMD = model.GlobalMetadata{LastRunStatus: model.RunSuccess, Processed: 1}
			w := do(h, http.MethodPost, "/leaderboards/regenerate", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"success":true`)

			deps.regenMD = model.GlobalMetadata{LastRunStatus: model.RunPartial, Processed: 1, Failed: 1}
			deps.regenErr = fmt.Errorf("%w: top-all: dial tcp 10.0.0.7:5432: refused", model.ErrPartialAggregation)
			w = do(h, http.MethodPost, "/leaderboards/regenerate", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"success":false`)
			So(w.Body.String(), ShouldContainSubstring, `"last_run_status":"partial"`)
			So(w.Body.String(), ShouldNotContainSubstring, "dial tcp")
			So(w.Body.String(), ShouldNotContainSubstring, `"error"`)

			deps.regenErr = leaderboard.ErrRegenerationInProgress
			w = do(h, http.MethodPost, "/leaderboards/regenerate", "")
			So(w.Code, ShouldEqual, http.StatusConflict)
			So(w.Body.String(), ShouldContainSubstring, `"success":false`)
			So(w.Body.String(), ShouldContainSubstring, `"error":"regeneration_in_progress"`)
		})

		Convey("Images are imported", func() {
			w := do(h, http.MethodPost, "/images",
				`{"images":[{"id":"a","owner_id":"o","gender":"male","in_pool":true}]}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.imported, ShouldHaveLength, 1)
			So(deps.imported[0].Gender, ShouldEqual, model.GenderMale)

			So(do(h, http.MethodPost, "/images", `{"images":[]}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/images", `{"images":[{"id":"a"}]}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/images", `{"images":[{"id":"a","owner_id":"o","gender":"robot"}]}`).Code,
				ShouldEqual, http.StatusBadRequest)
		})

		Convey("Unknown routes and methods are rejected", func() {
			So(do(h, http.MethodGet, "/unknown", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(h, http.MethodGet, "/battles", "").Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestBattleRateLimit(t *testing.T) {
	Convey("Given a server allowing one battle per minute per IP", t, func() {
		deps := &mockDeps{started: true}
		h := api.NewServer(deps, api.WithBattleRateLimit(1, time.Minute)).Routes(context.Background())

		Convey("The second submission is throttled", func() {
			body := `{"winner_id":"a","loser_id":"b"}`
			So(do(h, http.MethodPost, "/battles", body).Code, ShouldEqual, http.StatusCreated)
			w := do(h, http.MethodPost, "/battles", body)
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			So(w.Body.String(), ShouldContainSubstring, "rate_limited")
		})

		Convey("Other routes are not throttled", func() {
			for range 5 {
				So(do(h, http.MethodGet, "/leaderboards", "").Code, ShouldEqual, http.StatusOK)
			}
		})
	})
}

type fakeHTTPServer struct {
	listenErr error
	done      chan struct{}
	shutdown  bool
}

func (f *fakeHTTPServer) ListenAndServe() error {
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.done
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	f.shutdown = true
	close(f.done)
	return nil
}

func TestServerService(t *testing.T) {
	Convey("Given a supervised HTTP server", t, func() {
		Convey("Cancelling the context shuts it down", func() {
			srv := &fakeHTTPServer{done: make(chan struct{})}
			svc := api.NewServerService(srv, ":0", nil)
			ctx, cancel := context.WithCancel(context.Background())
			errCh := make(chan error, 1)
			go func() { errCh <- svc.Serve(ctx) }()
			cancel()

			err := <-errCh
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(srv.shutdown, ShouldBeTrue)
			So(svc.String(), ShouldEqual, "http-server")
		})

		Convey("A listen failure is returned", func() {
			srv := &fakeHTTPServer{listenErr: errors.New("address in use"), done: make(chan struct{})}
			err := api.NewServerService(srv, ":0", nil).Serve(context.Background())
			So(errors.Is(err, api.ErrServe), ShouldBeTrue)
		})
	})
}
