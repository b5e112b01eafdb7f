package simulate

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/duel/pkg/logger"
)

const progressInterval = time.Second

type candidate struct {
	ImageID string `json:"image_id"`
}

type candidatesResponse struct {
	Candidates   []candidate `json:"candidates"`
	Insufficient bool        `json:"insufficient"`
}

type battleRequest struct {
	WinnerID string `json:"winner_id"`
	LoserID  string `json:"loser_id"`
	VoterID  string `json:"voter_id,omitempty"`
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeFailed
	outcomeInsufficient
	outcomeRateLimited
)

// decider picks the winner of a pair from hidden qualities.
type decider struct {
	quality map[string]float64
	noise   float64
}

// winnerFirst reports whether a beats b. With noise the better image wins
// with logistic probability in the quality gap.
func (d decider) winnerFirst(a, b string, rng *rand.Rand) bool {
	qa, qb := d.quality[a], d.quality[b]
	if d.noise == 0 {
		return qa > qb || (qa == qb && a < b)
	}
	p := 1 / (1 + math.Exp(-(qa-qb)/d.noise))
	return rng.Float64() < p
}

// driveBattles runs cfg.Workers workers that each draw a pair of candidates,
// decide the winner and submit the battle, until cfg.Battles attempts are
// used up.
func driveBattles(ctx context.Context, cfg *Config, c *Client, d decider, report *Report, log logger.Logger) {
	log.Info(ctx, "submitting battles",
		logger.Int("battles", cfg.Battles),
		logger.Int("workers", cfg.Workers))

	path := "/candidates?count=2"
	if cfg.Gender != "" {
		path += "&gender=" + url.QueryEscape(string(cfg.Gender))
	}

	var (
		submitted    atomic.Int64
		successful   atomic.Int64
		failed       atomic.Int64
		insufficient atomic.Int64
		rateLimited  atomic.Int64
		lastReport   atomic.Int64
	)
	lastReport.Store(time.Now().UnixNano())

	jobs := make(chan int, cfg.Workers*2)
	var wg sync.WaitGroup
	for w := range cfg.Workers {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(cfg.Seed + int64(worker) + 1)) //nolint:gosec // simulated voters
			voter := cfg.Prefix + "voter-" + strconv.Itoa(worker)

			for range jobs {
				if ctx.Err() != nil {
					return
				}
				switch runBattle(ctx, c, path, voter, d, rng) {
				case outcomeOK:
					successful.Add(1)
				case outcomeInsufficient:
					insufficient.Add(1)
				case outcomeRateLimited:
					rateLimited.Add(1)
				default:
					failed.Add(1)
				}
				n := submitted.Add(1)

				last := lastReport.Load()
				if time.Since(time.Unix(0, last)) >= progressInterval &&
					lastReport.CompareAndSwap(last, time.Now().UnixNano()) {
					log.Info(ctx, "battle progress",
						logger.Int64("submitted", n),
						logger.Int64("successful", successful.Load()),
						logger.Int64("failed", failed.Load()))
				}
			}
		}(w)
	}

	go func() {
		defer close(jobs)
		for i := range cfg.Battles {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()
	wg.Wait()

	report.BattlesSubmitted = int(submitted.Load())
	report.BattlesSuccessful = int(successful.Load())
	report.BattlesFailed = int(failed.Load())
	report.Insufficient = int(insufficient.Load())
	report.RateLimited = int(rateLimited.Load())

	log.Info(ctx, "battle submission completed",
		logger.Int("successful", report.BattlesSuccessful),
		logger.Int("failed", report.BattlesFailed),
		logger.Int("insufficient", report.Insufficient),
		logger.Int("rate_limited", report.RateLimited))
}

func runBattle(ctx context.Context, c *Client, path, voter string, d decider, rng *rand.Rand) outcome {
	var cands candidatesResponse
	status, err := c.Get(ctx, path, &cands)
	if err != nil || status != http.StatusOK {
		return outcomeFailed
	}
	if cands.Insufficient || len(cands.Candidates) < 2 {
		return outcomeInsufficient
	}

	a, b := cands.Candidates[0].ImageID, cands.Candidates[1].ImageID
	req := battleRequest{WinnerID: a, LoserID: b, VoterID: voter}
	if !d.winnerFirst(a, b, rng) {
		req.WinnerID, req.LoserID = b, a
	}

	status, err = c.Post(ctx, "/battles", req, nil)
	switch {
	case err != nil:
		return outcomeFailed
	case status == http.StatusCreated:
		return outcomeOK
	case status == http.StatusTooManyRequests:
		return outcomeRateLimited
	default:
		return outcomeFailed
	}
}
