package main

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	service "github.com/okian/duel/internal/app"
	"github.com/okian/duel/internal/config"
)

type countingStats struct {
	calls atomic.Int32
}

func (c *countingStats) GetStats(context.Context) (service.Stats, error) {
	c.calls.Add(1)
	return service.Stats{}, nil
}

func TestMetricsCollector(t *testing.T) {
	convey.Convey("Given a metrics collector on a short interval", t, func() {
		stats := &countingStats{}
		mc := &metricsCollector{stats: stats, interval: 10 * time.Millisecond}
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		convey.Convey("Then it samples until the context ends", func() {
			err := mc.Serve(ctx)
			convey.So(errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
			convey.So(stats.calls.Load(), convey.ShouldBeGreaterThan, 0)
			convey.So(mc.String(), convey.ShouldEqual, "metrics-collector")
		})
	})
}

func TestSupervisor(t *testing.T) {
	convey.Convey("Given the root supervisor", t, func() {
		root := newSupervisor()
		root.Add(&metricsCollector{stats: &countingStats{}, interval: time.Millisecond})

		convey.Convey("Then it stops when its context is cancelled", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			err := root.Serve(ctx)
			convey.So(err == nil || errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
		})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given an invalid store backend in the environment", t, func() {
		_ = os.Setenv("DUEL_STORE_BACKEND", "floppy")
		defer func() { _ = os.Unsetenv("DUEL_STORE_BACKEND") }()

		convey.Convey("Then run refuses to start", func() {
			err := run(context.Background())
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given a valid configuration on an ephemeral port", t, func() {
		_ = os.Setenv("DUEL_ADDR", "127.0.0.1:0")
		defer func() { _ = os.Unsetenv("DUEL_ADDR") }()

		convey.Convey("Then run serves until cancelled", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
			defer cancel()
			convey.So(run(ctx), convey.ShouldBeNil)
		})
	})
}
