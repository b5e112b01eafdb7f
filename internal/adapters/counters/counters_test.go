package counters

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/smartystreets/goconvey/convey"
)

func TestMemory(t *testing.T) {
	convey.Convey("Given in-process counters", t, func() {
		ctx := context.Background()
		c := NewMemory()

		convey.Convey("Unset counters read as zero", func() {
			v, err := c.Get(ctx, PoolSize)
			convey.So(err, convey.ShouldBeNil)
			convey.So(v, convey.ShouldEqual, 0)
		})

		convey.Convey("Add accumulates and returns the new value", func() {
			v, err := c.Add(ctx, TotalImages, 3)
			convey.So(err, convey.ShouldBeNil)
			convey.So(v, convey.ShouldEqual, 3)
			v, err = c.Add(ctx, TotalImages, -1)
			convey.So(err, convey.ShouldBeNil)
			convey.So(v, convey.ShouldEqual, 2)
		})

		convey.Convey("Concurrent adds are not lost", func() {
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = c.Add(ctx, PoolSize, 1)
				}()
			}
			wg.Wait()
			v, _ := c.Get(ctx, PoolSize)
			convey.So(v, convey.ShouldEqual, 50)
		})

		convey.Convey("Unknown names are rejected", func() {
			_, err := c.Add(ctx, "likes", 1)
			convey.So(err, convey.ShouldEqual, ErrUnknownCounter)
			_, err = c.Get(ctx, "likes")
			convey.So(err, convey.ShouldEqual, ErrUnknownCounter)
		})
	})
}

// TestRedis needs a reachable server in DUEL_REDIS_ADDR.
func TestRedis(t *testing.T) {
	addr := os.Getenv("DUEL_REDIS_ADDR")
	if addr == "" {
		t.Skip("DUEL_REDIS_ADDR not set")
	}
	convey.Convey("Given redis counters", t, func() {
		ctx := context.Background()
		c, err := NewRedis(ctx, addr)
		convey.So(err, convey.ShouldBeNil)
		convey.Reset(func() { _ = c.Close() })

		client := redis.NewClient(&redis.Options{Addr: addr})
		defer client.Close()
		convey.So(client.Del(ctx, redisKeyPrefix+TotalImages).Err(), convey.ShouldBeNil)

		v, err := c.Get(ctx, TotalImages)
		convey.So(err, convey.ShouldBeNil)
		convey.So(v, convey.ShouldEqual, 0)

		v, err = c.Add(ctx, TotalImages, 5)
		convey.So(err, convey.ShouldBeNil)
		convey.So(v, convey.ShouldEqual, 5)
		convey.So(c.HealthCheck(ctx), convey.ShouldBeNil)
	})

	convey.Convey("Connecting to a dead address fails", t, func() {
		_, err := NewRedis(context.Background(), "127.0.0.1:1")
		convey.So(err, convey.ShouldNotBeNil)
	})
}
