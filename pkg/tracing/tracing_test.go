package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/smartystreets/goconvey/convey"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewProvider(t *testing.T) {
	convey.Convey("Given tracing configs", t, func() {
		ctx := context.Background()

		convey.Convey("When tracing is disabled", func() {
			p, err := NewProvider(ctx, Config{})

			convey.Convey("Then a no-op provider is returned", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(p.Enabled(), convey.ShouldBeFalse)
				convey.So(p.Shutdown(ctx), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the service name is missing", func() {
			_, err := NewProvider(ctx, Config{Enabled: true, SampleRatio: 0.5})
			convey.So(errors.Is(err, ErrServiceName), convey.ShouldBeTrue)
		})

		convey.Convey("When the sample ratio is out of range", func() {
			_, err := NewProvider(ctx, Config{Enabled: true, ServiceName: "duel", SampleRatio: 1.5})
			convey.So(errors.Is(err, ErrSampleRatio), convey.ShouldBeTrue)
		})
	})
}

func TestStartSpan(t *testing.T) {
	convey.Convey("Given a recording tracer provider", t, func() {
		rec := tracetest.NewSpanRecorder()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
		prev := otel.GetTracerProvider()
		otel.SetTracerProvider(tp)
		defer otel.SetTracerProvider(prev)

		convey.Convey("When a span ends without error", func() {
			_, end := StartSpan(context.Background(), "ok", attribute.String("k", "v"))
			end(nil)

			spans := rec.Ended()
			convey.So(len(spans), convey.ShouldEqual, 1)
			convey.So(spans[0].Name(), convey.ShouldEqual, "ok")
			convey.So(spans[0].Status().Code, convey.ShouldEqual, codes.Unset)
		})

		convey.Convey("When a span ends with an error", func() {
			_, end := StartSpan(context.Background(), "fail")
			end(errors.New("boom"))

			spans := rec.Ended()
			convey.So(len(spans), convey.ShouldEqual, 1)
			convey.So(spans[0].Status().Code, convey.ShouldEqual, codes.Error)
			convey.So(spans[0].Status().Description, convey.ShouldEqual, "boom")
		})
	})
}
