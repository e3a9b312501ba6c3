// loadgen drives an OTLP gRPC endpoint with synthetic gauges and counters,
// exercising the ingest receiver end to end.
// It also emits a histogram on request, to demonstrate the ingest path's
// deliberate discard of pre-bucketed OTel metric types.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var (
	endpoint       = flag.String("endpoint", "localhost:4317", "OTLP endpoint")
	duration       = flag.Duration("duration", 5*time.Minute, "run duration")
	interval       = flag.Duration("interval", 10*time.Second, "export interval")
	numGauges      = flag.Int("gauges", 3, "number of gauge metrics")
	numCounters    = flag.Int("counters", 3, "number of counter metrics")
	withHistograms = flag.Bool("with-histograms", false, "also emit a histogram to exercise the discard path")
)

func main() {
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	conn, err := grpc.DialContext(ctx, *endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		log.Fatalf("failed to dial %s: %v", *endpoint, err)
	}
	defer conn.Close()

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithGRPCConn(conn),
		otlpmetricgrpc.WithTemporalitySelector(sdkmetric.DefaultTemporalitySelector),
	)
	if err != nil {
		log.Fatalf("failed to create metric exporter: %v", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(*interval))),
	)
	defer func() {
		if err := meterProvider.Shutdown(context.Background()); err != nil {
			log.Printf("error shutting down meter provider: %v", err)
		}
	}()

	otel.SetMeterProvider(meterProvider)
	meter := meterProvider.Meter("loadgen")

	fmt.Printf("driving %s for %s, exporting every %s\n", *endpoint, *duration, *interval)

	if err := run(ctx, meter); err != nil {
		log.Fatalf("generator failed: %v", err)
	}
	<-ctx.Done()
	fmt.Println("done")
}

func run(ctx context.Context, meter metric.Meter) error {
	rand.Seed(time.Now().UnixNano())

	counters := make([]metric.Int64Counter, *numCounters)
	for i := range counters {
		c, err := meter.Int64Counter(fmt.Sprintf("loadgen_requests_%d", i),
			metric.WithDescription("synthetic request count"), metric.WithUnit("1"))
		if err != nil {
			return fmt.Errorf("create counter %d: %w", i, err)
		}
		counters[i] = c
	}

	for i := 0; i < *numGauges; i++ {
		idx := i
		_, err := meter.Float64ObservableGauge(fmt.Sprintf("loadgen_queue_depth_%d", idx),
			metric.WithDescription("synthetic queue depth"),
			metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
				v := 50 + 30*math.Sin(float64(time.Now().Unix())/10+float64(idx))
				o.Observe(v, metric.WithAttributes(attribute.Int("shard", idx)))
				return nil
			}),
		)
		if err != nil {
			return fmt.Errorf("create gauge %d: %w", idx, err)
		}
	}

	if *withHistograms {
		h, err := meter.Float64Histogram("loadgen_latency_ms", metric.WithDescription("dropped by design"))
		if err != nil {
			return fmt.Errorf("create histogram: %w", err)
		}
		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					h.Record(ctx, 5+rand.Float64()*200)
				}
			}
		}()
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for i, c := range counters {
				c.Add(ctx, int64(rand.Intn(5)+1), metric.WithAttributes(attribute.Int("shard", i)))
			}
		}
	}
}
