package ingest

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"
	"go.uber.org/zap"

	"github.com/prometheus/common/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kloudmate/windowcore/internal/metric"
	"github.com/kloudmate/windowcore/internal/window"
)

// OTLPReceiverConfig carries the OTLP gRPC receiver's settings.
type OTLPReceiverConfig struct {
	Address        string
	MaxMessageSize int
	SafetyMillis   int64
}

// OTLPReceiver is a gRPC OTLP metrics receiver that converts incoming
// data points into MetricMeasurements and hands them to the measurement
// store path. OTel's own Histogram/ExponentialHistogram/Summary types
// deliver pre-bucketed data rather than raw samples, which the measurement
// model has no slot for; those are skipped with a debug log during
// conversion, never reach the store, and are not approximated.
type OTLPReceiver struct {
	pmetricotlp.UnimplementedGRPCServer
	logger *zap.Logger
	store  *Store
	cfg    OTLPReceiverConfig
	server *grpc.Server
}

func NewOTLPReceiver(cfg OTLPReceiverConfig, store *Store, logger *zap.Logger) *OTLPReceiver {
	return &OTLPReceiver{logger: logger, store: store, cfg: cfg}
}

func (r *OTLPReceiver) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", r.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	maxSize := r.cfg.MaxMessageSize
	if maxSize == 0 {
		maxSize = 100 * 1024 * 1024
	}
	r.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxSize),
		grpc.MaxSendMsgSize(maxSize),
	)
	pmetricotlp.RegisterGRPCServer(r.server, r)

	r.logger.Info("starting OTLP receiver", zap.String("address", r.cfg.Address))

	go func() {
		<-ctx.Done()
		r.logger.Info("shutting down OTLP receiver")
		r.server.GracefulStop()
	}()

	if err := r.server.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

func (r *OTLPReceiver) Stop() error {
	if r.server != nil {
		r.server.GracefulStop()
	}
	return nil
}

func (r *OTLPReceiver) Export(ctx context.Context, req pmetricotlp.ExportRequest) (pmetricotlp.ExportResponse, error) {
	md := req.Metrics()
	if md.DataPointCount() == 0 {
		return pmetricotlp.NewExportResponse(), nil
	}

	batch := r.convertToMeasurements(md)
	tick := window.NewTick(window.Timestamp(time.Now().UnixMilli()), r.cfg.SafetyMillis)

	reports, err := r.store.StoreMetricMeasurements(ctx, tick, batch)
	if err != nil {
		r.logger.Error("failed to store measurements", zap.Error(err))
		return pmetricotlp.NewExportResponse(), status.Error(codes.Internal, err.Error())
	}
	for _, rep := range reports {
		if rep.Unsupported {
			r.logger.Warn("metric type unsupported by the measurement model", zap.String("metric", rep.Metric.Name))
		}
	}

	return pmetricotlp.NewExportResponse(), nil
}

// convertToMeasurements maps OTel data points onto MetricMeasurements:
// Gauge -> Gauge, monotonic Sum -> Counter, non-monotonic Sum -> Gauge.
// Histogram, ExponentialHistogram, and Summary carry no raw samples and
// are skipped.
func (r *OTLPReceiver) convertToMeasurements(md pmetric.Metrics) []MetricMeasurement {
	byMetric := make(map[metric.Metric]*MetricMeasurement)

	get := func(name string, t metric.Type) *MetricMeasurement {
		key := metric.Metric{Name: name, Type: t}
		mm, ok := byMetric[key]
		if !ok {
			mm = &MetricMeasurement{Metric: key}
			byMetric[key] = mm
		}
		return mm
	}

	rms := md.ResourceMetrics()
	for i := 0; i < rms.Len(); i++ {
		sms := rms.At(i).ScopeMetrics()
		for j := 0; j < sms.Len(); j++ {
			ms := sms.At(j).Metrics()
			for k := 0; k < ms.Len(); k++ {
				m := ms.At(k)
				if !model.IsValidMetricName(model.LabelValue(m.Name())) {
					r.logger.Warn("dropping metric with a name the remote-read protocol can't expose",
						zap.String("metric", m.Name()))
					continue
				}
				switch m.Type() {
				case pmetric.MetricTypeGauge:
					dps := m.Gauge().DataPoints()
					mm := get(m.Name(), metric.Gauge)
					for d := 0; d < dps.Len(); d++ {
						appendNumberDataPoint(mm, dps.At(d))
					}
				case pmetric.MetricTypeSum:
					sum := m.Sum()
					mtype := metric.Gauge
					if sum.IsMonotonic() {
						mtype = metric.Counter
					}
					dps := sum.DataPoints()
					mm := get(m.Name(), mtype)
					for d := 0; d < dps.Len(); d++ {
						appendNumberDataPoint(mm, dps.At(d))
					}
				case pmetric.MetricTypeHistogram, pmetric.MetricTypeExponentialHistogram, pmetric.MetricTypeSummary:
					r.logger.Debug("dropping pre-bucketed OTel metric, no raw samples to ingest",
						zap.String("metric", m.Name()), zap.String("otel_type", m.Type().String()))
				default:
					r.logger.Warn("unknown OTel metric type", zap.String("metric", m.Name()))
				}
			}
		}
	}

	batch := make([]MetricMeasurement, 0, len(byMetric))
	for _, mm := range byMetric {
		batch = append(batch, *mm)
	}
	return batch
}

func appendNumberDataPoint(mm *MetricMeasurement, dp pmetric.NumberDataPoint) {
	var v float64
	switch dp.ValueType() {
	case pmetric.NumberDataPointValueTypeInt:
		v = float64(dp.IntValue())
	case pmetric.NumberDataPointValueTypeDouble:
		v = dp.DoubleValue()
	default:
		return
	}
	ts := window.Timestamp(int64(dp.Timestamp()) / int64(1_000_000))
	mm.Samples = append(mm.Samples, Sample{TS: ts, Values: []float64{v}})
}
