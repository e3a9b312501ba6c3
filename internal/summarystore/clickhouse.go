package summarystore

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/kloudmate/windowcore/internal/bucket"
	"github.com/kloudmate/windowcore/internal/errs"
	"github.com/kloudmate/windowcore/internal/metric"
	"github.com/kloudmate/windowcore/internal/window"
)

// InsertChunkSize bounds how many summary rows go into a single PrepareBatch call.
const InsertChunkSize = 5000

// ClickHouseConfig names the destination table. Each summary kind gets its
// own store instance and its own table; retention is carried by the
// table's own TTL clause, not enforced in application code.
type ClickHouseConfig struct {
	Table string
}

// ClickHouseStatisticStore is the ClickHouse-backed StatisticStore. It
// relies on a ReplacingMergeTree-family table engine keyed by
// (metric, window_name, ts_millis) so repeated newest-first writes for the
// same bucket converge to the latest value without an explicit read-check.
type ClickHouseStatisticStore struct {
	conn   driver.Conn
	cfg    ClickHouseConfig
	logger *zap.Logger
}

func NewClickHouseStatisticStore(conn driver.Conn, cfg ClickHouseConfig, logger *zap.Logger) *ClickHouseStatisticStore {
	return &ClickHouseStatisticStore{conn: conn, cfg: cfg, logger: logger}
}

func (s *ClickHouseStatisticStore) Store(ctx context.Context, m metric.Metric, windowDuration window.Duration, summaries []bucket.StatisticSummary) error {
	for start := 0; start < len(summaries); start += InsertChunkSize {
		end := start + InsertChunkSize
		if end > len(summaries) {
			end = len(summaries)
		}
		if err := s.storeChunk(ctx, m, windowDuration, summaries[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *ClickHouseStatisticStore) storeChunk(ctx context.Context, m metric.Metric, windowDuration window.Duration, chunk []bucket.StatisticSummary) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		`INSERT INTO %s (
			metric, window_name, ts_millis, timestamp,
			p50, p80, p90, p95, p99, p999, min, max, mean, count
		)`, s.cfg.Table))
	if err != nil {
		return fmt.Errorf("prepare statistic summary batch: %w: %w", errs.Transient, err)
	}

	for _, sm := range chunk {
		tsMillis := int64(sm.TS)
		err := batch.Append(
			m.Name, windowDuration.Name, tsMillis, time.UnixMilli(tsMillis),
			sm.P50, sm.P80, sm.P90, sm.P95, sm.P99, sm.P999, sm.Min, sm.Max, sm.Mean, sm.Count,
		)
		if err != nil {
			return fmt.Errorf("append statistic summary: %w: %w", errs.Transient, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send statistic summary batch: %w: %w", errs.Transient, err)
	}
	s.logger.Debug("flushed statistic summary batch", zap.String("metric", m.Name), zap.Int("count", len(chunk)))
	return nil
}

// ClickHouseGaugeStore is the ClickHouse-backed GaugeStore.
type ClickHouseGaugeStore struct {
	conn   driver.Conn
	cfg    ClickHouseConfig
	logger *zap.Logger
}

func NewClickHouseGaugeStore(conn driver.Conn, cfg ClickHouseConfig, logger *zap.Logger) *ClickHouseGaugeStore {
	return &ClickHouseGaugeStore{conn: conn, cfg: cfg, logger: logger}
}

func (s *ClickHouseGaugeStore) Store(ctx context.Context, m metric.Metric, windowDuration window.Duration, summaries []bucket.GaugeSummary) error {
	for start := 0; start < len(summaries); start += InsertChunkSize {
		end := start + InsertChunkSize
		if end > len(summaries) {
			end = len(summaries)
		}
		if err := s.storeChunk(ctx, m, windowDuration, summaries[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *ClickHouseGaugeStore) storeChunk(ctx context.Context, m metric.Metric, windowDuration window.Duration, chunk []bucket.GaugeSummary) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		`INSERT INTO %s (metric, window_name, ts_millis, timestamp, min, max, mean, count)`, s.cfg.Table))
	if err != nil {
		return fmt.Errorf("prepare gauge summary batch: %w: %w", errs.Transient, err)
	}

	for _, sm := range chunk {
		tsMillis := int64(sm.TS)
		if err := batch.Append(m.Name, windowDuration.Name, tsMillis, time.UnixMilli(tsMillis), sm.Min, sm.Max, sm.Mean, sm.Count); err != nil {
			return fmt.Errorf("append gauge summary: %w: %w", errs.Transient, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send gauge summary batch: %w: %w", errs.Transient, err)
	}
	s.logger.Debug("flushed gauge summary batch", zap.String("metric", m.Name), zap.Int("count", len(chunk)))
	return nil
}

// ClickHouseCounterStore is the ClickHouse-backed CounterStore.
type ClickHouseCounterStore struct {
	conn   driver.Conn
	cfg    ClickHouseConfig
	logger *zap.Logger
}

func NewClickHouseCounterStore(conn driver.Conn, cfg ClickHouseConfig, logger *zap.Logger) *ClickHouseCounterStore {
	return &ClickHouseCounterStore{conn: conn, cfg: cfg, logger: logger}
}

func (s *ClickHouseCounterStore) Store(ctx context.Context, m metric.Metric, windowDuration window.Duration, summaries []bucket.CounterSummary) error {
	for start := 0; start < len(summaries); start += InsertChunkSize {
		end := start + InsertChunkSize
		if end > len(summaries) {
			end = len(summaries)
		}
		if err := s.storeChunk(ctx, m, windowDuration, summaries[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *ClickHouseCounterStore) storeChunk(ctx context.Context, m metric.Metric, windowDuration window.Duration, chunk []bucket.CounterSummary) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		`INSERT INTO %s (metric, window_name, ts_millis, timestamp, count)`, s.cfg.Table))
	if err != nil {
		return fmt.Errorf("prepare counter summary batch: %w: %w", errs.Transient, err)
	}

	for _, sm := range chunk {
		tsMillis := int64(sm.TS)
		if err := batch.Append(m.Name, windowDuration.Name, tsMillis, time.UnixMilli(tsMillis), sm.Count); err != nil {
			return fmt.Errorf("append counter summary: %w: %w", errs.Transient, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send counter summary batch: %w: %w", errs.Transient, err)
	}
	s.logger.Debug("flushed counter summary batch", zap.String("metric", m.Name), zap.Int("count", len(chunk)))
	return nil
}
