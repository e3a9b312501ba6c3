package bucketstore

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

// InsertChunkSize bounds how many rows go into a single PrepareBatch call.
const InsertChunkSize = 5000

// ClickHouseConfig carries the settings a bucket store needs, scoped to the
// settings a bucket store needs on top of the shared connection.
type ClickHouseConfig struct {
	Table string
	TTL   map[string]time.Duration // keyed by window.Duration.Name; not read by the stores in this package
}

// ClickHouseHistogramStore is the ClickHouse-backed HistogramStore.
type ClickHouseHistogramStore struct {
	conn   driver.Conn
	cfg    ClickHouseConfig
	logger *zap.Logger
}

// NewClickHouseHistogramStore wires an existing native-driver connection
// into a HistogramStore.
func NewClickHouseHistogramStore(conn driver.Conn, cfg ClickHouseConfig, logger *zap.Logger) *ClickHouseHistogramStore {
	return &ClickHouseHistogramStore{conn: conn, cfg: cfg, logger: logger}
}

func (s *ClickHouseHistogramStore) Slice(ctx context.Context, m metric.Metric, from, to window.Timestamp, limit int) ([]bucket.HistogramBucket, error) {
	rows, err := s.conn.Query(ctx, fmt.Sprintf(
		`SELECT ts_millis, payload FROM %s WHERE metric = ? AND metric_type = ? AND ts_millis >= ? AND ts_millis <= ? ORDER BY ts_millis ASC LIMIT ?`,
		s.cfg.Table),
		m.Name, int8(m.Type), int64(from), int64(to), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("slice histogram buckets: %w: %w", errs.Transient, err)
	}
	defer rows.Close()

	var out []bucket.HistogramBucket
	for rows.Next() {
		var tsMillis int64
		var payload []byte
		if err := rows.Scan(&tsMillis, &payload); err != nil {
			return nil, fmt.Errorf("scan histogram bucket row: %w", err)
		}
		b, ok := bucket.DeserializeHistogramBucket(payload)
		if !ok {
			s.logger.Warn("dropping corrupt histogram bucket row",
				zap.String("metric", m.Name), zap.Int64("ts_millis", tsMillis))
			continue
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *ClickHouseHistogramStore) Store(ctx context.Context, m metric.Metric, windowDuration window.Duration, buckets []bucket.HistogramBucket) error {
	for start := 0; start < len(buckets); start += InsertChunkSize {
		end := start + InsertChunkSize
		if end > len(buckets) {
			end = len(buckets)
		}
		if err := s.storeChunk(ctx, m, windowDuration, buckets[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *ClickHouseHistogramStore) storeChunk(ctx context.Context, m metric.Metric, windowDuration window.Duration, chunk []bucket.HistogramBucket) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		`INSERT INTO %s (metric, metric_type, window_name, ts_millis, timestamp, payload)`, s.cfg.Table))
	if err != nil {
		return fmt.Errorf("prepare histogram batch: %w: %w", errs.Transient, err)
	}

	for _, b := range chunk {
		payload, err := bucket.SerializeHistogramBucket(b)
		if err != nil {
			return fmt.Errorf("serialize histogram bucket: %w", err)
		}
		tsMillis := int64(b.Num.StartTimestamp())
		if err := batch.Append(m.Name, int8(m.Type), windowDuration.Name, tsMillis, time.UnixMilli(tsMillis), payload); err != nil {
			return fmt.Errorf("append histogram bucket: %w: %w", errs.Transient, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send histogram batch: %w: %w", errs.Transient, err)
	}
	s.logger.Debug("flushed histogram bucket batch",
		zap.String("metric", m.Name), zap.Int("count", len(chunk)))
	return nil
}

func (s *ClickHouseHistogramStore) Remove(ctx context.Context, m metric.Metric, windowDuration window.Duration, buckets []bucket.HistogramBucket) error {
	for _, b := range buckets {
		if err := s.conn.Exec(ctx, fmt.Sprintf(
			`ALTER TABLE %s DELETE WHERE metric = ? AND metric_type = ? AND window_name = ? AND ts_millis = ?`, s.cfg.Table),
			m.Name, int8(m.Type), windowDuration.Name, int64(b.Num.StartTimestamp()),
		); err != nil {
			return fmt.Errorf("remove histogram bucket: %w: %w", errs.Transient, err)
		}
	}
	return nil
}

// ClickHouseCounterStore is the ClickHouse-backed CounterStore.
type ClickHouseCounterStore struct {
	conn   driver.Conn
	cfg    ClickHouseConfig
	logger *zap.Logger
}

// NewClickHouseCounterStore wires an existing native-driver connection into
// a CounterStore.
func NewClickHouseCounterStore(conn driver.Conn, cfg ClickHouseConfig, logger *zap.Logger) *ClickHouseCounterStore {
	return &ClickHouseCounterStore{conn: conn, cfg: cfg, logger: logger}
}

func (s *ClickHouseCounterStore) Slice(ctx context.Context, m metric.Metric, from, to window.Timestamp, limit int) ([]bucket.CounterBucket, error) {
	rows, err := s.conn.Query(ctx, fmt.Sprintf(
		`SELECT ts_millis, payload FROM %s WHERE metric = ? AND metric_type = ? AND ts_millis >= ? AND ts_millis <= ? ORDER BY ts_millis ASC LIMIT ?`,
		s.cfg.Table),
		m.Name, int8(m.Type), int64(from), int64(to), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("slice counter buckets: %w: %w", errs.Transient, err)
	}
	defer rows.Close()

	var out []bucket.CounterBucket
	for rows.Next() {
		var tsMillis int64
		var payload []byte
		if err := rows.Scan(&tsMillis, &payload); err != nil {
			return nil, fmt.Errorf("scan counter bucket row: %w", err)
		}
		b, ok := bucket.DeserializeCounterBucket(payload)
		if !ok {
			s.logger.Warn("dropping corrupt counter bucket row",
				zap.String("metric", m.Name), zap.Int64("ts_millis", tsMillis))
			continue
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *ClickHouseCounterStore) Store(ctx context.Context, m metric.Metric, windowDuration window.Duration, buckets []bucket.CounterBucket) error {
	for start := 0; start < len(buckets); start += InsertChunkSize {
		end := start + InsertChunkSize
		if end > len(buckets) {
			end = len(buckets)
		}
		if err := s.storeChunk(ctx, m, windowDuration, buckets[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *ClickHouseCounterStore) storeChunk(ctx context.Context, m metric.Metric, windowDuration window.Duration, chunk []bucket.CounterBucket) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		`INSERT INTO %s (metric, metric_type, window_name, ts_millis, timestamp, payload)`, s.cfg.Table))
	if err != nil {
		return fmt.Errorf("prepare counter batch: %w: %w", errs.Transient, err)
	}

	for _, b := range chunk {
		payload := bucket.SerializeCounterBucket(b)
		tsMillis := int64(b.Num.StartTimestamp())
		if err := batch.Append(m.Name, int8(m.Type), windowDuration.Name, tsMillis, time.UnixMilli(tsMillis), payload); err != nil {
			return fmt.Errorf("append counter bucket: %w: %w", errs.Transient, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send counter batch: %w: %w", errs.Transient, err)
	}
	s.logger.Debug("flushed counter bucket batch",
		zap.String("metric", m.Name), zap.Int("count", len(chunk)))
	return nil
}

func (s *ClickHouseCounterStore) Remove(ctx context.Context, m metric.Metric, windowDuration window.Duration, buckets []bucket.CounterBucket) error {
	for _, b := range buckets {
		if err := s.conn.Exec(ctx, fmt.Sprintf(
			`ALTER TABLE %s DELETE WHERE metric = ? AND metric_type = ? AND window_name = ? AND ts_millis = ?`, s.cfg.Table),
			m.Name, int8(m.Type), windowDuration.Name, int64(b.Num.StartTimestamp()),
		); err != nil {
			return fmt.Errorf("remove counter bucket: %w: %w", errs.Transient, err)
		}
	}
	return nil
}
