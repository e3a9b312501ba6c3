package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/kloudmate/windowcore/internal/errs"
	"github.com/kloudmate/windowcore/internal/metric"
	"github.com/kloudmate/windowcore/internal/window"
)

// ClickHouseConfig names the two tables the meta-store needs: one row per
// (metric, window) carrying the high-water mark, one row per metric
// recording first sight.
type ClickHouseConfig struct {
	HighWaterMarkTable string
	MetricsTable       string
}

// ClickHouseStore is the ClickHouse-backed Store. It fronts the membership
// check with a best-effort in-memory set keyed by a series hash, so a hot
// metric never pays a round trip to ask "have I seen this before".
type ClickHouseStore struct {
	conn   driver.Conn
	cfg    ClickHouseConfig
	logger *zap.Logger

	seenMu sync.RWMutex
	seen   map[uint64]struct{}
}

// NewClickHouseStore wires an existing native-driver connection into a Store.
func NewClickHouseStore(conn driver.Conn, cfg ClickHouseConfig, logger *zap.Logger) *ClickHouseStore {
	return &ClickHouseStore{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		seen:   make(map[uint64]struct{}),
	}
}

func seriesHash(m metric.Metric) uint64 {
	h := xxhash.New()
	h.WriteString(m.Name)
	_, _ = h.Write([]byte{byte(m.Type)})
	return h.Sum64()
}

func (s *ClickHouseStore) GetLastProcessed(ctx context.Context, m metric.Metric, windowDuration window.Duration) (window.Timestamp, bool, error) {
	row := s.conn.QueryRow(ctx, fmt.Sprintf(
		`SELECT last_processed_ts FROM %s WHERE metric = ? AND metric_type = ? AND window_name = ?`, s.cfg.HighWaterMarkTable),
		m.Name, int8(m.Type), windowDuration.Name,
	)

	var ts int64
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, true, nil
		}
		return 0, false, fmt.Errorf("query high-water mark: %w: %w", errs.Transient, err)
	}
	return window.Timestamp(ts), false, nil
}

func (s *ClickHouseStore) UpdateLastProcessed(ctx context.Context, m metric.Metric, windowDuration window.Duration, ts window.Timestamp) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		`INSERT INTO %s (metric, metric_type, window_name, last_processed_ts)`, s.cfg.HighWaterMarkTable))
	if err != nil {
		return fmt.Errorf("prepare high-water-mark batch: %w: %w", errs.Transient, err)
	}
	if err := batch.Append(m.Name, int8(m.Type), windowDuration.Name, int64(ts)); err != nil {
		return fmt.Errorf("append high-water-mark row: %w: %w", errs.Transient, err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send high-water-mark row: %w: %w", errs.Transient, err)
	}
	return nil
}

func (s *ClickHouseStore) Insert(ctx context.Context, m metric.Metric, mtype metric.Type) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		`INSERT INTO %s (metric, metric_type, series_hash)`, s.cfg.MetricsTable))
	if err != nil {
		return fmt.Errorf("prepare metric-membership batch: %w: %w", errs.Transient, err)
	}
	h := seriesHash(m)
	if err := batch.Append(m.Name, int8(mtype), h); err != nil {
		return fmt.Errorf("append metric-membership row: %w: %w", errs.Transient, err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send metric-membership row: %w: %w", errs.Transient, err)
	}

	s.seenMu.Lock()
	s.seen[h] = struct{}{}
	s.seenMu.Unlock()
	return nil
}

func (s *ClickHouseStore) Contains(ctx context.Context, m metric.Metric) (bool, error) {
	h := seriesHash(m)

	s.seenMu.RLock()
	_, cached := s.seen[h]
	s.seenMu.RUnlock()
	if cached {
		return true, nil
	}

	row := s.conn.QueryRow(ctx, fmt.Sprintf(
		`SELECT count() FROM %s WHERE series_hash = ?`, s.cfg.MetricsTable), h)

	var count uint64
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("query metric membership: %w: %w", errs.Transient, err)
	}
	if count == 0 {
		return false, nil
	}

	s.seenMu.Lock()
	s.seen[h] = struct{}{}
	s.seenMu.Unlock()
	return true, nil
}
