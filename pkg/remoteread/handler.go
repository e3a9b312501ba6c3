// Package remoteread exposes persisted summary tables through the
// Prometheus remote-read protocol, the way a Prometheus-compatible query
// bridge exposes raw metrics tables. Every query selects the
// (metric, timestamp, mean, p50, count) columns, which only the
// StatisticSummary (timer) tables carry in full.
package remoteread

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/prometheus/prompb"
	"github.com/prometheus/prometheus/storage/remote"
	"go.uber.org/zap"
)

// WindowTable names the summary table backing one configured window
// duration, selected by query range the way a tiered metrics store picks
// between metrics_raw/metrics_1m/metrics_5m/metrics_1h.
type WindowTable struct {
	WindowName string
	MinRange   time.Duration
	Table      string
}

// Handler serves Prometheus remote-read queries against the derived
// summary tables.
type Handler struct {
	db     *sql.DB
	logger *zap.Logger
	tables []WindowTable // ascending by MinRange; the coarsest table covering the query's range wins
}

// Config carries the handler's connection and table settings.
type Config struct {
	ClickHouseAddr string
	Database       string
	Username       string
	Password       string
	Tables         []WindowTable
}

// NewHandler opens a database/sql connection to ClickHouse for ad-hoc
// queries, separate from the native-driver connection used for writes.
func NewHandler(cfg *Config, logger *zap.Logger) (*Handler, error) {
	dsn := fmt.Sprintf("clickhouse://%s:%s@%s/%s", cfg.Username, cfg.Password, cfg.ClickHouseAddr, cfg.Database)

	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	return &Handler{db: db, logger: logger, tables: cfg.Tables}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := remote.DecodeReadRequest(r)
	if err != nil {
		h.logger.Error("failed to decode request", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.handleReadRequest(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to handle read request", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-protobuf")
	w.Header().Set("Content-Encoding", "snappy")
	if err := remote.EncodeReadResponse(resp, w); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

func (h *Handler) handleReadRequest(ctx context.Context, req *prompb.ReadRequest) (*prompb.ReadResponse, error) {
	resp := &prompb.ReadResponse{Results: make([]*prompb.QueryResult, 0, len(req.Queries))}
	for _, query := range req.Queries {
		result, err := h.executeQuery(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("query execution failed: %w", err)
		}
		resp.Results = append(resp.Results, result)
	}
	return resp, nil
}

func (h *Handler) executeQuery(ctx context.Context, query *prompb.Query) (*prompb.QueryResult, error) {
	startMs, endMs := query.StartTimestampMs, query.EndTimestampMs
	table := h.selectTable(startMs, endMs)

	sqlQuery, params := h.buildQuery(query, table, startMs, endMs)

	rows, err := h.db.QueryContext(ctx, sqlQuery, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	timeseriesMap := make(map[string]*prompb.TimeSeries)
	for rows.Next() {
		var (
			metricName string
			timestamp  time.Time
			mean       *float64
			p50        *float64
			count      *int64
		)
		if err := rows.Scan(&metricName, &timestamp, &mean, &p50, &count); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		labels := []prompb.Label{{Name: "__name__", Value: metricName}}
		seriesKey := metricName
		ts, exists := timeseriesMap[seriesKey]
		if !exists {
			ts = &prompb.TimeSeries{Labels: labels}
			timeseriesMap[seriesKey] = ts
		}

		var value float64
		switch {
		case p50 != nil:
			value = *p50
		case mean != nil:
			value = *mean
		case count != nil:
			value = float64(*count)
		}

		ts.Samples = append(ts.Samples, prompb.Sample{Value: value, Timestamp: timestamp.UnixMilli()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	timeseries := make([]*prompb.TimeSeries, 0, len(timeseriesMap))
	for _, ts := range timeseriesMap {
		timeseries = append(timeseries, ts)
	}
	return &prompb.QueryResult{Timeseries: timeseries}, nil
}

func (h *Handler) buildQuery(query *prompb.Query, table string, startMs, endMs int64) (string, []interface{}) {
	var conditions []string
	var params []interface{}

	if startMs > 0 {
		conditions = append(conditions, "timestamp >= ?")
		params = append(params, time.UnixMilli(startMs))
	}
	if endMs > 0 {
		conditions = append(conditions, "timestamp <= ?")
		params = append(params, time.UnixMilli(endMs))
	}

	for _, matcher := range query.Matchers {
		if matcher.Name != "__name__" {
			continue
		}
		switch matcher.Type {
		case prompb.LabelMatcher_EQ:
			conditions = append(conditions, "metric = ?")
			params = append(params, matcher.Value)
		case prompb.LabelMatcher_NEQ:
			conditions = append(conditions, "metric != ?")
			params = append(params, matcher.Value)
		case prompb.LabelMatcher_RE:
			conditions = append(conditions, "match(metric, ?)")
			params = append(params, matcher.Value)
		case prompb.LabelMatcher_NRE:
			conditions = append(conditions, "NOT match(metric, ?)")
			params = append(params, matcher.Value)
		}
	}

	where := "1 = 1"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}

	sqlQuery := fmt.Sprintf(`
		SELECT metric, timestamp, mean, p50, count
		FROM %s
		WHERE %s
		ORDER BY metric, timestamp
		LIMIT 100000
	`, table, where)
	return sqlQuery, params
}

// selectTable picks the coarsest configured window table whose MinRange
// does not exceed the query's span, escalating to coarser window tables as
// the requested range widens; a span shorter than every MinRange gets the
// first (finest) table.
func (h *Handler) selectTable(startMs, endMs int64) string {
	span := time.Duration(endMs-startMs) * time.Millisecond
	chosen := ""
	for _, t := range h.tables {
		if span >= t.MinRange {
			chosen = t.Table
		}
	}
	if chosen == "" && len(h.tables) > 0 {
		chosen = h.tables[0].Table
	}
	return chosen
}

func (h *Handler) Close() error {
	return h.db.Close()
}
