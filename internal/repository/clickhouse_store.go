package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"Trape/internal/domain/models"
	domrepo "Trape/internal/domain/repository"
	pkgch "Trape/pkg/clickhouse"
	applogger "Trape/pkg/logger"
)

// ClickHouseStore persists recommendations, statistics snapshots and current
// prices, and reads statistics and prices back for the monitoring API.
type ClickHouseStore struct {
	db       *sql.DB
	database string
	metrics  domrepo.Metrics
	l        *applogger.Logger
}

var (
	_ domrepo.RecommendationStore = (*ClickHouseStore)(nil)
	_ domrepo.TrendStore          = (*ClickHouseStore)(nil)
	_ domrepo.PriceStore          = (*ClickHouseStore)(nil)
	_ domrepo.StatsWriter         = (*ClickHouseStore)(nil)
)

func NewClickHouseStore(ch *pkgch.Client, database string, metrics domrepo.Metrics, l *applogger.Logger) *ClickHouseStore {
	return &ClickHouseStore{
		db:       ch.DB(),
		database: database,
		metrics:  metrics,
		l:        l.With(applogger.String("component", "clickhouse_store")),
	}
}

func (s *ClickHouseStore) table(name string) string {
	if s.database == "" {
		return name
	}
	return s.database + "." + name
}

func statsTable(res models.Resolution) (string, error) {
	if res.Index() < 0 {
		return "", fmt.Errorf("unsupported resolution: %s", res)
	}
	return "stats_" + string(res), nil
}

// statsColumns names the slope and moving-average columns of one resolution,
// slopes first, e.g. slope_5s ... movav_30s.
func statsColumns(res models.Resolution) []string {
	subs := res.SubIntervals()
	cols := make([]string, 0, 2*len(subs))
	for _, sub := range subs {
		cols = append(cols, "slope_"+sub.Label)
	}
	for _, sub := range subs {
		cols = append(cols, "movav_"+sub.Label)
	}
	return cols
}

// recommendationColumns lists every column of the recommendations table in
// insert order.
func recommendationColumns() []string {
	cols := []string{"symbol", "decision", "price", "created_at"}
	for _, res := range models.Resolutions {
		cols = append(cols, statsColumns(res)...)
	}
	return cols
}

func recommendationArgs(rec models.Recommendation, snap models.SymbolSnapshot) []any {
	args := make([]any, 0, 4+len(models.Resolutions)*2*models.SubIntervalsPerWindow)
	args = append(args, rec.Symbol, rec.DecisionLabel(), rec.Price, rec.CreatedAt)
	for _, w := range snap.Windows {
		for _, v := range w.Slopes {
			args = append(args, v)
		}
		for _, v := range w.MovingAverages {
			args = append(args, v)
		}
	}
	return args
}

func placeholders(n int) string {
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

func (s *ClickHouseStore) InsertRecommendation(ctx context.Context, rec models.Recommendation, snap models.SymbolSnapshot) error {
	start := time.Now()
	cols := recommendationColumns()
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.table("recommendations"), strings.Join(cols, ", "), placeholders(len(cols)))
	if _, err := s.db.ExecContext(ctx, q, recommendationArgs(rec, snap)...); err != nil {
		s.metrics.RecordError("clickhouse_insert")
		return fmt.Errorf("insert recommendation: %w", err)
	}
	s.metrics.RecordLatency("clickhouse_insert_recommendation", time.Since(start).Seconds())
	return nil
}

// WriteStats inserts one row per window, chunked to keep statements bounded.
func (s *ClickHouseStore) WriteStats(ctx context.Context, res models.Resolution, windows []models.StatsWindow) error {
	if len(windows) == 0 {
		return nil
	}
	name, err := statsTable(res)
	if err != nil {
		return err
	}
	cols := append([]string{"symbol", "data_basis", "newest"}, statsColumns(res)...)
	cols = append(cols, "recorded_at")
	row := placeholders(len(cols))
	now := time.Now().UTC()

	const chunkSize = 2000
	for start := 0; start < len(windows); start += chunkSize {
		end := min(start+chunkSize, len(windows))
		values := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*len(cols))
		for _, w := range windows[start:end] {
			if w.Symbol == "" {
				continue
			}
			values = append(values, row)
			args = append(args, w.Symbol, w.DataBasis, w.Newest)
			for _, v := range w.Slopes {
				args = append(args, v)
			}
			for _, v := range w.MovingAverages {
				args = append(args, v)
			}
			args = append(args, now)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.table(name), strings.Join(cols, ", "), strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.metrics.RecordError("clickhouse_insert")
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

func (s *ClickHouseStore) WritePrices(ctx context.Context, prices []models.CurrentPrice) error {
	if len(prices) == 0 {
		return nil
	}
	now := time.Now().UTC()
	row := placeholders(6)
	values := make([]string, 0, len(prices))
	args := make([]any, 0, len(prices)*6)
	for _, p := range prices {
		values = append(values, row)
		args = append(args, p.Symbol, p.Ask, p.Bid, p.AskTime, p.BidTime, now)
	}
	q := fmt.Sprintf("INSERT INTO %s (symbol, ask, bid, ask_time, bid_time, recorded_at) VALUES %s",
		s.table("current_prices"), strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		s.metrics.RecordError("clickhouse_insert")
		return fmt.Errorf("write current prices: %w", err)
	}
	return nil
}

// trendScan holds one stats row as read from ClickHouse, every column nullable.
type trendScan struct {
	Symbol     sql.NullString
	DataBasis  sql.NullInt64
	Newest     sql.NullTime
	Slopes     [models.SubIntervalsPerWindow]sql.NullFloat64
	Averages   [models.SubIntervalsPerWindow]sql.NullFloat64
	RecordedAt sql.NullTime
}

func (t *trendScan) dest() []any {
	out := []any{&t.Symbol, &t.DataBasis, &t.Newest}
	for i := range t.Slopes {
		out = append(out, &t.Slopes[i])
	}
	for i := range t.Averages {
		out = append(out, &t.Averages[i])
	}
	return append(out, &t.RecordedAt)
}

// row converts the scan into a TrendRow; ok is false when any column is NULL.
func (t trendScan) row(res models.Resolution) (domrepo.TrendRow, bool) {
	if !t.Symbol.Valid || !t.DataBasis.Valid || !t.Newest.Valid || !t.RecordedAt.Valid {
		return domrepo.TrendRow{}, false
	}
	w := models.StatsWindow{
		Symbol:     t.Symbol.String,
		Resolution: res,
		DataBasis:  int(t.DataBasis.Int64),
		Newest:     t.Newest.Time,
	}
	for i := range t.Slopes {
		if !t.Slopes[i].Valid || !t.Averages[i].Valid {
			return domrepo.TrendRow{}, false
		}
		w.Slopes[i] = t.Slopes[i].Float64
		w.MovingAverages[i] = t.Averages[i].Float64
	}
	return domrepo.TrendRow{Window: w, RecordedAt: t.RecordedAt.Time}, true
}

// FetchTrend returns the latest persisted window per symbol. Rows holding a
// NULL are skipped and counted as data-quality errors.
func (s *ClickHouseStore) FetchTrend(ctx context.Context, res models.Resolution) ([]domrepo.TrendRow, error) {
	start := time.Now()
	name, err := statsTable(res)
	if err != nil {
		return nil, models.NewError(models.KindValidation, "store.fetch_trend", err)
	}
	cols := append([]string{"symbol", "data_basis", "newest"}, statsColumns(res)...)
	cols = append(cols, "recorded_at")
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY recorded_at DESC LIMIT 1 BY symbol", strings.Join(cols, ", "), s.table(name))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		s.l.Error("clickhouse fetch_trend query error", applogger.String("table", name), applogger.Error(err))
		return nil, fmt.Errorf("fetch trend: %w", err)
	}
	defer rows.Close()

	out := make([]domrepo.TrendRow, 0, 64)
	skipped := 0
	for rows.Next() {
		var scan trendScan
		if err := rows.Scan(scan.dest()...); err != nil {
			return nil, fmt.Errorf("scan trend: %w", err)
		}
		row, ok := scan.row(res)
		if !ok {
			skipped++
			s.metrics.RecordError(string(models.KindDataQuality))
			continue
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if skipped > 0 {
		s.l.Warn("skipped incomplete trend rows", applogger.String("table", name), applogger.Int("skipped", skipped))
	}
	s.l.Debug("clickhouse fetch_trend ok",
		applogger.String("table", name),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func (s *ClickHouseStore) CurrentPrice(ctx context.Context, symbol string) (models.CurrentPrice, error) {
	q := fmt.Sprintf("SELECT symbol, ask, bid, ask_time, bid_time FROM %s WHERE symbol = ? ORDER BY recorded_at DESC LIMIT 1",
		s.table("current_prices"))
	var p models.CurrentPrice
	err := s.db.QueryRowContext(ctx, q, symbol).Scan(&p.Symbol, &p.Ask, &p.Bid, &p.AskTime, &p.BidTime)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CurrentPrice{}, models.ErrSymbolNotFound
	}
	if err != nil {
		return models.CurrentPrice{}, fmt.Errorf("current price %s: %w", symbol, err)
	}
	return p, nil
}

func (s *ClickHouseStore) CurrentPrices(ctx context.Context) ([]models.CurrentPrice, error) {
	q := fmt.Sprintf(`
        SELECT symbol,
               argMax(ask, recorded_at),
               argMax(bid, recorded_at),
               argMax(ask_time, recorded_at),
               argMax(bid_time, recorded_at)
        FROM %s
        GROUP BY symbol
        ORDER BY symbol`, s.table("current_prices"))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("current prices: %w", err)
	}
	defer rows.Close()

	var out []models.CurrentPrice
	for rows.Next() {
		var p models.CurrentPrice
		if err := rows.Scan(&p.Symbol, &p.Ask, &p.Bid, &p.AskTime, &p.BidTime); err != nil {
			return nil, fmt.Errorf("scan current price: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SchemaStatements returns the idempotent DDL for every table this store uses.
func SchemaStatements(database string) []string {
	qualify := func(name string) string {
		if database == "" {
			return name
		}
		return database + "." + name
	}
	floatCols := func(cols []string) string {
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = c + " Nullable(Float64)"
		}
		return strings.Join(parts, ",\n    ")
	}

	var stmts []string
	if database != "" {
		stmts = append(stmts, "CREATE DATABASE IF NOT EXISTS "+database)
	}
	var recCols []string
	for _, res := range models.Resolutions {
		recCols = append(recCols, statsColumns(res)...)
	}
	stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    symbol LowCardinality(String),
    decision String,
    price Float64,
    created_at DateTime64(3, 'UTC'),
    %s
) ENGINE = MergeTree
ORDER BY (symbol, created_at)`, qualify("recommendations"), floatCols(recCols)))

	for _, res := range models.Resolutions {
		name, _ := statsTable(res)
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    symbol Nullable(String),
    data_basis Nullable(Int64),
    newest Nullable(DateTime64(3, 'UTC')),
    %s,
    recorded_at DateTime64(3, 'UTC')
) ENGINE = MergeTree
ORDER BY recorded_at
TTL toDateTime(recorded_at) + INTERVAL 7 DAY`, qualify(name), floatCols(statsColumns(res))))
	}

	stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    symbol LowCardinality(String),
    ask Float64,
    bid Float64,
    ask_time DateTime64(3, 'UTC'),
    bid_time DateTime64(3, 'UTC'),
    recorded_at DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(recorded_at)
ORDER BY symbol`, qualify("current_prices")))
	return stmts
}
