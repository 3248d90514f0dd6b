// Package clickhouse reads historical candles from a ClickHouse table and
// exposes them as a lazy bar feed. The table is the data collaborator:
// two reads of the same range must return the same rows in the same
// order, which the ORDER BY below pins down.
package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	"quantsim/internal/domain"
	"quantsim/internal/feed"
)

// Config locates the candle table.
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// Feed streams one symbol's bars for a time range, ordered by open time.
type Feed struct {
	conn   driver.Conn
	rows   driver.Rows
	symbol string
	lastTs int64
}

// Open connects and issues the range query. StartMs/EndMs are Unix
// milliseconds, matching the candle table's open_time_ms column.
func Open(ctx context.Context, cfg Config, symbol string, startMs, endMs int64) (*Feed, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{Database: cfg.Database, Username: cfg.Username, Password: cfg.Password},
	})
	if err != nil {
		return nil, &domain.CollaboratorFailure{Collaborator: "feed", Err: err, Retriable: true}
	}

	query := fmt.Sprintf(`
		SELECT open_time_ms, open, high, low, close, volume
		FROM %s
		WHERE symbol = ? AND open_time_ms >= ? AND open_time_ms < ?
		ORDER BY open_time_ms ASC`, cfg.Table)

	rows, err := conn.Query(ctx, query, symbol, startMs, endMs)
	if err != nil {
		conn.Close()
		return nil, &domain.CollaboratorFailure{Collaborator: "feed", Err: err, Retriable: true}
	}

	return &Feed{conn: conn, rows: rows, symbol: symbol}, nil
}

// Next scans one candle row into a BAR event.
func (f *Feed) Next(_ context.Context) (domain.MarketEvent, error) {
	if !f.rows.Next() {
		if err := f.rows.Err(); err != nil {
			return domain.MarketEvent{}, &domain.CollaboratorFailure{Collaborator: "feed", Err: err, Retriable: false}
		}
		return domain.MarketEvent{}, feed.ErrEndOfStream
	}

	var (
		openTimeMs                      uint64
		open, high, low, closep, volume float64
	)
	if err := f.rows.Scan(&openTimeMs, &open, &high, &low, &closep, &volume); err != nil {
		return domain.MarketEvent{}, &domain.CollaboratorFailure{Collaborator: "feed", Err: err, Retriable: false}
	}

	ts := int64(openTimeMs) * 1000 // ms -> us
	if ts < f.lastTs {
		return domain.MarketEvent{}, &domain.DataOrderingError{TsUnixM: ts, WatermarkUnixM: f.lastTs}
	}
	f.lastTs = ts

	return domain.BarEvent(ts, f.symbol,
		decimal.NewFromFloat(open),
		decimal.NewFromFloat(high),
		decimal.NewFromFloat(low),
		decimal.NewFromFloat(closep),
		decimal.NewFromFloat(volume),
	), nil
}

// Close releases the query and connection.
func (f *Feed) Close() error {
	f.rows.Close()
	return f.conn.Close()
}
