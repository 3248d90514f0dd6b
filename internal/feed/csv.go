package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/shopspring/decimal"

	"quantsim/internal/domain"
)

// CSVFeed lazily reads bar events from a flat file with the header
//
//	ts,symbol,open,high,low,close,volume
//
// where ts is Unix microseconds. Rows must already be sorted by ts, the
// same contract the data collaborator owes any historical source.
type CSVFeed struct {
	f      *os.File
	r      *csv.Reader
	lastTs int64
}

// OpenCSV opens a bar file and consumes its header line.
func OpenCSV(path string) (*CSVFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv feed: %w", err)
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = 7
	r.ReuseRecord = true

	if _, err := r.Read(); err != nil {
		f.Close()
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	return &CSVFeed{f: f, r: r}, nil
}

// Next parses the next row into a BAR event or returns ErrEndOfStream.
func (c *CSVFeed) Next(_ context.Context) (domain.MarketEvent, error) {
	rec, err := c.r.Read()
	if err == io.EOF {
		return domain.MarketEvent{}, ErrEndOfStream
	}
	if err != nil {
		return domain.MarketEvent{}, fmt.Errorf("read csv row: %w", err)
	}

	ts, err := strconv.ParseInt(rec[0], 10, 64)
	if err != nil {
		return domain.MarketEvent{}, fmt.Errorf("bad ts %q: %w", rec[0], err)
	}
	if ts < c.lastTs {
		return domain.MarketEvent{}, &domain.DataOrderingError{TsUnixM: ts, WatermarkUnixM: c.lastTs}
	}
	c.lastTs = ts

	fields := make([]decimal.Decimal, 5)
	for i, raw := range rec[2:7] {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.MarketEvent{}, fmt.Errorf("bad decimal %q: %w", raw, err)
		}
		fields[i] = v
	}

	return domain.BarEvent(ts, rec[1], fields[0], fields[1], fields[2], fields[3], fields[4]), nil
}

// Close releases the underlying file.
func (c *CSVFeed) Close() error { return c.f.Close() }
