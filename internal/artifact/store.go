// Package artifact persists the run artifact: the ingested events, the
// strategy's intents, every order transition and every fill of one engine
// run. The artifact is append-only during the run and sufficient to
// reproduce the run's final state without re-executing the strategy.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"quantsim/internal/domain"
)

// Store is the SQLite-backed run artifact.
type Store struct {
	db *gorm.DB
}

// Open creates or opens the artifact database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	// Pure Go SQLite driver.
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact database: %w", err)
	}

	if err := db.AutoMigrate(
		&RunRecord{}, &EventRecord{}, &IntentRecord{}, &TransitionRecord{}, &FillRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate artifact schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Run lifecycle
// ======================================================================================

// BeginRun opens a new run header and returns its ID.
func (s *Store) BeginRun(mode, configYAML string, initialCash decimal.Decimal, startedUnixM int64) (string, error) {
	run := RunRecord{
		ID:           uuid.NewString(),
		Mode:         mode,
		ConfigYAML:   configYAML,
		InitialCash:  initialCash.String(),
		StartedUnixM: startedUnixM,
		Status:       "running",
	}
	if err := s.db.Create(&run).Error; err != nil {
		return "", fmt.Errorf("failed to create run record: %w", err)
	}
	return run.ID, nil
}

// RunSummary closes out a run header.
type RunSummary struct {
	FinishedUnixM int64
	Status        string
	EventCount    int64
	FillCount     int64
	FinalCash     decimal.Decimal
	FinalEquity   decimal.Decimal
	MaxDrawdown   decimal.Decimal
}

// FinishRun records the run outcome.
func (s *Store) FinishRun(runID string, sum RunSummary) error {
	return s.db.Model(&RunRecord{}).Where("id = ?", runID).Updates(map[string]any{
		"finished_unix_m": sum.FinishedUnixM,
		"status":          sum.Status,
		"event_count":     sum.EventCount,
		"fill_count":      sum.FillCount,
		"final_cash":      sum.FinalCash.String(),
		"final_equity":    sum.FinalEquity.String(),
		"max_drawdown":    sum.MaxDrawdown.String(),
	}).Error
}

// Run loads a run header.
func (s *Store) Run(runID string) (*RunRecord, error) {
	var run RunRecord
	if err := s.db.First(&run, "id = ?", runID).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// ======================================================================================
// Append path (write-ahead: events are persisted before they are processed)
// ======================================================================================

// AppendEvent persists one ingested event.
func (s *Store) AppendEvent(runID string, ev domain.MarketEvent) error {
	rec := EventRecord{
		RunID:   runID,
		Seq:     ev.Seq,
		TsUnixM: ev.TsUnixM,
		Symbol:  ev.Symbol,
		Kind:    ev.Kind.String(),
		Price:   ev.Price.String(),
		Size:    ev.Size.String(),
		Bid:     ev.Bid.String(),
		Ask:     ev.Ask.String(),
		Open:    ev.Open.String(),
		High:    ev.High.String(),
		Low:     ev.Low.String(),
		Close:   ev.Close.String(),
		Volume:  ev.Volume.String(),
	}
	return s.db.Create(&rec).Error
}

// AppendIntent persists one strategy intent at submission time.
func (s *Store) AppendIntent(runID string, tsUnixM int64, intent domain.OrderIntent) error {
	rec := IntentRecord{
		RunID:       runID,
		TsUnixM:     tsUnixM,
		ClientID:    intent.ClientID,
		Symbol:      intent.Symbol,
		Side:        intent.Side.String(),
		Type:        intent.Type.String(),
		Quantity:    intent.Quantity.String(),
		LimitPrice:  intent.LimitPrice.String(),
		StopPrice:   intent.StopPrice.String(),
		TIF:         intent.TIF.String(),
		ExpireUnixM: intent.ExpireUnixM,
	}
	return s.db.Create(&rec).Error
}

// AppendReport persists an execution report: the transition always, the
// fill when present.
func (s *Store) AppendReport(runID string, r domain.ExecReport) error {
	trans := TransitionRecord{
		RunID:     runID,
		OrderID:   r.Order.ID,
		ClientID:  r.Order.ClientID,
		TsUnixM:   r.Order.UpdatedUnixM,
		Status:    r.Order.Status.String(),
		Remaining: r.Order.Remaining.String(),
		Reject:    r.Reject.String(),
	}
	if err := s.db.Create(&trans).Error; err != nil {
		return err
	}

	if r.Fill == nil {
		return nil
	}
	f := r.Fill
	rec := FillRecord{
		RunID:    runID,
		OrderID:  f.OrderID,
		Symbol:   f.Symbol,
		Side:     f.Side.String(),
		TsUnixM:  f.TsUnixM,
		Price:    f.Price.String(),
		Quantity: f.Quantity.String(),
		Fee:      f.Fee.String(),
		Slippage: f.Slippage.String(),
	}
	return s.db.Create(&rec).Error
}

// ======================================================================================
// Read path
// ======================================================================================

// Events returns a run's events in processing order.
func (s *Store) Events(runID string) ([]domain.MarketEvent, error) {
	var recs []EventRecord
	if err := s.db.Where("run_id = ?", runID).Order("id asc").Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]domain.MarketEvent, 0, len(recs))
	for _, rec := range recs {
		ev, err := decodeEvent(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Fills returns a run's fills in execution order.
func (s *Store) Fills(runID string) ([]domain.Fill, error) {
	var recs []FillRecord
	if err := s.db.Where("run_id = ?", runID).Order("id asc").Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]domain.Fill, 0, len(recs))
	for _, rec := range recs {
		f, err := decodeFill(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func decodeEvent(rec EventRecord) (domain.MarketEvent, error) {
	fields := [...]string{rec.Price, rec.Size, rec.Bid, rec.Ask, rec.Open, rec.High, rec.Low, rec.Close, rec.Volume}
	vals := make([]decimal.Decimal, len(fields))
	for i, s := range fields {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return domain.MarketEvent{}, fmt.Errorf("corrupt event record %d: %w", rec.ID, err)
		}
		vals[i] = v
	}

	var kind domain.EventKind
	switch rec.Kind {
	case "QUOTE":
		kind = domain.KindQuote
	case "TRADE":
		kind = domain.KindTrade
	case "BAR":
		kind = domain.KindBar
	default:
		return domain.MarketEvent{}, fmt.Errorf("corrupt event record %d: kind %q", rec.ID, rec.Kind)
	}

	return domain.MarketEvent{
		Seq: rec.Seq, TsUnixM: rec.TsUnixM, Symbol: rec.Symbol, Kind: kind,
		Price: vals[0], Size: vals[1], Bid: vals[2], Ask: vals[3],
		Open: vals[4], High: vals[5], Low: vals[6], Close: vals[7], Volume: vals[8],
	}, nil
}

func decodeFill(rec FillRecord) (domain.Fill, error) {
	price, err := decimal.NewFromString(rec.Price)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("corrupt fill record %d: %w", rec.ID, err)
	}
	qty, err := decimal.NewFromString(rec.Quantity)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("corrupt fill record %d: %w", rec.ID, err)
	}
	fee, err := decimal.NewFromString(rec.Fee)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("corrupt fill record %d: %w", rec.ID, err)
	}
	slip, err := decimal.NewFromString(rec.Slippage)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("corrupt fill record %d: %w", rec.ID, err)
	}

	var side domain.Side
	switch rec.Side {
	case "BUY":
		side = domain.SideBuy
	case "SELL":
		side = domain.SideSell
	default:
		return domain.Fill{}, fmt.Errorf("corrupt fill record %d: side %q", rec.ID, rec.Side)
	}

	return domain.Fill{
		OrderID: rec.OrderID, Symbol: rec.Symbol, Side: side, TsUnixM: rec.TsUnixM,
		Price: price, Quantity: qty, Fee: fee, Slippage: slip,
	}, nil
}
