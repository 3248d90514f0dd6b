package artifact

// Persisted run artifact schema. Every decimal is stored as its string
// form so values round-trip exactly; timestamps are Unix microseconds.

// RunRecord is the header row of one engine run.
type RunRecord struct {
	ID            string `gorm:"primaryKey"`
	Mode          string `gorm:"index"`
	ConfigYAML    string
	InitialCash   string
	StartedUnixM  int64
	FinishedUnixM int64
	Status        string `gorm:"index"` // running | finished | stopped | failed
	EventCount    int64
	FillCount     int64
	FinalCash     string
	FinalEquity   string
	MaxDrawdown   string
}

// EventRecord is one ingested market event, in processing order.
type EventRecord struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	RunID   string `gorm:"index"`
	Seq     uint64
	TsUnixM int64
	Symbol  string
	Kind    string

	Price  string
	Size   string
	Bid    string
	Ask    string
	Open   string
	High   string
	Low    string
	Close  string
	Volume string
}

// IntentRecord is one strategy order intent as submitted.
type IntentRecord struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	RunID       string `gorm:"index"`
	TsUnixM     int64
	ClientID    string
	Symbol      string
	Side        string
	Type        string
	Quantity    string
	LimitPrice  string
	StopPrice   string
	TIF         string
	ExpireUnixM int64
}

// TransitionRecord is one order status transition, including rejections.
type TransitionRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	RunID     string `gorm:"index"`
	OrderID   string `gorm:"index"`
	ClientID  string
	TsUnixM   int64
	Status    string
	Remaining string
	Reject    string
}

// FillRecord is one execution. The fill log alone reconstructs cash and
// positions from the initial cash.
type FillRecord struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	RunID    string `gorm:"index"`
	OrderID  string `gorm:"index"`
	Symbol   string
	Side     string
	TsUnixM  int64
	Price    string
	Quantity string
	Fee      string
	Slippage string
}
