package infra

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every knob of a run. Loaded from yaml, then sensitive
// values are overridden from environment variables. Models built from it
// are passed explicitly into the simulator's construction, never read
// from ambient global state, so runs stay reproducible in isolation.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Run struct {
		Mode               string          `yaml:"mode"` // backtest | paper | live
		InitialCash        decimal.Decimal `yaml:"initial_cash"`
		Symbols            []string        `yaml:"symbols"`
		TimeInForceDefault string          `yaml:"time_in_force_default"`
		LateEventWindowMS  int             `yaml:"late_event_window_ms"`
	} `yaml:"run"`

	Feed struct {
		Source  string `yaml:"source"` // memory | csv | clickhouse | websocket
		CSVPath string `yaml:"csv_path"`

		ClickHouse struct {
			Addr     string `yaml:"addr"`
			Database string `yaml:"database"`
			Username string `yaml:"username"`
			Password string `yaml:"password"`
			Table    string `yaml:"table"`
			StartMs  int64  `yaml:"start_ms"`
			EndMs    int64  `yaml:"end_ms"`
		} `yaml:"clickhouse"`

		Websocket struct {
			URL string `yaml:"url"`
		} `yaml:"websocket"`
	} `yaml:"feed"`

	Execution struct {
		SlippageModel   string          `yaml:"slippage_model"` // none | linear | sqrt
		SlippageCoeff   decimal.Decimal `yaml:"slippage_coeff"`
		FeeModel        string          `yaml:"fee_model"` // flat | proportional
		FeeFlat         decimal.Decimal `yaml:"fee_flat"`
		FeeRate         decimal.Decimal `yaml:"fee_rate"`
		MaxFillFraction decimal.Decimal `yaml:"max_fill_fraction"`
		MarketRemainder string          `yaml:"market_remainder"` // reject | rest
		AllowShort      bool            `yaml:"allow_short"`

		Impact struct {
			Enabled       bool            `yaml:"enabled"`
			Coeff         decimal.Decimal `yaml:"coeff"`
			DecayWindowMS int             `yaml:"decay_window_ms"`
		} `yaml:"impact"`
	} `yaml:"execution"`

	Strategy struct {
		Name        string          `yaml:"name"`
		Symbol      string          `yaml:"symbol"`
		ShortPeriod int             `yaml:"short_period"`
		LongPeriod  int             `yaml:"long_period"`
		OrderQty    decimal.Decimal `yaml:"order_qty"`
	} `yaml:"strategy"`

	Artifact struct {
		Path string `yaml:"path"`
	} `yaml:"artifact"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the config file, applies env overrides and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch c.Run.Mode {
	case "backtest", "paper", "live":
	default:
		return fmt.Errorf("invalid mode: %q", c.Run.Mode)
	}

	if c.Run.InitialCash.Sign() <= 0 {
		return fmt.Errorf("initial_cash must be positive")
	}
	if len(c.Run.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.Run.LateEventWindowMS < 0 {
		return fmt.Errorf("late_event_window_ms must be non-negative")
	}
	switch c.Run.TimeInForceDefault {
	case "", "GTC", "gtc", "IOC", "ioc", "GTD", "gtd":
	default:
		return fmt.Errorf("invalid time_in_force_default: %q", c.Run.TimeInForceDefault)
	}

	switch c.Feed.Source {
	case "memory":
	case "csv":
		if c.Feed.CSVPath == "" {
			return fmt.Errorf("csv feed requires csv_path")
		}
	case "clickhouse":
		if c.Feed.ClickHouse.Addr == "" || c.Feed.ClickHouse.Table == "" {
			return fmt.Errorf("clickhouse feed requires addr and table")
		}
	case "websocket":
		if !hasPrefix(c.Feed.Websocket.URL, "ws://") && !hasPrefix(c.Feed.Websocket.URL, "wss://") {
			return fmt.Errorf("invalid websocket URL: %s", c.Feed.Websocket.URL)
		}
	default:
		return fmt.Errorf("invalid feed source: %q", c.Feed.Source)
	}

	switch c.Execution.SlippageModel {
	case "", "none", "linear", "sqrt":
	default:
		return fmt.Errorf("invalid slippage_model: %q", c.Execution.SlippageModel)
	}
	switch c.Execution.FeeModel {
	case "", "flat", "proportional":
	default:
		return fmt.Errorf("invalid fee_model: %q", c.Execution.FeeModel)
	}

	one := decimal.NewFromInt(1)
	if c.Execution.MaxFillFraction.Sign() <= 0 || c.Execution.MaxFillFraction.GreaterThan(one) {
		return fmt.Errorf("max_fill_fraction must be in (0,1]")
	}
	switch c.Execution.MarketRemainder {
	case "", "reject", "rest":
	default:
		return fmt.Errorf("invalid market_remainder: %q", c.Execution.MarketRemainder)
	}
	if c.Execution.Impact.Enabled && c.Execution.Impact.DecayWindowMS <= 0 {
		return fmt.Errorf("impact decay_window_ms must be positive when impact is enabled")
	}

	if c.Run.Mode != "backtest" && c.Feed.Source != "websocket" {
		return fmt.Errorf("%s mode requires a websocket feed", c.Run.Mode)
	}

	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv overrides sensitive values from the environment.
func overrideWithEnv(cfg *Config) {
	if pass := os.Getenv("QUANTSIM_CLICKHOUSE_PASSWORD"); pass != "" {
		cfg.Feed.ClickHouse.Password = pass
	}
	if url := os.Getenv("QUANTSIM_WS_URL"); url != "" {
		cfg.Feed.Websocket.URL = url
	}
	if path := os.Getenv("QUANTSIM_ARTIFACT_PATH"); path != "" {
		cfg.Artifact.Path = path
	}
}
