package strategy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Bucket maps a half-open upper bound to a value. Tables of buckets are evaluated in
// ascending order and the first bucket whose bound is above the input wins.
type Bucket struct {
	Below float64 `yaml:"below"`
	Value float64 `yaml:"value"`
}

// TakeProfitRule downgrades the take-profit target when a position held at least
// AfterHours never gained MinMaxUp within the observation window.
type TakeProfitRule struct {
	AfterHours float64 `yaml:"after_hours"`
	Window     Window  `yaml:"window"`
	MinMaxUp   float64 `yaml:"min_max_up"`
	Target     float64 `yaml:"target"`
}

// Window names the rolling maximum a rule inspects.
type Window string

const (
	Window12h Window = "12h"
	Window24h Window = "24h"
)

// Params holds every tunable of the surge strategy.
type Params struct {
	Leverage          int     `yaml:"leverage"`
	PositionSizeRatio float64 `yaml:"position_size_ratio"`
	MaxPositions      int     `yaml:"max_positions"`
	MarginMode        string  `yaml:"margin_mode"`
	DryRunBalance     float64 `yaml:"dry_run_balance"`

	SurgeLow            float64  `yaml:"surge_low"`
	SurgeHigh           float64  `yaml:"surge_high"`
	CandleInterval      string   `yaml:"candle_interval"`
	CandleLimit         int      `yaml:"candle_limit"`
	MinCandles          int      `yaml:"min_candles"`
	AverageWindow       int      `yaml:"average_window"`
	PullbackTable       []Bucket `yaml:"pullback_table"`
	WaitTimeoutHours    float64  `yaml:"wait_timeout_hours"`
	ScanTriggerMinute   int      `yaml:"scan_trigger_minute"`
	SymbolPattern       string   `yaml:"symbol_pattern"`
	SymbolStatus        string   `yaml:"symbol_status"`
	ScanPauseEvery      int      `yaml:"scan_pause_every"`
	ScanPauseDurationMS int      `yaml:"scan_pause_ms"`

	// EnableTraderFilter drops surges whose top-trader long/short account ratio is
	// known and below MinAccountRatio.
	EnableTraderFilter bool    `yaml:"enable_trader_filter"`
	MinAccountRatio    float64 `yaml:"min_account_ratio"`
	TraderRatioPeriod  string  `yaml:"trader_ratio_period"`

	TakeProfitPct     float64          `yaml:"take_profit_pct"`
	TakeProfitRules   []TakeProfitRule `yaml:"take_profit_rules"`
	StopLossPct       float64          `yaml:"stop_loss_pct"`
	EnableVirtualAdd  bool             `yaml:"enable_virtual_add"`
	AddTriggerPct     float64          `yaml:"add_trigger_pct"`
	MaxHoldHours      float64          `yaml:"max_hold_hours"`
	EnableWeakExit    bool             `yaml:"enable_weak_exit"`
	WeakExitAfterHrs  float64          `yaml:"weak_exit_after_hours"`
	WeakExitThreshold float64          `yaml:"weak_exit_threshold"`
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		Leverage:          4,
		PositionSizeRatio: 0.06,
		MaxPositions:      6,
		MarginMode:        "ISOLATED",
		DryRunBalance:     10000,

		SurgeLow:       2.2,
		SurgeHigh:      3.0,
		CandleInterval: "1h",
		CandleLimit:    48,
		MinCandles:     25,
		AverageWindow:  24,
		PullbackTable: []Bucket{
			{Below: 3, Value: -0.07},
			{Below: 5, Value: -0.04},
			{Below: 10, Value: -0.03},
			{Below: 9999, Value: -0.01},
		},
		WaitTimeoutHours:    37,
		ScanTriggerMinute:   2,
		SymbolPattern:       "USDT$",
		SymbolStatus:        "TRADING",
		ScanPauseEvery:      100,
		ScanPauseDurationMS: 1000,

		EnableTraderFilter: false,
		MinAccountRatio:    0.70,
		TraderRatioPeriod:  "1h",

		TakeProfitPct: 0.33,
		TakeProfitRules: []TakeProfitRule{
			{AfterHours: 12, Window: Window12h, MinMaxUp: 0.025, Target: 0.20},
			{AfterHours: 24, Window: Window24h, MinMaxUp: 0.05, Target: 0.11},
		},
		StopLossPct:       -0.18,
		EnableVirtualAdd:  true,
		AddTriggerPct:     -0.18,
		MaxHoldHours:      72,
		EnableWeakExit:    true,
		WeakExitAfterHrs:  24,
		WeakExitThreshold: 0.08,
	}
}

// LoadParams reads a YAML file on top of DefaultParams. An empty path returns the defaults.
func LoadParams(path string) (Params, error) {
	params := DefaultParams()
	if path == "" {
		return params, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return params, fmt.Errorf("read strategy file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &params); err != nil {
		return params, fmt.Errorf("parse strategy file %s: %w", path, err)
	}
	if err := params.Validate(); err != nil {
		return params, err
	}
	return params, nil
}

// Validate rejects parameter sets the engine cannot run with.
func (p Params) Validate() error {
	switch {
	case p.Leverage <= 0:
		return fmt.Errorf("leverage must be positive, got %d", p.Leverage)
	case p.PositionSizeRatio <= 0 || p.PositionSizeRatio > 1:
		return fmt.Errorf("position_size_ratio must be in (0,1], got %v", p.PositionSizeRatio)
	case p.MaxPositions <= 0:
		return fmt.Errorf("max_positions must be positive, got %d", p.MaxPositions)
	case p.MarginMode != "ISOLATED" && p.MarginMode != "CROSSED":
		return fmt.Errorf("margin_mode must be ISOLATED or CROSSED, got %q", p.MarginMode)
	case p.SurgeLow > p.SurgeHigh:
		return fmt.Errorf("surge_low %v above surge_high %v", p.SurgeLow, p.SurgeHigh)
	case p.AverageWindow <= 0 || p.MinCandles < p.AverageWindow+1:
		return fmt.Errorf("min_candles %d must cover average_window %d plus the closed candle", p.MinCandles, p.AverageWindow)
	case len(p.PullbackTable) == 0:
		return fmt.Errorf("pullback_table is empty")
	case p.ScanTriggerMinute < 0 || p.ScanTriggerMinute > 59:
		return fmt.Errorf("scan_trigger_minute out of range: %d", p.ScanTriggerMinute)
	case p.EnableTraderFilter && (p.MinAccountRatio <= 0 || p.TraderRatioPeriod == ""):
		return fmt.Errorf("trader filter needs a positive min_account_ratio and a period, got %v %q", p.MinAccountRatio, p.TraderRatioPeriod)
	}
	for i := 1; i < len(p.PullbackTable); i++ {
		if p.PullbackTable[i].Below <= p.PullbackTable[i-1].Below {
			return fmt.Errorf("pullback_table bounds must ascend at index %d", i)
		}
	}
	for _, r := range p.TakeProfitRules {
		if r.Window != Window12h && r.Window != Window24h {
			return fmt.Errorf("take_profit_rules window must be 12h or 24h, got %q", r.Window)
		}
	}
	return nil
}

// PassesTraderFilter reports whether a long/short account ratio lets a surge through.
// Unknown ratios (zero or negative) always pass.
func (p Params) PassesTraderFilter(ratio float64) bool {
	if !p.EnableTraderFilter || ratio <= 0 {
		return true
	}
	return ratio >= p.MinAccountRatio
}

// WaitTimeout is the lifetime of a pending signal.
func (p Params) WaitTimeout() time.Duration {
	return time.Duration(p.WaitTimeoutHours * float64(time.Hour))
}

// ScanPause is the pause inserted every ScanPauseEvery symbols during a scan.
func (p Params) ScanPause() time.Duration {
	return time.Duration(p.ScanPauseDurationMS) * time.Millisecond
}
