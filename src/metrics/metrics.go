// Package metrics exposes the engine's Prometheus series:
//
//	surgetrader_scans_total                   completed market scans
//	surgetrader_scan_symbols_total{result}    scanned symbols by outcome (signal|skip|error)
//	surgetrader_signals_total{event}          signal lifecycle (created|refreshed|triggered|expired)
//	surgetrader_exits_total{reason}           closed positions by exit reason
//	surgetrader_orders_total{mode,side}       entry and exit orders (mode: paper|live)
//	surgetrader_order_failures_total{op}      rejected exchange operations
//	surgetrader_phase_failures_total{phase}   phases that returned an error or panicked
//	surgetrader_commands_total{action,result} drained operator commands
//	surgetrader_open_positions                open positions gauge
//	surgetrader_pending_signals               pending signals gauge
//	surgetrader_balance_usdt                  last known balance
//	surgetrader_last_heartbeat_seconds        unix time of the last completed tick
//
// Series are registered in init() and served by the dashboard at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	scans = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "surgetrader_scans_total",
			Help: "Completed market scans",
		},
	)

	scanSymbols = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surgetrader_scan_symbols_total",
			Help: "Scanned symbols by outcome",
		},
		[]string{"result"},
	)

	signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surgetrader_signals_total",
			Help: "Pending signal lifecycle events",
		},
		[]string{"event"},
	)

	exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surgetrader_exits_total",
			Help: "Closed positions by exit reason",
		},
		[]string{"reason"},
	)

	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surgetrader_orders_total",
			Help: "Orders placed",
		},
		[]string{"mode", "side"},
	)

	orderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surgetrader_order_failures_total",
			Help: "Rejected exchange operations",
		},
		[]string{"op"},
	)

	phaseFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surgetrader_phase_failures_total",
			Help: "Engine phases that failed or panicked",
		},
		[]string{"phase"},
	)

	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surgetrader_commands_total",
			Help: "Drained operator commands by result",
		},
		[]string{"action", "result"},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "surgetrader_open_positions",
			Help: "Open positions",
		},
	)

	pendingSignals = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "surgetrader_pending_signals",
			Help: "Pending signals waiting for a pullback",
		},
	)

	balance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "surgetrader_balance_usdt",
			Help: "Last known available balance",
		},
	)

	lastHeartbeat = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "surgetrader_last_heartbeat_seconds",
			Help: "Unix time of the last completed engine tick",
		},
	)
)

func init() {
	prometheus.MustRegister(scans, scanSymbols, signals, exits)
	prometheus.MustRegister(orders, orderFailures, phaseFailures, commands)
	prometheus.MustRegister(openPositions, pendingSignals, balance, lastHeartbeat)
}

func IncScan()                      { scans.Inc() }
func IncScanSymbol(result string)   { scanSymbols.WithLabelValues(result).Inc() }
func IncSignal(event string)        { signals.WithLabelValues(event).Inc() }
func IncExit(reason string)         { exits.WithLabelValues(reason).Inc() }
func IncOrderFailure(op string)     { orderFailures.WithLabelValues(op).Inc() }
func IncPhaseFailure(phase string)  { phaseFailures.WithLabelValues(phase).Inc() }
func IncCommand(action, res string) { commands.WithLabelValues(action, res).Inc() }

func IncOrder(dryRun bool, side string) {
	mode := "live"
	if dryRun {
		mode = "paper"
	}
	orders.WithLabelValues(mode, side).Inc()
}

// SetState refreshes the gauges from the committed engine state.
func SetState(positions, signals int, bal float64, heartbeatUnix int64) {
	openPositions.Set(float64(positions))
	pendingSignals.Set(float64(signals))
	balance.Set(bal)
	lastHeartbeat.Set(float64(heartbeatUnix))
}
