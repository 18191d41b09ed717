package api

import "github.com/prometheus/client_golang/prometheus"

var (
	metricRunsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backtest_runs_started_total",
		Help: "Backtest runs accepted by the API server.",
	})

	metricRunsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_runs_completed_total",
		Help: "Backtest runs by terminal status.",
	}, []string{"status"})

	metricTriggersExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_triggers_executed_total",
		Help: "Triggers processed by a run, split by whether they produced a trade.",
	}, []string{"executed"})

	metricTradesRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_trades_recorded_total",
		Help: "Trade records emitted by a run, split by operation.",
	}, []string{"operation"})

	metricRiskTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_risk_trips_total",
		Help: "Kill-switch trips, split by reason.",
	}, []string{"reason"})

	metricWebsocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backtest_websocket_clients",
		Help: "Currently connected WebSocket clients.",
	})
)

func init() {
	prometheus.MustRegister(
		metricRunsStarted,
		metricRunsCompleted,
		metricTriggersExecuted,
		metricTradesRecorded,
		metricRiskTrips,
		metricWebsocketClients,
	)
}
