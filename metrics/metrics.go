// Package metrics exposes Prometheus instrumentation for the trading agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CurrentTick 交易所当前 tick；0 表示闭市。
	CurrentTick = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arb_current_tick",
		Help: "Venue tick counter, 0 means market closed",
	})

	GrossExposure = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arb_gross_exposure",
		Help: "Sum of absolute position sizes across instruments",
	})

	NetExposure = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arb_net_exposure",
		Help: "Signed sum of position sizes across instruments",
	})

	TrackedOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arb_tracked_orders",
		Help: "Orders currently registered in the tracker",
	})

	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_orders_placed_total",
		Help: "Successful order placements",
	}, []string{"type", "side"})

	OrderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_order_failures_total",
		Help: "Order placements that ultimately failed",
	}, []string{"reason"})

	RateLimitRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_rate_limit_retries_total",
		Help: "Backoff sleeps caused by venue rate limiting",
	})

	Liquidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_liquidations_total",
		Help: "Stop-loss liquidation outcomes",
	}, []string{"outcome"})

	TendersProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_tenders_total",
		Help: "Tender decisions",
	}, []string{"decision"})

	ReconcileCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_reconcile_cycles_total",
		Help: "Completed reconciliation passes",
	})
)

// UpdateExposure 每周期由引擎刷新敞口指标。
func UpdateExposure(gross, net int) {
	GrossExposure.Set(float64(gross))
	NetExposure.Set(float64(net))
}

// StartMetricsServer 启动 Prometheus 指标服务器。
func StartMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
