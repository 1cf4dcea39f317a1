package order

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"etf-arb-go/market"
	"etf-arb-go/metrics"
	"etf-arb-go/venue"
)

const defaultCancelAttempts = 3

// OrderCanceler 撤单；由 venue.Client 实现。
type OrderCanceler interface {
	CancelOrder(ctx context.Context, id venue.OrderID) error
}

// Flattener 以市价单平掉剩余敞口；由 Submitter 实现。
type Flattener interface {
	PlaceMarket(ctx context.Context, side venue.Side, ticker string, quantity int) ([]venue.OrderID, error)
}

// LiquidationGuard 止损平仓前的限额复查；由 exposure.Ledger 实现。
type LiquidationGuard interface {
	CheckLiquidationLimits(ctx context.Context, tradeSize int, side venue.Side) bool
}

// Reconciler 每周期将本地登记的订单与交易所权威状态对账：
// 刷新成交进度、清理已完结订单、评估止损并在触发时平仓。
type Reconciler struct {
	tracker   *Tracker
	fetcher   OrderFetcher
	canceler  OrderCanceler
	flattener Flattener
	guard     LiquidationGuard
	log       *zap.Logger

	cancelAttempts int

	mu            sync.Mutex
	cycles        int64
	liquidations  int64
	lastReconcile time.Time
}

// ReconcilerConfig 对账参数；零值使用默认。
type ReconcilerConfig struct {
	CancelAttempts int
}

func NewReconciler(tracker *Tracker, fetcher OrderFetcher, canceler OrderCanceler, flattener Flattener, guard LiquidationGuard, cfg ReconcilerConfig, log *zap.Logger) *Reconciler {
	if cfg.CancelAttempts <= 0 {
		cfg.CancelAttempts = defaultCancelAttempts
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		tracker:        tracker,
		fetcher:        fetcher,
		canceler:       canceler,
		flattener:      flattener,
		guard:          guard,
		cancelAttempts: cfg.CancelAttempts,
		log:            log,
	}
}

// Reconcile 对每个登记订单执行一轮对账。交易所状态为准：
// 本周期取不到状态的订单跳过保留；完全成交或不再 OPEN 的订单移除；
// 其余评估止损，触发则尝试平仓，失败保留下周期重试。
func (r *Reconciler) Reconcile(ctx context.Context, snap market.Snapshot) {
	r.mu.Lock()
	r.cycles++
	r.lastReconcile = time.Now()
	r.mu.Unlock()
	metrics.ReconcileCycles.Inc()

	for _, local := range r.tracker.List() {
		remote, err := r.fetcher.FetchOrder(ctx, local.ID)
		if err != nil {
			r.log.Warn("order state unavailable, keeping for next cycle",
				zap.Int64("order_id", int64(local.ID)),
				zap.String("ticker", local.Ticker),
				zap.Error(err))
			continue
		}

		merged, ok := r.tracker.refresh(local.ID, remote)
		if !ok {
			continue
		}
		if merged.PendingFlatten {
			// 撤单已成，只剩把敞口甩出去；成功前不放手。
			if r.guard.CheckLiquidationLimits(ctx, merged.Outstanding(), merged.Side) {
				metrics.Liquidations.WithLabelValues("blocked").Inc()
				continue
			}
			if r.flattenOutstanding(ctx, merged) {
				r.tracker.Remove(merged.ID)
			}
			continue
		}
		if merged.Filled >= merged.Quantity || !merged.Status.IsOpen() {
			r.tracker.Remove(merged.ID)
			r.log.Info("order left tracker",
				zap.Int64("order_id", int64(merged.ID)),
				zap.String("ticker", merged.Ticker),
				zap.String("status", string(merged.Status)),
				zap.Int("filled", merged.Filled),
				zap.Int("quantity", merged.Quantity))
			continue
		}

		quote, ok := snap.Quote(merged.Ticker)
		if !ok {
			r.log.Debug("no market data, skipping stop-loss check",
				zap.Int64("order_id", int64(merged.ID)),
				zap.String("ticker", merged.Ticker))
			continue
		}
		if !merged.Triggered(quote.Bid, quote.Ask) {
			continue
		}
		if r.liquidate(ctx, merged, quote) {
			r.tracker.Remove(merged.ID)
		}
	}
	metrics.TrackedOrders.Set(float64(r.tracker.Len()))
}

// liquidate 执行止损平仓状态机：限额复查 → 有界撤单 → 市价平剩余量。
// 返回 true 表示订单可以从登记表移除。
func (r *Reconciler) liquidate(ctx context.Context, o TrackedOrder, quote market.Quote) bool {
	size := o.Outstanding()
	if r.guard.CheckLiquidationLimits(ctx, size, o.Side) {
		metrics.Liquidations.WithLabelValues("blocked").Inc()
		r.log.Warn("stop loss reached but limits block liquidation, retrying next cycle",
			zap.Int64("order_id", int64(o.ID)),
			zap.String("ticker", o.Ticker),
			zap.Int("outstanding", size),
			zap.Float64("stop_loss", o.StopLoss))
		return false
	}

	r.log.Info("stop loss triggered, liquidating",
		zap.Int64("order_id", int64(o.ID)),
		zap.String("ticker", o.Ticker),
		zap.String("side", string(o.Side)),
		zap.Int("outstanding", size),
		zap.Float64("stop_loss", o.StopLoss),
		zap.Float64("bid", quote.Bid),
		zap.Float64("ask", quote.Ask))

	cancelled := false
	for attempt := 1; attempt <= r.cancelAttempts; attempt++ {
		if err := r.canceler.CancelOrder(ctx, o.ID); err == nil {
			cancelled = true
			break
		} else {
			remoteState := "unavailable"
			if remote, ferr := r.fetcher.FetchOrder(ctx, o.ID); ferr == nil {
				remoteState = string(remote.Status)
			}
			r.log.Warn("cancel failed",
				zap.Int64("order_id", int64(o.ID)),
				zap.Int("attempt", attempt),
				zap.String("remote_status", remoteState),
				zap.Error(err))
		}
	}
	if !cancelled {
		metrics.Liquidations.WithLabelValues("abandoned").Inc()
		r.log.Error("cancel attempts exhausted, abandoning liquidation this cycle",
			zap.Int64("order_id", int64(o.ID)),
			zap.String("ticker", o.Ticker),
			zap.Int("attempts", r.cancelAttempts))
		return false
	}

	if !r.flattenOutstanding(ctx, o) {
		// 撤单已成但敞口还在：标记后下周期继续甩，不从登记表放走。
		r.tracker.markPendingFlatten(o.ID)
		return false
	}
	return true
}

// flattenOutstanding 以市价单平掉剩余量；返回 true 表示敞口已交给市场。
func (r *Reconciler) flattenOutstanding(ctx context.Context, o TrackedOrder) bool {
	size := o.Outstanding()
	if size == 0 {
		return true
	}
	if _, err := r.flattener.PlaceMarket(ctx, o.Side, o.Ticker, size); err != nil {
		metrics.Liquidations.WithLabelValues("flatten_failed").Inc()
		r.log.Error("flattening market order failed, retrying next cycle",
			zap.Int64("order_id", int64(o.ID)),
			zap.String("ticker", o.Ticker),
			zap.Int("outstanding", size),
			zap.Error(err))
		return false
	}
	r.mu.Lock()
	r.liquidations++
	r.mu.Unlock()
	metrics.Liquidations.WithLabelValues("done").Inc()
	r.log.Info("liquidation complete",
		zap.Int64("order_id", int64(o.ID)),
		zap.String("ticker", o.Ticker),
		zap.Int("flattened", size))
	return true
}

// Stats 对账统计信息。
type Stats struct {
	Cycles        int64
	Liquidations  int64
	LastReconcile time.Time
}

func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Cycles: r.cycles, Liquidations: r.liquidations, LastReconcile: r.lastReconcile}
}
