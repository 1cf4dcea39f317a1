// Package engine drives the per-cycle trading loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"etf-arb-go/exposure"
	"etf-arb-go/market"
	"etf-arb-go/metrics"
	"etf-arb-go/order"
	"etf-arb-go/strategy"
	"etf-arb-go/tender"
)

const defaultInterval = time.Second

// TickSource reports the venue's tick counter.
type TickSource interface {
	CurrentTick(ctx context.Context) (int, error)
}

// Loop 串联一个周期内的各阶段：行情刷新 → 信号 → tender → 对账。
// 单协程顺序执行，周期之间不重叠，对账完成前绝不进入下一周期。
type Loop struct {
	Ticks      TickSource
	Prices     *market.History
	Strategy   *strategy.Engine
	Tenders    *tender.Handler
	Reconciler *order.Reconciler
	Tracker    *order.Tracker
	Ledger     *exposure.Ledger
	Interval   time.Duration
	Log        *zap.Logger
}

// Run 阻塞运行直到交易所 tick 为 0（闭市）或 ctx 取消。
// 除 desync 不变量破坏外，所有错误都记录后在下一周期继续。
func (l *Loop) Run(ctx context.Context) error {
	if l.Interval <= 0 {
		l.Interval = defaultInterval
	}
	log := l.Log
	if log == nil {
		log = zap.NewNop()
	}

	for {
		tick, err := l.Ticks.CurrentTick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("tick unavailable, skipping cycle", zap.Error(err))
			if err := l.wait(ctx); err != nil {
				return err
			}
			continue
		}
		metrics.CurrentTick.Set(float64(tick))
		if tick == 0 {
			log.Info("market closed, stopping")
			return nil
		}

		if err := l.cycle(ctx, log); err != nil {
			return err
		}

		if err := l.wait(ctx); err != nil {
			return err
		}
	}
}

// cycle 的返回错误仅用于必须中止引擎的场景。
func (l *Loop) cycle(ctx context.Context, log *zap.Logger) error {
	snap, err := l.Prices.Refresh(ctx)
	if err != nil {
		log.Warn("price refresh failed", zap.Error(err))
	}

	if err := l.Strategy.Evaluate(ctx); err != nil {
		if errors.Is(err, order.ErrVenueDesync) {
			return fmt.Errorf("aborting on invariant violation: %w", err)
		}
		log.Error("signal evaluation failed", zap.Error(err))
	}

	if err := l.Tenders.Process(ctx); err != nil {
		log.Warn("tender processing failed", zap.Error(err))
	}

	l.Reconciler.Reconcile(ctx, snap)

	if snapExp, err := l.Ledger.CurrentSnapshot(ctx); err == nil {
		metrics.UpdateExposure(snapExp.Gross, snapExp.Net)
	}
	l.report(log)
	return nil
}

// report 以只读快照输出当前登记订单，供人读活动日志。
func (l *Loop) report(log *zap.Logger) {
	for _, o := range l.Tracker.List() {
		log.Debug("tracked order",
			zap.Int64("order_id", int64(o.ID)),
			zap.String("ticker", o.Ticker),
			zap.String("side", string(o.Side)),
			zap.String("status", string(o.Status)),
			zap.Int("filled", o.Filled),
			zap.Int("quantity", o.Quantity),
			zap.Float64("stop_loss", o.StopLoss))
	}
}

// wait 睡到下一周期；可被关停打断。
func (l *Loop) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(l.Interval):
		return nil
	}
}
