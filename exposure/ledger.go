package exposure

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"etf-arb-go/venue"
)

var (
	ErrPositionsUnavailable = errors.New("positions unavailable")
	ErrGrossExceed          = errors.New("gross exposure exceed")
	ErrNetExceed            = errors.New("net exposure exceed")
)

// PositionSource 提供当前持仓快照；由 venue.Client 实现。
type PositionSource interface {
	Positions(ctx context.Context) (map[string]int, error)
}

// Limits 配置，启动时设置；热更新时整体替换。
type Limits struct {
	MaxLong  int // gross exposure cap
	MaxShort int // net exposure cap, symmetric by venue convention
}

// Snapshot 由最新持仓即时计算，从不跨调用缓存。
type Snapshot struct {
	Gross int
	Net   int
}

func snapshotFrom(positions map[string]int) Snapshot {
	var s Snapshot
	for _, qty := range positions {
		if qty < 0 {
			s.Gross -= qty
		} else {
			s.Gross += qty
		}
		s.Net += qty
	}
	return s
}

// Ledger 回答限额校验；每次校验都重新拉取持仓。
// 持仓获取失败时视为越限（fail closed），绝不放行未经校验的交易。
type Ledger struct {
	mu     sync.RWMutex
	limits Limits
	src    PositionSource
	log    *zap.Logger
}

func NewLedger(src PositionSource, limits Limits, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{limits: limits, src: src, log: log}
}

// SetLimits 原子替换限额（配置热更新用，周期之间生效）。
func (l *Ledger) SetLimits(limits Limits) {
	l.mu.Lock()
	l.limits = limits
	l.mu.Unlock()
	l.log.Info("exposure limits updated",
		zap.Int("max_long", limits.MaxLong),
		zap.Int("max_short", limits.MaxShort))
}

// CurrentLimits returns the limits in force.
func (l *Ledger) CurrentLimits() Limits {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limits
}

// CurrentSnapshot 拉取一次新鲜持仓并计算 gross/net。
func (l *Ledger) CurrentSnapshot(ctx context.Context) (Snapshot, error) {
	positions, err := l.src.Positions(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrPositionsUnavailable, err)
	}
	return snapshotFrom(positions), nil
}

// WouldBreachGross 开仓形式：gross + 2*t > MaxLong。
// 系数 2 对应套利交易成对的多空两腿。边界相等不算越限。
func (l *Ledger) WouldBreachGross(ctx context.Context, tradeSize int) (bool, error) {
	snap, err := l.CurrentSnapshot(ctx)
	if err != nil {
		return true, err
	}
	return snap.Gross+2*tradeSize > l.CurrentLimits().MaxLong, nil
}

// WouldBreachGrossSingle 单腿形式：gross + t > MaxLong（止损/平仓场景）。
func (l *Ledger) WouldBreachGrossSingle(ctx context.Context, tradeSize int) (bool, error) {
	snap, err := l.CurrentSnapshot(ctx)
	if err != nil {
		return true, err
	}
	return snap.Gross+tradeSize > l.CurrentLimits().MaxLong, nil
}

// WouldBreachNet 按方向校验净敞口。
func (l *Ledger) WouldBreachNet(ctx context.Context, tradeSize int, side venue.Side) (bool, error) {
	snap, err := l.CurrentSnapshot(ctx)
	if err != nil {
		return true, err
	}
	return l.netBreached(snap, tradeSize, side), nil
}

func (l *Ledger) netBreached(snap Snapshot, tradeSize int, side venue.Side) bool {
	max := l.CurrentLimits().MaxShort
	if side == venue.Sell {
		return snap.Net-tradeSize < -max
	}
	return snap.Net+tradeSize > max
}

// CheckLimits 返回 true 表示动作被阻止；调用方必须记录并放弃该动作，
// 不得擅自缩量。开仓形式的 gross 校验。
func (l *Ledger) CheckLimits(ctx context.Context, tradeSize int, side venue.Side) bool {
	return l.check(ctx, tradeSize, side, false)
}

// CheckLiquidationLimits 同 CheckLimits，但 gross 采用单腿形式。
func (l *Ledger) CheckLiquidationLimits(ctx context.Context, tradeSize int, side venue.Side) bool {
	return l.check(ctx, tradeSize, side, true)
}

func (l *Ledger) check(ctx context.Context, tradeSize int, side venue.Side, singleLeg bool) bool {
	snap, err := l.CurrentSnapshot(ctx)
	if err != nil {
		l.log.Warn("limit check failed closed",
			zap.Int("trade_size", tradeSize),
			zap.String("side", string(side)),
			zap.Error(err))
		return true
	}
	limits := l.CurrentLimits()
	added := 2 * tradeSize
	if singleLeg {
		added = tradeSize
	}
	if snap.Gross+added > limits.MaxLong {
		l.log.Warn("blocked: would exceed gross limit",
			zap.Int("gross", snap.Gross),
			zap.Int("trade_size", tradeSize),
			zap.Int("max_long", limits.MaxLong),
			zap.String("side", string(side)))
		return true
	}
	if l.netBreached(snap, tradeSize, side) {
		l.log.Warn("blocked: would exceed net limit",
			zap.Int("net", snap.Net),
			zap.Int("trade_size", tradeSize),
			zap.Int("max_short", limits.MaxShort),
			zap.String("side", string(side)))
		return true
	}
	return false
}

// CheckOpen 校验一笔成对开仓（两腿、两个方向都会变化）：
// gross 开仓形式加上双向净敞口校验。
func (l *Ledger) CheckOpen(ctx context.Context, tradeSize int) bool {
	snap, err := l.CurrentSnapshot(ctx)
	if err != nil {
		l.log.Warn("open check failed closed", zap.Int("trade_size", tradeSize), zap.Error(err))
		return true
	}
	limits := l.CurrentLimits()
	if snap.Gross+2*tradeSize > limits.MaxLong {
		l.log.Warn("blocked: open would exceed gross limit",
			zap.Int("gross", snap.Gross),
			zap.Int("trade_size", tradeSize),
			zap.Int("max_long", limits.MaxLong))
		return true
	}
	if snap.Net-tradeSize < -limits.MaxShort || snap.Net+tradeSize > limits.MaxShort {
		l.log.Warn("blocked: open would exceed net limit",
			zap.Int("net", snap.Net),
			zap.Int("trade_size", tradeSize),
			zap.Int("max_short", limits.MaxShort))
		return true
	}
	return false
}
