package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"etf-arb-go/venue"
)

var (
	// ErrConfirmTimeout 表示确认轮询超时；比无限等待更可诊断。
	ErrConfirmTimeout = errors.New("order confirmation timed out")
	// ErrVenueDesync 表示交易所回报的订单与本地请求不一致，
	// 属于致命的不变量破坏，调用方必须中止而不是带错跑。
	ErrVenueDesync = errors.New("venue order mismatches request")
)

const (
	defaultConfirmInterval = 100 * time.Millisecond
	defaultConfirmTimeout  = 5 * time.Second
)

// OrderFetcher 拉取订单的交易所侧状态；由 venue.Client 实现。
type OrderFetcher interface {
	FetchOrder(ctx context.Context, id venue.OrderID) (venue.Order, error)
}

// Tracker 独占 identifier→TrackedOrder 的映射；其他组件不得直接改写。
// 所有写入都来自引擎单一循环线程，锁只是为了保护报告用的只读快照。
type Tracker struct {
	fetcher         OrderFetcher
	confirmInterval time.Duration
	confirmTimeout  time.Duration
	log             *zap.Logger

	mu     sync.RWMutex
	orders map[venue.OrderID]*TrackedOrder
}

// TrackerConfig 注册确认轮询参数；零值使用默认。
type TrackerConfig struct {
	ConfirmInterval time.Duration
	ConfirmTimeout  time.Duration
}

func NewTracker(fetcher OrderFetcher, cfg TrackerConfig, log *zap.Logger) *Tracker {
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = defaultConfirmInterval
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		fetcher:         fetcher,
		confirmInterval: cfg.ConfirmInterval,
		confirmTimeout:  cfg.ConfirmTimeout,
		log:             log,
	}
}

// Register 阻塞直到交易所确认订单存在且 instrument/side 与请求一致，
// 然后连同本地止损价登记。轮询有硬超时，超时返回 ErrConfirmTimeout。
func (t *Tracker) Register(ctx context.Context, id venue.OrderID, ticker string, side venue.Side, stopLoss float64) (TrackedOrder, error) {
	confirmed, err := t.awaitConfirmation(ctx, id)
	if err != nil {
		return TrackedOrder{}, err
	}
	if confirmed.Ticker != ticker || confirmed.Side != side {
		return TrackedOrder{}, fmt.Errorf("%w: order %d reported %s %s, requested %s %s",
			ErrVenueDesync, id, confirmed.Side, confirmed.Ticker, side, ticker)
	}

	tracked := TrackedOrder{Order: confirmed, StopLoss: stopLoss}
	t.mu.Lock()
	if t.orders == nil {
		t.orders = make(map[venue.OrderID]*TrackedOrder)
	}
	stored := tracked
	t.orders[id] = &stored
	t.mu.Unlock()

	t.log.Info("order registered",
		zap.Int64("order_id", int64(id)),
		zap.String("ticker", ticker),
		zap.String("side", string(side)),
		zap.Int("quantity", confirmed.Quantity),
		zap.Float64("stop_loss", stopLoss))
	return tracked, nil
}

func (t *Tracker) awaitConfirmation(ctx context.Context, id venue.OrderID) (venue.Order, error) {
	deadline := time.Now().Add(t.confirmTimeout)
	for {
		o, err := t.fetcher.FetchOrder(ctx, id)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, venue.ErrOrderNotFound) {
			return venue.Order{}, fmt.Errorf("confirm order %d: %w", id, err)
		}
		if time.Now().After(deadline) {
			return venue.Order{}, fmt.Errorf("%w: order %d after %s", ErrConfirmTimeout, id, t.confirmTimeout)
		}
		t.log.Debug("order not visible yet, retrying", zap.Int64("order_id", int64(id)))
		select {
		case <-ctx.Done():
			return venue.Order{}, ctx.Err()
		case <-time.After(t.confirmInterval):
		}
	}
}

// refresh 用交易所状态覆盖 venue-owned 字段，保留本地止损价。
func (t *Tracker) refresh(id venue.OrderID, remote venue.Order) (TrackedOrder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	existing, ok := t.orders[id]
	if !ok {
		return TrackedOrder{}, false
	}
	existing.Order = remote
	return *existing, true
}

// markPendingFlatten 记下该订单已撤但剩余敞口尚未平掉。
func (t *Tracker) markPendingFlatten(id venue.OrderID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if o, ok := t.orders[id]; ok {
		o.PendingFlatten = true
	}
}

// Remove 从登记表中删除一个订单。
func (t *Tracker) Remove(id venue.OrderID) {
	t.mu.Lock()
	delete(t.orders, id)
	t.mu.Unlock()
}

// List 返回当前登记订单的拷贝快照，供报告使用。
func (t *Tracker) List() []TrackedOrder {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TrackedOrder, 0, len(t.orders))
	for _, o := range t.orders {
		out = append(out, *o)
	}
	return out
}

// Len 返回登记订单数量。
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.orders)
}
