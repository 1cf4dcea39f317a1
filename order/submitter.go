package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"etf-arb-go/metrics"
	"etf-arb-go/venue"
)

// ErrRetriesExhausted 表示限流重试次数用尽后放弃。
var ErrRetriesExhausted = errors.New("order retries exhausted")

const (
	// DefaultStockOrderCap 股票单笔最大下单量。
	DefaultStockOrderCap = 5_000
	// DefaultETFOrderCap ETF/甩卖流程单笔最大下单量。
	DefaultETFOrderCap = 10_000

	defaultMaxAttempts = 3
	defaultRetryWait   = 10 * time.Millisecond
)

// OrderPlacer 下发订单；由 venue.Client 实现。
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, kind venue.Kind, side venue.Side, ticker string, quantity int, price float64) (venue.OrderID, error)
}

// RetryPolicy 显式的有界重试策略：次数上限加可注入的 sleep，
// 测试时替换 Sleep 即可伪造时钟。
type RetryPolicy struct {
	MaxAttempts int
	DefaultWait time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.DefaultWait <= 0 {
		p.DefaultWait = defaultRetryWait
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Submitter 负责市价/限价单的下发：市价单带限流重试与拆单，
// 限价单单次尝试（成对腿对冲对时间敏感，重试会扭曲对冲）。
type Submitter struct {
	placer OrderPlacer
	retry  RetryPolicy
	isETF  func(ticker string) bool

	stockCap int
	etfCap   int
	log      *zap.Logger
}

// SubmitterConfig 下单参数；零值使用默认。
type SubmitterConfig struct {
	Retry    RetryPolicy
	StockCap int
	ETFCap   int
}

func NewSubmitter(placer OrderPlacer, isETF func(string) bool, cfg SubmitterConfig, log *zap.Logger) *Submitter {
	if cfg.StockCap <= 0 {
		cfg.StockCap = DefaultStockOrderCap
	}
	if cfg.ETFCap <= 0 {
		cfg.ETFCap = DefaultETFOrderCap
	}
	if isETF == nil {
		isETF = func(string) bool { return false }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Submitter{
		placer:   placer,
		retry:    cfg.Retry.withDefaults(),
		isETF:    isETF,
		stockCap: cfg.StockCap,
		etfCap:   cfg.ETFCap,
		log:      log,
	}
}

func (s *Submitter) chunkCap(ticker string) int {
	if s.isETF(ticker) {
		return s.etfCap
	}
	return s.stockCap
}

// PlaceMarket 提交一笔市价单，超过单笔上限时拆块独立下发。
// 每块独立重试；某一块失败不回滚之前已成功的块，
// 返回已成功的订单号与该块的错误。
func (s *Submitter) PlaceMarket(ctx context.Context, side venue.Side, ticker string, quantity int) ([]venue.OrderID, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %d", quantity)
	}
	cap := s.chunkCap(ticker)
	var ids []venue.OrderID
	remaining := quantity
	for remaining > 0 {
		chunk := remaining
		if chunk > cap {
			chunk = cap
		}
		id, err := s.placeMarketChunk(ctx, side, ticker, chunk)
		if err != nil {
			return ids, fmt.Errorf("market %s %s chunk %d of %d: %w", side, ticker, chunk, quantity, err)
		}
		ids = append(ids, id)
		remaining -= chunk
	}
	return ids, nil
}

func (s *Submitter) placeMarketChunk(ctx context.Context, side venue.Side, ticker string, quantity int) (venue.OrderID, error) {
	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		id, err := s.placer.PlaceOrder(ctx, venue.Market, side, ticker, quantity, 0)
		if err == nil {
			metrics.OrdersPlaced.WithLabelValues("MARKET", string(side)).Inc()
			s.log.Info("market order placed",
				zap.String("ticker", ticker),
				zap.String("side", string(side)),
				zap.Int("quantity", quantity),
				zap.Int64("order_id", int64(id)))
			return id, nil
		}
		rl, isRateLimit := venue.AsRateLimit(err)
		if !isRateLimit {
			// 非限流错误对本次调用是终态，不重试。
			metrics.OrderFailures.WithLabelValues("rejected").Inc()
			s.log.Error("market order failed",
				zap.String("ticker", ticker),
				zap.String("side", string(side)),
				zap.Int("quantity", quantity),
				zap.Error(err))
			return 0, err
		}
		wait := rl.Wait
		if wait <= 0 {
			wait = s.retry.DefaultWait
		}
		metrics.RateLimitRetries.Inc()
		s.log.Warn("rate limited, backing off",
			zap.String("ticker", ticker),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait))
		if attempt == s.retry.MaxAttempts {
			break
		}
		if err := s.retry.Sleep(ctx, wait); err != nil {
			return 0, err
		}
	}
	metrics.OrderFailures.WithLabelValues("retries_exhausted").Inc()
	s.log.Error("market order abandoned after retries",
		zap.String("ticker", ticker),
		zap.String("side", string(side)),
		zap.Int("quantity", quantity),
		zap.Int("attempts", s.retry.MaxAttempts))
	return 0, fmt.Errorf("%w: %s %s x%d", ErrRetriesExhausted, side, ticker, quantity)
}

// PlaceLimit 提交一笔限价单；刻意不做限流重试。
func (s *Submitter) PlaceLimit(ctx context.Context, side venue.Side, ticker string, price float64, quantity int) (venue.OrderID, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("invalid quantity %d", quantity)
	}
	id, err := s.placer.PlaceOrder(ctx, venue.Limit, side, ticker, quantity, price)
	if err != nil {
		metrics.OrderFailures.WithLabelValues("limit_rejected").Inc()
		s.log.Error("limit order failed",
			zap.String("ticker", ticker),
			zap.String("side", string(side)),
			zap.Float64("price", price),
			zap.Int("quantity", quantity),
			zap.Error(err))
		return 0, err
	}
	metrics.OrdersPlaced.WithLabelValues("LIMIT", string(side)).Inc()
	s.log.Info("limit order placed",
		zap.String("ticker", ticker),
		zap.String("side", string(side)),
		zap.Float64("price", price),
		zap.Int("quantity", quantity),
		zap.Int64("order_id", int64(id)))
	return id, nil
}
