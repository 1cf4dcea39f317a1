package market

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// DefaultWindow bounds every rolling mid-price series.
const DefaultWindow = 500

// BookSource 提供最优买卖价与汇率；由 venue.Client 实现。
type BookSource interface {
	BestBidAsk(ctx context.Context, ticker string) (bid, ask float64, ok bool, err error)
	ExchangeRate(ctx context.Context) (float64, error)
}

// History 维护每个证券的滚动中间价序列以及合成篮子价格。
// 只有引擎主循环写入；其余组件通过快照或 Latest* 读取。
type History struct {
	src    BookSource
	stocks []string
	etfs   []string
	window int
	log    *zap.Logger

	mu        sync.RWMutex
	series    map[string][]float64
	basket    []float64 // sum of constituent mids
	basketUSD []float64 // basket converted by the CAD/USD rate
}

func NewHistory(src BookSource, stocks, etfs []string, window int, log *zap.Logger) *History {
	if window <= 0 {
		window = DefaultWindow
	}
	if log == nil {
		log = zap.NewNop()
	}
	series := make(map[string][]float64, len(stocks)+len(etfs))
	for _, t := range append(append([]string{}, stocks...), etfs...) {
		series[t] = make([]float64, 0, window)
	}
	return &History{
		src:    src,
		stocks: append([]string{}, stocks...),
		etfs:   append([]string{}, etfs...),
		window: window,
		log:    log,
		series: series,
	}
}

// IsETF reports whether ticker belongs to the ETF class.
func (h *History) IsETF(ticker string) bool {
	for _, t := range h.etfs {
		if t == ticker {
			return true
		}
	}
	return false
}

// Refresh 为每个证券拉取最优买卖价、记录中间价，并返回本周期的快照。
// 单边空簿的证券本周期跳过（记录日志，不视为致命）。
func (h *History) Refresh(ctx context.Context) (Snapshot, error) {
	quotes := make(map[string]Quote, len(h.series))
	for ticker := range h.series {
		bid, ask, ok, err := h.src.BestBidAsk(ctx, ticker)
		if err != nil {
			h.log.Warn("book fetch failed, skipping ticker this cycle",
				zap.String("ticker", ticker), zap.Error(err))
			continue
		}
		if !ok {
			h.log.Debug("book empty on one side, skipping ticker this cycle",
				zap.String("ticker", ticker))
			continue
		}
		quotes[ticker] = Quote{Bid: bid, Ask: ask}
	}

	h.mu.Lock()
	for ticker, q := range quotes {
		h.series[ticker] = trim(append(h.series[ticker], q.Mid()), h.window)
	}
	basket, basketOK := h.basketLocked()
	if basketOK {
		h.basket = trim(append(h.basket, basket), h.window)
	}
	h.mu.Unlock()

	if basketOK {
		rate, err := h.src.ExchangeRate(ctx)
		if err != nil || rate <= 0 {
			h.log.Warn("exchange rate unavailable, skipping USD basket", zap.Error(err))
		} else {
			h.mu.Lock()
			h.basketUSD = trim(append(h.basketUSD, basket/rate), h.window)
			h.mu.Unlock()
		}
	}

	return NewSnapshot(quotes), nil
}

// basketLocked sums the latest constituent mids; ok is false unless every
// constituent has at least one observation.
func (h *History) basketLocked() (float64, bool) {
	var sum float64
	for _, ticker := range h.stocks {
		s := h.series[ticker]
		if len(s) == 0 {
			return 0, false
		}
		sum += s[len(s)-1]
	}
	return sum, true
}

// LatestMid returns the most recent mid price for ticker.
func (h *History) LatestMid(ticker string) (float64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.series[ticker]
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1], true
}

// BasketPrice returns the latest synthetic basket value.
func (h *History) BasketPrice() (float64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.basket) == 0 {
		return 0, false
	}
	return h.basket[len(h.basket)-1], true
}

// BasketPriceUSD returns the latest currency-converted basket value.
func (h *History) BasketPriceUSD() (float64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.basketUSD) == 0 {
		return 0, false
	}
	return h.basketUSD[len(h.basketUSD)-1], true
}

func trim(s []float64, window int) []float64 {
	if len(s) > window {
		copy(s, s[len(s)-window:])
		s = s[:window]
	}
	return s
}
