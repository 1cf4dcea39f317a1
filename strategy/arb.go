// Package strategy implements the ETF-versus-basket arbitrage signal and
// the paired-leg open it drives.
package strategy

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"etf-arb-go/exposure"
	"etf-arb-go/market"
	"etf-arb-go/order"
	"etf-arb-go/stoploss"
	"etf-arb-go/venue"
)

// Config parametrizes the signal.
type Config struct {
	ETF       string   // the ETF leg
	Stocks    []string // constituent legs
	Threshold float64  // premium magnitude that opens a trade
	TradeSize int      // shares per leg
	Window    int      // rolling premium window for the equilibrium mean
}

const (
	defaultThreshold = 0.2
	defaultTradeSize = 1_000
)

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = defaultThreshold
	}
	if c.TradeSize <= 0 {
		c.TradeSize = defaultTradeSize
	}
	if c.Window <= 0 {
		c.Window = market.DefaultWindow
	}
	return c
}

// Engine evaluates the basket premium once per cycle and opens a paired
// trade when it exceeds the threshold. It owns its premium window
// explicitly; nothing here reaches into shared rolling state.
type Engine struct {
	cfg     Config
	prices  *market.History
	ledger  *exposure.Ledger
	sub     *order.Submitter
	tracker *order.Tracker
	calc    stoploss.Calculator
	log     *zap.Logger

	premiums []float64
}

func NewEngine(cfg Config, prices *market.History, ledger *exposure.Ledger, sub *order.Submitter, tracker *order.Tracker, calc stoploss.Calculator, log *zap.Logger) (*Engine, error) {
	cfg = cfg.withDefaults()
	if cfg.ETF == "" || len(cfg.Stocks) == 0 {
		return nil, fmt.Errorf("strategy requires an ETF and its constituents")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		prices:   prices,
		ledger:   ledger,
		sub:      sub,
		tracker:  tracker,
		calc:     calc,
		log:      log,
		premiums: make([]float64, 0, cfg.Window),
	}, nil
}

// legCount is the number of instruments touched by one paired open,
// used to scale the opening limit check.
func (e *Engine) legCount() int { return 1 + len(e.cfg.Stocks) }

// Evaluate runs the signal for one cycle. The returned error is non-nil
// only for invariant violations the engine must abort on; everything else
// is logged and skipped until the next cycle.
func (e *Engine) Evaluate(ctx context.Context) error {
	etfMid, okETF := e.prices.LatestMid(e.cfg.ETF)
	basket, okBasket := e.prices.BasketPrice()
	if !okETF || !okBasket {
		e.log.Debug("signal skipped, incomplete market data",
			zap.Bool("etf_mid", okETF), zap.Bool("basket", okBasket))
		return nil
	}

	z := basket - etfMid
	e.premiums = append(e.premiums, z)
	if len(e.premiums) > e.cfg.Window {
		e.premiums = e.premiums[1:]
	}
	zMean := mean(e.premiums)

	if math.Abs(z) <= e.cfg.Threshold {
		return nil
	}

	if e.ledger.CheckOpen(ctx, e.legCount()*e.cfg.TradeSize) {
		return nil // the ledger logged the block
	}

	etfSide, stockSide := venue.Buy, venue.Sell
	if z < 0 {
		etfSide, stockSide = venue.Sell, venue.Buy
	}
	e.log.Info("arbitrage signal",
		zap.Float64("premium", z),
		zap.Float64("premium_mean", zMean),
		zap.Float64("etf_mid", etfMid),
		zap.Float64("basket", basket),
		zap.String("etf_side", string(etfSide)))

	placed, err := e.openLeg(ctx, e.cfg.ETF, etfSide, etfMid, e.calc.TriggerETF(etfSide, etfMid, zMean, z))
	if err != nil {
		return err
	}
	if !placed {
		// No ETF leg means no hedge to build against; stand down this cycle.
		return nil
	}
	mids := make(map[string]float64, len(e.cfg.Stocks))
	for _, ticker := range e.cfg.Stocks {
		mid, ok := e.prices.LatestMid(ticker)
		if !ok {
			e.log.Warn("constituent leg skipped, no mid price", zap.String("ticker", ticker))
			continue
		}
		trigger, err := e.calc.TriggerConstituent(stockSide, mid, zMean, z, mid, basket)
		if err != nil {
			e.log.Error("constituent leg skipped, stop-loss not computable",
				zap.String("ticker", ticker), zap.Error(err))
			continue
		}
		if _, err := e.openLeg(ctx, ticker, stockSide, mid, trigger); err != nil {
			return err
		}
		mids[ticker] = mid
	}

	// 平仓腿：在均衡价挂反向限价单，等价差收敛时自动兑现。
	// ETF 腿挂在 basket+zMean，成分股腿按其在均衡价中的份额挂回中间价。
	eqPrice := basket + zMean
	closeETFSide := etfSide.Opposite()
	if _, err := e.openLeg(ctx, e.cfg.ETF, closeETFSide, eqPrice, e.calc.TriggerETF(closeETFSide, eqPrice, zMean, z)); err != nil {
		return err
	}
	closeStockSide := stockSide.Opposite()
	for _, ticker := range e.cfg.Stocks {
		mid, ok := mids[ticker]
		if !ok {
			continue // the opening leg was skipped, nothing to unwind
		}
		share := mid / eqPrice
		closePrice := share * eqPrice
		trigger, err := e.calc.TriggerConstituent(closeStockSide, closePrice, zMean, z, mid, basket)
		if err != nil {
			e.log.Error("closing leg skipped, stop-loss not computable",
				zap.String("ticker", ticker), zap.Error(err))
			continue
		}
		if _, err := e.openLeg(ctx, ticker, closeStockSide, closePrice, trigger); err != nil {
			return err
		}
	}
	return nil
}

// openLeg places one limit leg at the current mid and registers it with its
// stop-loss. placed is false when the venue rejected the leg (logged by the
// submitter, nothing to register); registration failures propagate because
// they signal either a confirm timeout or a venue desync.
func (e *Engine) openLeg(ctx context.Context, ticker string, side venue.Side, price, stopLoss float64) (placed bool, err error) {
	id, err := e.sub.PlaceLimit(ctx, side, ticker, price, e.cfg.TradeSize)
	if err != nil {
		return false, nil
	}
	if _, err := e.tracker.Register(ctx, id, ticker, side, stopLoss); err != nil {
		return true, fmt.Errorf("register %s %s leg: %w", side, ticker, err)
	}
	return true, nil
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
