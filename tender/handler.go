// Package tender evaluates institutional tenders and offloads the resulting
// ETF positions.
package tender

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"etf-arb-go/exposure"
	"etf-arb-go/metrics"
	"etf-arb-go/order"
	"etf-arb-go/venue"
)

// VenueAPI is the slice of the venue client the handler needs.
type VenueAPI interface {
	Tenders(ctx context.Context) ([]venue.Tender, error)
	AcceptTender(ctx context.Context, id int64) error
	DeclineTender(ctx context.Context, id int64) error
	BestBidAsk(ctx context.Context, ticker string) (bid, ask float64, ok bool, err error)
}

// Handler accepts tenders priced favourably against the current best bid
// and immediately offloads the position with chunked market orders.
type Handler struct {
	api    VenueAPI
	ledger *exposure.Ledger
	sub    *order.Submitter
	log    *zap.Logger
}

func NewHandler(api VenueAPI, ledger *exposure.Ledger, sub *order.Submitter, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{api: api, ledger: ledger, sub: sub, log: log}
}

// Process fetches and decides every outstanding tender once.
func (h *Handler) Process(ctx context.Context) error {
	tenders, err := h.api.Tenders(ctx)
	if err != nil {
		return fmt.Errorf("fetch tenders: %w", err)
	}
	for _, t := range tenders {
		h.decide(ctx, t)
	}
	return nil
}

func (h *Handler) decide(ctx context.Context, t venue.Tender) {
	bid, _, ok, err := h.api.BestBidAsk(ctx, t.Ticker)
	if err != nil || !ok {
		// Without market data the tender cannot be priced; leave it for the
		// next cycle rather than guessing.
		h.log.Warn("tender skipped, no market data",
			zap.Int64("tender_id", t.ID), zap.String("ticker", t.Ticker), zap.Error(err))
		return
	}

	profitable := (t.Side == venue.Buy && t.Price < bid) ||
		(t.Side == venue.Sell && t.Price > bid)
	if !profitable {
		if err := h.api.DeclineTender(ctx, t.ID); err != nil {
			h.log.Warn("decline tender failed", zap.Int64("tender_id", t.ID), zap.Error(err))
			return
		}
		metrics.TendersProcessed.WithLabelValues("declined").Inc()
		h.log.Info("tender declined",
			zap.Int64("tender_id", t.ID),
			zap.String("ticker", t.Ticker),
			zap.Float64("price", t.Price),
			zap.Float64("bid", bid))
		return
	}

	// 甩卖方向与 tender 成交方向相反；先验限额，越限则放弃而非缩量。
	offloadSide := t.Side.Opposite()
	if h.ledger.CheckLimits(ctx, t.Quantity, offloadSide) {
		metrics.TendersProcessed.WithLabelValues("blocked").Inc()
		h.log.Warn("tender blocked by exposure limits",
			zap.Int64("tender_id", t.ID),
			zap.String("ticker", t.Ticker),
			zap.Int("quantity", t.Quantity))
		return
	}

	if err := h.api.AcceptTender(ctx, t.ID); err != nil {
		h.log.Warn("accept tender failed", zap.Int64("tender_id", t.ID), zap.Error(err))
		return
	}
	metrics.TendersProcessed.WithLabelValues("accepted").Inc()
	h.log.Info("tender accepted",
		zap.Int64("tender_id", t.ID),
		zap.String("ticker", t.Ticker),
		zap.String("side", string(t.Side)),
		zap.Int("quantity", t.Quantity),
		zap.Float64("price", t.Price),
		zap.Float64("bid", bid))

	if _, err := h.sub.PlaceMarket(ctx, offloadSide, t.Ticker, t.Quantity); err != nil {
		h.log.Error("tender offload incomplete",
			zap.Int64("tender_id", t.ID),
			zap.String("ticker", t.Ticker),
			zap.Int("quantity", t.Quantity),
			zap.Error(err))
	}
}
