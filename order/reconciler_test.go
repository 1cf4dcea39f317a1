package order

import (
	"context"
	"errors"
	"testing"

	"etf-arb-go/market"
	"etf-arb-go/venue"
)

// venueStub 同时扮演查询、撤单与平仓三个交易所角色。
type venueStub struct {
	orders     map[venue.OrderID]venue.Order
	fetchErr   error
	cancelErrs int // 前 n 次撤单失败
	cancelled  []venue.OrderID
	flattened  []struct {
		side   venue.Side
		ticker string
		qty    int
	}
	flattenErr error
}

func (v *venueStub) FetchOrder(ctx context.Context, id venue.OrderID) (venue.Order, error) {
	if v.fetchErr != nil {
		return venue.Order{}, v.fetchErr
	}
	o, ok := v.orders[id]
	if !ok {
		return venue.Order{}, venue.ErrOrderNotFound
	}
	return o, nil
}

func (v *venueStub) CancelOrder(ctx context.Context, id venue.OrderID) error {
	if v.cancelErrs > 0 {
		v.cancelErrs--
		return errors.New("cancel refused")
	}
	v.cancelled = append(v.cancelled, id)
	return nil
}

func (v *venueStub) PlaceMarket(ctx context.Context, side venue.Side, ticker string, quantity int) ([]venue.OrderID, error) {
	v.flattened = append(v.flattened, struct {
		side   venue.Side
		ticker string
		qty    int
	}{side, ticker, quantity})
	if v.flattenErr != nil {
		return nil, v.flattenErr
	}
	return []venue.OrderID{999}, nil
}

type guardStub struct{ blocked bool }

func (g guardStub) CheckLiquidationLimits(ctx context.Context, tradeSize int, side venue.Side) bool {
	return g.blocked
}

func seedTracker(orders ...TrackedOrder) *Tracker {
	tr := &Tracker{orders: make(map[venue.OrderID]*TrackedOrder, len(orders))}
	for _, o := range orders {
		stored := o
		tr.orders[o.ID] = &stored
	}
	return tr
}

func snapOf(ticker string, bid, ask float64) market.Snapshot {
	return market.NewSnapshot(map[string]market.Quote{ticker: {Bid: bid, Ask: ask}})
}

func TestReconcileDropsFinishedOrders(t *testing.T) {
	stub := &venueStub{orders: map[venue.OrderID]venue.Order{
		1: {ID: 1, Ticker: "SAD", Side: venue.Buy, Quantity: 1000, Filled: 1000, Status: venue.StatusOpen},
		2: {ID: 2, Ticker: "CRY", Side: venue.Buy, Quantity: 1000, Filled: 200, Status: venue.StatusCancelled},
		3: {ID: 3, Ticker: "FEAR", Side: venue.Buy, Quantity: 1000, Filled: 100, Status: venue.StatusOpen},
	}}
	tr := seedTracker(
		TrackedOrder{Order: stub.orders[1], StopLoss: 1},
		TrackedOrder{Order: stub.orders[2], StopLoss: 1},
		TrackedOrder{Order: stub.orders[3], StopLoss: 1},
	)
	r := NewReconciler(tr, stub, stub, stub, guardStub{}, ReconcilerConfig{}, nil)

	r.Reconcile(context.Background(), market.Snapshot{})

	if tr.Len() != 1 {
		t.Fatalf("tracked = %d, want only the live partial fill", tr.Len())
	}
	if _, ok := tr.orders[3]; !ok {
		t.Fatal("open partial fill must stay tracked")
	}
}

func TestReconcileKeepsOrderOnFetchFailure(t *testing.T) {
	stub := &venueStub{fetchErr: errors.New("503")}
	tr := seedTracker(TrackedOrder{
		Order:    venue.Order{ID: 1, Ticker: "SAD", Side: venue.Buy, Quantity: 1000, Status: venue.StatusOpen},
		StopLoss: 24,
	})
	r := NewReconciler(tr, stub, stub, stub, guardStub{}, ReconcilerConfig{}, nil)

	r.Reconcile(context.Background(), snapOf("SAD", 20, 21))

	if tr.Len() != 1 {
		t.Fatal("order must survive a fetch failure untouched")
	}
	if len(stub.flattened) != 0 {
		t.Fatal("no liquidation without authoritative state")
	}
}

func TestReconcileSkipsStopCheckWithoutQuote(t *testing.T) {
	stub := &venueStub{orders: map[venue.OrderID]venue.Order{
		1: {ID: 1, Ticker: "SAD", Side: venue.Buy, Quantity: 1000, Status: venue.StatusOpen},
	}}
	tr := seedTracker(TrackedOrder{Order: stub.orders[1], StopLoss: 100})
	r := NewReconciler(tr, stub, stub, stub, guardStub{}, ReconcilerConfig{}, nil)

	r.Reconcile(context.Background(), market.Snapshot{})

	if tr.Len() != 1 || len(stub.cancelled) != 0 {
		t.Fatal("missing quote must defer the stop-loss decision")
	}
}

func TestLiquidationHappyPath(t *testing.T) {
	stub := &venueStub{orders: map[venue.OrderID]venue.Order{
		1: {ID: 1, Ticker: "SAD", Side: venue.Buy, Quantity: 1000, Filled: 400, Status: venue.StatusOpen},
	}}
	tr := seedTracker(TrackedOrder{Order: stub.orders[1], StopLoss: 24})
	r := NewReconciler(tr, stub, stub, stub, guardStub{}, ReconcilerConfig{}, nil)

	// bid 23.9 < 24 触发
	r.Reconcile(context.Background(), snapOf("SAD", 23.9, 24.1))

	if len(stub.cancelled) != 1 || stub.cancelled[0] != 1 {
		t.Fatalf("cancelled = %v", stub.cancelled)
	}
	if len(stub.flattened) != 1 {
		t.Fatalf("flattened = %v", stub.flattened)
	}
	f := stub.flattened[0]
	if f.side != venue.Buy || f.ticker != "SAD" || f.qty != 600 {
		t.Fatalf("flatten = %+v, want BUY SAD x600 (outstanding)", f)
	}
	if tr.Len() != 0 {
		t.Fatal("liquidated order must leave the tracker")
	}
	if got := r.Stats().Liquidations; got != 1 {
		t.Fatalf("liquidations = %d, want 1", got)
	}
}

func TestLiquidationNotTriggeredAtBoundary(t *testing.T) {
	stub := &venueStub{orders: map[venue.OrderID]venue.Order{
		1: {ID: 1, Ticker: "SAD", Side: venue.Buy, Quantity: 1000, Status: venue.StatusOpen},
	}}
	tr := seedTracker(TrackedOrder{Order: stub.orders[1], StopLoss: 24})
	r := NewReconciler(tr, stub, stub, stub, guardStub{}, ReconcilerConfig{}, nil)

	// bid == stop 不触发
	r.Reconcile(context.Background(), snapOf("SAD", 24, 24.2))

	if len(stub.cancelled) != 0 || tr.Len() != 1 {
		t.Fatal("boundary equality must not trigger the stop")
	}
}

func TestLiquidationSellTriggersOnAsk(t *testing.T) {
	stub := &venueStub{orders: map[venue.OrderID]venue.Order{
		1: {ID: 1, Ticker: "SAD", Side: venue.Sell, Quantity: 1000, Status: venue.StatusOpen},
	}}
	tr := seedTracker(TrackedOrder{Order: stub.orders[1], StopLoss: 26})
	r := NewReconciler(tr, stub, stub, stub, guardStub{}, ReconcilerConfig{}, nil)

	r.Reconcile(context.Background(), snapOf("SAD", 25.8, 26.1))

	if len(stub.flattened) != 1 {
		t.Fatal("sell stop must fire when ask rises past the trigger")
	}
	if stub.flattened[0].side != venue.Sell {
		t.Fatalf("flatten side = %v, must match the original order", stub.flattened[0].side)
	}
}

func TestLiquidationBlockedByLimits(t *testing.T) {
	stub := &venueStub{orders: map[venue.OrderID]venue.Order{
		1: {ID: 1, Ticker: "SAD", Side: venue.Buy, Quantity: 1000, Status: venue.StatusOpen},
	}}
	tr := seedTracker(TrackedOrder{Order: stub.orders[1], StopLoss: 24})
	r := NewReconciler(tr, stub, stub, stub, guardStub{blocked: true}, ReconcilerConfig{}, nil)

	r.Reconcile(context.Background(), snapOf("SAD", 23, 23.2))

	if len(stub.cancelled) != 0 || len(stub.flattened) != 0 {
		t.Fatal("blocked liquidation must not touch the venue")
	}
	if tr.Len() != 1 {
		t.Fatal("blocked order stays tracked for the next cycle")
	}
}

func TestLiquidationCancelExhaustion(t *testing.T) {
	stub := &venueStub{
		orders: map[venue.OrderID]venue.Order{
			1: {ID: 1, Ticker: "SAD", Side: venue.Buy, Quantity: 1000, Status: venue.StatusOpen},
		},
		cancelErrs: 10,
	}
	tr := seedTracker(TrackedOrder{Order: stub.orders[1], StopLoss: 24})
	r := NewReconciler(tr, stub, stub, stub, guardStub{}, ReconcilerConfig{CancelAttempts: 3}, nil)

	r.Reconcile(context.Background(), snapOf("SAD", 23, 23.2))

	if stub.cancelErrs != 7 {
		t.Fatalf("cancel attempts = %d, want exactly 3", 10-stub.cancelErrs)
	}
	if len(stub.flattened) != 0 {
		t.Fatal("no flatten without a successful cancel")
	}
	if tr.Len() != 1 {
		t.Fatal("abandoned liquidation stays tracked for the next cycle")
	}
}

func TestLiquidationFlattenFailureRetriesNextCycle(t *testing.T) {
	stub := &venueStub{
		orders: map[venue.OrderID]venue.Order{
			1: {ID: 1, Ticker: "SAD", Side: venue.Buy, Quantity: 1000, Filled: 400, Status: venue.StatusOpen},
		},
		flattenErr: errors.New("rejected"),
	}
	tr := seedTracker(TrackedOrder{Order: stub.orders[1], StopLoss: 24})
	r := NewReconciler(tr, stub, stub, stub, guardStub{}, ReconcilerConfig{}, nil)

	r.Reconcile(context.Background(), snapOf("SAD", 23, 23.2))

	// 撤单成功但甩卖失败：敞口未交给市场，订单必须留下
	if len(stub.cancelled) != 1 {
		t.Fatalf("cancelled = %v", stub.cancelled)
	}
	if tr.Len() != 1 {
		t.Fatal("unflattened exposure must stay tracked")
	}
	if !tr.List()[0].PendingFlatten {
		t.Fatal("order must be marked pending flatten")
	}

	// 下一周期：交易所已显示 CANCELLED，只重试市价平仓，不再撤单
	stub.orders[1] = venue.Order{ID: 1, Ticker: "SAD", Side: venue.Buy, Quantity: 1000, Filled: 400, Status: venue.StatusCancelled}
	stub.flattenErr = nil
	r.Reconcile(context.Background(), snapOf("SAD", 23, 23.2))

	if len(stub.cancelled) != 1 {
		t.Fatalf("cancel re-attempted: %v", stub.cancelled)
	}
	if len(stub.flattened) != 2 {
		t.Fatalf("flatten attempts = %d, want a retry", len(stub.flattened))
	}
	if got := stub.flattened[1]; got.side != venue.Buy || got.qty != 600 {
		t.Fatalf("retry flatten = %+v, want BUY x600", got)
	}
	if tr.Len() != 0 {
		t.Fatal("order leaves the tracker once the exposure is flattened")
	}
}

func TestPendingFlattenBlockedByLimits(t *testing.T) {
	stub := &venueStub{orders: map[venue.OrderID]venue.Order{
		1: {ID: 1, Ticker: "SAD", Side: venue.Buy, Quantity: 1000, Status: venue.StatusCancelled},
	}}
	tr := seedTracker(TrackedOrder{Order: stub.orders[1], StopLoss: 24, PendingFlatten: true})
	r := NewReconciler(tr, stub, stub, stub, guardStub{blocked: true}, ReconcilerConfig{}, nil)

	r.Reconcile(context.Background(), snapOf("SAD", 23, 23.2))

	if len(stub.flattened) != 0 {
		t.Fatal("blocked retry must not touch the venue")
	}
	if tr.Len() != 1 {
		t.Fatal("blocked retry stays tracked")
	}
}
