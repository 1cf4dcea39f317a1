package market

import (
	"context"
	"errors"
	"math"
	"testing"
)

// fakeBooks 每个 ticker 一个固定盘口；empty 集合里的 ticker 单边空簿。
type fakeBooks struct {
	quotes  map[string]Quote
	empty   map[string]bool
	bookErr map[string]error
	rate    float64
	rateErr error
}

func (f *fakeBooks) BestBidAsk(ctx context.Context, ticker string) (float64, float64, bool, error) {
	if err := f.bookErr[ticker]; err != nil {
		return 0, 0, false, err
	}
	if f.empty[ticker] {
		return 0, 0, false, nil
	}
	q, ok := f.quotes[ticker]
	if !ok {
		return 0, 0, false, nil
	}
	return q.Bid, q.Ask, true, nil
}

func (f *fakeBooks) ExchangeRate(ctx context.Context) (float64, error) {
	if f.rateErr != nil {
		return 0, f.rateErr
	}
	return f.rate, nil
}

func TestRefreshRecordsMids(t *testing.T) {
	src := &fakeBooks{
		quotes: map[string]Quote{
			"SAD":   {Bid: 10, Ask: 11},
			"CRY":   {Bid: 20, Ask: 21},
			"JOY_C": {Bid: 30, Ask: 31},
		},
		rate: 1.0,
	}
	h := NewHistory(src, []string{"SAD", "CRY"}, []string{"JOY_C"}, 10, nil)

	snap, err := h.Refresh(context.Background())
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if snap.Len() != 3 {
		t.Fatalf("snapshot len = %d, want 3", snap.Len())
	}

	mid, ok := h.LatestMid("SAD")
	if !ok || mid != 10.5 {
		t.Fatalf("SAD mid = %v %v, want 10.5", mid, ok)
	}
	basket, ok := h.BasketPrice()
	if !ok || math.Abs(basket-31.0) > 1e-9 { // 10.5 + 20.5
		t.Fatalf("basket = %v %v, want 31", basket, ok)
	}
}

func TestRefreshSkipsEmptyBook(t *testing.T) {
	src := &fakeBooks{
		quotes: map[string]Quote{
			"SAD":   {Bid: 10, Ask: 11},
			"JOY_C": {Bid: 30, Ask: 31},
		},
		empty: map[string]bool{"CRY": true},
		rate:  1.0,
	}
	h := NewHistory(src, []string{"SAD", "CRY"}, []string{"JOY_C"}, 10, nil)

	snap, err := h.Refresh(context.Background())
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if _, ok := snap.Quote("CRY"); ok {
		t.Fatal("empty book must not produce a quote")
	}
	// CRY 没有观测值，篮子价不可用
	if _, ok := h.BasketPrice(); ok {
		t.Fatal("basket needs every constituent")
	}
	// 其余证券照常记录
	if _, ok := h.LatestMid("SAD"); !ok {
		t.Fatal("healthy tickers must still be recorded")
	}
}

func TestRefreshSurvivesBookError(t *testing.T) {
	src := &fakeBooks{
		quotes: map[string]Quote{
			"SAD":   {Bid: 10, Ask: 11},
			"CRY":   {Bid: 20, Ask: 21},
			"JOY_C": {Bid: 30, Ask: 31},
		},
		bookErr: map[string]error{"JOY_C": errors.New("503")},
		rate:    1.0,
	}
	h := NewHistory(src, []string{"SAD", "CRY"}, []string{"JOY_C"}, 10, nil)

	snap, err := h.Refresh(context.Background())
	if err != nil {
		t.Fatalf("a single book failure is not fatal: %v", err)
	}
	if _, ok := snap.Quote("JOY_C"); ok {
		t.Fatal("failed ticker must be skipped this cycle")
	}
	if basket, ok := h.BasketPrice(); !ok || math.Abs(basket-31.0) > 1e-9 {
		t.Fatalf("basket = %v %v, constituents were healthy", basket, ok)
	}
}

func TestBasketUSDConversion(t *testing.T) {
	src := &fakeBooks{
		quotes: map[string]Quote{"SAD": {Bid: 10, Ask: 11}},
		rate:   2.0,
	}
	h := NewHistory(src, []string{"SAD"}, nil, 10, nil)

	if _, err := h.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	usd, ok := h.BasketPriceUSD()
	if !ok || math.Abs(usd-5.25) > 1e-9 { // 10.5 / 2
		t.Fatalf("usd basket = %v %v, want 5.25", usd, ok)
	}
}

func TestRollingWindowTrim(t *testing.T) {
	src := &fakeBooks{
		quotes: map[string]Quote{"SAD": {Bid: 10, Ask: 11}},
		rate:   1.0,
	}
	h := NewHistory(src, []string{"SAD"}, nil, 3, nil)

	for i := 0; i < 10; i++ {
		if _, err := h.Refresh(context.Background()); err != nil {
			t.Fatalf("unexpected: %v", err)
		}
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.series["SAD"]) != 3 {
		t.Fatalf("series len = %d, want window 3", len(h.series["SAD"]))
	}
	if len(h.basket) != 3 {
		t.Fatalf("basket len = %d, want window 3", len(h.basket))
	}
}

func TestIsETF(t *testing.T) {
	h := NewHistory(&fakeBooks{rate: 1}, []string{"SAD"}, []string{"JOY_C", "JOY_U"}, 10, nil)
	if !h.IsETF("JOY_C") || !h.IsETF("JOY_U") {
		t.Fatal("ETF tickers misclassified")
	}
	if h.IsETF("SAD") {
		t.Fatal("stock classified as ETF")
	}
}
