package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"etf-arb-go/venue"
)

// fakePlacer 记录每次下单请求，并按脚本返回错误。
type fakePlacer struct {
	quantities []int
	errs       []error // 第 n 次调用返回第 n 个错误；越界返回 nil
	nextID     venue.OrderID
}

func (p *fakePlacer) PlaceOrder(ctx context.Context, kind venue.Kind, side venue.Side, ticker string, quantity int, price float64) (venue.OrderID, error) {
	call := len(p.quantities)
	p.quantities = append(p.quantities, quantity)
	if call < len(p.errs) && p.errs[call] != nil {
		return 0, p.errs[call]
	}
	p.nextID++
	return p.nextID, nil
}

func newTestSubmitter(p OrderPlacer, isETF func(string) bool, sleeps *[]time.Duration) *Submitter {
	return NewSubmitter(p, isETF, SubmitterConfig{
		Retry: RetryPolicy{
			MaxAttempts: 3,
			DefaultWait: 10 * time.Millisecond,
			Sleep: func(ctx context.Context, d time.Duration) error {
				if sleeps != nil {
					*sleeps = append(*sleeps, d)
				}
				return nil
			},
		},
	}, nil)
}

func TestPlaceMarketChunksStock(t *testing.T) {
	p := &fakePlacer{}
	s := newTestSubmitter(p, nil, nil)

	ids, err := s.PlaceMarket(context.Background(), venue.Buy, "SAD", 12_000)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("ids = %v, want 3 orders", ids)
	}
	want := []int{5_000, 5_000, 2_000}
	for i, q := range want {
		if p.quantities[i] != q {
			t.Fatalf("chunk %d = %d, want %d", i, p.quantities[i], q)
		}
	}
}

func TestPlaceMarketChunksETF(t *testing.T) {
	p := &fakePlacer{}
	s := newTestSubmitter(p, func(string) bool { return true }, nil)

	if _, err := s.PlaceMarket(context.Background(), venue.Sell, "JOY_C", 10_000); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(p.quantities) != 1 || p.quantities[0] != 10_000 {
		t.Fatalf("quantities = %v, want single 10000 chunk", p.quantities)
	}
}

func TestRateLimitRetriesExactlyMaxAttempts(t *testing.T) {
	rl := &venue.RateLimitError{Wait: 25 * time.Millisecond}
	p := &fakePlacer{errs: []error{rl, rl, rl, rl, rl}}
	var sleeps []time.Duration
	s := newTestSubmitter(p, nil, &sleeps)

	_, err := s.PlaceMarket(context.Background(), venue.Buy, "SAD", 100)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("want ErrRetriesExhausted, got %v", err)
	}
	if len(p.quantities) != 3 {
		t.Fatalf("attempts = %d, want exactly 3", len(p.quantities))
	}
	// 最后一次失败后不再 sleep
	if len(sleeps) != 2 {
		t.Fatalf("sleeps = %v, want 2", sleeps)
	}
	for _, d := range sleeps {
		if d != 25*time.Millisecond {
			t.Fatalf("sleep = %v, want server wait", d)
		}
	}
}

func TestRateLimitDefaultWait(t *testing.T) {
	p := &fakePlacer{errs: []error{&venue.RateLimitError{}}}
	var sleeps []time.Duration
	s := newTestSubmitter(p, nil, &sleeps)

	if _, err := s.PlaceMarket(context.Background(), venue.Buy, "SAD", 100); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(sleeps) != 1 || sleeps[0] != 10*time.Millisecond {
		t.Fatalf("sleeps = %v, want default wait", sleeps)
	}
}

func TestHardErrorNotRetried(t *testing.T) {
	p := &fakePlacer{errs: []error{errors.New("INSUFFICIENT_FUNDS")}}
	s := newTestSubmitter(p, nil, nil)

	_, err := s.PlaceMarket(context.Background(), venue.Buy, "SAD", 100)
	if err == nil {
		t.Fatal("hard error must surface")
	}
	if errors.Is(err, ErrRetriesExhausted) {
		t.Fatal("hard error must not be classed as exhaustion")
	}
	if len(p.quantities) != 1 {
		t.Fatalf("attempts = %d, want 1", len(p.quantities))
	}
}

func TestChunkFailureKeepsEarlierIDs(t *testing.T) {
	// 第二块遇到硬错误：第一块的订单号仍然返回。
	p := &fakePlacer{errs: []error{nil, errors.New("rejected")}}
	s := newTestSubmitter(p, nil, nil)

	ids, err := s.PlaceMarket(context.Background(), venue.Buy, "SAD", 8_000)
	if err == nil {
		t.Fatal("second chunk failure must surface")
	}
	if len(ids) != 1 {
		t.Fatalf("ids = %v, want the first chunk's id", ids)
	}
}

func TestPlaceLimitSingleAttempt(t *testing.T) {
	p := &fakePlacer{errs: []error{&venue.RateLimitError{Wait: time.Second}}}
	s := newTestSubmitter(p, nil, nil)

	_, err := s.PlaceLimit(context.Background(), venue.Buy, "SAD", 24.5, 100)
	if err == nil {
		t.Fatal("limit order failure must surface")
	}
	if len(p.quantities) != 1 {
		t.Fatalf("attempts = %d, limit orders never retry", len(p.quantities))
	}
}

func TestInvalidQuantity(t *testing.T) {
	s := newTestSubmitter(&fakePlacer{}, nil, nil)
	if _, err := s.PlaceMarket(context.Background(), venue.Buy, "SAD", 0); err == nil {
		t.Fatal("zero quantity must be rejected")
	}
	if _, err := s.PlaceLimit(context.Background(), venue.Buy, "SAD", 24.5, -5); err == nil {
		t.Fatal("negative quantity must be rejected")
	}
}
