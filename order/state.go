package order

import "etf-arb-go/venue"

// TrackedOrder merges the venue's view of an order with the locally owned
// stop-loss trigger price. The trigger is attached once at registration and
// never mutated; the venue has no concept of it, so every reconcile refresh
// preserves it while overwriting the venue-owned fields.
type TrackedOrder struct {
	venue.Order
	StopLoss float64

	// PendingFlatten 表示撤单已成功但市价平仓尚未落地，
	// 对账循环每周期重试，直到剩余敞口甩出为止。
	PendingFlatten bool
}

// Triggered 判断当前行情是否已越过保护阈值：
// BUY 在最优买价跌破触发价时触发，SELL 在最优卖价升破触发价时触发。
func (t TrackedOrder) Triggered(bid, ask float64) bool {
	if t.Side == venue.Buy {
		return bid < t.StopLoss
	}
	return ask > t.StopLoss
}
