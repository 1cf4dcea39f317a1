package venue

// Side is the direction of a trade.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the flattening direction for a side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Kind distinguishes market and limit orders.
type Kind string

const (
	Market Kind = "MARKET"
	Limit  Kind = "LIMIT"
)

// Status is the venue-owned order status enum.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusClosed    Status = "CLOSED"
	StatusCancelled Status = "CANCELLED"
)

// IsOpen reports whether the order can still trade.
func (s Status) IsOpen() bool { return s == StatusOpen }

// OrderID is the opaque venue-assigned order identifier.
type OrderID int64

// Order is the venue's view of an order.
type Order struct {
	ID       OrderID `json:"order_id"`
	Ticker   string  `json:"ticker"`
	Kind     Kind    `json:"type"`
	Side     Side    `json:"action"`
	Quantity int     `json:"quantity"`
	Filled   int     `json:"quantity_filled"`
	Price    float64 `json:"price"`
	Status   Status  `json:"status"`
}

// Outstanding 返回尚未成交的数量。
func (o Order) Outstanding() int {
	left := o.Quantity - o.Filled
	if left < 0 {
		return 0
	}
	return left
}

// Tender is an institutional offer pushed by the venue.
type Tender struct {
	ID       int64   `json:"tender_id"`
	Ticker   string  `json:"ticker"`
	Side     Side    `json:"action"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type security struct {
	Ticker   string  `json:"ticker"`
	Position int     `json:"position"`
	Last     float64 `json:"last"`
}

type bookLevel struct {
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type book struct {
	Bids []bookLevel `json:"bids"`
	Asks []bookLevel `json:"asks"`
}

type caseInfo struct {
	Tick   int `json:"tick"`
	Period int `json:"period"`
}
