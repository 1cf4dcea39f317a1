package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client 访问模拟交易所的 REST API；HTTPClient 可注入 httptest。
// 所有调用均为同步请求/响应，认证通过 X-API-Key 头完成。
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Limiter    RateLimiter // optional pre-throttle
	Currencies []string    // tickers excluded from position snapshots

	currencySet map[string]struct{}
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

type rateLimitBody struct {
	Code string  `json:"code"`
	Wait float64 `json:"wait"`
}

type orderAck struct {
	OrderID OrderID `json:"order_id"`
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, out interface{}) error {
	if c == nil || c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	endpoint := c.BaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var rl rateLimitBody
	if json.Unmarshal(body, &rl) == nil && rl.Code == "TOO_MANY_REQUESTS" {
		wait := time.Duration(rl.Wait * float64(time.Second))
		return &RateLimitError{Wait: wait}
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, string(body))
	}
	return &APIError{Status: resp.StatusCode, Code: rl.Code, Detail: string(body)}
}

// CurrentTick returns the venue's discrete time counter; 0 means market closed.
func (c *Client) CurrentTick(ctx context.Context) (int, error) {
	var ci caseInfo
	if err := c.do(ctx, http.MethodGet, "/case", nil, &ci); err != nil {
		return 0, fmt.Errorf("fetch case: %w", err)
	}
	return ci.Tick, nil
}

// Positions 返回除货币外所有证券的签名持仓快照。
func (c *Client) Positions(ctx context.Context) (map[string]int, error) {
	var secs []security
	if err := c.do(ctx, http.MethodGet, "/securities", nil, &secs); err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}
	if c.currencySet == nil {
		c.currencySet = make(map[string]struct{}, len(c.Currencies))
		for _, cur := range c.Currencies {
			c.currencySet[cur] = struct{}{}
		}
	}
	out := make(map[string]int, len(secs))
	for _, s := range secs {
		if _, isCurrency := c.currencySet[s.Ticker]; isCurrency {
			continue
		}
		out[s.Ticker] = s.Position
	}
	return out, nil
}

// ExchangeRate returns the CAD/USD rate from the USD security's last trade.
// Falls back to 1.0 when the ticker is absent.
func (c *Client) ExchangeRate(ctx context.Context) (float64, error) {
	var secs []security
	if err := c.do(ctx, http.MethodGet, "/securities", nil, &secs); err != nil {
		return 0, fmt.Errorf("fetch exchange rate: %w", err)
	}
	for _, s := range secs {
		if s.Ticker == "USD" && s.Last > 0 {
			return s.Last, nil
		}
	}
	return 1.0, nil
}

// BestBidAsk returns the top of book for ticker. ok is false when either
// side of the book is empty.
func (c *Client) BestBidAsk(ctx context.Context, ticker string) (bid, ask float64, ok bool, err error) {
	params := url.Values{"ticker": {ticker}}
	var b book
	if err := c.do(ctx, http.MethodGet, "/securities/book", params, &b); err != nil {
		return 0, 0, false, fmt.Errorf("fetch book %s: %w", ticker, err)
	}
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0, 0, false, nil
	}
	bid = b.Bids[0].Price
	for _, lvl := range b.Bids[1:] {
		if lvl.Price > bid {
			bid = lvl.Price
		}
	}
	ask = b.Asks[0].Price
	for _, lvl := range b.Asks[1:] {
		if lvl.Price < ask {
			ask = lvl.Price
		}
	}
	return bid, ask, true, nil
}

// PlaceOrder 提交一笔订单；price 仅对限价单有意义。
// 限流错误原样返回 *RateLimitError，重试策略由调用方决定。
func (c *Client) PlaceOrder(ctx context.Context, kind Kind, side Side, ticker string, quantity int, price float64) (OrderID, error) {
	params := url.Values{
		"ticker":   {ticker},
		"type":     {string(kind)},
		"quantity": {strconv.Itoa(quantity)},
		"action":   {string(side)},
	}
	if kind == Limit {
		params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	}
	var ack orderAck
	if err := c.do(ctx, http.MethodPost, "/orders", params, &ack); err != nil {
		return 0, err
	}
	if ack.OrderID == 0 {
		return 0, fmt.Errorf("place order %s %s: empty order_id", side, ticker)
	}
	return ack.OrderID, nil
}

// FetchOrder returns the venue's current state for an order.
// A missing identifier surfaces as ErrOrderNotFound.
func (c *Client) FetchOrder(ctx context.Context, id OrderID) (Order, error) {
	var o Order
	if err := c.do(ctx, http.MethodGet, "/orders/"+strconv.FormatInt(int64(id), 10), nil, &o); err != nil {
		return Order{}, err
	}
	return o, nil
}

// CancelOrder deletes an open order.
func (c *Client) CancelOrder(ctx context.Context, id OrderID) error {
	return c.do(ctx, http.MethodDelete, "/orders/"+strconv.FormatInt(int64(id), 10), nil, nil)
}

// Tenders lists currently outstanding tenders.
func (c *Client) Tenders(ctx context.Context) ([]Tender, error) {
	var ts []Tender
	if err := c.do(ctx, http.MethodGet, "/tenders", nil, &ts); err != nil {
		return nil, fmt.Errorf("fetch tenders: %w", err)
	}
	return ts, nil
}

// AcceptTender accepts a tender by id.
func (c *Client) AcceptTender(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, "/tenders/"+strconv.FormatInt(id, 10), nil, nil)
}

// DeclineTender declines a tender by id.
func (c *Client) DeclineTender(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/tenders/"+strconv.FormatInt(id, 10), nil, nil)
}
