package venue

import (
	"errors"
	"fmt"
	"time"
)

var ErrOrderNotFound = errors.New("order not found")

// RateLimitError 表示交易所限流；Wait 为服务端建议的等待时长。
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, wait %s", e.Wait)
}

// APIError is any non-2xx venue response that is not a rate limit.
type APIError struct {
	Status int
	Code   string
	Detail string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("venue error %d (%s): %s", e.Status, e.Code, e.Detail)
	}
	return fmt.Sprintf("venue error %d: %s", e.Status, e.Detail)
}

// AsRateLimit extracts a RateLimitError if err carries one.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
