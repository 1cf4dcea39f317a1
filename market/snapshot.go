package market

// Quote is the top of book for one instrument.
type Quote struct {
	Bid float64
	Ask float64
}

// Mid returns the mid price.
func (q Quote) Mid() float64 { return (q.Bid + q.Ask) / 2 }

// Snapshot carries one cycle's best bid/ask per instrument. It is built
// fresh every refresh and handed out by value; readers never observe a
// partially updated map.
type Snapshot struct {
	quotes map[string]Quote
}

// NewSnapshot builds a snapshot from a quote map. The map is not copied;
// callers hand over ownership.
func NewSnapshot(quotes map[string]Quote) Snapshot {
	return Snapshot{quotes: quotes}
}

// Quote returns the instrument's top of book; ok is false when the book was
// empty on either side this cycle.
func (s Snapshot) Quote(ticker string) (Quote, bool) {
	q, ok := s.quotes[ticker]
	return q, ok
}

// Len returns the number of instruments with a usable quote.
func (s Snapshot) Len() int { return len(s.quotes) }
