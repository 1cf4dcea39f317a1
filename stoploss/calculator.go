// Package stoploss derives liquidation trigger prices for freshly placed
// orders from the distance between the observed basket premium and its
// equilibrium level.
package stoploss

import (
	"errors"
	"math"

	"etf-arb-go/venue"
)

// DefaultAlpha is the fixed risk multiplier applied to the premium gap.
const DefaultAlpha = 2.0

var ErrDegenerateBasket = errors.New("degenerate basket price")

// Calculator is pure and stateless: the same inputs always yield the same
// trigger, and no rolling-price state is touched.
type Calculator struct {
	Alpha float64
}

func New(alpha float64) Calculator {
	if alpha <= 0 {
		alpha = DefaultAlpha
	}
	return Calculator{Alpha: alpha}
}

// TriggerETF computes the trigger for an ETF-class instrument.
// A SELL is protected above its price, a BUY below it.
func (c Calculator) TriggerETF(side venue.Side, price, zMean, z float64) float64 {
	diff := math.Abs(zMean - z)
	if side == venue.Sell {
		return price + diff*c.Alpha
	}
	return price - diff*c.Alpha
}

// TriggerConstituent scales the premium gap by the instrument's share of the
// synthetic basket before applying the multiplier. The basket price is
// derived from the same rolling mids the trigger protects, so a degenerate
// (zero or non-finite) ratio is refused rather than silently emitted.
func (c Calculator) TriggerConstituent(side venue.Side, price, zMean, z, instrumentPrice, basketPrice float64) (float64, error) {
	if basketPrice <= 0 {
		return 0, ErrDegenerateBasket
	}
	percentage := instrumentPrice / basketPrice
	if math.IsNaN(percentage) || math.IsInf(percentage, 0) {
		return 0, ErrDegenerateBasket
	}
	diff := percentage * math.Abs(zMean-z)
	if side == venue.Sell {
		return price + diff*c.Alpha, nil
	}
	return price - diff*c.Alpha, nil
}
