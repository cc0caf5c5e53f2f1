package models

import "time"

// PriceQuote is a single observed market quote for an option contract.
// Quotes are cached per symbol with a TTL; an expired quote is treated as
// absent, never served stale.
type PriceQuote struct {
	Symbol     string    `json:"symbol"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Last       float64   `json:"last,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// Mid returns the mid price: the bid/ask average, or the single quoted side
// when only one is present, falling back to the last trade price.
func (q PriceQuote) Mid() float64 {
	switch {
	case q.Bid > 0 && q.Ask > 0:
		return (q.Bid + q.Ask) / 2
	case q.Bid > 0:
		return q.Bid
	case q.Ask > 0:
		return q.Ask
	default:
		return q.Last
	}
}
