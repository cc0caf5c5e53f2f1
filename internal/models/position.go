package models

import "time"

const sharesPerContract = 100.0

// LegDirection indicates whether a leg was opened long or short, derived from
// the signed quantity of the opening fill.
type LegDirection string

const (
	// LegLong indicates a bought-to-open leg
	LegLong LegDirection = "long"
	// LegShort indicates a sold-to-open leg
	LegShort LegDirection = "short"
)

// FillAction is the side of a fill.
type FillAction string

const (
	// ActionBuy represents a buy fill
	ActionBuy FillAction = "buy"
	// ActionSell represents a sell fill
	ActionSell FillAction = "sell"
)

// Opposite returns the closing action for an opening action.
func (a FillAction) Opposite() FillAction {
	if a == ActionBuy {
		return ActionSell
	}
	return ActionBuy
}

// Strategy labels a position's classified shape.
type Strategy string

const (
	// StrategyIronButterfly is a 4-leg position with the short put and short
	// call at the same strike and symmetric wings.
	StrategyIronButterfly Strategy = "Iron Butterfly"
	// StrategyIronCondor is a 4-leg position with one long/short pair on each
	// side, ordered long put < short put < short call < long call.
	StrategyIronCondor Strategy = "Iron Condor"
	// StrategyVerticalSpread is a 2-leg position of the same type at
	// different strikes.
	StrategyVerticalSpread Strategy = "Vertical Spread"
	// StrategyStraddle is a 2-leg position of different types at one strike.
	StrategyStraddle Strategy = "Straddle"
	// StrategyStrangle is a 2-leg position of different types at different
	// strikes.
	StrategyStrangle Strategy = "Strangle"
	// StrategyOptions is the generic label for any other shape.
	StrategyOptions Strategy = "Options"
)

// PositionStatus is the derived lifecycle status of a position.
type PositionStatus string

const (
	// StatusOpen means no leg has a closing fill
	StatusOpen PositionStatus = "open"
	// StatusClosed means every leg has a closing fill
	StatusClosed PositionStatus = "closed"
	// StatusPartial means some but not all legs are closed
	StatusPartial PositionStatus = "partial"
)

// Leg is one option contract within a position. Under the current matching
// policy a leg carries at most one opening and one closing fill.
type Leg struct {
	Symbol      string       `json:"symbol"` // canonical OPRA form
	Option      OptionSymbol `json:"option"`
	Direction   LegDirection `json:"direction"`
	Quantity    int          `json:"quantity"` // unsigned contract count
	OpenPrice   float64      `json:"open_price"`
	OpenTime    time.Time    `json:"open_time"`
	OpenAction  FillAction   `json:"open_action"`
	ClosePrice  float64      `json:"close_price,omitempty"`
	CloseTime   time.Time    `json:"close_time,omitempty"`
	CloseAction FillAction   `json:"close_action,omitempty"`
	Closed      bool         `json:"closed"`
	// MarkPrice is the latest mid used as a synthetic close for unrealized
	// P&L; it never marks the leg closed.
	MarkPrice float64 `json:"mark_price,omitempty"`
	PnL       float64 `json:"pnl"` // dollars, derived
}

// PerContractPnL returns the per-contract P&L: credit collected minus cost to
// buy back for legs opened SELL, close minus open for legs opened BUY. Open
// legs with no mark yet contribute zero.
func (l *Leg) PerContractPnL() float64 {
	closePrice := l.ClosePrice
	if !l.Closed {
		if l.MarkPrice == 0 {
			return 0
		}
		closePrice = l.MarkPrice
	}
	if l.OpenAction == ActionSell {
		return l.OpenPrice - closePrice
	}
	return closePrice - l.OpenPrice
}

// RecomputePnL refreshes the leg's derived dollar P&L.
func (l *Leg) RecomputePnL() {
	l.PnL = l.PerContractPnL() * float64(l.Quantity) * sharesPerContract
}

// Position is a strategy grouped by underlying symbol. A Position exclusively
// owns its legs; legs never outlive their position. It is mutated in place
// for live price ticks and rebuilt wholesale on each full refresh.
type Position struct {
	ID       string   `json:"id"`
	Symbol   string   `json:"symbol"` // underlying ticker
	Strategy Strategy `json:"strategy"`
	Legs     []*Leg   `json:"legs"`
	// Expiration is the earliest leg expiry. Legs of different expiries may
	// coexist under one underlying; this field lets callers subdivide.
	Expiration time.Time      `json:"expiration"`
	CreatedAt  time.Time      `json:"created_at"`
	TotalPnL   float64        `json:"total_pnl"`
	Status     PositionStatus `json:"status"`
}

// Recompute refreshes every leg's P&L, the aggregate P&L, and the derived
// lifecycle status. Called whenever any leg's price or closing fill changes.
func (p *Position) Recompute() {
	var total float64
	closedLegs := 0
	for _, leg := range p.Legs {
		leg.RecomputePnL()
		total += leg.PnL
		if leg.Closed {
			closedLegs++
		}
	}
	p.TotalPnL = total

	switch {
	case closedLegs == 0:
		p.Status = StatusOpen
	case closedLegs == len(p.Legs):
		p.Status = StatusClosed
	default:
		p.Status = StatusPartial
	}
}

// ApplyQuote updates the mark price of every open leg matching the option
// symbol and recomputes P&L. Returns true if any leg was touched. Callers
// serialize mutation; this never reaches out to the upstream API.
func (p *Position) ApplyQuote(symbol string, mid float64) bool {
	touched := false
	for _, leg := range p.Legs {
		if !leg.Closed && leg.Symbol == symbol {
			leg.MarkPrice = mid
			touched = true
		}
	}
	if touched {
		p.Recompute()
	}
	return touched
}

// OpenLegSymbols returns the option symbols of all legs still open.
func (p *Position) OpenLegSymbols() []string {
	symbols := make([]string, 0, len(p.Legs))
	for _, leg := range p.Legs {
		if !leg.Closed {
			symbols = append(symbols, leg.Symbol)
		}
	}
	return symbols
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (p *Position) Clone() Position {
	cp := *p
	cp.Legs = make([]*Leg, len(p.Legs))
	for i, leg := range p.Legs {
		legCopy := *leg
		cp.Legs[i] = &legCopy
	}
	return cp
}
