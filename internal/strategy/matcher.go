// Package strategy reconstructs raw brokerage option fills into coherent
// multi-leg positions and classifies their shape.
package strategy

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/schrute_ledger/internal/broker"
	"github.com/eddiefleurent/schrute_ledger/internal/models"
)

// UnsupportedFillSequenceError is returned when the fills for one instrument
// cannot be matched under the one-open-one-close policy (re-opens after a
// close, partial fills). The caller decides how to surface it; fills are
// never silently truncated.
type UnsupportedFillSequenceError struct {
	Symbol string
	Fills  int
	Reason string
}

func (e *UnsupportedFillSequenceError) Error() string {
	return fmt.Sprintf("unsupported fill sequence for %s (%d fills): %s", e.Symbol, e.Fills, e.Reason)
}

// MarkLookup resolves the current mid price for an option symbol. Missing
// marks are fine; the leg just carries no unrealized P&L yet.
type MarkLookup func(symbol string) (float64, bool)

// Assemble groups raw fills by underlying and matches opening/closing fills
// per instrument. Every underlying with at least one option leg yields
// exactly one Position; non-option fills are ignored.
type parsedFill struct {
	fill   broker.Fill
	option models.OptionSymbol
}

func Assemble(fills []broker.Fill, marks MarkLookup) ([]*models.Position, error) {
	// Bucket by underlying only. Expiry stays a Position attribute so
	// presentation layers can subdivide.
	byUnderlying := make(map[string][]parsedFill)
	for _, fill := range fills {
		if fill.AssetClass != "" && fill.AssetClass != "option" {
			continue
		}
		option, err := models.ParseOptionSymbol(fill.Symbol)
		if err != nil {
			if fill.AssetClass == "" {
				// No asset class hint: treat unparseable symbols as equities.
				continue
			}
			return nil, fmt.Errorf("assembling fills: %w", err)
		}
		byUnderlying[option.Underlying] = append(byUnderlying[option.Underlying], parsedFill{fill: fill, option: option})
	}

	positions := make([]*models.Position, 0, len(byUnderlying))
	for underlying, group := range byUnderlying {
		byInstrument := make(map[string][]parsedFill)
		for _, pf := range group {
			key := pf.option.String()
			byInstrument[key] = append(byInstrument[key], pf)
		}

		legs := make([]*models.Leg, 0, len(byInstrument))
		for symbol, instrumentFills := range byInstrument {
			leg, err := matchLeg(symbol, instrumentFills)
			if err != nil {
				return nil, err
			}
			if !leg.Closed {
				if mark, ok := marks(leg.Symbol); ok {
					leg.MarkPrice = mark
				}
			}
			legs = append(legs, leg)
		}

		// Deterministic leg order: strike then type.
		sort.Slice(legs, func(i, j int) bool {
			if legs[i].Option.StrikeThousandths != legs[j].Option.StrikeThousandths {
				return legs[i].Option.StrikeThousandths < legs[j].Option.StrikeThousandths
			}
			return legs[i].Option.Type < legs[j].Option.Type
		})

		position := &models.Position{
			ID:         uuid.NewString(),
			Symbol:     underlying,
			Strategy:   Classify(legs),
			Legs:       legs,
			Expiration: earliestExpiration(legs),
			CreatedAt:  time.Now().UTC(),
		}
		position.Recompute()
		positions = append(positions, position)
	}

	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// matchLeg pairs the fills for one instrument into an open leg and an
// optional closing fill. The earliest fill opens; a second fill closes and
// must be the opposite side.
func matchLeg(symbol string, fills []parsedFill) (*models.Leg, error) {
	if len(fills) > 2 {
		return nil, &UnsupportedFillSequenceError{
			Symbol: symbol,
			Fills:  len(fills),
			Reason: "matching policy handles exactly one opening and one closing fill",
		}
	}

	sort.Slice(fills, func(i, j int) bool { return fills[i].fill.FilledAt.Before(fills[j].fill.FilledAt) })

	opening := fills[0]
	openAction := models.ActionBuy
	direction := models.LegLong
	if opening.fill.Quantity < 0 {
		openAction = models.ActionSell
		direction = models.LegShort
	}

	quantity := int(math.Abs(opening.fill.Quantity) + 0.5)
	if quantity == 0 {
		quantity = 1
	}

	leg := &models.Leg{
		Symbol:     opening.option.String(),
		Option:     opening.option,
		Direction:  direction,
		Quantity:   quantity,
		OpenPrice:  opening.fill.AvgPrice,
		OpenTime:   opening.fill.FilledAt,
		OpenAction: openAction,
	}

	if len(fills) == 2 {
		closing := fills[1]
		closeAction := models.ActionBuy
		if closing.fill.Quantity < 0 {
			closeAction = models.ActionSell
		}
		if closeAction != openAction.Opposite() {
			return nil, &UnsupportedFillSequenceError{
				Symbol: symbol,
				Fills:  len(fills),
				Reason: fmt.Sprintf("second fill must be the opposite side of the opening %s", openAction),
			}
		}
		leg.ClosePrice = closing.fill.AvgPrice
		leg.CloseTime = closing.fill.FilledAt
		leg.CloseAction = closeAction
		leg.Closed = true
	}

	return leg, nil
}

func earliestExpiration(legs []*models.Leg) time.Time {
	var earliest time.Time
	for _, leg := range legs {
		if earliest.IsZero() || leg.Option.Expiration.Before(earliest) {
			earliest = leg.Option.Expiration
		}
	}
	return earliest
}
