package strategy

import (
	"github.com/eddiefleurent/schrute_ledger/internal/models"
)

// Classify assigns a strategy label to a set of legs. Checks run in strict
// priority order and the first match wins. Classification only labels; it
// never excludes a position from being returned.
func Classify(legs []*models.Leg) models.Strategy {
	switch len(legs) {
	case 4:
		if isIronButterfly(legs) {
			return models.StrategyIronButterfly
		}
		if isIronCondor(legs) {
			return models.StrategyIronCondor
		}
	case 2:
		a, b := legs[0], legs[1]
		sameType := a.Option.Type == b.Option.Type
		sameStrike := a.Option.StrikeThousandths == b.Option.StrikeThousandths
		switch {
		case sameType && !sameStrike:
			return models.StrategyVerticalSpread
		case !sameType && sameStrike:
			return models.StrategyStraddle
		case !sameType && !sameStrike:
			return models.StrategyStrangle
		}
	}
	return models.StrategyOptions
}

// fourLegShape picks out the long/short put and call of a 4-leg group.
// Returns false unless the group is exactly 2 calls + 2 puts with one long
// and one short on each side.
func fourLegShape(legs []*models.Leg) (longPut, shortPut, shortCall, longCall *models.Leg, ok bool) {
	for _, leg := range legs {
		switch {
		case leg.Option.Type == models.OptionTypePut && leg.Direction == models.LegLong:
			if longPut != nil {
				return nil, nil, nil, nil, false
			}
			longPut = leg
		case leg.Option.Type == models.OptionTypePut && leg.Direction == models.LegShort:
			if shortPut != nil {
				return nil, nil, nil, nil, false
			}
			shortPut = leg
		case leg.Option.Type == models.OptionTypeCall && leg.Direction == models.LegShort:
			if shortCall != nil {
				return nil, nil, nil, nil, false
			}
			shortCall = leg
		case leg.Option.Type == models.OptionTypeCall && leg.Direction == models.LegLong:
			if longCall != nil {
				return nil, nil, nil, nil, false
			}
			longCall = leg
		}
	}
	if longPut == nil || shortPut == nil || shortCall == nil || longCall == nil {
		return nil, nil, nil, nil, false
	}
	return longPut, shortPut, shortCall, longCall, true
}

// isIronButterfly: short put and short call share a strike, with wings
// symmetric around the body.
func isIronButterfly(legs []*models.Leg) bool {
	longPut, shortPut, shortCall, longCall, ok := fourLegShape(legs)
	if !ok {
		return false
	}
	if shortPut.Option.StrikeThousandths != shortCall.Option.StrikeThousandths {
		return false
	}
	lowerWing := shortPut.Option.StrikeThousandths - longPut.Option.StrikeThousandths
	upperWing := longCall.Option.StrikeThousandths - shortCall.Option.StrikeThousandths
	return lowerWing > 0 && lowerWing == upperWing
}

// isIronCondor: strikes strictly ordered long put < short put < short call
// < long call.
func isIronCondor(legs []*models.Leg) bool {
	longPut, shortPut, shortCall, longCall, ok := fourLegShape(legs)
	if !ok {
		return false
	}
	return longPut.Option.StrikeThousandths < shortPut.Option.StrikeThousandths &&
		shortPut.Option.StrikeThousandths < shortCall.Option.StrikeThousandths &&
		shortCall.Option.StrikeThousandths < longCall.Option.StrikeThousandths
}
