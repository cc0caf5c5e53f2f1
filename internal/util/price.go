// Package util holds small price arithmetic helpers shared across packages.
package util

import "math"

// RoundToTick snaps a price to the nearest multiple of tick. A non-positive
// tick leaves the price untouched.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}
