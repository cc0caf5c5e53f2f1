// Package models defines the core data structures for reconstructed option
// positions: parsed option symbols, legs, positions, and price quotes.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OptionType represents the type of option contract.
type OptionType string

const (
	// OptionTypeCall represents a call option contract
	OptionTypeCall OptionType = "call"
	// OptionTypePut represents a put option contract
	OptionTypePut OptionType = "put"
)

// MalformedSymbolError is returned when a string cannot be decoded as an
// OPRA-format option symbol. It is the caller's fault and is never retried.
type MalformedSymbolError struct {
	Symbol string
	Reason string
}

func (e *MalformedSymbolError) Error() string {
	return fmt.Sprintf("malformed option symbol %q: %s", e.Symbol, e.Reason)
}

// OptionSymbol is a parsed OPRA-format option symbol.
// Format: TICKER[YYMMDD][C/P][STRIKE*1000 padded to 8 digits]
// Example: SPY240315C00610000 -> SPY call, 2024-03-15, strike 610.00
type OptionSymbol struct {
	Underlying string     `json:"underlying"`
	Expiration time.Time  `json:"expiration"`
	Type       OptionType `json:"type"`
	// StrikeThousandths carries the strike in thousandths of a dollar so the
	// encoded form round-trips exactly.
	StrikeThousandths int64 `json:"strike_thousandths"`
}

// Strike returns the strike price in dollars.
func (o OptionSymbol) Strike() float64 {
	return float64(o.StrikeThousandths) / 1000
}

// String encodes the symbol back to its canonical OPRA form. For every valid
// input s, ParseOptionSymbol(s).String() == strings.ToUpper(s).
func (o OptionSymbol) String() string {
	typeChar := "C"
	if o.Type == OptionTypePut {
		typeChar = "P"
	}
	return fmt.Sprintf("%s%s%s%08d", o.Underlying, o.Expiration.Format("060102"), typeChar, o.StrikeThousandths)
}

// NewOptionSymbol builds an OptionSymbol from its components, rounding the
// strike to the nearest thousandth of a dollar.
func NewOptionSymbol(underlying string, expiration time.Time, optionType OptionType, strike float64) OptionSymbol {
	return OptionSymbol{
		Underlying:        strings.ToUpper(underlying),
		Expiration:        expiration.UTC().Truncate(24 * time.Hour),
		Type:              optionType,
		StrikeThousandths: int64(strike*1000 + 0.5),
	}
}

// ParseOptionSymbol decodes an OPRA format option symbol.
// Input is case-insensitive; the parsed result is canonicalized to uppercase.
// Any string not matching the exact shape fails with *MalformedSymbolError.
func ParseOptionSymbol(symbol string) (OptionSymbol, error) {
	u := strings.ToUpper(strings.TrimSpace(symbol))

	if len(u) < 15 {
		return OptionSymbol{}, &MalformedSymbolError{Symbol: symbol, Reason: "too short"}
	}

	// Greedy match of 1-6 leading letters; the run stops at the first digit
	// of the YYMMDD expiration.
	i := 0
	for i < len(u) && u[i] >= 'A' && u[i] <= 'Z' {
		i++
	}
	if i < 1 || i > 6 {
		return OptionSymbol{}, &MalformedSymbolError{Symbol: symbol, Reason: "underlying must be 1-6 letters"}
	}

	rest := u[i:]
	if len(rest) != 15 {
		return OptionSymbol{}, &MalformedSymbolError{
			Symbol: symbol,
			Reason: "expected 6-digit date, option type, and 8-digit strike after underlying",
		}
	}

	dateStr, typeChar, strikeStr := rest[:6], rest[6], rest[7:]
	if !isAllDigits(dateStr) {
		return OptionSymbol{}, &MalformedSymbolError{Symbol: symbol, Reason: "expiration date must be 6 digits (YYMMDD)"}
	}
	if !isAllDigits(strikeStr) {
		return OptionSymbol{}, &MalformedSymbolError{Symbol: symbol, Reason: "strike must be 8 digits"}
	}

	var optionType OptionType
	switch typeChar {
	case 'C':
		optionType = OptionTypeCall
	case 'P':
		optionType = OptionTypePut
	default:
		return OptionSymbol{}, &MalformedSymbolError{
			Symbol: symbol,
			Reason: fmt.Sprintf("option type must be C or P, got %q", string(typeChar)),
		}
	}

	year, _ := strconv.Atoi(dateStr[0:2])
	month, _ := strconv.Atoi(dateStr[2:4])
	day, _ := strconv.Atoi(dateStr[4:6])
	if month < 1 || month > 12 {
		return OptionSymbol{}, &MalformedSymbolError{Symbol: symbol, Reason: fmt.Sprintf("invalid month %02d", month)}
	}
	expiration := time.Date(2000+year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if expiration.Day() != day || int(expiration.Month()) != month {
		return OptionSymbol{}, &MalformedSymbolError{Symbol: symbol, Reason: fmt.Sprintf("invalid day %02d for month %02d", day, month)}
	}

	strikeThousandths, err := strconv.ParseInt(strikeStr, 10, 64)
	if err != nil {
		return OptionSymbol{}, &MalformedSymbolError{Symbol: symbol, Reason: "strike is not numeric"}
	}
	if strikeThousandths <= 0 {
		return OptionSymbol{}, &MalformedSymbolError{Symbol: symbol, Reason: "strike must be positive"}
	}

	return OptionSymbol{
		Underlying:        u[:i],
		Expiration:        expiration,
		Type:              optionType,
		StrikeThousandths: strikeThousandths,
	}, nil
}

// IsOptionSymbol reports whether s decodes as a valid option symbol.
// Equity symbols (plain tickers) return false.
func IsOptionSymbol(s string) bool {
	_, err := ParseOptionSymbol(s)
	return err == nil
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
