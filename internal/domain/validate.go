package domain

import (
	"math"
	"strings"
)

// maxSymbolLen bounds ticker length; longer inputs are almost always garbage.
const maxSymbolLen = 16

// ValidateSymbol accepts upper-case tickers made of letters, digits, '.',
// '-' and '/'. The reserved short suffix is refused.
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return Validation("symbol", "must not be empty")
	}
	if len(symbol) > maxSymbolLen {
		return Validation("symbol", "%q longer than %d characters", symbol, maxSymbolLen)
	}
	if strings.HasSuffix(symbol, shortSuffix) {
		return Validation("symbol", "%q uses the reserved %s suffix", symbol, shortSuffix)
	}
	for _, r := range symbol {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '/':
		default:
			return Validation("symbol", "%q contains invalid character %q", symbol, r)
		}
	}
	return nil
}

// ValidatePrice requires a finite, strictly positive price.
func ValidatePrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return Validation("price", "must be a positive finite number, got %v", price)
	}
	return nil
}

// ValidateShares requires a strictly positive share count.
func ValidateShares(shares int64) error {
	if shares <= 0 {
		return Validation("shares", "must be positive, got %d", shares)
	}
	return nil
}
