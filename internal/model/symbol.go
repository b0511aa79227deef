package model

import (
	"fmt"
	"math"
	"strings"
)

// Symbol identifies a tradable market as an ordered (base, quote) pair of currency codes.
type Symbol struct {
	Base  string
	Quote string
}

// NewSymbol creates a Symbol with upper-cased currency codes.
func NewSymbol(base, quote string) Symbol {
	return Symbol{
		Base:  strings.ToUpper(strings.TrimSpace(base)),
		Quote: strings.ToUpper(strings.TrimSpace(quote)),
	}
}

// ParseSymbol parses "BASE/QUOTE". Dashes and underscores are accepted as separators.
func ParseSymbol(s string) (Symbol, error) {
	sep := strings.IndexAny(s, "/-_")
	if sep <= 0 || sep == len(s)-1 {
		return Symbol{}, fmt.Errorf("model: invalid symbol %q", s)
	}
	sym := NewSymbol(s[:sep], s[sep+1:])
	if !sym.Valid() {
		return Symbol{}, fmt.Errorf("model: invalid symbol %q", s)
	}
	return sym, nil
}

// String returns the symbol as "BASE/QUOTE".
func (s Symbol) String() string {
	return s.Base + "/" + s.Quote
}

// Valid reports whether both currencies are set and differ.
func (s Symbol) Valid() bool {
	return s.Base != "" && s.Quote != "" && s.Base != s.Quote && !strings.ContainsAny(s.Base+s.Quote, "/-_ ")
}

// Side is the market side of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ValidPrice reports whether p is a usable quote: positive and finite.
func ValidPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}
