package domain

import (
	"fmt"
	"strings"
)

// Symbol identifies a trading pair in BASE_QUOTE form, e.g. "BTC_USDT".
type Symbol string

const (
	SymbolBTCUSDT Symbol = "BTC_USDT"
	SymbolETHUSDT Symbol = "ETH_USDT"
	SymbolBTCETH  Symbol = "BTC_ETH"
)

// symbolInfo is the static metadata for a well-known symbol.
type symbolInfo struct {
	id       uint8
	exchange string
}

var knownSymbols = map[Symbol]symbolInfo{
	SymbolBTCUSDT: {id: 0, exchange: "BTCUSDT"},
	SymbolETHUSDT: {id: 1, exchange: "ETHUSDT"},
	SymbolBTCETH:  {id: 2, exchange: "BTCETH"},
}

// ParseSymbol normalises s ("btc_usdt", "BTC_USDT") and checks that it has
// the BASE_QUOTE shape.
func ParseSymbol(s string) (Symbol, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	parts := strings.Split(s, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("%w: symbol %q is not BASE_QUOTE", ErrValidation, s)
	}
	return Symbol(s), nil
}

// SymbolFromExchange maps an exchange symbol ("BTCUSDT") back to its Symbol.
// Only the well-known table is consulted since the split point is ambiguous.
func SymbolFromExchange(name string) (Symbol, bool) {
	name = strings.ToUpper(name)
	for sym, info := range knownSymbols {
		if info.exchange == name {
			return sym, true
		}
	}
	return "", false
}

// SymbolFromID returns the symbol registered under a wire id.
func SymbolFromID(id uint8) (Symbol, bool) {
	for sym, info := range knownSymbols {
		if info.id == id {
			return sym, true
		}
	}
	return "", false
}

// String implements fmt.Stringer.
func (s Symbol) String() string { return string(s) }

// Exchange returns the exchange-side name of the symbol ("BTCUSDT").
func (s Symbol) Exchange() string {
	if info, ok := knownSymbols[s]; ok {
		return info.exchange
	}
	return strings.ReplaceAll(string(s), "_", "")
}

// StreamName returns the lower-case name used in websocket stream paths.
func (s Symbol) StreamName() string {
	return strings.ToLower(s.Exchange())
}

// BaseAsset returns the asset whose balance backs the symbol (BTC for BTC_USDT).
func (s Symbol) BaseAsset() string {
	base, _, _ := strings.Cut(string(s), "_")
	return base
}

// ID returns the wire id of a well-known symbol.
func (s Symbol) ID() (uint8, bool) {
	info, ok := knownSymbols[s]
	return info.id, ok
}

// Ordinal is a stable small integer derived from the symbol identity. Known
// symbols use their wire id; others hash into a range above them.
func (s Symbol) Ordinal() int {
	if info, ok := knownSymbols[s]; ok {
		return int(info.id)
	}
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return len(knownSymbols) + int(h%64)
}
