package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolMapping(t *testing.T) {
	cases := []struct {
		sym      Symbol
		exchange string
		base     string
		id       uint8
	}{
		{SymbolBTCUSDT, "BTCUSDT", "BTC", 0},
		{SymbolETHUSDT, "ETHUSDT", "ETH", 1},
		{SymbolBTCETH, "BTCETH", "BTC", 2},
	}
	for _, tc := range cases {
		t.Run(string(tc.sym), func(t *testing.T) {
			assert.Equal(t, tc.exchange, tc.sym.Exchange())
			assert.Equal(t, tc.base, tc.sym.BaseAsset())
			id, ok := tc.sym.ID()
			require.True(t, ok)
			assert.Equal(t, tc.id, id)

			back, ok := SymbolFromExchange(tc.exchange)
			require.True(t, ok)
			assert.Equal(t, tc.sym, back)

			byID, ok := SymbolFromID(tc.id)
			require.True(t, ok)
			assert.Equal(t, tc.sym, byID)
		})
	}
}

func TestParseSymbol(t *testing.T) {
	s, err := ParseSymbol(" sol_usdt ")
	require.NoError(t, err)
	assert.Equal(t, Symbol("SOL_USDT"), s)
	assert.Equal(t, "SOLUSDT", s.Exchange())
	assert.Equal(t, "solusdt", s.StreamName())
	assert.Equal(t, "SOL", s.BaseAsset())

	_, ok := s.ID()
	assert.False(t, ok)
	assert.Equal(t, s.Ordinal(), s.Ordinal())
	assert.GreaterOrEqual(t, s.Ordinal(), 3)

	_, err = ParseSymbol("BTCUSDT")
	assert.ErrorIs(t, err, ErrValidation)
}
