package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelKind(t *testing.T) {
	assert.Equal(t, "book", ChannelKind("book:BTC_USDT"))
	assert.Equal(t, "signal", ChannelKind("signal"))
	assert.Equal(t, "", ChannelKind(":x"))
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	assert.Error(t, Register(reg))
}
