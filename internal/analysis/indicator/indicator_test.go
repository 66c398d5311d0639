package indicator

import (
	"testing"

	"quorum/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rising(n int) []market.Candle {
	out := make([]market.Candle, n)
	price := 100.0
	for i := range out {
		out[i] = market.Candle{
			OpenTime:  int64(i) * 3_600_000,
			CloseTime: int64(i+1)*3_600_000 - 1,
			Open:      price,
			High:      price * 1.01,
			Low:       price * 0.995,
			Close:     price * 1.005,
			Volume:    1000,
		}
		price *= 1.005
	}
	return out
}

func TestCompute_UptrendDigest(t *testing.T) {
	d, err := Compute("BTC/USDT", "4h", rising(120), Settings{})
	require.NoError(t, err)
	assert.Equal(t, 120, d.Count)
	assert.Equal(t, "above", d.EMAFast.State)
	assert.Equal(t, "above", d.EMASlow.State)
	assert.Equal(t, "overbought", d.RSI.State)
	assert.Greater(t, d.ChangePct, 0.0)
	assert.Contains(t, d.Line(), "BTC/USDT[4h]")
	assert.Nil(t, d.CVD)
}

func TestCompute_CVDWhenTakerFlowPresent(t *testing.T) {
	candles := rising(60)
	for i := range candles {
		candles[i].TakerBuyVolume = 300
	}
	d, err := Compute("BTC/USDT", "1h", candles, Settings{})
	require.NoError(t, err)
	require.NotNil(t, d.CVD)
	assert.Equal(t, "bearish", d.CVD.Divergence)
	assert.Contains(t, d.Line(), "cvd=0.00(bearish,none)")
}

func TestCompute_RejectsShortSeries(t *testing.T) {
	_, err := Compute("BTC/USDT", "4h", rising(5), Settings{})
	assert.Error(t, err)

	_, err = Compute("BTC/USDT", "4h", nil, Settings{})
	assert.Error(t, err)
}
