package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSymbol(t *testing.T) {
	tests := []struct {
		raw    string
		market Market
		code   string
	}{
		{"HK.00700", MarketHK, "00700"},
		{"US.NVDA", MarketUS, "NVDA"},
		{"A.600519", MarketA, "600519"},
		{"SH.600519", MarketA, "600519"},
		{"SZ.000001", MarketA, "000001"},
		{"hk.00700", MarketHK, "00700"},
		{"00700", MarketHK, "00700"},
		{"600519", MarketA, "600519"},
		{"NVDA", MarketUS, "NVDA"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			sym, err := ParseSymbol(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.market, sym.Market)
			assert.Equal(t, tt.code, sym.Code)
		})
	}
}

func TestParseSymbolInvalid(t *testing.T) {
	for _, raw := range []string{"", "XX.00700", "HK."} {
		_, err := ParseSymbol(raw)
		require.Error(t, err, raw)
		assert.Equal(t, KindInvalidInput, KindOf(err))
	}
}

func TestClassifyInstrument(t *testing.T) {
	assert.Equal(t, InstrumentStock, ClassifyInstrument(MarketHK, "00700"))
	assert.Equal(t, InstrumentOption, ClassifyInstrument(MarketHK, "TCH260330C380000"))
	assert.Equal(t, InstrumentStock, ClassifyInstrument(MarketUS, "NVDA"))
	assert.Equal(t, InstrumentOption, ClassifyInstrument(MarketUS, "NVDA250117C150000"))
	assert.Equal(t, InstrumentStock, ClassifyInstrument(MarketA, "600519"))
}

func TestOptionPrefix(t *testing.T) {
	assert.Equal(t, "TCH", OptionPrefix("TCH260330C380000"))
	assert.Equal(t, "SMC", OptionPrefix("smc260330C90000"))
	assert.Equal(t, "NVDA", OptionPrefix("NVDA250117C150000"))
}

func TestErrorClassification(t *testing.T) {
	err := Errorf(KindTransient, "connection reset").WithSymbol("HK.00700")
	assert.True(t, IsRetryable(err))
	assert.Equal(t, KindTransient, KindOf(err))
	assert.Contains(t, err.Error(), "HK.00700")

	conflict := Errorf(KindIntegrityConflict, "unique key")
	assert.False(t, IsRetryable(conflict))
}

func TestBarValidate(t *testing.T) {
	ok := Bar{Market: MarketHK, Code: "00700", Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.Low = 12
	err := bad.Validate()
	require.Error(t, err)
	assert.Equal(t, KindInternalAssert, KindOf(err))

	neg := ok
	neg.Volume = -1
	require.Error(t, neg.Validate())
}
