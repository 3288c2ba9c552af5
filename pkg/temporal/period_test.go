package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimatePeriod(t *testing.T) {
	tests := []struct {
		name       string
		timestamps []float64
		want       float64
		ok         bool
	}{
		{"empty", nil, 0, false},
		{"single timestamp", []float64{100}, 0, false},
		{"two timestamps", []float64{0, 10}, 10, true},
		{"hourly", []float64{0, 3600, 7200}, 3600, true},
		{"recent gaps weigh more", []float64{0, 10, 30}, 18, true},
		{"only the last six timestamps count", []float64{0, 1000, 1010, 1020, 1030, 1040, 1050}, 10, true},
		{"gaps are absolute", []float64{30, 10, 0}, 12, true},
		{"identical timestamps", []float64{5, 5, 5}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := EstimatePeriod(tt.timestamps, DefaultConfig())
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestAnalyze_OutlierDropped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StddevFactor = 1

	a, ok := Analyze([]float64{1, 3, 5, 7, 20}, cfg)
	require.True(t, ok)

	assert.Equal(t, []float64{13, 2, 2, 2}, a.Gaps)
	assert.Equal(t, []bool{false, true, true, true}, a.Kept)
	assert.InDelta(t, 4.75, a.Mean, 1e-9)
	assert.False(t, a.Fallback)
	assert.InDelta(t, 2.0, a.Period, 1e-9)
}

func TestAnalyze_DefaultFactorKeepsSingleOutlier(t *testing.T) {
	a, ok := Analyze([]float64{0, 10, 20, 30, 40, 1000}, DefaultConfig())
	require.True(t, ok)
	assert.Equal(t, []bool{true, true, true, true, true}, a.Kept)
}

func TestAnalyze_AllGapsFilteredFallsBackToMean(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StddevFactor = -10

	a, ok := Analyze([]float64{0, 20, 30}, cfg)
	require.True(t, ok)

	assert.Equal(t, []float64{10, 20}, a.Gaps)
	assert.Equal(t, []bool{false, false}, a.Kept)
	assert.True(t, a.Fallback)
	assert.InDelta(t, 15.0, a.Period, 1e-9)

	period, ok := EstimatePeriod([]float64{0, 20, 30}, cfg)
	require.True(t, ok)
	assert.InDelta(t, 15.0, period, 1e-9)
}

func TestConfigBounds(t *testing.T) {
	cfg := Config{MinIntervals: 3, MaxIntervals: 5, StddevFactor: 2}
	_, ok := EstimatePeriod([]float64{0, 1, 2}, cfg)
	assert.False(t, ok, "needs MinIntervals+1 timestamps")

	_, ok = EstimatePeriod([]float64{0, 1, 2, 3}, cfg)
	assert.True(t, ok)

	// Zero values are lifted to a usable minimum
	period, ok := EstimatePeriod([]float64{0, 50, 60}, Config{})
	require.True(t, ok)
	assert.InDelta(t, 10.0, period, 1e-9, "one gap considered")
}
