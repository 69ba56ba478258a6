package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/gateway/internal/model"
)

func TestEMASeedsFromAbsent(t *testing.T) {
	got := EMA(nil, 120)
	require.NotNil(t, got)
	assert.Equal(t, 120.0, *got)
}

func TestEMAFoldsWithAlpha(t *testing.T) {
	prev := 100.0
	got := EMA(&prev, 200)
	require.NotNil(t, got)
	assert.InDelta(t, 0.3*200+0.7*100, *got, 0.001)
}

func TestEMAIgnoresNaN(t *testing.T) {
	prev := 42.0
	got := EMA(&prev, nanValue())
	require.NotNil(t, got)
	assert.Equal(t, 42.0, *got)
}

func nanValue() float64 {
	var zero float64
	return zero / zero
}

func TestTrimWindowDropsStaleEntries(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	fresh := model.ResponseEntry{Timestamp: now.Add(-time.Hour).UnixMilli()}
	stale := model.ResponseEntry{Timestamp: now.Add(-48 * time.Hour).UnixMilli()}

	out := TrimWindow([]model.ResponseEntry{fresh, stale}, now, model.RetentionWindow)

	require.Len(t, out, 1)
	assert.Equal(t, fresh.Timestamp, out[0].Timestamp)
}

func TestRecomputeSeedsTokenSpeedWhenNoHistory(t *testing.T) {
	p := &model.ProviderRecord{
		Models: map[string]*model.ModelStats{
			"m1": {ID: "m1", TokenGenerationSpeed: 77},
		},
	}

	Recompute(p)

	ms := p.Models["m1"]
	require.NotNil(t, ms.AvgTokenSpeed)
	assert.Equal(t, 77.0, *ms.AvgTokenSpeed)
	assert.Nil(t, p.AvgResponseTimeMs)
}

func TestRecomputeFoldsHistoryIntoProviderAverages(t *testing.T) {
	lat := int64(40)
	p := &model.ProviderRecord{
		Models: map[string]*model.ModelStats{
			"m1": {
				ID: "m1",
				ResponseTimes: []model.ResponseEntry{
					{ResponseTimeMs: 100, ProviderLatencyMs: &lat},
					{ResponseTimeMs: 200, ProviderLatencyMs: &lat},
				},
			},
		},
	}

	Recompute(p)

	require.NotNil(t, p.AvgResponseTimeMs)
	assert.InDelta(t, 150, *p.AvgResponseTimeMs, 0.01)
	require.NotNil(t, p.AvgProviderLatencyMs)
	assert.InDelta(t, 40, *p.AvgProviderLatencyMs, 0.01)
}

func TestScoreFullMarksWhenHealthy(t *testing.T) {
	lowLatency := 10.0
	p := &model.ProviderRecord{
		AvgProviderLatencyMs: &lowLatency,
		Errors:                0,
		Models: map[string]*model.ModelStats{
			"m1": {ResponseTimes: []model.ResponseEntry{{}, {}, {}}},
		},
	}

	assert.Equal(t, 100, Score(p))
}

func TestScoreErrorSubscoreZeroWhenAllRequestsError(t *testing.T) {
	p := &model.ProviderRecord{Errors: 3}

	got := Score(p)

	assert.InDelta(t, 35, got, 1) // 0.7*50 (no latency data) + 0.3*0
}

func TestScoreClampedToRange(t *testing.T) {
	highLatency := 100000.0
	p := &model.ProviderRecord{AvgProviderLatencyMs: &highLatency, Errors: 0}

	got := Score(p)

	assert.GreaterOrEqual(t, got, 0)
	assert.LessOrEqual(t, got, 100)
}

func TestApplySuccessResetsConsecutiveErrorsAndReenables(t *testing.T) {
	p := &model.ProviderRecord{
		Disabled: true,
		Models: map[string]*model.ModelStats{
			"m1": {ID: "m1", ConsecutiveErrors: 4},
		},
	}

	ApplySuccess(p, "m1", model.ResponseEntry{ResponseTimeMs: 50})

	assert.False(t, p.Disabled)
	assert.Equal(t, 0, p.Models["m1"].ConsecutiveErrors)
	require.NotNil(t, p.ProviderScore)
}

func TestApplyFailureDisablesAtThreshold(t *testing.T) {
	p := &model.ProviderRecord{
		Models: map[string]*model.ModelStats{
			"m1": {ID: "m1", ConsecutiveErrors: model.ConsecutiveErrorDisableThreshold - 1},
		},
	}

	ApplyFailure(p, "m1")

	assert.True(t, p.Disabled)
	assert.Equal(t, model.ConsecutiveErrorDisableThreshold, p.Models["m1"].ConsecutiveErrors)
}

func TestApplyFailureDoesNotDisableBelowThreshold(t *testing.T) {
	p := &model.ProviderRecord{
		Models: map[string]*model.ModelStats{
			"m1": {ID: "m1"},
		},
	}

	ApplyFailure(p, "m1")

	assert.False(t, p.Disabled)
}
