// Package stats implements the gateway's statistics engine: pure functions
// over provider/model records with no I/O. The router calls these
// after every upstream attempt, and calls TrimProviderWindows at the start
// of every request.
package stats

import (
	"math"
	"time"

	"github.com/relaygate/gateway/internal/model"
)

const (
	emaAlpha = 0.3

	latencyScoreFloorMs    = 50
	latencyScoreCeilMs     = 5000
	latencyScoreWeight     = 0.7
	errorScoreWeight       = 0.3
)

// EMA folds x into the previous EMA value. A nil prev means "absent" and
// seeds the result with x. NaN values leave prev unchanged (seeding from NaN
// also leaves the result absent — NaN samples are ignored entirely).
func EMA(prev *float64, x float64) *float64 {
	if math.IsNaN(x) {
		return prev
	}
	var next float64
	if prev == nil {
		next = x
	} else {
		next = emaAlpha*x + (1-emaAlpha)*(*prev)
	}
	next = round2(next)
	return &next
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// TrimWindow removes response entries older than window, evaluated against
// now. Called at the start of every request.
func TrimWindow(entries []model.ResponseEntry, now time.Time, window time.Duration) []model.ResponseEntry {
	cutoff := now.Add(-window).UnixMilli()
	out := entries[:0:0]
	for _, e := range entries {
		if e.Timestamp >= cutoff {
			out = append(out, e)
		}
	}
	return out
}

// TrimProviderWindows trims every ModelStats.ResponseTimes slice on p in place.
func TrimProviderWindows(p *model.ProviderRecord, now time.Time) {
	for _, ms := range p.Models {
		ms.ResponseTimes = TrimWindow(ms.ResponseTimes, now, model.RetentionWindow)
	}
}

// Recompute resets and refolds every EMA on p from its ResponseTimes
// history. Call after appending/erroring a ResponseEntry and before Score.
func Recompute(p *model.ProviderRecord) {
	var sumResp, sumLatency float64
	var nResp, nLatency int

	for _, ms := range p.Models {
		ms.AvgResponseTimeMs = nil
		ms.AvgProviderLatencyMs = nil
		ms.AvgTokenSpeed = nil

		hasAny := false
		for _, e := range ms.ResponseTimes {
			hasAny = true
			ms.AvgResponseTimeMs = EMA(ms.AvgResponseTimeMs, float64(e.ResponseTimeMs))
			sumResp += float64(e.ResponseTimeMs)
			nResp++

			if e.ProviderLatencyMs != nil {
				lat := float64(*e.ProviderLatencyMs)
				ms.AvgProviderLatencyMs = EMA(ms.AvgProviderLatencyMs, lat)
				sumLatency += lat
				nLatency++
			}
			if e.ObservedSpeedTps != nil {
				ms.AvgTokenSpeed = EMA(ms.AvgTokenSpeed, *e.ObservedSpeedTps)
			}
		}
		if !hasAny {
			seed := ms.TokenGenerationSpeed
			ms.AvgTokenSpeed = &seed
		}
	}

	p.AvgResponseTimeMs = nil
	p.AvgProviderLatencyMs = nil
	if nResp > 0 {
		mean := sumResp / float64(nResp)
		v := round2(mean)
		p.AvgResponseTimeMs = &v
	}
	if nLatency > 0 {
		mean := sumLatency / float64(nLatency)
		v := round2(mean)
		p.AvgProviderLatencyMs = &v
	}
}

// Score computes the 0-100 composite provider score.
func Score(p *model.ProviderRecord) int {
	latencyScore := 50.0
	if p.AvgProviderLatencyMs != nil {
		latencyScore = latencySubscore(*p.AvgProviderLatencyMs)
	}

	errorScore := errorSubscore(p.Errors, totalRequests(p))

	wLat, wErr := latencyScoreWeight, errorScoreWeight
	sum := wLat + wErr
	if sum != 1 {
		wLat /= sum
		wErr /= sum
	}

	combined := wLat*latencyScore + wErr*errorScore
	rounded := int(math.Round(combined))
	if rounded < 0 {
		rounded = 0
	}
	if rounded > 100 {
		rounded = 100
	}
	return rounded
}

func latencySubscore(avgLatencyMs float64) float64 {
	if avgLatencyMs <= latencyScoreFloorMs {
		return 100
	}
	if avgLatencyMs >= latencyScoreCeilMs {
		return 0
	}
	frac := (avgLatencyMs - latencyScoreFloorMs) / (latencyScoreCeilMs - latencyScoreFloorMs)
	return 100 * (1 - frac)
}

func errorSubscore(errors int64, total int64) float64 {
	if total == 0 {
		if errors > 0 {
			return 0
		}
		return 100
	}
	ratio := float64(errors) / float64(total)
	if ratio > 1 {
		ratio = 1
	}
	return 100 * (1 - ratio)
}

// totalRequests approximates the denominator for the error sub-score as
// successful responses recorded across all models plus the provider's error
// count. No separate request counter is persisted, so the count of
// retained ResponseEntries doubles as the success count.
func totalRequests(p *model.ProviderRecord) int64 {
	var n int64
	for _, ms := range p.Models {
		n += int64(len(ms.ResponseTimes))
	}
	return n + p.Errors
}

// ApplySuccess folds one successful ResponseEntry into p's model m, resets
// consecutive errors, re-enables the provider, recomputes EMAs and score.
func ApplySuccess(p *model.ProviderRecord, modelID string, entry model.ResponseEntry) {
	ms := p.Models[modelID]
	if ms == nil {
		return
	}
	ms.ResponseTimes = append(ms.ResponseTimes, entry)
	ms.ConsecutiveErrors = 0
	p.Disabled = false

	Recompute(p)
	score := Score(p)
	p.ProviderScore = &score
}

// ApplyFailure increments error counters for p's model m, applies the
// disable rule at the consecutive-error threshold, recomputes, and scores.
func ApplyFailure(p *model.ProviderRecord, modelID string) {
	ms := p.Models[modelID]
	if ms == nil {
		return
	}
	ms.Errors++
	ms.ConsecutiveErrors++
	p.Errors++

	if ms.ConsecutiveErrors >= model.ConsecutiveErrorDisableThreshold {
		p.Disabled = true
	}

	Recompute(p)
	score := Score(p)
	p.ProviderScore = &score
}
