// Package yin implements spec.md §4.2, the Tier 1 monophonic
// fundamental-frequency detector: the YIN difference function, its
// cumulative mean normalized variant, parabolic interpolation,
// octave disambiguation, and a low-frequency spectral guard.
package yin

import (
	"math"

	"github.com/pianofollow/engine/internal/events"
	"github.com/pianofollow/engine/internal/pitchdsp"
)

// RecommendedWindow is the sample count spec.md §4.2 recommends at
// 44.1kHz.
const RecommendedWindow = 3072

// ConfidenceGate is the minimum (1 - cmnd_min) required to emit a
// NoteEvent at all, per spec.md §4.2 step 7.
const ConfidenceGate = 0.75

// AbsoluteThreshold is the cmnd threshold used by the first-minimum
// search, per spec.md §4.2 step 3.
const AbsoluteThreshold = 0.20

// FallbackVelocity is returned for every monophonic NoteEvent since
// Tier 1 has no independent velocity estimate, per spec.md §3.
const FallbackVelocity = 0.5

// Detect runs the YIN algorithm over one window of samples at
// sampleRate, returning at most one NoteEvent. detectedAtSec is the
// wall-clock timestamp to stamp onto the emitted event.
//
// A nil, nil result (no error, no event) means "transient detection
// failure" per spec.md §7 — insufficient signal or low confidence —
// and is not an error.
func Detect(samples []float32, sampleRate int, detectedAtSec float64) (*events.NoteEvent, error) {
	n := len(samples)
	if n < 4 || sampleRate <= 0 {
		return nil, nil
	}

	tauMax := n / 2
	if limit := sampleRate / 50; limit < tauMax {
		tauMax = limit
	}
	if tauMax < 2 {
		return nil, nil
	}

	d := differenceFunction(samples, tauMax)
	cmnd := cumulativeMeanNormalizedDifference(d)

	tau, found := firstMinimum(cmnd, AbsoluteThreshold)
	if !found {
		tau = globalMinimumInRange(cmnd, sampleRate/2000, sampleRate/80)
	}
	if tau <= 0 {
		return nil, nil
	}

	tauStar := parabolicInterpolate(cmnd, tau)
	if tauStar <= 0 {
		return nil, nil
	}

	f0 := float64(sampleRate) / tauStar
	bestFreq, bestCmnd, ok := disambiguateOctave(cmnd, tauStar, f0)
	if !ok {
		return nil, nil
	}

	finalFreq, ok := lowFrequencyGuard(bestFreq, samples, sampleRate)
	if !ok {
		return nil, nil
	}

	confidence := 1 - bestCmnd
	if confidence < ConfidenceGate {
		return nil, nil
	}

	midiPitch := int(math.Round(69 + 12*math.Log2(finalFreq/440.0)))
	if midiPitch < events.MinMidiPitch || midiPitch > events.MaxMidiPitch {
		return nil, nil
	}

	return &events.NoteEvent{
		MidiPitch:     midiPitch,
		NoteName:      events.NoteName(midiPitch),
		FrequencyHz:   finalFreq,
		Confidence:    confidence,
		Velocity:      FallbackVelocity,
		DetectedAtSec: detectedAtSec,
		SourceTier:    events.TierMonophonic,
	}, nil
}

// differenceFunction computes spec.md §4.2 step 1:
// d[tau] = sum_i (x[i] - x[i+tau])^2 for tau in [0, tauMax].
func differenceFunction(x []float32, tauMax int) []float64 {
	n := len(x)
	d := make([]float64, tauMax+1)
	for tau := 0; tau <= tauMax; tau++ {
		var sum float64
		limit := n - tau
		for i := 0; i < limit; i++ {
			diff := float64(x[i]) - float64(x[i+tau])
			sum += diff * diff
		}
		d[tau] = sum
	}
	return d
}

// cumulativeMeanNormalizedDifference computes spec.md §4.2 step 2:
// cmnd[0] = 1, cmnd[tau] = d[tau] * tau / sum_{k<=tau} d[k].
func cumulativeMeanNormalizedDifference(d []float64) []float64 {
	cmnd := make([]float64, len(d))
	cmnd[0] = 1
	runningSum := 0.0
	for tau := 1; tau < len(d); tau++ {
		runningSum += d[tau]
		if runningSum == 0 {
			cmnd[tau] = 1
			continue
		}
		cmnd[tau] = d[tau] * float64(tau) / runningSum
	}
	return cmnd
}

// firstMinimum implements spec.md §4.2 step 3's first-minimum search:
// find the smallest tau with cmnd[tau] < threshold, then walk forward
// while cmnd keeps decreasing.
func firstMinimum(cmnd []float64, threshold float64) (tau int, found bool) {
	for t := 2; t < len(cmnd); t++ {
		if cmnd[t] < threshold {
			for t+1 < len(cmnd) && cmnd[t+1] < cmnd[t] {
				t++
			}
			return t, true
		}
	}
	return 0, false
}

// globalMinimumInRange is the step-3 fallback: the global minimum over
// tau in [lo, hi].
func globalMinimumInRange(cmnd []float64, lo, hi int) int {
	if lo < 2 {
		lo = 2
	}
	if hi >= len(cmnd) {
		hi = len(cmnd) - 1
	}
	if lo > hi {
		return 0
	}
	best := lo
	for t := lo + 1; t <= hi; t++ {
		if cmnd[t] < cmnd[best] {
			best = t
		}
	}
	return best
}

// parabolicInterpolate refines an integer tau to a sub-sample tau*
// using its two neighbours, per spec.md §4.2 step 4.
func parabolicInterpolate(cmnd []float64, tau int) float64 {
	if tau <= 0 || tau >= len(cmnd)-1 {
		return float64(tau)
	}
	s0, s1, s2 := cmnd[tau-1], cmnd[tau], cmnd[tau+1]
	denom := 2*s1 - s2 - s0
	if denom == 0 {
		return float64(tau)
	}
	shift := 0.5 * (s0 - s2) / denom
	return float64(tau) + shift
}

// freqPreference is the fixed piecewise preference curve from spec.md
// §4.2 step 5: it peaks in ~[200,600]Hz and falls off sharply below
// 130Hz.
func freqPreference(freqHz float64) float64 {
	switch {
	case freqHz < 80:
		return 0.0
	case freqHz < 130:
		return 0.2 * (freqHz - 80) / 50
	case freqHz < 200:
		return 0.2 + 0.8*(freqHz-130)/70
	case freqHz <= 600:
		return 1.0
	case freqHz <= 2000:
		return 1.0 - 0.5*(freqHz-600)/1400
	default:
		return 0.5
	}
}

// disambiguateOctave implements spec.md §4.2 step 5: evaluate
// tau*, tau*/2, tau*/4, tau*/8 as octave candidates and pick the
// highest-scoring one whose cmnd is under threshold and whose
// frequency is in [130, 4500]Hz.
func disambiguateOctave(cmnd []float64, tauStar, f0 float64) (freq float64, cmndAtTau float64, ok bool) {
	type candidate struct {
		tau        float64
		multiplier float64
	}
	candidates := []candidate{
		{tauStar, 1},
		{tauStar / 2, 2},
		{tauStar / 4, 4},
		{tauStar / 8, 8},
	}

	bestScore := math.Inf(-1)
	found := false
	for _, c := range candidates {
		if c.tau < 1 {
			continue
		}
		freqCandidate := f0 * c.multiplier
		if freqCandidate < 130 || freqCandidate > 4500 {
			continue
		}
		idx := int(math.Round(c.tau))
		if idx < 0 || idx >= len(cmnd) {
			continue
		}
		cv := cmnd[idx]
		if cv >= AbsoluteThreshold {
			continue
		}
		score := 0.4*(1-cv) + 0.5*freqPreference(freqCandidate) + 0.1*math.Log2(c.multiplier)
		if score > bestScore {
			bestScore = score
			freq = freqCandidate
			cmndAtTau = cv
			found = true
		}
	}
	return freq, cmndAtTau, found
}

// lowFrequencyGuard implements spec.md §4.2 step 6: if the winner is in
// [32,130)Hz, verify against an octave-up spectral-energy test and
// shift up if warranted; reject if the result is still below 130Hz.
func lowFrequencyGuard(freq float64, samples []float32, sampleRate int) (float64, bool) {
	if freq >= 130 {
		return freq, true
	}
	if freq < 32 {
		return 0, false
	}
	lowerMag := pitchdsp.Goertzel(samples, freq, sampleRate)
	upperMag := pitchdsp.Goertzel(samples, freq*2, sampleRate)
	if lowerMag > 0 && upperMag >= 0.2*lowerMag {
		freq *= 2
	}
	if freq < 130 {
		return 0, false
	}
	return freq, true
}
