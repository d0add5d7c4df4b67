// Package verify implements spec.md §4.4, the Tier 2 verification
// detector: given a window and a non-empty expected MIDI-pitch set,
// return a single match/no-match verdict with confidence.
package verify

import (
	"fmt"
	"math"

	"github.com/pianofollow/engine/internal/events"
	"github.com/pianofollow/engine/internal/pitchdsp"
)

// AcceptanceRatio is rho from spec.md §4.4: a pitch is accepted when
// its score is at least rho * max_k s_k.
const AcceptanceRatio = 0.35

// Result is the verdict returned by Verify.
type Result struct {
	Match      bool
	Confidence float64
}

// Verify implements spec.md §4.4's per-pitch Goertzel scoring:
// s_k = mag(f_k) + 0.4*mag(2f_k) + 0.2*mag(3f_k), matched when at
// least ceil(|expected|*2/3) pitches clear rho*max_k s_k.
func Verify(samples []float32, sampleRate int, expectedMidiPitches []int) (Result, error) {
	if len(expectedMidiPitches) == 0 {
		return Result{}, fmt.Errorf("verify: expected pitch set must not be empty")
	}

	scores := make([]float64, len(expectedMidiPitches))
	maxScore := 0.0
	for i, pitch := range expectedMidiPitches {
		f0 := events.EqualTemperedFrequency(pitch)
		s := pitchdsp.Goertzel(samples, f0, sampleRate) +
			0.4*pitchdsp.Goertzel(samples, 2*f0, sampleRate) +
			0.2*pitchdsp.Goertzel(samples, 3*f0, sampleRate)
		scores[i] = s
		if s > maxScore {
			maxScore = s
		}
	}

	if maxScore == 0 {
		return Result{Match: false, Confidence: 0}, nil
	}

	threshold := AcceptanceRatio * maxScore
	accepted := 0
	var acceptedSum float64
	for _, s := range scores {
		if s >= threshold {
			accepted++
			acceptedSum += s
		}
	}

	needed := int(math.Ceil(float64(len(expectedMidiPitches)) * 2.0 / 3.0))
	match := accepted >= needed

	confidence := 0.0
	if accepted > 0 {
		confidence = (acceptedSum / float64(accepted)) / maxScore
	}

	return Result{Match: match, Confidence: confidence}, nil
}
