// Package poly implements spec.md §4.3, the Tier 3 polyphonic
// detector: a 1.12s-frame, 88-key transcription model abstracted
// behind a small interface, plus the shared onset/frame decision
// policy and harmonic-suppression pass applied to any backend's
// output.
//
// The Model interface and its two implementations
// (NewFileModel/NewGoertzelFallback) mirror the teacher's
// analyzer.Analyzer interface and its NewClient/NewCPUFallback pair —
// see DESIGN.md.
package poly

import (
	"context"
	"fmt"
	"sort"

	"github.com/pianofollow/engine/internal/events"
)

// FrameSamples is the exact sample count of one Tier-3 frame: 1.12
// seconds at 16kHz.
const FrameSamples = 17920

// FrameSampleRate is the sample rate Tier 3 frames must already be at;
// callers resample via the preprocessor first.
const FrameSampleRate = 16000

// TimeSteps and Keys are the shape of the model's three output
// tensors: [T=32, 88].
const (
	TimeSteps = 32
	Keys      = 88
)

// FrameDurationSec is the wall-clock duration one Tier-3 frame covers.
const FrameDurationSec = float64(FrameSamples) / float64(FrameSampleRate)

// stepDurationSec is the wall-clock duration of one of the 32 time
// steps within a frame, ~35ms per spec.md §4.3.
const stepDurationSec = FrameDurationSec / TimeSteps

// OnsetThreshold, FrameThreshold are the decision-policy thresholds
// from spec.md §4.3.
const (
	OnsetThreshold = 0.3
	FrameThreshold = 0.2
)

// harmonicIntervals are the semitone distances from spec.md §4.3's
// harmonic-suppression rule: octave, octave+fifth, two octaves, etc.
var harmonicIntervals = map[int]bool{12: true, 19: true, 24: true, 28: true, 31: true}

// Tensors holds one inference's onset/frame/velocity outputs, each
// shaped [TimeSteps][Keys].
type Tensors struct {
	Onset    [TimeSteps][Keys]float32
	Frame    [TimeSteps][Keys]float32
	Velocity [TimeSteps][Keys]float32
}

// Model abstracts the Tier-3 backend, exactly like the teacher's
// analyzer.Analyzer abstracts a remote/native analysis backend behind
// a Go interface.
type Model interface {
	Infer(ctx context.Context, frame []float32) (Tensors, error)
	Close() error
}

// keyToMidi maps tensor key index [0,88) to a MIDI pitch [21,108].
func keyToMidi(key int) int { return key + events.MinMidiPitch }

type candidate struct {
	step      int
	midi      int
	onset     float32
	velocity  float32
}

// Decode applies spec.md §4.3's decision policy and harmonic
// suppression to one inference's tensors, producing zero or more
// NoteEvents timestamped relative to chunkStartSec.
func Decode(t Tensors, chunkStartSec float64) []events.NoteEvent {
	var candidates []candidate
	for step := 0; step < TimeSteps; step++ {
		for key := 0; key < Keys; key++ {
			onset := t.Onset[step][key]
			if onset < OnsetThreshold {
				continue
			}
			if t.Frame[step][key] < FrameThreshold {
				continue
			}
			candidates = append(candidates, candidate{
				step:     step,
				midi:     keyToMidi(key),
				onset:    onset,
				velocity: t.Velocity[step][key],
			})
		}
	}

	accepted := suppressHarmonics(candidates)

	out := make([]events.NoteEvent, 0, len(accepted))
	for _, c := range accepted {
		detectedAt := chunkStartSec + float64(c.step)*stepDurationSec
		out = append(out, events.NoteEvent{
			MidiPitch:     c.midi,
			NoteName:      events.NoteName(c.midi),
			FrequencyHz:   events.EqualTemperedFrequency(c.midi),
			Confidence:    float64(c.onset),
			Velocity:      float64(c.velocity),
			DetectedAtSec: detectedAt,
			SourceTier:    events.TierPolyphonic,
		})
	}
	return out
}

// suppressHarmonics implements spec.md §4.3's harmonic-suppression
// rule: sort candidates by confidence descending; discard a candidate
// if another, already-accepted candidate k' satisfies
// k - k' in {12,19,24,28,31} and the suppressed candidate's onset
// probability is less than 0.6 of the accepted one's.
func suppressHarmonics(candidates []candidate) []candidate {
	sorted := make([]candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].onset > sorted[j].onset
	})

	var accepted []candidate
	for _, c := range sorted {
		suppressed := false
		for _, a := range accepted {
			diff := c.midi - a.midi
			if harmonicIntervals[diff] && float64(c.onset) < 0.6*float64(a.onset) {
				suppressed = true
				break
			}
		}
		if !suppressed {
			accepted = append(accepted, c)
		}
	}
	return accepted
}

// ErrFrameSize is returned by a Model when the caller offers a frame
// of the wrong length or sample rate.
var ErrFrameSize = fmt.Errorf("poly: frame must be exactly %d samples at %dHz", FrameSamples, FrameSampleRate)
