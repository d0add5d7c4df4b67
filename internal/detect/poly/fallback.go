package poly

import (
	"context"

	"github.com/pianofollow/engine/internal/events"
	"github.com/pianofollow/engine/internal/pitchdsp"
)

// GoertzelFallback is the Tier-3 analogue of the teacher's
// analyzer.CPUFallback: it never fails, and produces best-effort
// results by running a Goertzel energy bank across all 88 piano-key
// fundamentals (plus their 2nd/3rd harmonics, as in Tier 2) instead of
// true model inference. router.New uses it for every Tier-3 request
// whenever no model path is configured or a FileModel bundle can't be
// loaded.
type GoertzelFallback struct{}

// NewGoertzelFallback constructs a fallback Tier-3 backend.
func NewGoertzelFallback() *GoertzelFallback { return &GoertzelFallback{} }

// Infer implements Model by scoring every key's harmonic energy within
// each of the frame's 32 time steps and reporting onset/frame
// confidence directly from the normalized score (so a miss in this
// fallback reports low, not fabricated, confidence).
func (f *GoertzelFallback) Infer(_ context.Context, frame []float32) (Tensors, error) {
	if len(frame) != FrameSamples {
		return Tensors{}, ErrFrameSize
	}

	var out Tensors
	stepSamples := FrameSamples / TimeSteps
	for t := 0; t < TimeSteps; t++ {
		start := t * stepSamples
		end := start + stepSamples
		window := frame[start:end]

		var maxScore float64
		scores := make([]float64, Keys)
		for k := 0; k < Keys; k++ {
			midi := keyToMidi(k)
			f0 := events.EqualTemperedFrequency(midi)
			s := pitchdsp.Goertzel(window, f0, FrameSampleRate) +
				0.4*pitchdsp.Goertzel(window, 2*f0, FrameSampleRate) +
				0.2*pitchdsp.Goertzel(window, 3*f0, FrameSampleRate)
			scores[k] = s
			if s > maxScore {
				maxScore = s
			}
		}
		if maxScore == 0 {
			continue
		}
		for k := 0; k < Keys; k++ {
			normalized := float32(scores[k] / maxScore)
			out.Onset[t][k] = normalized
			out.Frame[t][k] = normalized
			out.Velocity[t][k] = normalized
		}
	}
	return out, nil
}

// Close implements Model; GoertzelFallback holds no external resources.
func (f *GoertzelFallback) Close() error { return nil }
