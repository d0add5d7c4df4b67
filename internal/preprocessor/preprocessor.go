// Package preprocessor implements spec.md §4.1: framing, RMS-based
// silence detection, optional Hann windowing, and band-limited
// resampling to a detector's expected sample rate.
package preprocessor

import (
	"fmt"

	"github.com/pianofollow/engine/internal/events"
	"github.com/pianofollow/engine/internal/pitchdsp"
)

// Frame is one chunk of processed audio handed to a detector. Silence
// carries no samples for the detector to consume — it is not an error,
// it is a transient "nothing happened" result per spec.md §7.
type Frame struct {
	Samples    []float32
	SampleRate int
	Silence    bool
}

// Options controls how Process treats one incoming chunk.
type Options struct {
	DetectorRate int  // target sample rate the consumer expects
	ApplyWindow  bool // Hann-window the frame before handing it off
}

// Process frames one chunk of raw samples at sourceRate into a Frame at
// opts.DetectorRate, per spec.md §4.1.
//
// Fails with events.ErrSampleRateMismatch-wrapping error if resampling
// is requested at a ratio outside [0.25, 4].
func Process(samples []float32, sourceRate int, opts Options) (Frame, error) {
	if pitchdsp.RMS(samples) < pitchdsp.SilenceRMSThreshold {
		return Frame{SampleRate: opts.DetectorRate, Silence: true}, nil
	}

	out := samples
	rate := sourceRate
	if opts.DetectorRate != 0 && opts.DetectorRate != sourceRate {
		resampled, ok := pitchdsp.Resample(samples, sourceRate, opts.DetectorRate)
		if !ok {
			return Frame{}, fmt.Errorf("resample %dHz->%dHz: %w", sourceRate, opts.DetectorRate, events.ErrSampleRateMismatch)
		}
		out = resampled
		rate = opts.DetectorRate
	}

	if opts.ApplyWindow {
		windowed := make([]float32, len(out))
		copy(windowed, out)
		pitchdsp.HannWindow(windowed)
		out = windowed
	}

	return Frame{Samples: out, SampleRate: rate}, nil
}
