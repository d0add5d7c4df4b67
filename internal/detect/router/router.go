// Package router implements spec.md §4.5, the hybrid detector router:
// a stateless selector that picks a detector tier per request based on
// mode and the expected-note hint.
package router

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pianofollow/engine/internal/detect/poly"
	"github.com/pianofollow/engine/internal/detect/verify"
	"github.com/pianofollow/engine/internal/detect/yin"
	"github.com/pianofollow/engine/internal/events"
)

// Router selects and invokes a detector tier per request. It is
// stateless — it does not buffer audio across calls — mirroring the
// teacher's analyzer.Analyzer being a pure request/response interface
// with no session state of its own.
type Router struct {
	logger     *slog.Logger
	polyModel  poly.Model
}

// New wires a Router the same way cmd/engine/main.go wires the
// analyzer: prefer the real model, fall back to the Goertzel backend
// if it can't be loaded.
func New(logger *slog.Logger, modelPath string) *Router {
	var model poly.Model
	if modelPath != "" {
		m, err := poly.NewFileModel(modelPath)
		if err != nil {
			logger.Warn("polyphonic model unavailable, falling back to Goertzel bank", "error", err)
			model = poly.NewGoertzelFallback()
		} else {
			model = m
		}
	} else {
		model = poly.NewGoertzelFallback()
	}
	return &Router{logger: logger, polyModel: model}
}

// NewWithModel constructs a Router around an already-built Model,
// useful when the caller wants to share one Tier-3 handle across
// sessions per spec.md §5's "process-global, read-only" guidance.
func NewWithModel(logger *slog.Logger, model poly.Model) *Router {
	return &Router{logger: logger, polyModel: model}
}

// Close releases the router's Tier-3 model handle.
func (r *Router) Close() error {
	if r.polyModel != nil {
		return r.polyModel.Close()
	}
	return nil
}

// Request bundles one window of audio plus the routing hints spec.md
// §4.5 uses to pick a tier.
type Request struct {
	Samples       []float32
	SampleRate    int
	Mode          events.Mode
	ExpectedMidi  []int // nil/empty means "no expected set supplied"
	DetectedAtSec float64
	// ChunkStartSec is used by Tier 3 to map tensor time steps back to
	// wall-clock time; ignored by Tier 1/2.
	ChunkStartSec float64
}

// Tier reports which detector a request would be routed to, without
// running it — useful for tests and logging.
func (r Request) Tier() events.SourceTier {
	switch {
	case r.Mode == events.ModePolyphonic:
		return events.TierPolyphonic
	case len(r.ExpectedMidi) == 0:
		return events.TierPolyphonic
	case r.Mode == events.ModeMonophonic || len(r.ExpectedMidi) == 1:
		return events.TierMonophonic
	case r.Mode == events.ModeAuto && len(r.ExpectedMidi) >= 2:
		return events.TierVerification
	default:
		return events.TierMonophonic
	}
}

// Detect runs the selected tier and returns zero or more NoteEvents.
func (r *Router) Detect(ctx context.Context, req Request) ([]events.NoteEvent, error) {
	switch req.Tier() {
	case events.TierMonophonic:
		return r.detectMonophonic(req)

	case events.TierVerification:
		result, err := verify.Verify(req.Samples, req.SampleRate, req.ExpectedMidi)
		if err != nil {
			return nil, err
		}
		if !result.Match {
			return nil, nil
		}
		return verificationNoteEvents(req, result), nil

	case events.TierPolyphonic:
		tensors, err := r.polyModel.Infer(ctx, req.Samples)
		if err != nil {
			if errors.Is(err, events.ErrModelUnavailable) && canFallBackToMono(req) {
				r.logger.Warn("tier-3 model unavailable mid-session, falling back to tier-1", "error", err)
				return r.detectMonophonic(req)
			}
			return nil, err
		}
		return poly.Decode(tensors, req.ChunkStartSec), nil
	}
	return nil, nil
}

func (r *Router) detectMonophonic(req Request) ([]events.NoteEvent, error) {
	note, err := yin.Detect(req.Samples, req.SampleRate, req.DetectedAtSec)
	if err != nil {
		return nil, err
	}
	if note == nil {
		return nil, nil
	}
	return []events.NoteEvent{*note}, nil
}

// canFallBackToMono reports whether a failed Tier-3 request is
// monophonic-eligible and so may retry on Tier 1 per spec.md §7's
// "router may fall back from Tier 3 to Tier 1 if the model is
// unavailable and the request is monophonic-eligible" rule.
func canFallBackToMono(req Request) bool {
	return len(req.ExpectedMidi) <= 1
}

// verificationNoteEvents synthesizes NoteEvents for a Tier-2 match: the
// tier confirms the expected set was played, so it reports one event
// per expected pitch at the request's timestamp.
func verificationNoteEvents(req Request, result verifyResultAlias) []events.NoteEvent {
	out := make([]events.NoteEvent, 0, len(req.ExpectedMidi))
	for _, pitch := range req.ExpectedMidi {
		out = append(out, events.NoteEvent{
			MidiPitch:     pitch,
			NoteName:      events.NoteName(pitch),
			FrequencyHz:   events.EqualTemperedFrequency(pitch),
			Confidence:    result.Confidence,
			Velocity:      yin.FallbackVelocity,
			DetectedAtSec: req.DetectedAtSec,
			SourceTier:    events.TierVerification,
		})
	}
	return out
}

type verifyResultAlias = verify.Result
