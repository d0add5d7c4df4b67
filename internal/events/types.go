// Package events defines the value types shared by every stage of the
// pipeline: detectors, the score loader, the follower, and the tempo
// adapter. Nothing in this package has behavior beyond small pure
// helpers — it exists so that detect/, score/, follower/, and tempo/
// can agree on a vocabulary without importing each other.
package events

import (
	"fmt"
	"math"

	mapset "github.com/deckarep/golang-set/v2"
)

// SourceTier tags which detector produced a NoteEvent.
type SourceTier int

const (
	TierMonophonic SourceTier = iota
	TierVerification
	TierPolyphonic
)

func (t SourceTier) String() string {
	switch t {
	case TierMonophonic:
		return "monophonic"
	case TierVerification:
		return "verification"
	case TierPolyphonic:
		return "polyphonic"
	default:
		return "unknown"
	}
}

// Hand identifies which hand a group or filter applies to.
type Hand int

const (
	HandRight Hand = iota
	HandLeft
	HandBoth
)

func (h Hand) String() string {
	switch h {
	case HandRight:
		return "right"
	case HandLeft:
		return "left"
	case HandBoth:
		return "both"
	default:
		return "unknown"
	}
}

// ParseHand maps the control-message string values to a Hand.
func ParseHand(s string) (Hand, error) {
	switch s {
	case "right":
		return HandRight, nil
	case "left":
		return HandLeft, nil
	case "both":
		return HandBoth, nil
	default:
		return 0, fmt.Errorf("unknown hand %q", s)
	}
}

// Mode selects which detector tier the router prefers.
type Mode int

const (
	ModeMonophonic Mode = iota
	ModePolyphonic
	ModeAuto
)

func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "monophonic":
		return ModeMonophonic, nil
	case "polyphonic":
		return ModePolyphonic, nil
	case "auto":
		return ModeAuto, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// Dynamic is the coarse velocity bucket reported to the coaching UI.
type Dynamic string

const (
	DynamicPP Dynamic = "pp"
	DynamicP  Dynamic = "p"
	DynamicMF Dynamic = "mf"
	DynamicF  Dynamic = "f"
	DynamicFF Dynamic = "ff"
)

// DynamicFromVelocity maps a [0,1] velocity to its coarse dynamic bucket
// per spec.md §6's fixed mapping.
func DynamicFromVelocity(v float64) Dynamic {
	switch {
	case v < 0.2:
		return DynamicPP
	case v < 0.4:
		return DynamicP
	case v < 0.6:
		return DynamicMF
	case v < 0.8:
		return DynamicF
	default:
		return DynamicFF
	}
}

// MinMidiPitch and MaxMidiPitch bound the 88-key keyboard (A0..C8).
const (
	MinMidiPitch = 21
	MaxMidiPitch = 108
)

var noteLetters = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// NoteName returns the canonical sharps-only LETTER[#]OCTAVE name for a
// MIDI pitch, e.g. 60 -> "C4".
func NoteName(midiPitch int) string {
	pc := ((midiPitch % 12) + 12) % 12
	octave := midiPitch/12 - 1
	return fmt.Sprintf("%s%d", noteLetters[pc], octave)
}

// PitchClass reduces a MIDI pitch to its class in [0, 12).
func PitchClass(midiPitch int) int {
	return ((midiPitch % 12) + 12) % 12
}

// EqualTemperedFrequency returns the 12-TET frequency in Hz of a MIDI
// pitch, referenced to A4 (69) = 440Hz.
func EqualTemperedFrequency(midiPitch int) float64 {
	return 440.0 * math.Pow(2.0, float64(midiPitch-69)/12.0)
}

// CentsFromEqualTempered returns how many cents freqHz deviates from the
// equal-tempered frequency of midiPitch (positive = sharp).
func CentsFromEqualTempered(freqHz float64, midiPitch int) float64 {
	ref := EqualTemperedFrequency(midiPitch)
	if ref <= 0 || freqHz <= 0 {
		return math.Inf(1)
	}
	return 1200.0 * math.Log2(freqHz/ref)
}

// NewPitchClassSet builds a PitchSet of pitch classes from raw MIDI
// pitches, reducing each mod 12.
func NewPitchClassSet(midiPitches ...int) PitchSet {
	s := mapset.NewThreadUnsafeSet[int]()
	for _, p := range midiPitches {
		s.Add(PitchClass(p))
	}
	return s
}

// PitchSet is an unordered collection of pitch classes (0-11). Both
// ExpectedGroup.MidiPitches (reduced mod 12 for matching purposes) and
// the follower's per-group hit_pitches working set are genuine sets:
// membership and cardinality-ratio are the only operations that matter,
// never order. See DESIGN.md for why this is golang-set rather than a
// hand-rolled map[int]struct{}.
type PitchSet = mapset.Set[int]

// NoteEvent is produced by any detector tier. See spec.md §3 for the
// field-level invariants (midi_pitch range, frequency/cents tolerance,
// monotonic detected_at_sec).
type NoteEvent struct {
	MidiPitch     int
	NoteName      string
	FrequencyHz   float64
	Confidence    float64
	Velocity      float64
	DetectedAtSec float64
	SourceTier    SourceTier
}

// Dynamic reports the coarse dynamic bucket for this event's velocity.
func (e NoteEvent) Dynamic() Dynamic {
	return DynamicFromVelocity(e.Velocity)
}

// ExpectedGroup is one element of a compiled score: a set of pitches
// the exercise prescribes at one moment in time, plus the timing
// window and metadata needed to match and report on it.
type ExpectedGroup struct {
	GroupIndex    int
	MidiPitches   []int // raw MIDI pitches, order-irrelevant per spec
	PitchClasses  PitchSet
	ExpectedTime  float64 // seconds, at tempo multiplier 1.0 (original)
	TimingTol     float64 // seconds, at multiplier 1.0 (original)
	TimingMax     float64 // seconds, at multiplier 1.0 (original)
	BarIndex      int
	BeatPosition  float64
	Hand          Hand
	DurationSec   float64
}

// EffectiveExpectedTime, EffectiveTimingTol and EffectiveTimingMax apply
// a tempo multiplier to the group's original (multiplier-1.0) timing
// fields on read, per spec.md §4.8 / §9's "store original values,
// compute effective values on read" design note. This makes rescaling
// exact and idempotent (spec.md Testable Property 6).
func (g ExpectedGroup) EffectiveExpectedTime(multiplier float64) float64 {
	return g.ExpectedTime / multiplier
}

func (g ExpectedGroup) EffectiveTimingTol(multiplier float64) float64 {
	return g.TimingTol / multiplier
}

func (g ExpectedGroup) EffectiveTimingMax(multiplier float64) float64 {
	return g.TimingMax / multiplier
}

// Exercise is the ordered, compiled score produced by the score loader.
type Exercise struct {
	SourceID     string
	Groups       []ExpectedGroup
	BPM          float64
	BeatUnit     float64 // seconds per beat at multiplier 1.0
	BeatsPerBar  int
	TimeSigNum   int
	TimeSigDenom int
}
