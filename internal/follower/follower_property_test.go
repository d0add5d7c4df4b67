package follower

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pianofollow/engine/internal/events"
)

// sequentialExercise builds n single-pitch groups, one per second, all
// in bar 0, cycling through pitch classes so adjacent groups never
// accidentally share a pitch class (which would let a leftover
// hit_pitches entry from a prior group spuriously satisfy this one).
func sequentialExercise(n int) *events.Exercise {
	groups := make([]events.ExpectedGroup, n)
	for i := 0; i < n; i++ {
		pitch := 60 + i%12
		groups[i] = events.ExpectedGroup{
			GroupIndex:   i,
			MidiPitches:  []int{pitch},
			PitchClasses: events.NewPitchClassSet(pitch),
			ExpectedTime: float64(i),
			TimingTol:    0.1,
			TimingMax:    0.2,
			BarIndex:     0,
		}
	}
	return &events.Exercise{
		SourceID: "sequential", Groups: groups,
		BPM: 120, BeatUnit: 0.5, BeatsPerBar: 4, TimeSigNum: 4, TimeSigDenom: 4,
	}
}

// TestProperty1GroupIndexStrictlyIncreasing is spec.md Testable Property
// 1: for every session, emitted group_progress events have strictly
// increasing group_index and non-decreasing detected_at_sec.
func TestProperty1GroupIndexStrictlyIncreasing(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("group_index strictly increases across advances, in submission order", prop.ForAll(
		func(n int) bool {
			ex := sequentialExercise(n)
			s := New(discardLogger(), ex, ModePlay, nil, nil, nil)
			s.Start(0)

			lastIndex := -1
			lastTime := -1.0
			for i := 0; i < n; i++ {
				_, progress, err := s.Submit(events.NoteEvent{MidiPitch: 60 + i%12, DetectedAtSec: float64(i)})
				if err != nil {
					return false
				}
				if progress == nil {
					return false
				}
				if progress.GroupIndex <= lastIndex {
					return false
				}
				if float64(i) < lastTime {
					return false
				}
				lastIndex = progress.GroupIndex
				lastTime = float64(i)
			}
			return true
		},
		gen.IntRange(1, 30),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// TestProperty3GroupProgressNeverExceedsGroupsTotal is spec.md Testable
// Property 3: for any NoteEvent stream, the number of group_progress
// events never exceeds groups_total before loop reset.
func TestProperty3GroupProgressNeverExceedsGroupsTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("group_progress count never exceeds groups_total in ModePlay", prop.ForAll(
		func(n, extraAttempts int) bool {
			ex := sequentialExercise(n)
			s := New(discardLogger(), ex, ModePlay, nil, nil, nil)
			s.Start(0)

			emitted := 0
			clock := 0.0
			for i := 0; i < n+extraAttempts; i++ {
				if !s.IsActive() {
					break
				}
				pitch := 60 + (i % 12)
				_, progress, err := s.Submit(events.NoteEvent{MidiPitch: pitch, DetectedAtSec: clock})
				if err != nil {
					return false
				}
				if progress != nil {
					emitted++
				}
				clock += 1.0
			}
			return emitted <= n
		},
		gen.IntRange(1, 15),
		gen.IntRange(0, 15),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// TestProperty6SetTempoMultiplierIsIdempotentRescaling is spec.md
// Testable Property 6: set_tempo_multiplier(m) followed by
// set_tempo_multiplier(1.0) returns all timing fields to within 1e-6 of
// their original values.
func TestProperty6SetTempoMultiplierIsIdempotentRescaling(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("rescaling to m then back to 1.0 restores the original effective windows", prop.ForAll(
		func(m float64) bool {
			ex := sequentialExercise(5)
			s := New(discardLogger(), ex, ModePlay, nil, nil, nil)
			s.Start(0)
			group := s.groupAt(2)

			originalExpected := group.EffectiveExpectedTime(1.0)
			originalTol := group.EffectiveTimingTol(1.0)
			originalMax := group.EffectiveTimingMax(1.0)

			if err := s.SetTempoMultiplier(m); err != nil {
				return false
			}
			if err := s.SetTempoMultiplier(1.0); err != nil {
				return false
			}

			const eps = 1e-6
			return math.Abs(group.EffectiveExpectedTime(s.tempoMultiplier)-originalExpected) < eps &&
				math.Abs(group.EffectiveTimingTol(s.tempoMultiplier)-originalTol) < eps &&
				math.Abs(group.EffectiveTimingMax(s.tempoMultiplier)-originalMax) < eps
		},
		gen.Float64Range(0.5, 1.0),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// TestProperty9PartialChordAdvancesExactlyOnceAtTwoThirds is spec.md
// Testable Property 9: when |hit_pitches| = ceil(|midi_pitches|*2/3),
// advance fires exactly once.
func TestProperty9PartialChordAdvancesExactlyOnceAtTwoThirds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("advance fires exactly once at the ceil(2/3) cardinality threshold", prop.ForAll(
		func(chordSize int) bool {
			// One pitch per distinct pitch class (0-11) so
			// PitchClasses.Cardinality() == chordSize exactly.
			pitches := make([]int, chordSize)
			for i := range pitches {
				pitches[i] = 48 + i
			}
			ex := &events.Exercise{
				SourceID: "chord",
				Groups: []events.ExpectedGroup{{
					GroupIndex: 0, MidiPitches: pitches, PitchClasses: events.NewPitchClassSet(pitches...),
					ExpectedTime: 0, TimingTol: 0.1, TimingMax: 0.2, BarIndex: 0,
				}},
				BPM: 120, BeatUnit: 0.5, BeatsPerBar: 4, TimeSigNum: 4, TimeSigDenom: 4,
			}
			s := New(discardLogger(), ex, ModePlay, nil, nil, nil)
			s.Start(0)

			threshold := int(math.Ceil(float64(chordSize) * 2.0 / 3.0))
			advances := 0
			for i := 0; i < threshold; i++ {
				_, progress, err := s.Submit(events.NoteEvent{MidiPitch: pitches[i], DetectedAtSec: float64(i) * 0.001})
				if err != nil {
					return false
				}
				if progress != nil {
					advances++
				}
			}
			return advances == 1
		},
		gen.IntRange(3, 11),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
