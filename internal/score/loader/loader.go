// Package loader implements spec.md §4.6, the score loader: it
// compiles a parsed MIDI file into an events.Exercise, grouping
// simultaneous notes into ExpectedGroups and deriving the timing
// windows the follower matches against.
package loader

import (
	"fmt"
	"sort"

	"github.com/pianofollow/engine/internal/events"
	"github.com/pianofollow/engine/internal/score/midi"
)

// onsetGroupingWindowSec is the 30ms window within which note onsets
// are considered simultaneous, per spec.md §4.6.
const onsetGroupingWindowSec = 0.030

// timingToleranceFactor and timingMaxFactor derive the on-time window
// half-width and the absolute late cutoff from beat_unit, per spec.md
// §4.6.
const (
	timingToleranceFactor = 0.200
	timingMaxFactor       = 0.400
)

// Load parses raw MIDI bytes and compiles them into an Exercise,
// optionally restricted to one hand. filter == false, or hands ==
// events.HandBoth, applies no filter.
//
// Mirrors spec.md §4.6: "Perfect" with no filter compiles to 284
// groups; filtered to right hand, 154; left hand, 274.
func Load(sourceID string, data []byte, hands events.Hand, filter bool) (*events.Exercise, error) {
	f, err := midi.Parse(data)
	if err != nil {
		return nil, err
	}

	notes := f.Notes
	if filter {
		notes = filterByHand(notes, hands)
	}
	if len(notes) == 0 {
		return nil, fmt.Errorf("loader: no notes remain for source %q after hand filter: %w", sourceID, events.ErrMalformedMidi)
	}

	tempoMap := f.TempoMap
	sig := lastTimeSignature(f.TimeSignatures)
	beatUnit := 4.0 / float64(sig.Denominator)
	beatsPerBar := sig.Numerator

	sort.SliceStable(notes, func(i, j int) bool { return notes[i].StartTick < notes[j].StartTick })

	groups := groupNotes(notes, tempoMap, f.TicksPerQuarter)
	tolSec := timingToleranceFactor * beatUnit
	maxSec := timingMaxFactor * beatUnit

	for i := range groups {
		groups[i].groupIndex = i
		groups[i].timingTol = tolSec
		groups[i].timingMax = maxSec
		groups[i].expectedTimeSec = tickToSeconds(groups[i].startTick, tempoMap, f.TicksPerQuarter)
		beatsElapsed := ticksToBeats(groups[i].startTick, f.TicksPerQuarter)
		groups[i].barIndex = int(beatsElapsed) / beatsPerBar
		groups[i].beatPosition = beatsElapsed - float64(groups[i].barIndex*beatsPerBar)
	}

	bpmAtStart := 60_000_000.0 / float64(tempoMap[0].MicrosPerBeat)

	return &events.Exercise{
		SourceID:     sourceID,
		Groups:       toExpectedGroups(groups),
		BPM:          bpmAtStart,
		BeatUnit:     secToBeatUnit(tempoMap[0].MicrosPerBeat),
		BeatsPerBar:  beatsPerBar,
		TimeSigNum:   sig.Numerator,
		TimeSigDenom: sig.Denominator,
	}, nil
}

// secToBeatUnit returns the duration in seconds of one beat at the
// given tempo, which is what the Exercise.BeatUnit field reports.
// ExpectedGroup.TimingTol/TimingMax are derived separately, from the
// time signature's 4/denominator.
func secToBeatUnit(microsPerBeat int) float64 {
	return float64(microsPerBeat) / 1_000_000.0
}

func filterByHand(notes []midi.Note, hand events.Hand) []midi.Note {
	var want int
	switch hand {
	case events.HandRight:
		want = 0
	case events.HandLeft:
		want = 1
	default:
		return notes
	}
	out := make([]midi.Note, 0, len(notes))
	for _, n := range notes {
		if n.TrackIndex == want {
			out = append(out, n)
		}
	}
	return out
}

// lastTimeSignature picks the canonical signature per spec.md §4.6:
// "use the last time-signature event as the exercise's canonical
// signature" (handles a pickup bar notated with a different meter).
func lastTimeSignature(sigs []midi.TimeSignatureEvent) midi.TimeSignatureEvent {
	return sigs[len(sigs)-1]
}

// rawGroup is the working accumulator for one ExpectedGroup before
// group index and timing windows are assigned.
type rawGroup struct {
	startTick       int
	midiPitches     []int
	tracks          map[int]bool
	groupIndex      int
	timingTol       float64
	timingMax       float64
	expectedTimeSec float64
	barIndex        int
	beatPosition    float64
}

// groupNotes merges notes whose onsets fall within the 30ms window
// into ExpectedGroups, per spec.md §4.6's grouping rule. notes must
// already be sorted by StartTick.
func groupNotes(notes []midi.Note, tempoMap []midi.TempoEvent, ticksPerQuarter int) []rawGroup {
	var groups []rawGroup
	for _, n := range notes {
		onsetSec := tickToSeconds(n.StartTick, tempoMap, ticksPerQuarter)
		if len(groups) > 0 {
			lastSec := tickToSeconds(groups[len(groups)-1].startTick, tempoMap, ticksPerQuarter)
			if onsetSec-lastSec <= onsetGroupingWindowSec {
				g := &groups[len(groups)-1]
				g.midiPitches = append(g.midiPitches, n.MidiPitch)
				g.tracks[n.TrackIndex] = true
				continue
			}
		}
		groups = append(groups, rawGroup{
			startTick:   n.StartTick,
			midiPitches: []int{n.MidiPitch},
			tracks:      map[int]bool{n.TrackIndex: true},
		})
	}
	return groups
}

func toExpectedGroups(groups []rawGroup) []events.ExpectedGroup {
	out := make([]events.ExpectedGroup, len(groups))
	for i, g := range groups {
		out[i] = events.ExpectedGroup{
			GroupIndex:   g.groupIndex,
			MidiPitches:  g.midiPitches,
			PitchClasses: events.NewPitchClassSet(g.midiPitches...),
			ExpectedTime: g.expectedTimeSec,
			TimingTol:    g.timingTol,
			TimingMax:    g.timingMax,
			BarIndex:     g.barIndex,
			BeatPosition: g.beatPosition,
			Hand:         handFromTracks(g.tracks),
		}
	}
	return out
}

// handFromTracks implements spec.md §4.6's "hand = right if all
// constituents come from track 0, left if all from track 1, both
// otherwise".
func handFromTracks(tracks map[int]bool) events.Hand {
	if len(tracks) == 1 {
		if tracks[0] {
			return events.HandRight
		}
		if tracks[1] {
			return events.HandLeft
		}
	}
	return events.HandBoth
}

// tickToSeconds converts an absolute tick to wall-clock seconds by
// walking the tempo map, summing segment durations at each tempo in
// effect up to tick.
func tickToSeconds(tick int, tempoMap []midi.TempoEvent, ticksPerQuarter int) float64 {
	if ticksPerQuarter <= 0 {
		ticksPerQuarter = 480
	}
	var sec float64
	for i, te := range tempoMap {
		segStart := te.Tick
		segEnd := tick
		if i+1 < len(tempoMap) && tempoMap[i+1].Tick < tick {
			segEnd = tempoMap[i+1].Tick
		}
		if segEnd <= segStart {
			continue
		}
		ticksInSeg := segEnd - segStart
		secPerTick := (float64(te.MicrosPerBeat) / 1_000_000.0) / float64(ticksPerQuarter)
		sec += float64(ticksInSeg) * secPerTick
		if i+1 < len(tempoMap) && tempoMap[i+1].Tick >= tick {
			break
		}
	}
	return sec
}

func ticksToBeats(tick, ticksPerQuarter int) float64 {
	if ticksPerQuarter <= 0 {
		ticksPerQuarter = 480
	}
	return float64(tick) / float64(ticksPerQuarter)
}
