// Package midi implements a hand-rolled Standard MIDI File (SMF)
// reader sufficient for spec.md §4.6: per-track absolute-tick
// note_on/note_off extraction, the tempo map, and time-signature
// events. It deliberately does not attempt playback or synthesis — see
// DESIGN.md for why the corpus's MIDI *player* library
// (go-meltysynth) isn't a fit here.
package midi

// Format is the SMF header's format field.
type Format int

const (
	Format0 Format = 0
	Format1 Format = 1
	Format2 Format = 2
)

// TempoEvent is a set_tempo meta event resolved to an absolute tick.
type TempoEvent struct {
	Tick          int
	MicrosPerBeat int
}

// TimeSignatureEvent is a time-signature meta event resolved to an
// absolute tick.
type TimeSignatureEvent struct {
	Tick        int
	Numerator   int
	Denominator int // as notated (4 = quarter note gets the beat)
}

// Note is one extracted note_on/note_off pair, tagged with the track
// it came from so the score loader can do the track-aware hand
// assignment spec.md §4.6 requires.
type Note struct {
	TrackIndex int
	MidiPitch  int
	Velocity   int
	StartTick  int
	EndTick    int
}

// File is a fully parsed MIDI file: its format, ticks-per-quarter-note
// division, global tempo/time-signature maps, and the notes extracted
// independently from every track (not merged — see spec.md §4.6).
type File struct {
	Format           Format
	TicksPerQuarter  int
	TempoMap         []TempoEvent
	TimeSignatures   []TimeSignatureEvent
	Notes            []Note
}
