package events

import "github.com/google/uuid"

// SessionID correlates every log line and progress event emitted by one
// practice session, the same role the teacher's content-hash plays for
// a track across its analysis/storage/export layers.
type SessionID uuid.UUID

func NewSessionID() SessionID { return SessionID(uuid.New()) }

func (id SessionID) String() string { return uuid.UUID(id).String() }

// StartExerciseRequest / StartedExercise implement spec.md §6's
// start_exercise / exercise_started control-message pair as plain Go
// types — no network transport is implemented, per the Non-goal
// dropping grpc (see DESIGN.md).
type StartExerciseRequest struct {
	ExerciseID       string
	Hand             Hand
	Mode             Mode
	MetronomeEnabled bool
}

type StartedExercise struct {
	TotalGroups  int
	BPM          float64
	BeatsPerBar  int
	BeatUnit     float64
	TimeSigNum   int
	TimeSigDenom int
}

// TimingStarted implements count_in_complete's reply.
type TimingStarted struct {
	StartMonotonicSec float64
}

// AudioChunk implements spec.md §6's audio_chunk control message.
type AudioChunk struct {
	Samples      []float32
	SampleRateHz int
}

// SetTempoMultiplierRequest implements the manual override message.
type SetTempoMultiplierRequest struct {
	Value float64
}

// Classification is the per-group or per-event timing/pitch verdict.
type Classification int

const (
	ClassOnTime Classification = iota
	ClassEarly
	ClassLate
	ClassMissed
	ClassWrong
)

func (c Classification) String() string {
	switch c {
	case ClassOnTime:
		return "on_time"
	case ClassEarly:
		return "early"
	case ClassLate:
		return "late"
	case ClassMissed:
		return "missed"
	case ClassWrong:
		return "wrong"
	default:
		return "unknown"
	}
}

// Worst returns the more severe of two classifications per the
// ordering on_time < late < missed used by the advance rule's
// worst(on_time, late, missed) classification.
func Worst(a, b Classification) Classification {
	rank := map[Classification]int{
		ClassOnTime: 0,
		ClassEarly:  0,
		ClassLate:   1,
		ClassMissed: 2,
		ClassWrong:  2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// NoteDetected implements spec.md §6's note_detected progress message.
type NoteDetected struct {
	MidiPitch     int
	NoteName      string
	FrequencyHz   float64
	Confidence    float64
	Velocity      float64
	Dynamic       Dynamic
	Hand          Hand
	SourceTier    SourceTier
	DetectedAtSec float64
}

// GroupProgress implements spec.md §6's group_progress progress message.
type GroupProgress struct {
	GroupIndex      int
	Classification  Classification
	HitRatio        float64
	TimingDeltaSec  float64
}

// TempoChange implements spec.md §6's tempo_change progress message.
type TempoChange struct {
	BPM             float64
	TempoMultiplier float64
}

// ExerciseComplete implements spec.md §6's exercise_complete progress
// message; Counters is the follower's full progress() snapshot.
type ExerciseComplete struct {
	Counters Counters
}

// Counters is the set of running statistics exposed through
// follower.Session.Progress(), per spec.md §4.7.
type Counters struct {
	SessionID         SessionID
	GroupsTotal       int
	GroupsCompleted   int
	HitCount          int
	WrongCount        int
	MissedCount       int
	OnTimeCount       int
	EarlyCount        int
	LateCount         int
	MeanAbsDeltaSec   float64
	CurrentBarIndex   int
	CurrentTempoBPM   float64
	TempoMultiplier   float64
	LoopCount         int
}

// Accuracy reports the fraction of completed groups that were hit
// on time or partially (anything that isn't a full miss), used by the
// end-to-end scenario table in spec.md §8.
func (c Counters) Accuracy() float64 {
	if c.GroupsCompleted == 0 {
		return 0
	}
	return float64(c.GroupsCompleted-c.MissedCount) / float64(c.GroupsCompleted)
}
