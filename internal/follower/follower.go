// Package follower implements spec.md §4.7, the score-follower state
// machine: it owns the current position in a compiled Exercise,
// classifies incoming NoteEvents against the expected group, and
// decides when to advance. Grounded structurally on the teacher's
// EngineServer — a struct of injected dependencies (logger, config,
// compiled state) exposing one method per control message — and on
// internal/similarity's small pure scoring helpers for the
// accuracy/ratio math.
package follower

import (
	"log/slog"
	"math"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/pianofollow/engine/internal/events"
)

// Mode selects the follower's advance-on-timeout behavior.
type Mode int

const (
	// ModePlay is the default: timeout advances the group and records a
	// missed deficit.
	ModePlay Mode = iota
	// ModeLoop behaves like ModePlay but resets to group 0 and
	// increments a loop counter instead of completing on the final
	// group's advance.
	ModeLoop
	// ModeWait disables timeout-based advance: only a qualifying
	// pitch-class hit ratio advances the group.
	ModeWait
)

// Session is one student's progress through one compiled Exercise. It
// is not safe for concurrent use — spec.md §5 treats one session as
// owned by a single goroutine reading audio chunks in order.
type Session struct {
	logger   *slog.Logger
	exercise *events.Exercise
	mode     Mode

	active            bool
	startMonotonicSec float64
	currentGroup      int
	hitPitches        mapset.Set[int]
	tempoMultiplier   float64
	loopCount         int
	pendingDeltaSec   float64

	counters         events.Counters
	lastSubmittedRel float64

	// barAccumulator tracks the just-in-progress bar's hit/timing
	// counts so the tempo adapter can be invoked once a bar boundary is
	// crossed (spec.md §4.8's "invoked once per crossed bar boundary").
	barAccumulator  barStats
	lastBarIndex    int
	tempoAdapter    TempoAdapter
	groupWorstClass events.Classification

	onGroupProgress func(events.GroupProgress)
	onTempoChange   func(events.TempoChange)
}

type barStats struct {
	onTimeHits   int
	expectedHits int
	earlyOrLate  int
	totalEvents  int
}

// TempoAdapter is the spec.md §4.8 hook: given a completed bar's
// accuracy and timing-error fraction, it returns the (possibly
// unchanged) tempo multiplier that should apply going forward. Defined
// here rather than imported from internal/tempo to keep this package
// free of a dependency on the adapter's streak-tracking state; the
// concrete internal/tempo.Adapter satisfies this interface.
type TempoAdapter interface {
	OnBarComplete(accuracy, timingErrorFraction float64) float64
}

// New constructs a Session over a compiled Exercise. onGroupProgress
// and onTempoChange may be nil; when set, they're invoked synchronously
// as the corresponding spec.md §6 progress messages would be emitted.
// tempoAdapter may be nil, disabling automatic tempo adjustment.
func New(logger *slog.Logger, exercise *events.Exercise, mode Mode, tempoAdapter TempoAdapter, onGroupProgress func(events.GroupProgress), onTempoChange func(events.TempoChange)) *Session {
	return &Session{
		logger:           logger,
		exercise:         exercise,
		mode:             mode,
		tempoMultiplier:  1.0,
		tempoAdapter:     tempoAdapter,
		onGroupProgress:  onGroupProgress,
		onTempoChange:    onTempoChange,
		lastSubmittedRel: math.Inf(-1),
		counters:         events.Counters{GroupsTotal: len(exercise.Groups), TempoMultiplier: 1.0, CurrentTempoBPM: exercise.BPM},
	}
}

// Start implements spec.md §4.7's start(): stamp the clock origin,
// reset position, and begin accepting events.
func (s *Session) Start(startMonotonicSec float64) error {
	if s.active {
		return events.ErrAlreadyStarted
	}
	s.active = true
	s.startMonotonicSec = startMonotonicSec
	s.currentGroup = 0
	s.hitPitches = mapset.NewThreadUnsafeSet[int]()
	s.pendingDeltaSec = 0
	s.lastBarIndex = s.groupAt(0).BarIndex
	return nil
}

// SetTempoMultiplier applies a manual override, per spec.md §6's
// set_tempo_multiplier control message. Because ExpectedGroup's timing
// fields are stored at multiplier 1.0 and rescaled on read (see
// events.ExpectedGroup.EffectiveExpectedTime et al.), this is O(1) and
// idempotent: calling it repeatedly with the same value, or resetting
// to 1.0, exactly restores the original windows (spec.md Testable
// Property 6).
func (s *Session) SetTempoMultiplier(m float64) error {
	if m < 0.5 || m > 1.0 {
		return events.ErrInvalidTempoMultiplier
	}
	s.tempoMultiplier = m
	s.counters.TempoMultiplier = m
	s.counters.CurrentTempoBPM = s.exercise.BPM * m
	return nil
}

// Finish implements spec.md §4.7's finish(): stop accepting events.
// Idempotent.
func (s *Session) Finish() {
	s.active = false
}

// Progress returns the current Counters snapshot, per spec.md §4.7.
func (s *Session) Progress() events.Counters {
	return s.counters
}

// IsActive reports whether the session is accepting events.
func (s *Session) IsActive() bool {
	return s.active
}

func (s *Session) groupAt(i int) events.ExpectedGroup {
	return s.exercise.Groups[i]
}

// Submit implements spec.md §4.7's submit(event): classify the event
// against the current group, update hit_pitches/counters, and possibly
// advance. Returns the per-event classification plus whether this
// event caused an advance (and, if so, the completed group's
// GroupProgress).
func (s *Session) Submit(event events.NoteEvent) (events.Classification, *events.GroupProgress, error) {
	if !s.active {
		return 0, nil, events.ErrNotActive
	}
	if s.currentGroup >= len(s.exercise.Groups) {
		return 0, nil, events.ErrExerciseNotFound
	}

	tRel := event.DetectedAtSec - s.startMonotonicSec
	if tRel < s.lastSubmittedRel {
		return 0, nil, events.ErrTimestampNotMonotonic
	}
	s.lastSubmittedRel = tRel

	group := s.groupAt(s.currentGroup)
	expectedTime := group.EffectiveExpectedTime(s.tempoMultiplier)
	tol := group.EffectiveTimingTol(s.tempoMultiplier)
	maxWin := group.EffectiveTimingMax(s.tempoMultiplier)
	delta := tRel - expectedTime

	pitchMatches := group.PitchClasses.Contains(events.PitchClass(event.MidiPitch))
	if !pitchMatches {
		s.counters.WrongCount++
		s.barAccumulator.totalEvents++
		return events.ClassWrong, nil, nil
	}

	if delta < -maxWin {
		// Too early to belong to this group: reject as noise, do not
		// advance, do not count (spec.md §4.7 step 4).
		return events.ClassEarly, nil, nil
	}

	var class events.Classification
	switch {
	case delta < -tol:
		class = events.ClassEarly
	case delta <= tol:
		class = events.ClassOnTime
	case delta <= maxWin || s.mode == ModeWait:
		// ModeWait has no timeout, so a late hit still counts toward
		// hit_pitches however far past timing_max it arrives.
		class = events.ClassLate
	default:
		// Beyond timing_max (outside ModeWait): too late to count toward
		// hit_pitches for this group; it will time out as missed instead.
		s.barAccumulator.totalEvents++
		return events.ClassLate, nil, nil
	}

	s.hitPitches.Add(events.PitchClass(event.MidiPitch))
	s.counters.HitCount++
	s.barAccumulator.totalEvents++
	s.groupWorstClass = events.Worst(s.groupWorstClass, class)
	if class == events.ClassOnTime {
		s.counters.OnTimeCount++
		s.barAccumulator.onTimeHits++
	} else if class == events.ClassEarly {
		s.counters.EarlyCount++
		s.barAccumulator.earlyOrLate++
	} else {
		s.counters.LateCount++
		s.barAccumulator.earlyOrLate++
	}
	s.counters.MeanAbsDeltaSec = runningMean(s.counters.MeanAbsDeltaSec, s.counters.OnTimeCount+s.counters.EarlyCount+s.counters.LateCount, math.Abs(delta))
	s.pendingDeltaSec = delta

	if progress := s.maybeAdvance(tRel); progress != nil {
		return class, progress, nil
	}
	return class, nil, nil
}

// AdvanceIfTimedOut checks the timeout branch of spec.md §4.7's advance
// rule against a caller-supplied wall-clock position, for callers that
// poll between audio chunks rather than deriving timeout purely from
// event timestamps. In ModeWait, timeout-based advance is disabled per
// spec.md §4.7's "Wait" mode description.
func (s *Session) AdvanceIfTimedOut(nowRelSec float64) *events.GroupProgress {
	if !s.active || s.mode == ModeWait || s.currentGroup >= len(s.exercise.Groups) {
		return nil
	}
	group := s.groupAt(s.currentGroup)
	expectedTime := group.EffectiveExpectedTime(s.tempoMultiplier)
	maxWin := group.EffectiveTimingMax(s.tempoMultiplier)
	if nowRelSec <= expectedTime+maxWin {
		return nil
	}
	s.pendingDeltaSec = nowRelSec - expectedTime
	return s.advance(events.Worst(s.groupWorstClass, events.ClassMissed))
}

// maybeAdvance implements the partial-chord advance rule: advance once
// |hit_pitches|/|expected pitches| >= 2/3, or (outside ModeWait) once
// the timeout window has passed.
func (s *Session) maybeAdvance(tRel float64) *events.GroupProgress {
	group := s.groupAt(s.currentGroup)
	ratio := hitRatio(s.hitPitches, group.PitchClasses)
	if ratio >= 2.0/3.0 {
		return s.advance(s.groupWorstClass)
	}
	if s.mode != ModeWait {
		maxWin := group.EffectiveTimingMax(s.tempoMultiplier)
		expectedTime := group.EffectiveExpectedTime(s.tempoMultiplier)
		if tRel > expectedTime+maxWin {
			s.pendingDeltaSec = tRel - expectedTime
			return s.advance(events.Worst(s.groupWorstClass, events.ClassMissed))
		}
	}
	return nil
}

// hitRatio computes |hit_pitches ∩ expected| / |expected|, per spec.md
// §4.7's cardinality test. hit_pitches is built only from matching
// events so intersection is redundant in practice, but guards against
// any future caller seeding it with unrelated pitches.
func hitRatio(hit, expected mapset.Set[int]) float64 {
	if expected.Cardinality() == 0 {
		return 1
	}
	return float64(hit.Intersect(expected).Cardinality()) / float64(expected.Cardinality())
}

// advance completes the current group, emits group_progress, and moves
// to the next group (or wraps/completes per mode). classification is
// the worst classification observed for the group, per spec.md §4.7's
// "classification = worst(on_time, late, missed)".
func (s *Session) advance(classification events.Classification) *events.GroupProgress {
	group := s.groupAt(s.currentGroup)
	ratio := hitRatio(s.hitPitches, group.PitchClasses)

	s.counters.GroupsCompleted++
	if classification == events.ClassMissed {
		s.counters.MissedCount++
	}
	s.barAccumulator.expectedHits += group.PitchClasses.Cardinality()

	progress := events.GroupProgress{
		GroupIndex:     s.currentGroup,
		Classification: classification,
		HitRatio:       ratio,
		TimingDeltaSec: s.pendingDeltaSec,
	}
	if s.onGroupProgress != nil {
		s.onGroupProgress(progress)
	}

	s.currentGroup++
	s.hitPitches = mapset.NewThreadUnsafeSet[int]()
	s.groupWorstClass = events.ClassOnTime
	s.pendingDeltaSec = 0
	s.counters.CurrentBarIndex = s.groupBarIndexOrLast()

	if s.crossedBarBoundary() {
		s.onBarBoundary()
	}

	if s.currentGroup >= len(s.exercise.Groups) {
		if s.mode == ModeLoop {
			s.currentGroup = 0
			s.loopCount++
			s.counters.LoopCount = s.loopCount
			s.hitPitches = mapset.NewThreadUnsafeSet[int]()
		} else {
			s.active = false
		}
	}

	return &progress
}

func (s *Session) groupBarIndexOrLast() int {
	if s.currentGroup < len(s.exercise.Groups) {
		return s.groupAt(s.currentGroup).BarIndex
	}
	if len(s.exercise.Groups) == 0 {
		return 0
	}
	return s.exercise.Groups[len(s.exercise.Groups)-1].BarIndex
}

func (s *Session) crossedBarBoundary() bool {
	next := s.groupBarIndexOrLast()
	return next != s.lastBarIndex
}

// onBarBoundary hands the just-completed bar's stats to the tempo
// adapter and resets the accumulator, per spec.md §4.8: "invoked once
// per crossed bar boundary by the Follower."
func (s *Session) onBarBoundary() {
	stats := s.barAccumulator
	s.barAccumulator = barStats{}
	s.lastBarIndex = s.groupBarIndexOrLast()

	if s.tempoAdapter == nil || s.mode == ModeWait {
		return
	}
	var accuracy, timingErrorFraction float64
	if stats.expectedHits > 0 {
		accuracy = float64(stats.onTimeHits) / float64(stats.expectedHits)
	}
	if stats.totalEvents > 0 {
		timingErrorFraction = float64(stats.earlyOrLate) / float64(stats.totalEvents)
	}
	newMultiplier := s.tempoAdapter.OnBarComplete(accuracy, timingErrorFraction)
	if newMultiplier != s.tempoMultiplier {
		_ = s.SetTempoMultiplier(newMultiplier)
		if s.onTempoChange != nil {
			s.onTempoChange(events.TempoChange{BPM: s.exercise.BPM, TempoMultiplier: s.tempoMultiplier})
		}
	}
}

func runningMean(prevMean float64, countAfter int, newValue float64) float64 {
	if countAfter <= 0 {
		return 0
	}
	if countAfter == 1 {
		return newValue
	}
	return prevMean + (newValue-prevMean)/float64(countAfter)
}
