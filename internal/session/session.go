// Package session wires the score loader, detector router, follower
// state machine and tempo adapter into one object exposing spec.md
// §6's control messages as Go methods, one per message — the same
// shape as the teacher's EngineServer (a struct of injected
// dependencies with one method per RPC), minus the gRPC transport
// itself (spec.md's Non-goals exclude network transport; see
// DESIGN.md).
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/pianofollow/engine/internal/detect/router"
	"github.com/pianofollow/engine/internal/diagnostics"
	"github.com/pianofollow/engine/internal/events"
	"github.com/pianofollow/engine/internal/follower"
	"github.com/pianofollow/engine/internal/score/cache"
	"github.com/pianofollow/engine/internal/score/loader"
	"github.com/pianofollow/engine/internal/tempo"
)

// Store is the process-global, read-only set of dependencies shared
// across every student session: the detector router (which owns the
// Tier-3 model handle) and the score cache. Construct once at startup.
type Store struct {
	logger *slog.Logger
	router *router.Router
	cache  *cache.Cache
}

// NewStore builds a Store, wiring the router the way cmd/engine/main.go
// wires the analyzer: a configured model path if given, otherwise the
// Goertzel CPU fallback.
func NewStore(logger *slog.Logger, dataDir, modelPath string) (*Store, error) {
	c, err := cache.Open(dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("session: failed to open score cache: %w", err)
	}
	r := router.New(logger, modelPath)
	return &Store{logger: logger, router: r, cache: c}, nil
}

// Close releases the Tier-3 model handle and the score cache.
func (s *Store) Close() error {
	if err := s.router.Close(); err != nil {
		return err
	}
	return s.cache.Close()
}

// Session is one student's exercise attempt: one compiled Exercise, one
// follower.Session, and one tempo.Adapter. Not safe for concurrent use,
// matching follower.Session's single-goroutine contract.
type Session struct {
	id       events.SessionID
	logger   *slog.Logger
	store    *Store
	exercise *events.Exercise
	mode     events.Mode
	hand     events.Hand

	sess  *follower.Session
	tempo *tempo.Adapter
}

// StartExercise implements spec.md §6's start_exercise control message:
// loads (or cache-hits) the MIDI file, compiles it against the
// requested hand filter, and readies a follower session. The clock
// does not start until CountInComplete.
func (st *Store) StartExercise(req events.StartExerciseRequest, midiBytes []byte) (*Session, events.StartedExercise, error) {
	filtered := req.Hand != events.HandBoth
	key := cache.Key(midiBytes, req.Hand, filtered)

	ex, err := st.cache.Get(key)
	if err != nil {
		st.logger.Warn("score cache lookup failed, recompiling", "error", err, "exercise_id", req.ExerciseID)
		ex = nil
	}
	if ex == nil {
		ex, err = loader.Load(req.ExerciseID, midiBytes, req.Hand, filtered)
		if err != nil {
			return nil, events.StartedExercise{}, err
		}
		if err := st.cache.Put(key, ex); err != nil {
			st.logger.Warn("failed to populate score cache", "error", err, "exercise_id", req.ExerciseID)
		}
	}

	// MetronomeEnabled doesn't change follower semantics; it's carried
	// through so the client can drive a click track in lockstep with
	// StartedExercise.BPM. Loop/Wait mode is set afterward via
	// SetLoopMode/SetWaitMode.
	id := events.NewSessionID()
	adapter := tempo.New()
	logger := st.logger.With("session_id", id.String(), "exercise_id", req.ExerciseID)
	fs := follower.New(logger, ex, follower.ModePlay, adapter, nil, nil)

	s := &Session{
		id:       id,
		logger:   logger,
		store:    st,
		exercise: ex,
		mode:     req.Mode,
		hand:     req.Hand,
		sess:     fs,
		tempo:    adapter,
	}

	return s, events.StartedExercise{
		TotalGroups:  len(ex.Groups),
		BPM:          ex.BPM,
		BeatsPerBar:  ex.BeatsPerBar,
		BeatUnit:     ex.BeatUnit,
		TimeSigNum:   ex.TimeSigNum,
		TimeSigDenom: ex.TimeSigDenom,
	}, nil
}

// SetLoopMode and SetWaitMode reconfigure the follower's advance-on-
// timeout behavior. Must be called before CountInComplete.
func (s *Session) SetLoopMode() { s.sess = s.rebuildWithMode(follower.ModeLoop) }
func (s *Session) SetWaitMode() { s.sess = s.rebuildWithMode(follower.ModeWait) }

func (s *Session) rebuildWithMode(mode follower.Mode) *follower.Session {
	return follower.New(s.logger, s.exercise, mode, s.tempo, nil, nil)
}

// CountInComplete implements spec.md §6's count_in_complete control
// message: starts the follower's clock.
func (s *Session) CountInComplete(startMonotonicSec float64) (events.TimingStarted, error) {
	if err := s.sess.Start(startMonotonicSec); err != nil {
		return events.TimingStarted{}, err
	}
	return events.TimingStarted{StartMonotonicSec: startMonotonicSec}, nil
}

// AudioChunk implements spec.md §6's audio_chunk control message: runs
// the chunk through the detector router, then submits every resulting
// NoteEvent to the follower in order. Returns the detected notes (for
// note_detected progress messages) and any group_progress emitted by
// an advance.
func (s *Session) AudioChunk(ctx context.Context, chunk events.AudioChunk, chunkStartSec float64) ([]events.NoteEvent, []events.GroupProgress, error) {
	expected := s.currentExpectedPitches()

	notes, err := s.store.router.Detect(ctx, router.Request{
		Samples:       chunk.Samples,
		SampleRate:    chunk.SampleRateHz,
		Mode:          s.mode,
		ExpectedMidi:  expected,
		ChunkStartSec: chunkStartSec,
	})
	if err != nil {
		return nil, nil, err
	}

	var progressEvents []events.GroupProgress
	for _, n := range notes {
		if n.MidiPitch < events.MinMidiPitch || n.MidiPitch > events.MaxMidiPitch {
			fatal := diagnostics.LogFatal(s.logger, events.ErrPitchOutOfRange)
			s.sess.Finish()
			return notes, progressEvents, fatal
		}
		_, progress, err := s.sess.Submit(n)
		if err != nil {
			if errors.Is(err, events.ErrTimestampNotMonotonic) {
				diagnostics.LogFatal(s.logger, err)
				s.sess.Finish()
			}
			return notes, progressEvents, err
		}
		if progress != nil {
			progressEvents = append(progressEvents, *progress)
		}
	}
	return notes, progressEvents, nil
}

// PollTimeout implements the timeout half of spec.md §4.7's advance
// rule for callers driving the session from a ticking clock rather
// than purely from audio chunk arrival.
func (s *Session) PollTimeout(nowRelSec float64) *events.GroupProgress {
	return s.sess.AdvanceIfTimedOut(nowRelSec)
}

// SetTempoMultiplier implements spec.md §6's manual override.
func (s *Session) SetTempoMultiplier(req events.SetTempoMultiplierRequest) error {
	return s.sess.SetTempoMultiplier(req.Value)
}

// Stop implements spec.md §6's stop_exercise / finish().
func (s *Session) Stop() events.ExerciseComplete {
	s.sess.Finish()
	return events.ExerciseComplete{Counters: s.Progress()}
}

// IsComplete reports whether the follower has finished (either by
// reaching the final group in non-loop mode, or via an explicit Stop).
func (s *Session) IsComplete() bool {
	return !s.sess.IsActive()
}

// Progress returns the follower's current Counters snapshot, stamped
// with this session's id so every progress message traces back to the
// same session_id carried on the log lines (see StartExercise).
func (s *Session) Progress() events.Counters {
	c := s.sess.Progress()
	c.SessionID = s.id
	return c
}

func (s *Session) currentExpectedPitches() []int {
	progress := s.sess.Progress()
	idx := progress.GroupsCompleted
	if idx >= len(s.exercise.Groups) {
		return nil
	}
	return s.exercise.Groups[idx].MidiPitches
}

// LoadMidiFile is a small convenience wrapper for cmd/pianofollow,
// reading the exercise file from disk before handing it to
// StartExercise.
func LoadMidiFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: failed to read exercise file %q: %w", path, err)
	}
	return data, nil
}
