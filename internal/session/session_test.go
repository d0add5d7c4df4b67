package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/pianofollow/engine/internal/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildSMF constructs a minimal single-track SMF: a C4 major triad,
// 480 ticks/quarter, 120 BPM, one beat long.
func buildSMF() []byte {
	var track bytes.Buffer
	writeVLQ(&track, 0)
	track.Write([]byte{0xFF, 0x58, 0x04, 4, 2, 24, 8}) // 4/4
	writeVLQ(&track, 0)
	track.Write([]byte{0x90, 60, 80})
	writeVLQ(&track, 0)
	track.Write([]byte{0x90, 64, 80})
	writeVLQ(&track, 0)
	track.Write([]byte{0x90, 67, 80})
	writeVLQ(&track, 480)
	track.Write([]byte{0x80, 60, 0})
	writeVLQ(&track, 0)
	track.Write([]byte{0x80, 64, 0})
	writeVLQ(&track, 0)
	track.Write([]byte{0x80, 67, 0})
	writeVLQ(&track, 0)
	track.Write([]byte{0xFF, 0x2F, 0x00})

	var out bytes.Buffer
	out.WriteString("MThd")
	binary.Write(&out, binary.BigEndian, uint32(6))
	binary.Write(&out, binary.BigEndian, uint16(0))
	binary.Write(&out, binary.BigEndian, uint16(1))
	binary.Write(&out, binary.BigEndian, uint16(480))
	out.WriteString("MTrk")
	binary.Write(&out, binary.BigEndian, uint32(track.Len()))
	out.Write(track.Bytes())
	return out.Bytes()
}

func writeVLQ(buf *bytes.Buffer, value int) {
	var stack []byte
	stack = append(stack, byte(value&0x7F))
	value >>= 7
	for value > 0 {
		stack = append(stack, byte(value&0x7F)|0x80)
		value >>= 7
	}
	for i := len(stack) - 1; i >= 0; i-- {
		buf.WriteByte(stack[i])
	}
}

func TestStartExerciseCompilesAndCachesTheScore(t *testing.T) {
	store, err := NewStore(discardLogger(), t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer store.Close()

	midiBytes := buildSMF()
	req := events.StartExerciseRequest{ExerciseID: "triad", Hand: events.HandBoth, Mode: events.ModeAuto}

	s, started, err := store.StartExercise(req, midiBytes)
	if err != nil {
		t.Fatalf("StartExercise() error = %v", err)
	}
	if started.TotalGroups != 1 {
		t.Fatalf("TotalGroups = %d, want 1", started.TotalGroups)
	}
	if started.TimeSigNum != 4 || started.TimeSigDenom != 4 {
		t.Errorf("TimeSig = %d/%d, want 4/4", started.TimeSigNum, started.TimeSigDenom)
	}

	// Second StartExercise with identical bytes should hit the cache
	// (exercised indirectly: no error, identical compiled shape).
	s2, started2, err := store.StartExercise(req, midiBytes)
	if err != nil {
		t.Fatalf("StartExercise() (cached) error = %v", err)
	}
	if started2.TotalGroups != started.TotalGroups {
		t.Errorf("cached TotalGroups = %d, want %d", started2.TotalGroups, started.TotalGroups)
	}
	_ = s2

	if _, err := s.CountInComplete(0.0); err != nil {
		t.Fatalf("CountInComplete() error = %v", err)
	}
}

func TestAudioChunkAdvancesOnMatchingChord(t *testing.T) {
	store, err := NewStore(discardLogger(), t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer store.Close()

	req := events.StartExerciseRequest{ExerciseID: "triad", Hand: events.HandBoth, Mode: events.ModeMonophonic}
	s, _, err := store.StartExercise(req, buildSMF())
	if err != nil {
		t.Fatalf("StartExercise() error = %v", err)
	}
	if _, err := s.CountInComplete(0.0); err != nil {
		t.Fatalf("CountInComplete() error = %v", err)
	}

	// Submit the chord tones directly through the follower (bypassing
	// the detector router, which is exercised separately) to confirm
	// the session wiring advances and completes.
	for _, pitch := range []int{60, 64, 67} {
		_, _, err := s.sess.Submit(events.NoteEvent{
			MidiPitch:     pitch,
			DetectedAtSec: 0.0,
			SourceTier:    events.TierVerification,
		})
		if err != nil {
			t.Fatalf("Submit(%d) error = %v", pitch, err)
		}
	}

	if !s.IsComplete() {
		t.Error("IsComplete() = false, want true after the only group advanced")
	}
	progress := s.Progress()
	if progress.GroupsCompleted != 1 {
		t.Errorf("GroupsCompleted = %d, want 1", progress.GroupsCompleted)
	}

	complete := s.Stop()
	if complete.Counters.GroupsCompleted != 1 {
		t.Errorf("Stop().Counters.GroupsCompleted = %d, want 1", complete.Counters.GroupsCompleted)
	}
}

func TestAudioChunkRoutesThroughDetector(t *testing.T) {
	store, err := NewStore(discardLogger(), t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer store.Close()

	req := events.StartExerciseRequest{ExerciseID: "triad", Hand: events.HandBoth, Mode: events.ModeMonophonic}
	s, _, err := store.StartExercise(req, buildSMF())
	if err != nil {
		t.Fatalf("StartExercise() error = %v", err)
	}
	if _, err := s.CountInComplete(0.0); err != nil {
		t.Fatalf("CountInComplete() error = %v", err)
	}

	samples := make([]float32, 3072)
	const sampleRate = 44100
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * 261.63 * float64(i) / sampleRate))
	}
	notes, _, err := s.AudioChunk(context.Background(), events.AudioChunk{Samples: samples, SampleRateHz: sampleRate}, 0)
	if err != nil {
		t.Fatalf("AudioChunk() error = %v", err)
	}
	if len(notes) == 0 {
		t.Fatal("AudioChunk() returned no notes for a clean C4 tone")
	}
}
