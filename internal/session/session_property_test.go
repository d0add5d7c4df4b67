package session

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pianofollow/engine/internal/events"
)

// melodySMF builds n single notes, one beat apart (far outside the
// 30ms onset-grouping window, so no two notes merge into one group and
// the grouped-note count is exactly n), cycling through pitch classes.
func melodySMF(n int) []byte {
	var track bytes.Buffer
	writeVLQ(&track, 0)
	track.Write([]byte{0xFF, 0x58, 0x04, 4, 2, 24, 8}) // 4/4
	for i := 0; i < n; i++ {
		pitch := 60 + i%12
		writeVLQ(&track, 0)
		track.Write([]byte{0x90, byte(pitch), 80})
		writeVLQ(&track, 480) // one beat at 480 ticks/quarter
		track.Write([]byte{0x80, byte(pitch), 0})
	}
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

// TestProperty5MidiRoundTripSimulationIsPerfect is spec.md Testable
// Property 5: MIDI -> ExpectedGroup[] -> (simulate each group's
// pitches played at exactly expected_time_sec) -> Follower reports
// accuracy 100%, timing_counts = {on_time: N, early: 0, late: 0}.
func TestProperty5MidiRoundTripSimulationIsPerfect(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20 // each run opens a real sqlite cache; keep the fleet size modest
	properties := gopter.NewProperties(parameters)

	properties.Property("a perfectly-timed simulated performance scores 100% on_time with zero early/late/wrong", prop.ForAll(
		func(n int) bool {
			store, err := NewStore(discardLogger(), t.TempDir(), "")
			if err != nil {
				return false
			}
			defer store.Close()

			req := events.StartExerciseRequest{ExerciseID: "roundtrip", Hand: events.HandBoth, Mode: events.ModeMonophonic}
			s, started, err := store.StartExercise(req, melodySMF(n))
			if err != nil {
				return false
			}
			if started.TotalGroups != n {
				return false
			}
			if _, err := s.CountInComplete(0.0); err != nil {
				return false
			}

			for _, g := range s.exercise.Groups {
				if _, _, err := s.sess.Submit(events.NoteEvent{
					MidiPitch:     g.MidiPitches[0],
					DetectedAtSec: g.ExpectedTime,
					SourceTier:    events.TierVerification,
				}); err != nil {
					return false
				}
			}

			counters := s.Progress()
			return counters.GroupsCompleted == n &&
				counters.OnTimeCount == n &&
				counters.EarlyCount == 0 &&
				counters.LateCount == 0 &&
				counters.WrongCount == 0 &&
				counters.MissedCount == 0
		},
		gen.IntRange(1, 24),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
