package loader

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pianofollow/engine/internal/events"
)

// alternatingHandsSMF builds n right-hand notes at ticks 0, 960, 1920,
// ... and n left-hand notes at ticks 480, 1440, 2400, ... — one beat
// (well outside the 30ms onset-grouping window at any reasonable
// tempo) away from the nearest right-hand note — so no group in the
// unfiltered compile ever spans both tracks.
func alternatingHandsSMF(n int) []byte {
	right := []trackEvent{{0, timeSignature(4, 2)}}
	lastRight := 0
	for i := 0; i < n; i++ {
		onTick := i * 960
		right = append(right, trackEvent{onTick - lastRight, noteOn(60, 80)}, trackEvent{240, noteOff(60)})
		lastRight = onTick + 240
	}
	right = append(right, trackEvent{0, endOfTrack()})

	var left []trackEvent
	lastLeft := 0
	for i := 0; i < n; i++ {
		onTick := 480 + i*960
		left = append(left, trackEvent{onTick - lastLeft, noteOn(36, 70)}, trackEvent{240, noteOff(36)})
		lastLeft = onTick + 240
	}
	left = append(left, trackEvent{0, endOfTrack()})

	return buildSMF(1, 480, [][]trackEvent{right, left})
}

// TestProperty4HandFilteringIsPartitioning is spec.md Testable Property
// 4: groups(right) ∪ groups(left) = groups(both) in count when no
// group spans both tracks.
func TestProperty4HandFilteringIsPartitioning(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("group count(right) + group count(left) == group count(both) when no group spans tracks", prop.ForAll(
		func(n int) bool {
			data := alternatingHandsSMF(n)

			both, err := Load("test", data, events.HandBoth, false)
			if err != nil {
				return false
			}
			right, err := Load("test", data, events.HandRight, true)
			if err != nil {
				return false
			}
			left, err := Load("test", data, events.HandLeft, true)
			if err != nil {
				return false
			}
			return len(right.Groups)+len(left.Groups) == len(both.Groups)
		},
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
