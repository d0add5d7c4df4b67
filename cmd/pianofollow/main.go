// Command pianofollow replays an audio source (a WAV file, or a
// synthetic stand-in tone when none is given) against
// a MIDI exercise through the full detect → follow → adapt pipeline,
// printing spec.md §6's progress messages as JSON lines. Grounded on
// cmd/engine/main.go's flag-parse → build-deps → construct → run →
// graceful-shutdown-on-signal structure, minus the gRPC transport
// layer itself (spec.md's Non-goals exclude network transport).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/pianofollow/engine/internal/config"
	"github.com/pianofollow/engine/internal/events"
	"github.com/pianofollow/engine/internal/session"
)

const chunkSamples = 3072

func main() {
	exercisePath := flag.String("exercise", "", "path to the MIDI exercise file (required)")
	audioPath := flag.String("audio", "", "path to a mono/stereo PCM16 WAV file to replay (omit to synthesize a steady middle-C stand-in tone)")
	hand := flag.String("hand", "both", "hand filter (right, left, both)")
	mode := flag.String("mode", "auto", "detector mode (monophonic, polyphonic, auto)")
	loop := flag.Bool("loop", false, "loop the exercise on completion")
	wait := flag.Bool("wait", false, "wait for correct pitches instead of timing out")

	cfg := config.Parse()

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *exercisePath == "" {
		logger.Error("missing required -exercise flag")
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	store, err := session.NewStore(logger, cfg.DataDir, cfg.ModelPath)
	if err != nil {
		logger.Error("failed to build session store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	midiBytes, err := session.LoadMidiFile(*exercisePath)
	if err != nil {
		logger.Error("failed to load exercise", "error", err)
		os.Exit(1)
	}

	handVal, err := events.ParseHand(*hand)
	if err != nil {
		logger.Error("invalid -hand", "error", err)
		os.Exit(1)
	}
	modeVal, err := events.ParseMode(*mode)
	if err != nil {
		logger.Error("invalid -mode", "error", err)
		os.Exit(1)
	}

	s, started, err := store.StartExercise(events.StartExerciseRequest{
		ExerciseID: *exercisePath,
		Hand:       handVal,
		Mode:       modeVal,
	}, midiBytes)
	if err != nil {
		logger.Error("failed to start exercise", "error", err)
		os.Exit(1)
	}
	if *loop {
		s.SetLoopMode()
	} else if *wait {
		s.SetWaitMode()
	}
	emit(started)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig)
		cancel()
	}()

	if _, err := s.CountInComplete(0.0); err != nil {
		logger.Error("failed to start timing", "error", err)
		os.Exit(1)
	}

	var samples []float32
	var sampleRateHz int
	if *audioPath != "" {
		f, err := os.Open(*audioPath)
		if err != nil {
			logger.Error("failed to open audio file", "error", err)
			os.Exit(1)
		}
		samples, sampleRateHz, err = readWAV(f)
		f.Close()
		if err != nil {
			logger.Error("failed to decode audio file", "error", err)
			os.Exit(1)
		}
	} else {
		samples, sampleRateHz = synthesizePerformance(started)
	}

	for offset := 0; offset < len(samples); offset += chunkSamples {
		select {
		case <-ctx.Done():
			logger.Info("playback interrupted")
			goto done
		default:
		}
		end := offset + chunkSamples
		if end > len(samples) {
			end = len(samples)
		}
		chunkStartSec := float64(offset) / float64(sampleRateHz)

		notes, progress, err := s.AudioChunk(ctx, events.AudioChunk{
			Samples:      samples[offset:end],
			SampleRateHz: sampleRateHz,
		}, chunkStartSec)
		if err != nil {
			logger.Error("audio chunk processing failed", "error", err)
			break
		}
		for _, n := range notes {
			emit(toNoteDetected(n, handVal))
		}
		for _, p := range progress {
			emit(p)
		}
		if s.IsComplete() {
			break
		}
	}
done:

	complete := s.Stop()
	emit(complete)
}

func toNoteDetected(n events.NoteEvent, hand events.Hand) events.NoteDetected {
	return events.NoteDetected{
		MidiPitch:     n.MidiPitch,
		NoteName:      n.NoteName,
		FrequencyHz:   n.FrequencyHz,
		Confidence:    n.Confidence,
		Velocity:      n.Velocity,
		Dynamic:       n.Dynamic(),
		Hand:          hand,
		SourceTier:    n.SourceTier,
		DetectedAtSec: n.DetectedAtSec,
	}
}

// synthesizePerformance builds a stand-in sine-wave signal for quick
// smoke testing without a real audio source: one continuous middle-C
// tone lasting TotalGroups beats at the exercise's BPM. It does not
// follow the score's pitches or onsets.
func synthesizePerformance(started events.StartedExercise) ([]float32, int) {
	const sampleRateHz = 44100
	beatSec := 60.0 / started.BPM
	if beatSec <= 0 {
		beatSec = 0.5
	}
	totalSamples := int(float64(started.TotalGroups) * beatSec * sampleRateHz)
	if totalSamples <= 0 {
		totalSamples = sampleRateHz
	}
	samples := make([]float32, totalSamples)
	freq := 261.63 // middle C; a generic stand-in tone, not score-aware
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/sampleRateHz))
	}
	return samples, sampleRateHz
}

func emit(v any) {
	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, "failed to encode progress message:", err)
	}
}
