package preprocessor

import (
	"errors"
	"math"
	"testing"

	"github.com/pianofollow/engine/internal/events"
)

func TestProcessDetectsSilence(t *testing.T) {
	samples := make([]float32, 512)
	frame, err := Process(samples, 44100, Options{DetectorRate: 44100})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !frame.Silence {
		t.Errorf("Process() silence = false, want true for zero samples")
	}
}

func TestProcessRejectsExtremeResampleRatio(t *testing.T) {
	samples := make([]float32, 2048)
	for i := range samples {
		samples[i] = float32(math.Sin(float64(i) * 0.1))
	}
	_, err := Process(samples, 44100, Options{DetectorRate: 8000})
	if !errors.Is(err, events.ErrSampleRateMismatch) {
		t.Errorf("Process() error = %v, want ErrSampleRateMismatch", err)
	}
}

func TestProcessResamplesToDetectorRate(t *testing.T) {
	samples := make([]float32, 4096)
	for i := range samples {
		samples[i] = float32(math.Sin(float64(i) * 0.05))
	}
	frame, err := Process(samples, 44100, Options{DetectorRate: 16000})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if frame.SampleRate != 16000 {
		t.Errorf("Process() SampleRate = %d, want 16000", frame.SampleRate)
	}
	wantLen := int(float64(len(samples)) * 16000.0 / 44100.0)
	if math.Abs(float64(len(frame.Samples)-wantLen)) > 1 {
		t.Errorf("Process() len(Samples) = %d, want ~%d", len(frame.Samples), wantLen)
	}
}
