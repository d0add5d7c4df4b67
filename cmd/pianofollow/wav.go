package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// readWAV decodes a PCM16 or PCM float32 RIFF/WAVE file into mono
// float32 samples in [-1, 1], averaging channels down to one. It is a
// minimal decoder for this CLI's own exercise-replay use, not a
// general-purpose audio library — spec.md's pipeline consumes
// already-framed float32 samples (preprocessor.Process), so this is
// the only place raw file bytes are touched.
func readWAV(r io.Reader) (samples []float32, sampleRateHz int, err error) {
	var riffHeader [12]byte
	if _, err := io.ReadFull(r, riffHeader[:]); err != nil {
		return nil, 0, fmt.Errorf("wav: failed to read RIFF header: %w", err)
	}
	if string(riffHeader[0:4]) != "RIFF" || string(riffHeader[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("wav: not a RIFF/WAVE file")
	}

	var numChannels, bitsPerSample uint16
	var audioFormat uint16
	var sawFmt bool

	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r, chunkHeader[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, 0, fmt.Errorf("wav: failed to read chunk header: %w", err)
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch chunkID {
		case "fmt ":
			body := make([]byte, chunkSize)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, fmt.Errorf("wav: failed to read fmt chunk: %w", err)
			}
			audioFormat = binary.LittleEndian.Uint16(body[0:2])
			numChannels = binary.LittleEndian.Uint16(body[2:4])
			sampleRateHz = int(binary.LittleEndian.Uint32(body[4:8]))
			bitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			sawFmt = true

		case "data":
			if !sawFmt {
				return nil, 0, fmt.Errorf("wav: data chunk before fmt chunk")
			}
			body := make([]byte, chunkSize)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, fmt.Errorf("wav: failed to read data chunk: %w", err)
			}
			samples, err = decodeFrames(body, numChannels, bitsPerSample, audioFormat)
			if err != nil {
				return nil, 0, err
			}

		default:
			if _, err := io.CopyN(io.Discard, r, int64(chunkSize)); err != nil {
				return nil, 0, fmt.Errorf("wav: failed to skip chunk %q: %w", chunkID, err)
			}
		}
		if chunkSize%2 == 1 {
			// Chunks are word-aligned; skip the pad byte.
			io.CopyN(io.Discard, r, 1)
		}
	}

	if samples == nil {
		return nil, 0, fmt.Errorf("wav: no data chunk found")
	}
	return samples, sampleRateHz, nil
}

func decodeFrames(body []byte, numChannels, bitsPerSample, audioFormat uint16) ([]float32, error) {
	if numChannels == 0 {
		numChannels = 1
	}
	bytesPerSample := int(bitsPerSample) / 8
	if bytesPerSample == 0 {
		return nil, fmt.Errorf("wav: unsupported bits-per-sample %d", bitsPerSample)
	}
	frameSize := bytesPerSample * int(numChannels)
	if frameSize == 0 || len(body)%frameSize != 0 {
		return nil, fmt.Errorf("wav: data chunk size %d not a multiple of frame size %d", len(body), frameSize)
	}
	numFrames := len(body) / frameSize

	out := make([]float32, numFrames)
	for i := 0; i < numFrames; i++ {
		var sum float32
		base := i * frameSize
		for ch := 0; ch < int(numChannels); ch++ {
			off := base + ch*bytesPerSample
			sum += decodeSample(body[off:off+bytesPerSample], bitsPerSample, audioFormat)
		}
		out[i] = sum / float32(numChannels)
	}
	return out, nil
}

func decodeSample(b []byte, bitsPerSample, audioFormat uint16) float32 {
	const formatFloat = 3
	switch bitsPerSample {
	case 16:
		v := int16(binary.LittleEndian.Uint16(b))
		return float32(v) / 32768.0
	case 32:
		if audioFormat == formatFloat {
			return math.Float32frombits(binary.LittleEndian.Uint32(b))
		}
		v := int32(binary.LittleEndian.Uint32(b))
		return float32(v) / 2147483648.0
	case 8:
		// 8-bit PCM is unsigned, centered at 128.
		return (float32(b[0]) - 128) / 128.0
	default:
		return 0
	}
}
