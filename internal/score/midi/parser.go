package midi

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/pianofollow/engine/internal/events"
)

// Parse reads a Standard MIDI File Type 0 or 1 from data, extracting
// the tempo map, time-signature events, and per-track notes, per
// spec.md §4.6 / §6.
//
// Fails with events.ErrMalformedMidi on parse error, or
// events.ErrUnsupportedFormat for Type-2 MIDI.
func Parse(data []byte) (*File, error) {
	p := &parser{data: data}

	format, numTracks, division, err := p.readHeader()
	if err != nil {
		return nil, err
	}
	if format == Format2 {
		return nil, fmt.Errorf("midi: format 2 files are not supported: %w", events.ErrUnsupportedFormat)
	}

	f := &File{Format: format, TicksPerQuarter: division}

	for i := 0; i < numTracks; i++ {
		notes, tempos, sigs, err := p.readTrack(i)
		if err != nil {
			return nil, err
		}
		f.Notes = append(f.Notes, notes...)
		f.TempoMap = append(f.TempoMap, tempos...)
		f.TimeSignatures = append(f.TimeSignatures, sigs...)
	}

	sort.Slice(f.TempoMap, func(i, j int) bool { return f.TempoMap[i].Tick < f.TempoMap[j].Tick })
	sort.Slice(f.TimeSignatures, func(i, j int) bool { return f.TimeSignatures[i].Tick < f.TimeSignatures[j].Tick })

	if len(f.TempoMap) == 0 {
		f.TempoMap = []TempoEvent{{Tick: 0, MicrosPerBeat: 500000}} // default 120 BPM
	}
	if len(f.TimeSignatures) == 0 {
		f.TimeSignatures = []TimeSignatureEvent{{Tick: 0, Numerator: 4, Denominator: 4}}
	}

	return f, nil
}

type parser struct {
	data []byte
}

func (p *parser) readHeader() (format Format, numTracks, division int, err error) {
	if len(p.data) < 14 {
		return 0, 0, 0, fmt.Errorf("midi: file too short for header: %w", events.ErrMalformedMidi)
	}
	if string(p.data[0:4]) != "MThd" {
		return 0, 0, 0, fmt.Errorf("midi: missing MThd signature: %w", events.ErrMalformedMidi)
	}
	headerLen := binary.BigEndian.Uint32(p.data[4:8])
	if headerLen < 6 {
		return 0, 0, 0, fmt.Errorf("midi: invalid header length %d: %w", headerLen, events.ErrMalformedMidi)
	}
	format = Format(binary.BigEndian.Uint16(p.data[8:10]))
	numTracks = int(binary.BigEndian.Uint16(p.data[10:12]))
	divisionRaw := binary.BigEndian.Uint16(p.data[12:14])
	if divisionRaw&0x8000 != 0 {
		return 0, 0, 0, fmt.Errorf("midi: SMPTE division format is not supported: %w", events.ErrUnsupportedFormat)
	}
	division = int(divisionRaw)
	p.data = p.data[8+headerLen:]
	return format, numTracks, division, nil
}

// readTrack parses one MTrk chunk into absolute-tick notes, tempo
// events, and time-signature events, and advances p.data past the
// chunk.
func (p *parser) readTrack(trackIndex int) (notes []Note, tempos []TempoEvent, sigs []TimeSignatureEvent, err error) {
	if len(p.data) < 8 {
		return nil, nil, nil, fmt.Errorf("midi: not enough data for track %d header: %w", trackIndex, events.ErrMalformedMidi)
	}
	if string(p.data[0:4]) != "MTrk" {
		return nil, nil, nil, fmt.Errorf("midi: missing MTrk signature at track %d: %w", trackIndex, events.ErrMalformedMidi)
	}
	length := int(binary.BigEndian.Uint32(p.data[4:8]))
	body := p.data[8:]
	if len(body) < length {
		return nil, nil, nil, fmt.Errorf("midi: track %d length exceeds file: %w", trackIndex, events.ErrMalformedMidi)
	}
	track := body[:length]
	p.data = body[length:]

	pos := 0
	tick := 0
	runningStatus := byte(0)
	active := map[int]*Note{} // pitch -> in-progress note

	readVLQ := func() (int, error) {
		value := 0
		for {
			if pos >= len(track) {
				return 0, fmt.Errorf("midi: truncated variable-length quantity: %w", events.ErrMalformedMidi)
			}
			b := track[pos]
			pos++
			value = (value << 7) | int(b&0x7F)
			if b&0x80 == 0 {
				return value, nil
			}
		}
	}

	for pos < len(track) {
		delta, err := readVLQ()
		if err != nil {
			return nil, nil, nil, err
		}
		tick += delta

		if pos >= len(track) {
			break
		}
		eventByte := track[pos]

		var status byte
		if eventByte&0x80 != 0 {
			status = eventByte
			pos++
			runningStatus = status
		} else {
			status = runningStatus
			if status == 0 {
				return nil, nil, nil, fmt.Errorf("midi: data byte with no running status: %w", events.ErrMalformedMidi)
			}
		}

		switch {
		case status == 0xFF: // meta event
			if pos >= len(track) {
				return nil, nil, nil, fmt.Errorf("midi: truncated meta event: %w", events.ErrMalformedMidi)
			}
			metaType := track[pos]
			pos++
			metaLen, err := readVLQ()
			if err != nil {
				return nil, nil, nil, err
			}
			if pos+metaLen > len(track) {
				return nil, nil, nil, fmt.Errorf("midi: meta event length exceeds track: %w", events.ErrMalformedMidi)
			}
			metaData := track[pos : pos+metaLen]
			pos += metaLen

			switch metaType {
			case 0x51: // set_tempo
				if metaLen != 3 {
					return nil, nil, nil, fmt.Errorf("midi: malformed set_tempo event: %w", events.ErrMalformedMidi)
				}
				micros := int(metaData[0])<<16 | int(metaData[1])<<8 | int(metaData[2])
				tempos = append(tempos, TempoEvent{Tick: tick, MicrosPerBeat: micros})
			case 0x58: // time signature
				if metaLen != 4 {
					return nil, nil, nil, fmt.Errorf("midi: malformed time signature event: %w", events.ErrMalformedMidi)
				}
				num := int(metaData[0])
				denom := 1 << metaData[1]
				sigs = append(sigs, TimeSignatureEvent{Tick: tick, Numerator: num, Denominator: denom})
			}

		case status == 0xF0 || status == 0xF7: // sysex
			sysexLen, err := readVLQ()
			if err != nil {
				return nil, nil, nil, err
			}
			pos += sysexLen

		case status&0xF0 == 0x90: // note on
			if pos+2 > len(track) {
				return nil, nil, nil, fmt.Errorf("midi: truncated note_on event: %w", events.ErrMalformedMidi)
			}
			pitch := clipPitch(int(track[pos]))
			velocity := int(track[pos+1])
			pos += 2
			if velocity > 0 {
				active[pitch] = &Note{TrackIndex: trackIndex, MidiPitch: pitch, Velocity: velocity, StartTick: tick}
			} else if n, ok := active[pitch]; ok {
				n.EndTick = tick
				notes = append(notes, *n)
				delete(active, pitch)
			}

		case status&0xF0 == 0x80: // note off
			if pos+2 > len(track) {
				return nil, nil, nil, fmt.Errorf("midi: truncated note_off event: %w", events.ErrMalformedMidi)
			}
			pitch := clipPitch(int(track[pos]))
			pos += 2
			if n, ok := active[pitch]; ok {
				n.EndTick = tick
				notes = append(notes, *n)
				delete(active, pitch)
			}

		case status&0xF0 == 0xA0, status&0xF0 == 0xB0, status&0xF0 == 0xE0: // note aftertouch, CC, pitch bend: 2 data bytes
			pos += 2

		case status&0xF0 == 0xC0, status&0xF0 == 0xD0: // program change, channel aftertouch: 1 data byte, ignored
			pos += 1

		default:
			return nil, nil, nil, fmt.Errorf("midi: unrecognized status byte 0x%02X: %w", status, events.ErrMalformedMidi)
		}
	}

	// Any note left active at end-of-track without an explicit
	// note_off is closed at the track's final tick.
	for _, n := range active {
		n.EndTick = tick
		notes = append(notes, *n)
	}

	return notes, tempos, sigs, nil
}

// clipPitch clips out-of-range MIDI pitches to the 88-key keyboard
// [21, 108]. The clipping is not logged, here or by the score loader.
func clipPitch(pitch int) int {
	if pitch < events.MinMidiPitch {
		return events.MinMidiPitch
	}
	if pitch > events.MaxMidiPitch {
		return events.MaxMidiPitch
	}
	return pitch
}
