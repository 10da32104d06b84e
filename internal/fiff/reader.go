package fiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Tag is one decoded tag from a FIFF stream.
type Tag struct {
	Kind int32
	Type int32
	Next int32
	Data []byte
}

// Int decodes the payload as a single int32.
func (t *Tag) Int() (int32, error) {
	if len(t.Data) < 4 {
		return 0, fmt.Errorf("tag %d payload too short for int: %d bytes", t.Kind, len(t.Data))
	}
	return int32(binary.BigEndian.Uint32(t.Data[:4])), nil
}

// Float decodes the payload as a single float32.
func (t *Tag) Float() (float32, error) {
	if len(t.Data) < 4 {
		return 0, fmt.Errorf("tag %d payload too short for float: %d bytes", t.Kind, len(t.Data))
	}
	return math.Float32frombits(binary.BigEndian.Uint32(t.Data[:4])), nil
}

// Floats decodes the payload as a packed float32 array.
func (t *Tag) Floats() []float32 {
	out := make([]float32, len(t.Data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.BigEndian.Uint32(t.Data[i*4:]))
	}
	return out
}

// ReadTags decodes every tag in a FIFF stream, in file order, stopping at
// the end-of-chain marker.
func ReadTags(r io.Reader) ([]Tag, error) {
	var tags []Tag
	var hdr [tagHeaderSize]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF && len(tags) > 0 {
				// Stream ended without an explicit end marker; accept
				// what we have.
				return tags, nil
			}
			return nil, fmt.Errorf("tag %d header: %w", len(tags), err)
		}
		tag := Tag{
			Kind: int32(binary.BigEndian.Uint32(hdr[0:4])),
			Type: int32(binary.BigEndian.Uint32(hdr[4:8])),
			Next: int32(binary.BigEndian.Uint32(hdr[12:16])),
		}
		size := binary.BigEndian.Uint32(hdr[8:12])
		if size > 0 {
			tag.Data = make([]byte, size)
			if _, err := io.ReadFull(r, tag.Data); err != nil {
				return nil, fmt.Errorf("tag %d payload (%d bytes): %w", len(tags), size, err)
			}
		}
		tags = append(tags, tag)
		if tag.Next == nextNone {
			return tags, nil
		}
	}
}

// Info summarizes a raw FIFF file: the measurement metadata plus derived
// sample counts. Produced by ReadInfo for verification and inspection.
type Info struct {
	NChan     int
	SFreq     float64
	ChNames   []string
	NDig      int
	NCardinal int
	NSamples  int
}

// ReadInfo walks a raw FIFF stream and extracts the summary metadata.
func ReadInfo(r io.Reader) (*Info, error) {
	tags, err := ReadTags(r)
	if err != nil {
		return nil, err
	}

	info := &Info{}
	for i := range tags {
		t := &tags[i]
		switch t.Kind {
		case FIFF_NCHAN:
			v, err := t.Int()
			if err != nil {
				return nil, err
			}
			info.NChan = int(v)
		case FIFF_SFREQ:
			v, err := t.Float()
			if err != nil {
				return nil, err
			}
			info.SFreq = float64(v)
		case FIFF_CH_INFO:
			if len(t.Data) != chInfoSize {
				return nil, fmt.Errorf("ch_info record has %d bytes, expected %d", len(t.Data), chInfoSize)
			}
			name := t.Data[80 : 80+chNameLen]
			end := len(name)
			for end > 0 && name[end-1] == 0 {
				end--
			}
			info.ChNames = append(info.ChNames, string(name[:end]))
		case FIFF_DIG_POINT:
			if len(t.Data) != digPointSize {
				return nil, fmt.Errorf("dig point record has %d bytes, expected %d", len(t.Data), digPointSize)
			}
			info.NDig++
			if int32(binary.BigEndian.Uint32(t.Data[0:4])) == FIFFV_POINT_CARDINAL {
				info.NCardinal++
			}
		case FIFF_DATA_BUFFER:
			if info.NChan > 0 {
				info.NSamples += len(t.Data) / 4 / info.NChan
			}
		}
	}

	if info.NChan == 0 {
		return nil, fmt.Errorf("stream carries no channel count tag")
	}
	if len(info.ChNames) != info.NChan {
		return nil, fmt.Errorf("stream has %d ch_info records for %d channels", len(info.ChNames), info.NChan)
	}
	return info, nil
}
