package cnt

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/neurodata-tools/eegbridge/internal/eeg"
)

// File is a decoded CNT container.
type File struct {
	Version  string
	Rate     float64
	Channels []ChannelDesc

	samples  []float64 // interleaved, channels fastest, microvolts
	triggers []Trigger
}

// ChannelCount returns the number of channels.
func (f *File) ChannelCount() int { return len(f.Channels) }

// SampleRate returns the sampling rate in Hz.
func (f *File) SampleRate() float64 { return f.Rate }

// SampleCount returns the number of sample frames.
func (f *File) SampleCount() int {
	if len(f.Channels) == 0 {
		return 0
	}
	return len(f.samples) / len(f.Channels)
}

// Samples returns interleaved microvolt values for frames [from, to).
func (f *File) Samples(from, to int) ([]float64, error) {
	n := f.SampleCount()
	if from < 0 || to < from || to > n {
		return nil, fmt.Errorf("sample range [%d, %d) outside [0, %d)", from, to, n)
	}
	nchan := len(f.Channels)
	out := make([]float64, (to-from)*nchan)
	copy(out, f.samples[from*nchan:to*nchan])
	return out, nil
}

// Triggers returns the trigger table in file order.
func (f *File) Triggers() []Trigger { return f.triggers }

// ToRecording converts the container to a Recording (volts).
func (f *File) ToRecording(name string) (*eeg.Recording, error) {
	nchan := f.ChannelCount()
	nsamp := f.SampleCount()

	rec := &eeg.Recording{
		Name:       name,
		SampleRate: f.Rate,
		Channels:   make([]eeg.Channel, nchan),
		Data:       make([][]float64, nchan),
	}
	for c := 0; c < nchan; c++ {
		rec.Channels[c] = eeg.Channel{Name: f.Channels[c].Label, Kind: eeg.KindEEG}
		row := make([]float64, nsamp)
		for t := 0; t < nsamp; t++ {
			row[t] = f.samples[t*nchan+c] * 1e-6 // microvolts -> volts
		}
		rec.Data[c] = row
	}
	for _, t := range f.triggers {
		rec.Events = append(rec.Events, eeg.Event{Code: t.Code, Sample: int64(t.Sample)})
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// ReadFile loads a CNT container from disk.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cnt file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

// ReadRecording loads a CNT container and converts it to a Recording named
// after the file stem.
func ReadRecording(path string) (*eeg.Recording, error) {
	f, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return f.ToRecording(name)
}

// Parse decodes a CNT container from memory.
func Parse(data []byte) (*File, error) {
	if len(data) < riffHeaderSize {
		return nil, fmt.Errorf("file too short for RIFF header: %d bytes", len(data))
	}
	if string(data[0:4]) != riffMagic {
		return nil, fmt.Errorf("bad magic %q, want %q", data[0:4], riffMagic)
	}
	payload := int(binary.LittleEndian.Uint32(data[4:8]))
	if payload+8 > len(data) {
		return nil, fmt.Errorf("RIFF size %d overruns file of %d bytes", payload, len(data))
	}
	if string(data[8:12]) != formType {
		return nil, fmt.Errorf("unexpected form type %q, want %q", data[8:12], formType)
	}

	f := &File{}
	var sawHeader, sawSamples bool

	offset := riffHeaderSize
	end := 8 + payload
	for offset+chunkHeaderSize <= end {
		fourcc := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := data[offset+chunkHeaderSize:]
		if size > len(body) {
			return nil, fmt.Errorf("chunk %q size %d overruns file", fourcc, size)
		}
		body = body[:size]

		switch fourcc {
		case chunkHeader:
			if err := f.parseHeader(body); err != nil {
				return nil, fmt.Errorf("chunk %q: %w", fourcc, err)
			}
			sawHeader = true
		case chunkSamples:
			if err := f.parseSamples(body); err != nil {
				return nil, fmt.Errorf("chunk %q: %w", fourcc, err)
			}
			sawSamples = true
		case chunkTriggers:
			if err := f.parseTriggers(body); err != nil {
				return nil, fmt.Errorf("chunk %q: %w", fourcc, err)
			}
		default:
			// Unknown chunks are skipped; the format is extensible.
		}

		offset += chunkHeaderSize + padded(size)
	}

	if !sawHeader {
		return nil, fmt.Errorf("container has no %q chunk", chunkHeader)
	}
	if !sawSamples {
		return nil, fmt.Errorf("container has no %q chunk", chunkSamples)
	}
	// Chunk order is not fixed, so the dimension check waits until both
	// chunks are in.
	if n := len(f.Channels); len(f.samples)%n != 0 {
		return nil, fmt.Errorf("%d sample values do not fill %d channels evenly", len(f.samples), n)
	}
	return f, nil
}

// parseHeader decodes the ASCII eeph chunk. The sample chunk may precede it
// in a malformed file, so dimension checks happen after both are in.
func (f *File) parseHeader(body []byte) error {
	sc := bufio.NewScanner(strings.NewReader(string(body)))
	section := ""
	wantChannels := -1
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") {
			section = line
			continue
		}
		switch section {
		case sectVersion:
			f.Version = line
		case sectRate:
			rate, err := strconv.ParseFloat(line, 64)
			if err != nil || rate <= 0 {
				return fmt.Errorf("bad sampling rate %q", line)
			}
			f.Rate = rate
		case sectChannels:
			n, err := strconv.Atoi(line)
			if err != nil || n <= 0 {
				return fmt.Errorf("bad channel count %q", line)
			}
			wantChannels = n
		case sectChanData:
			parts := strings.Fields(line)
			ch := ChannelDesc{Label: parts[0]}
			if len(parts) > 1 {
				ch.Reference = parts[1]
			}
			if len(parts) > 2 {
				ch.Unit = parts[2]
			}
			f.Channels = append(f.Channels, ch)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	if f.Rate == 0 {
		return fmt.Errorf("header has no sampling rate")
	}
	if wantChannels < 0 {
		return fmt.Errorf("header has no channel count")
	}
	if len(f.Channels) != wantChannels {
		return fmt.Errorf("header lists %d channels but declares %d", len(f.Channels), wantChannels)
	}
	return nil
}

func (f *File) parseSamples(body []byte) error {
	if len(body)%bytesPerSample != 0 {
		return fmt.Errorf("sample chunk size %d is not a multiple of %d", len(body), bytesPerSample)
	}
	f.samples = make([]float64, len(body)/bytesPerSample)
	for i := range f.samples {
		f.samples[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(body[i*bytesPerSample:])))
	}
	return nil
}

func (f *File) parseTriggers(body []byte) error {
	if len(body) < 4 {
		return fmt.Errorf("trigger chunk too short: %d bytes", len(body))
	}
	count := int(binary.LittleEndian.Uint32(body[0:4]))
	offset := 4
	for i := 0; i < count; i++ {
		if offset+9 > len(body) {
			return fmt.Errorf("trigger %d truncated", i)
		}
		sample := binary.LittleEndian.Uint64(body[offset : offset+8])
		codeLen := int(body[offset+8])
		offset += 9
		if offset+codeLen > len(body) {
			return fmt.Errorf("trigger %d code truncated", i)
		}
		f.triggers = append(f.triggers, Trigger{
			Code:   string(body[offset : offset+codeLen]),
			Sample: sample,
		})
		offset += codeLen
	}
	return nil
}
