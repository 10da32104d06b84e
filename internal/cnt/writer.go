package cnt

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/neurodata-tools/eegbridge/internal/eeg"
	"github.com/neurodata-tools/eegbridge/internal/fsutil"
)

// Writer accumulates samples and triggers and serializes the container on
// Close. RIFF carries chunk sizes up front, so the payload is buffered in
// memory until then.
type Writer struct {
	w        io.Writer
	rate     float64
	channels []ChannelDesc
	samples  []float32 // interleaved, channels fastest, microvolts
	triggers []Trigger
	closed   bool
}

// NewWriter prepares a container writer for the given sampling rate and
// channel table.
func NewWriter(w io.Writer, rate float64, channels []ChannelDesc) (*Writer, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("invalid sampling rate %g", rate)
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("channel table is empty")
	}
	for i, ch := range channels {
		if strings.TrimSpace(ch.Label) == "" {
			return nil, fmt.Errorf("channel %d has an empty label", i)
		}
	}
	return &Writer{w: w, rate: rate, channels: channels}, nil
}

// AddSamples appends interleaved sample values (channels fastest, in the
// header's channel order, microvolts). The value count must be a multiple
// of the channel count; one channel's worth is a single frame.
func (wr *Writer) AddSamples(values []float64) error {
	if wr.closed {
		return fmt.Errorf("writer is closed")
	}
	if len(values)%len(wr.channels) != 0 {
		return fmt.Errorf("%d values is not a multiple of %d channels", len(values), len(wr.channels))
	}
	for _, v := range values {
		wr.samples = append(wr.samples, float32(v))
	}
	return nil
}

// AddTrigger records a trigger at the given sample offset.
func (wr *Writer) AddTrigger(code string, sample uint64) error {
	if wr.closed {
		return fmt.Errorf("writer is closed")
	}
	if len(code) > 255 {
		return fmt.Errorf("trigger code %q longer than 255 bytes", code)
	}
	wr.triggers = append(wr.triggers, Trigger{Code: code, Sample: sample})
	return nil
}

// SampleCount returns the number of frames buffered so far.
func (wr *Writer) SampleCount() int { return len(wr.samples) / len(wr.channels) }

// Close serializes the RIFF container. The writer cannot be reused.
func (wr *Writer) Close() error {
	if wr.closed {
		return fmt.Errorf("writer already closed")
	}
	wr.closed = true

	header := wr.headerChunk()
	samples := wr.sampleChunk()
	triggers := wr.triggerChunk()

	payload := 4 // form type
	payload += chunkHeaderSize + padded(len(header))
	payload += chunkHeaderSize + padded(len(samples))
	if triggers != nil {
		payload += chunkHeaderSize + padded(len(triggers))
	}

	out := make([]byte, 0, riffHeaderSize+payload)
	out = append(out, riffMagic...)
	out = binary.LittleEndian.AppendUint32(out, uint32(payload))
	out = append(out, formType...)
	out = appendChunk(out, chunkHeader, header)
	out = appendChunk(out, chunkSamples, samples)
	if triggers != nil {
		out = appendChunk(out, chunkTriggers, triggers)
	}

	_, err := wr.w.Write(out)
	return err
}

func (wr *Writer) headerChunk() []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n%s\n", sectVersion, FileVersion)
	fmt.Fprintf(&sb, "%s\n%g\n", sectRate, wr.rate)
	fmt.Fprintf(&sb, "%s\n%d\n", sectChannels, len(wr.channels))
	sb.WriteString(sectChanData + "\n")
	for _, ch := range wr.channels {
		ref, unit := ch.Reference, ch.Unit
		if ref == "" {
			ref = "ref"
		}
		if unit == "" {
			unit = "uV"
		}
		fmt.Fprintf(&sb, "%s %s %s\n", ch.Label, ref, unit)
	}
	return []byte(sb.String())
}

func (wr *Writer) sampleChunk() []byte {
	out := make([]byte, len(wr.samples)*bytesPerSample)
	for i, v := range wr.samples {
		binary.LittleEndian.PutUint32(out[i*bytesPerSample:], math.Float32bits(v))
	}
	return out
}

func (wr *Writer) triggerChunk() []byte {
	if len(wr.triggers) == 0 {
		return nil
	}
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(wr.triggers)))
	for _, t := range wr.triggers {
		out = binary.LittleEndian.AppendUint64(out, t.Sample)
		out = append(out, byte(len(t.Code)))
		out = append(out, t.Code...)
	}
	return out
}

func padded(n int) int { return n + n%2 }

func appendChunk(out []byte, fourcc string, payload []byte) []byte {
	out = append(out, fourcc...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(payload)))
	out = append(out, payload...)
	if len(payload)%2 != 0 {
		out = append(out, 0)
	}
	return out
}

// FromRecording converts a recording into container channel descriptors and
// interleaved microvolt samples.
func FromRecording(rec *eeg.Recording) ([]ChannelDesc, []float64, error) {
	if err := rec.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid recording: %w", err)
	}
	channels := make([]ChannelDesc, rec.NumChannels())
	for i, ch := range rec.Channels {
		channels[i] = ChannelDesc{Label: ch.Name, Reference: "ref", Unit: "uV"}
	}

	nchan, nsamp := rec.NumChannels(), rec.NumSamples()
	values := make([]float64, 0, nchan*nsamp)
	for t := 0; t < nsamp; t++ {
		for c := 0; c < nchan; c++ {
			values = append(values, rec.Data[c][t]*1e6) // volts -> microvolts
		}
	}
	return channels, values, nil
}

// Save writes a recording to path as a CNT container. An existing file is
// only replaced when overwrite is set.
func Save(fs fsutil.FileSystem, path string, rec *eeg.Recording, overwrite bool) error {
	if fs.Exists(path) && !overwrite {
		return fmt.Errorf("%s exists; pass overwrite to replace it", path)
	}
	channels, values, err := FromRecording(rec)
	if err != nil {
		return err
	}

	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	wr, err := NewWriter(f, rec.SampleRate, channels)
	if err != nil {
		f.Close()
		return err
	}
	if err := wr.AddSamples(values); err != nil {
		f.Close()
		return err
	}
	for _, ev := range rec.Events {
		if ev.Sample < 0 {
			continue
		}
		if err := wr.AddTrigger(ev.Code, uint64(ev.Sample)); err != nil {
			f.Close()
			return err
		}
	}
	if err := wr.Close(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
