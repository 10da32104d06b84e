// Package eeg defines the core domain types shared by the format codecs:
// recordings, channels, electrode digitization, and trigger events.
package eeg

import (
	"fmt"
	"math"
)

// Cap hardware constants for the ANT Duke Waveguard cap assumed by this
// pipeline. A FastScan digitization of this cap carries the three anatomical
// landmarks plus one point per physical electrode.
const (
	// NumElectrodes is the number of digitized electrode positions
	// (128 EEG + 1 EOG on the Duke Waveguard 129 layout).
	NumElectrodes = 129

	// NumLandmarks is the number of anatomical reference points
	// (nasion, left preauricular, right preauricular).
	NumLandmarks = 3

	// NumDigPoints is the total number of points in a complete
	// digitization file.
	NumDigPoints = NumElectrodes + NumLandmarks
)

// ChannelKind classifies a recording channel.
type ChannelKind int

const (
	KindEEG ChannelKind = iota // scalp EEG electrode
	KindEOG                    // electro-oculogram
	KindMisc                   // status/auxiliary channels without positions
)

func (k ChannelKind) String() string {
	switch k {
	case KindEEG:
		return "eeg"
	case KindEOG:
		return "eog"
	default:
		return "misc"
	}
}

// Point3 is a position in 3-D space. Units depend on context: scanner files
// carry millimeters, montages and recordings carry meters.
type Point3 struct {
	X, Y, Z float64
}

// Sub returns p - q.
func (p Point3) Sub(q Point3) Point3 {
	return Point3{p.X - q.X, p.Y - q.Y, p.Z - q.Z}
}

// Norm returns the Euclidean length of p.
func (p Point3) Norm() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// Dist returns the Euclidean distance between p and q.
func (p Point3) Dist(q Point3) float64 {
	return p.Sub(q).Norm()
}

// Channel describes a single recording channel.
type Channel struct {
	Name string
	Kind ChannelKind

	// Position is the digitized sensor location in head coordinates
	// (meters). Zero value means no position is known for this channel.
	Position Point3

	// HasPosition reports whether Position was set from a digitization.
	HasPosition bool
}

// Landmarks holds the three anatomical reference points in head
// coordinates (meters), set when a digitization is attached.
type Landmarks struct {
	Nasion, LPA, RPA Point3
}

// Event is a trigger mark at a sample offset within the recording.
type Event struct {
	Code   string
	Sample int64
}

// Recording is an in-memory EEG recording: channel-major sample data plus
// the metadata needed to serialize it to any of the supported containers.
type Recording struct {
	// Name is a free-form dataset name (EEGLAB setname, or the input
	// filename stem for other sources).
	Name string

	// SampleRate in Hz.
	SampleRate float64

	// Channels holds per-channel metadata, one entry per row of Data.
	Channels []Channel

	// Data is channel-major: Data[ch][sample], in volts.
	Data [][]float64

	// Events are trigger marks, ordered by sample offset.
	Events []Event

	// Landmarks are the anatomical reference points, nil until a
	// digitization montage has been attached.
	Landmarks *Landmarks
}

// NumChannels returns the number of channels in the recording.
func (r *Recording) NumChannels() int { return len(r.Channels) }

// NumSamples returns the number of samples per channel, or 0 for an empty
// recording.
func (r *Recording) NumSamples() int {
	if len(r.Data) == 0 {
		return 0
	}
	return len(r.Data[0])
}

// Duration returns the recording length in seconds.
func (r *Recording) Duration() float64 {
	if r.SampleRate <= 0 {
		return 0
	}
	return float64(r.NumSamples()) / r.SampleRate
}

// ChannelIndex returns the index of the named channel, or -1.
func (r *Recording) ChannelIndex(name string) int {
	for i := range r.Channels {
		if r.Channels[i].Name == name {
			return i
		}
	}
	return -1
}

// Validate checks internal consistency between the channel table and the
// data matrix. Dimension mismatches here mean a codec mangled the layout,
// so the caller should abort rather than continue.
func (r *Recording) Validate() error {
	if len(r.Data) != len(r.Channels) {
		return fmt.Errorf("recording has %d data rows for %d channels", len(r.Data), len(r.Channels))
	}
	if len(r.Data) == 0 {
		return nil
	}
	want := len(r.Data[0])
	for i, row := range r.Data {
		if len(row) != want {
			return fmt.Errorf("channel %d has %d samples, expected %d", i, len(row), want)
		}
	}
	if r.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %g", r.SampleRate)
	}
	return nil
}
