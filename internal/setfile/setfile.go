// Package setfile reads EEGLAB .set recordings: MAT-file v5 containers
// holding a single EEG struct, with sample data either inline or in a
// float32 .fdt sidecar file.
package setfile

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/neurodata-tools/eegbridge/internal/eeg"
	"github.com/neurodata-tools/eegbridge/internal/security"
)

const (
	// microvoltsPerVolt rescales EEGLAB microvolt samples to SI volts.
	microvoltsPerVolt = 1e6

	// fdtBytesPerSample is the float32 storage width of sidecar files.
	fdtBytesPerSample = 4
)

// legacyWriterBound is the first EEGLAB release with the modern chanlocs
// layout. Sets written by older releases keep their canonical channel order
// in urchanlocs, so the two generations need different label extraction.
var legacyWriterBound = semver.MustParse("14.0.0")

// rawSet is the decoded EEG struct before data resolution.
type rawSet struct {
	Setname string
	Version string // EEGLAB release that wrote the set, when recorded
	NChans  int
	Pnts    int
	Trials  int
	SRate   float64

	ChanLabels []string

	// Exactly one of Inline / DataFile is set: inline column-major
	// microvolt samples, or the name of the .fdt sidecar.
	Inline   []float64
	DataFile string

	Events []eeg.Event
}

// Read loads a .set file (and its .fdt sidecar if referenced) into a
// Recording. Sample values are converted from microvolts to volts.
func Read(path string) (*eeg.Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read set file: %w", err)
	}

	s, err := parseSet(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	rec, err := s.recording(func(name string) ([]byte, error) {
		return os.ReadFile(filepath.Join(filepath.Dir(path), name))
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if rec.Name == "" {
		rec.Name = strings.TrimSuffix(filepath.Base(path), ".set")
	}
	return rec, nil
}

// parseSet decodes the MAT container and extracts the EEG struct fields.
func parseSet(data []byte) (*rawSet, error) {
	vars, err := parseMAT(data)
	if err != nil {
		return nil, err
	}

	eegVar := vars["EEG"]
	if eegVar == nil {
		// Some exporters rename the variable; fall back to the only
		// struct in the file.
		for _, v := range vars {
			if v != nil && v.class == mxSTRUCT {
				if eegVar != nil {
					return nil, fmt.Errorf("no EEG variable and multiple structs present")
				}
				eegVar = v
			}
		}
	}
	if eegVar == nil || len(eegVar.structs) == 0 {
		return nil, fmt.Errorf("file carries no EEG struct")
	}
	fields := eegVar.structs[0]

	s := &rawSet{Trials: 1}

	if v, err := fields["nbchan"].scalar(); err == nil {
		s.NChans = int(v)
	} else {
		return nil, fmt.Errorf("EEG.nbchan: %w", err)
	}
	if v, err := fields["pnts"].scalar(); err == nil {
		s.Pnts = int(v)
	} else {
		return nil, fmt.Errorf("EEG.pnts: %w", err)
	}
	if v, err := fields["srate"].scalar(); err == nil {
		s.SRate = v
	} else {
		return nil, fmt.Errorf("EEG.srate: %w", err)
	}
	if v, err := fields["trials"].scalar(); err == nil {
		s.Trials = int(v)
	}
	if v := fields["setname"]; v != nil {
		s.Setname = strings.TrimSpace(v.str)
	}
	if v := fields["version"]; v != nil {
		s.Version = strings.TrimSpace(v.str)
	}

	if s.NChans <= 0 || s.Pnts < 0 || s.SRate <= 0 {
		return nil, fmt.Errorf("implausible EEG header: nbchan=%d pnts=%d srate=%g", s.NChans, s.Pnts, s.SRate)
	}
	if s.Trials != 1 {
		return nil, fmt.Errorf("epoched dataset with %d trials; only continuous recordings are supported", s.Trials)
	}

	if err := s.extractLabels(fields); err != nil {
		return nil, err
	}

	// Data: a numeric matrix saved inline, or a char filename pointing at
	// the .fdt sidecar. Some writers use a separate datfile field.
	switch d := fields["data"]; {
	case d == nil:
		return nil, fmt.Errorf("EEG.data is missing")
	case d.class == mxCHAR:
		s.DataFile = strings.TrimSpace(d.str)
	default:
		if len(d.dims) < 2 || d.dims[0] != s.NChans || d.dims[1] != s.Pnts {
			return nil, fmt.Errorf("EEG.data has dims %v, expected %dx%d", d.dims, s.NChans, s.Pnts)
		}
		s.Inline = d.num
	}
	if s.DataFile == "" {
		if v := fields["datfile"]; v != nil && v.class == mxCHAR && strings.TrimSpace(v.str) != "" {
			s.DataFile = strings.TrimSpace(v.str)
		}
	}

	s.extractEvents(fields["event"])

	return s, nil
}

// extractLabels pulls channel labels from chanlocs. Writers older than
// EEGLAB 14 store the acquisition-ordered channel table in urchanlocs and
// may leave chanlocs reordered by a rejection pass, so the legacy path
// prefers urchanlocs when present.
func (s *rawSet) extractLabels(fields map[string]*matValue) error {
	locs := fields["chanlocs"]
	if legacy, err := s.legacyWriter(); err != nil {
		return err
	} else if legacy {
		if ur := fields["urchanlocs"]; ur != nil && len(ur.structs) > 0 {
			locs = ur
		}
	}
	if locs == nil || len(locs.structs) == 0 {
		// Sets without chanlocs are legal; synthesize numbered labels.
		s.ChanLabels = make([]string, s.NChans)
		for i := range s.ChanLabels {
			s.ChanLabels[i] = fmt.Sprintf("E%d", i+1)
		}
		return nil
	}

	if len(locs.structs) != s.NChans {
		return fmt.Errorf("chanlocs has %d entries for %d channels", len(locs.structs), s.NChans)
	}
	s.ChanLabels = make([]string, s.NChans)
	for i, ch := range locs.structs {
		lab := ch["labels"]
		if lab == nil || lab.class != mxCHAR || strings.TrimSpace(lab.str) == "" {
			return fmt.Errorf("chanlocs entry %d has no label", i)
		}
		s.ChanLabels[i] = strings.TrimSpace(lab.str)
	}
	return nil
}

// legacyWriter reports whether the recorded EEGLAB version predates the
// modern chanlocs layout. An absent or unparseable version follows the
// modern path.
func (s *rawSet) legacyWriter() (bool, error) {
	if s.Version == "" {
		return false, nil
	}
	v, err := semver.NewVersion(s.Version)
	if err != nil {
		// Version strings like "14.1.2b" show up in the wild; retry with
		// the trailing letter stripped before giving up on the field.
		trimmed := strings.TrimRight(s.Version, "abcdefghijklmnopqrstuvwxyz")
		if v, err = semver.NewVersion(trimmed); err != nil {
			return false, nil
		}
	}
	return v.LessThan(legacyWriterBound), nil
}

// extractEvents converts the EEG.event struct array (type + latency) into
// trigger events. Latencies are 1-based sample positions in EEGLAB.
func (s *rawSet) extractEvents(ev *matValue) {
	if ev == nil {
		return
	}
	for _, e := range ev.structs {
		lat, err := e["latency"].scalar()
		if err != nil {
			continue
		}
		code := ""
		switch t := e["type"]; {
		case t == nil:
		case t.class == mxCHAR:
			code = strings.TrimSpace(t.str)
		case len(t.num) > 0:
			code = fmt.Sprintf("%g", t.num[0])
		}
		s.Events = append(s.Events, eeg.Event{
			Code:   code,
			Sample: int64(math.Round(lat)) - 1,
		})
	}
}

// recording materializes the Recording: resolves the sidecar if needed,
// de-interleaves the column-major samples into channel-major rows, and
// rescales to volts.
func (s *rawSet) recording(loadSidecar func(name string) ([]byte, error)) (*eeg.Recording, error) {
	samples := s.Inline
	if s.DataFile != "" {
		// The sidecar name comes out of the file; keep it beside the set.
		if err := security.CheckSidecarName(s.DataFile); err != nil {
			return nil, err
		}
		raw, err := loadSidecar(s.DataFile)
		if err != nil {
			return nil, fmt.Errorf("load data sidecar %s: %w", s.DataFile, err)
		}
		samples, err = decodeFDT(raw, s.NChans, s.Pnts)
		if err != nil {
			return nil, fmt.Errorf("sidecar %s: %w", s.DataFile, err)
		}
	}
	if want := s.NChans * s.Pnts; len(samples) < want {
		return nil, fmt.Errorf("have %d samples, expected %d (%d channels x %d points)",
			len(samples), want, s.NChans, s.Pnts)
	}

	rec := &eeg.Recording{
		Name:       s.Setname,
		SampleRate: s.SRate,
		Channels:   make([]eeg.Channel, s.NChans),
		Data:       make([][]float64, s.NChans),
		Events:     s.Events,
	}
	for c := 0; c < s.NChans; c++ {
		rec.Channels[c] = eeg.Channel{
			Name: s.ChanLabels[c],
			Kind: classifyChannel(s.ChanLabels[c]),
		}
		row := make([]float64, s.Pnts)
		// Column-major storage: channels vary fastest.
		for t := 0; t < s.Pnts; t++ {
			row[t] = samples[t*s.NChans+c] / microvoltsPerVolt
		}
		rec.Data[c] = row
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// decodeFDT reads a .fdt sidecar: little-endian float32, one frame of
// nchans values per sample point.
func decodeFDT(raw []byte, nchans, pnts int) ([]float64, error) {
	want := nchans * pnts * fdtBytesPerSample
	if len(raw) < want {
		return nil, fmt.Errorf("sidecar has %d bytes, expected %d (%d channels x %d points x %d)",
			len(raw), want, nchans, pnts, fdtBytesPerSample)
	}
	out := make([]float64, nchans*pnts)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*fdtBytesPerSample:])))
	}
	return out, nil
}

// classifyChannel maps a channel label to a channel kind. The Duke cap has
// one EOG channel; trigger/status channels carry conventional names.
func classifyChannel(label string) eeg.ChannelKind {
	u := strings.ToUpper(label)
	switch {
	case strings.HasPrefix(u, "EOG") || strings.HasPrefix(u, "VEOG") || strings.HasPrefix(u, "HEOG"):
		return eeg.KindEOG
	case u == "TRIG" || u == "STATUS" || strings.HasPrefix(u, "STI"):
		return eeg.KindMisc
	default:
		return eeg.KindEEG
	}
}
