// Package convert wires the codecs together: load a recording, attach a
// digitization montage, and serialize the result, with optional layout
// plots and a catalog entry.
package convert

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/neurodata-tools/eegbridge/internal/catalog"
	"github.com/neurodata-tools/eegbridge/internal/cnt"
	"github.com/neurodata-tools/eegbridge/internal/config"
	"github.com/neurodata-tools/eegbridge/internal/eeg"
	"github.com/neurodata-tools/eegbridge/internal/fastscan"
	"github.com/neurodata-tools/eegbridge/internal/fiff"
	"github.com/neurodata-tools/eegbridge/internal/fsutil"
	"github.com/neurodata-tools/eegbridge/internal/monitoring"
	"github.com/neurodata-tools/eegbridge/internal/montage"
	"github.com/neurodata-tools/eegbridge/internal/security"
	"github.com/neurodata-tools/eegbridge/internal/sensorplot"
	"github.com/neurodata-tools/eegbridge/internal/setfile"
)

// Output formats.
const (
	FormatFIF = "fif"
	FormatCNT = "cnt"
)

// Options parameterizes one conversion run.
type Options struct {
	SetPath string // input .set recording (or .cnt when CNTPath is set)
	CNTPath string // alternative input: acquisition container
	DigPath string // FastScan digitization CSV; empty skips montage attachment
	OutPath string // output path; empty derives from the input name
	Format  string // FormatFIF (default) or FormatCNT

	Overwrite bool
	PlotDir   string // when set, sensor layout PNG is written here

	Config *config.Config
	FS     fsutil.FileSystem

	Catalog *catalog.DB // optional conversion ledger
}

// Result reports what a conversion produced.
type Result struct {
	OutPath      string
	PlotPath     string
	ConversionID string
	Channels     int
	Attached     int
	SampleRate   float64
}

// Run executes the conversion described by opts.
func Run(opts Options) (*Result, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	fs := opts.FS
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	format := opts.Format
	if format == "" {
		format = FormatFIF
	}

	rec, srcPath, srcFormat, err := loadInput(opts)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("loaded %s: %d channels, %d samples at %g Hz",
		srcPath, rec.NumChannels(), rec.NumSamples(), rec.SampleRate)

	res := &Result{Channels: rec.NumChannels(), SampleRate: rec.SampleRate}

	var m *montage.Montage
	if opts.DigPath != "" {
		m, err = loadMontage(opts.DigPath, cfg)
		if err != nil {
			return nil, err
		}
		res.Attached = m.AttachTo(rec)
		monitoring.Logf("attached digitized positions to %d of %d channels",
			res.Attached, rec.NumChannels())
	}

	outPath := opts.OutPath
	if outPath == "" {
		outPath, err = deriveOutPath(srcPath, format)
		if err != nil {
			return nil, err
		}
	}

	switch format {
	case FormatFIF:
		err = fiff.SaveRaw(fs, outPath, rec, opts.Overwrite)
	case FormatCNT:
		err = cnt.Save(fs, outPath, rec, opts.Overwrite)
	default:
		err = fmt.Errorf("unknown output format %q", format)
	}
	if err != nil {
		return nil, err
	}
	res.OutPath = outPath
	monitoring.Logf("wrote %s", outPath)

	if opts.PlotDir != "" && m != nil {
		if err := fs.MkdirAll(opts.PlotDir, 0755); err != nil {
			return nil, fmt.Errorf("create plot dir: %w", err)
		}
		// The recording name comes out of the set file; sanitize it before
		// it becomes part of a path.
		res.PlotPath = filepath.Join(opts.PlotDir, security.SanitizeFilename(rec.Name)+"_sensors.png")
		title := fmt.Sprintf("%s digitized montage (%d electrodes)", rec.Name, m.NumElectrodes())
		if err := sensorplot.SaveMontage(fs, m, title, res.PlotPath); err != nil {
			return nil, err
		}
		monitoring.Logf("wrote sensor layout %s", res.PlotPath)
	}

	if opts.Catalog != nil {
		res.ConversionID, err = opts.Catalog.RecordConversion(&catalog.Conversion{
			SourcePath:   srcPath,
			SourceFormat: srcFormat,
			DestPath:     outPath,
			DestFormat:   format,
			DigPath:      opts.DigPath,
			ChannelCount: rec.NumChannels(),
			SampleRate:   rec.SampleRate,
			DurationSecs: rec.Duration(),
		})
		if err != nil {
			return nil, err
		}
	}

	return res, nil
}

func loadInput(opts Options) (rec *eeg.Recording, path, format string, err error) {
	switch {
	case opts.SetPath != "" && opts.CNTPath != "":
		return nil, "", "", fmt.Errorf("set and cnt inputs are mutually exclusive")
	case opts.SetPath != "":
		rec, err = setRead(opts.SetPath)
		return rec, opts.SetPath, "set", err
	case opts.CNTPath != "":
		rec, err = cnt.ReadRecording(opts.CNTPath)
		return rec, opts.CNTPath, "cnt", err
	default:
		return nil, "", "", fmt.Errorf("no input recording given")
	}
}

// setRead is swappable for tests that exercise the pipeline without a
// fixture .set on disk.
var setRead = setfile.Read

// loadMontage reads a digitization and registers it to the head frame,
// enforcing the configured point counts.
func loadMontage(digPath string, cfg *config.Config) (*montage.Montage, error) {
	dig, err := fastscan.ParseFile(digPath)
	if err != nil {
		return nil, err
	}
	if err := dig.CheckCount(cfg.DigPoints()); err != nil {
		return nil, err
	}
	monitoring.Logf("creating digitized montage from %s (%d points)", digPath, dig.NumPoints())
	return montage.FromDigitization(dig, cfg.Montage(), cfg.Electrodes())
}

// deriveOutPath applies the fixed naming convention: the input stem with
// the format suffix, alongside the input.
func deriveOutPath(srcPath, format string) (string, error) {
	dir := filepath.Dir(srcPath)
	stem := strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath))
	switch format {
	case FormatFIF:
		return filepath.Join(dir, stem+fiff.RawSuffix), nil
	case FormatCNT:
		return filepath.Join(dir, stem+".cnt"), nil
	default:
		return "", fmt.Errorf("unknown output format %q", format)
	}
}
