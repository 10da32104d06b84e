// Package fastscan reads electrode digitization files produced by the
// Polhemus FastScan II workflow: a CSV with one labelled 3-D point per row,
// landmarks first, coordinates in millimeters.
package fastscan

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/neurodata-tools/eegbridge/internal/eeg"
)

// Canonical landmark labels as written by the scanner export. Comparison is
// case-insensitive after whitespace trimming.
const (
	LabelNasion = "nasion"
	LabelLPA    = "lpa"
	LabelRPA    = "rpa"
)

// expected CSV column layout
const (
	colLabel = 0
	colX     = 1
	colY     = 2
	colZ     = 3
	numCols  = 4
)

// Digitization is the raw content of a scanner export: labelled points in
// scanner coordinates, millimeters, in file order.
type Digitization struct {
	Labels []string
	Points []eeg.Point3
}

// NumPoints returns the number of digitized points.
func (d *Digitization) NumPoints() int { return len(d.Points) }

// Index returns the position of the first point with the given label
// (case-insensitive), or -1.
func (d *Digitization) Index(label string) int {
	for i, l := range d.Labels {
		if strings.EqualFold(l, label) {
			return i
		}
	}
	return -1
}

// Landmark returns the point carrying the given landmark label.
func (d *Digitization) Landmark(label string) (eeg.Point3, error) {
	i := d.Index(label)
	if i < 0 {
		return eeg.Point3{}, fmt.Errorf("digitization has no %q landmark", label)
	}
	return d.Points[i], nil
}

// ParseFile reads and parses a FastScan CSV export from disk.
func ParseFile(path string) (*Digitization, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open digitization file: %w", err)
	}
	defer f.Close()

	dig, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return dig, nil
}

// Parse reads a FastScan CSV export. The first row is a header
// (labels,X,Y,Z); every following row is one digitized point. Labels are
// trimmed of surrounding whitespace, which the scanner export pads them
// with.
func Parse(r io.Reader) (*Digitization, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < numCols || !strings.EqualFold(strings.TrimSpace(header[colLabel]), "labels") {
		return nil, fmt.Errorf("unexpected header %v, want labels,X,Y,Z", header)
	}

	dig := &Digitization{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) < numCols {
			return nil, fmt.Errorf("line %d: %d columns, want %d", line, len(rec), numCols)
		}

		label := strings.TrimSpace(rec[colLabel])
		if label == "" {
			return nil, fmt.Errorf("line %d: empty label", line)
		}

		var xyz [3]float64
		for i, col := range []int{colX, colY, colZ} {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad coordinate %q: %w", line, rec[col], err)
			}
			xyz[i] = v
		}

		dig.Labels = append(dig.Labels, label)
		dig.Points = append(dig.Points, eeg.Point3{X: xyz[0], Y: xyz[1], Z: xyz[2]})
	}

	// The three landmarks are required; everything else is electrodes.
	for _, l := range []string{LabelNasion, LabelLPA, LabelRPA} {
		if dig.Index(l) < 0 {
			return nil, fmt.Errorf("digitization is missing the %q landmark", l)
		}
	}

	return dig, nil
}

// CheckCount verifies the digitization carries exactly the expected number
// of points for the assumed cap hardware. A mismatch means the scan or the
// manual labelling QC dropped or duplicated points, and processing must not
// continue.
func (d *Digitization) CheckCount(want int) error {
	if got := d.NumPoints(); got != want {
		return fmt.Errorf("digitization has %d points, expected %d", got, want)
	}
	if len(d.Labels) != len(d.Points) {
		return fmt.Errorf("digitization has %d labels for %d points", len(d.Labels), len(d.Points))
	}
	return nil
}
