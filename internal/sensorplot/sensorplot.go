// Package sensorplot renders 2-D topographic sensor layouts so a digitized
// montage can be eyeballed against the cap template before conversion.
package sensorplot

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/neurodata-tools/eegbridge/internal/eeg"
	"github.com/neurodata-tools/eegbridge/internal/fsutil"
	"github.com/neurodata-tools/eegbridge/internal/montage"
)

const (
	// headOutlineSegments controls how finely the head circle is drawn.
	headOutlineSegments = 128

	plotWidth  = 8 * vg.Inch
	plotHeight = 8 * vg.Inch
)

// Project maps a 3-D head-frame position onto the 2-D topographic plane
// using an azimuthal equidistant projection: the radius is the polar angle
// from the vertex, so the head rim (90° from vertex) lands on a circle of
// radius pi/2.
func Project(p eeg.Point3) (x, y float64) {
	polar := math.Atan2(math.Hypot(p.X, p.Y), p.Z)
	azimuth := math.Atan2(p.Y, p.X)
	return polar * math.Cos(azimuth), polar * math.Sin(azimuth)
}

// SaveMontage renders the montage's electrode layout to a PNG file on fs.
func SaveMontage(fs fsutil.FileSystem, m *montage.Montage, title, path string) error {
	p, err := layoutPlot(m, title)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return fmt.Errorf("render sensor plot: %w", err)
	}
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("save sensor plot: %w", err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("save sensor plot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("save sensor plot: %w", err)
	}
	return nil
}

func layoutPlot(m *montage.Montage, title string) (*plot.Plot, error) {
	if m.NumElectrodes() == 0 {
		return nil, fmt.Errorf("montage %q has no electrodes", m.Name)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "left - right"
	p.Y.Label.Text = "back - front"

	// Head outline at the rim radius.
	outline := make(plotter.XYs, headOutlineSegments+1)
	for i := 0; i <= headOutlineSegments; i++ {
		a := 2 * math.Pi * float64(i) / headOutlineSegments
		outline[i] = plotter.XY{X: math.Pi / 2 * math.Cos(a), Y: math.Pi / 2 * math.Sin(a)}
	}
	head, err := plotter.NewLine(outline)
	if err != nil {
		return nil, err
	}
	head.Color = color.Gray{Y: 128}
	p.Add(head)

	pts := make(plotter.XYs, m.NumElectrodes())
	labels := make([]string, m.NumElectrodes())
	for i, pos := range m.Positions {
		x, y := Project(pos)
		pts[i] = plotter.XY{X: x, Y: y}
		labels[i] = m.Labels[i]
	}

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	scatter.GlyphStyle.Radius = vg.Points(2)
	scatter.GlyphStyle.Color = color.RGBA{B: 200, A: 255}
	p.Add(scatter)

	names, err := plotter.NewLabels(plotter.XYLabels{XYs: pts, Labels: labels})
	if err != nil {
		return nil, err
	}
	p.Add(names)

	return p, nil
}
