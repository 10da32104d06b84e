// Package montage registers scanner digitizations to the head coordinate
// frame and attaches the resulting sensor geometry to recordings.
//
// Head coordinate frame convention (meters):
//   - origin: on the line between the preauricular points, directly below
//     the nasion projection
//   - +X: through the right preauricular point
//   - +Y: through the nasion
//   - +Z: up, completing the right-handed frame
//
// The registration is rigid (rotation + translation), so inter-point
// distances are preserved exactly up to floating point noise. We exploit
// that to detect silent unit or scale mistakes: the distance between the
// two preauricular points is recomputed after the transform and compared
// against the scanner-frame value.
package montage

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/neurodata-tools/eegbridge/internal/eeg"
	"github.com/neurodata-tools/eegbridge/internal/fastscan"
)

const (
	// mmPerMeter converts scanner millimeters to SI meters.
	mmPerMeter = 1000.0

	// PPDToleranceMM is the maximum allowed drift of the preauricular
	// point distance across the head-frame registration, measured in
	// millimeters. A rigid transform changes the distance only by
	// floating point rounding; anything larger means a unit or scale
	// error crept in.
	PPDToleranceMM = 1e-12

	// degenerateFiducialMM is the minimum axis length, in scanner
	// millimeters, below which the fiducials cannot span a head frame:
	// coincident preauricular points, or a nasion on the preauricular
	// line.
	degenerateFiducialMM = 1e-6
)

// Montage is a digitization registered to the head coordinate frame.
// Positions are in meters.
type Montage struct {
	// Name identifies the montage layout (e.g. "duke129_dig").
	Name string

	// Labels and Positions describe the electrodes, landmark points
	// excluded, in digitization order.
	Labels    []string
	Positions []eeg.Point3

	// Nasion, LPA and RPA are the transformed landmark positions.
	Nasion, LPA, RPA eeg.Point3
}

// NumElectrodes returns the number of electrode positions in the montage.
func (m *Montage) NumElectrodes() int { return len(m.Positions) }

// Position returns the head-frame position for the given electrode label.
func (m *Montage) Position(label string) (eeg.Point3, bool) {
	for i, l := range m.Labels {
		if l == label {
			return m.Positions[i], true
		}
	}
	return eeg.Point3{}, false
}

// FromDigitization builds a head-frame montage from a raw scanner
// digitization. The digitization must carry the three anatomical landmarks
// plus exactly wantElectrodes electrode points; pass eeg.NumElectrodes for
// the standard cap.
func FromDigitization(dig *fastscan.Digitization, name string, wantElectrodes int) (*Montage, error) {
	nasion, err := dig.Landmark(fastscan.LabelNasion)
	if err != nil {
		return nil, err
	}
	lpa, err := dig.Landmark(fastscan.LabelLPA)
	if err != nil {
		return nil, err
	}
	rpa, err := dig.Landmark(fastscan.LabelRPA)
	if err != nil {
		return nil, err
	}

	// Preauricular point distance in the scanner frame (mm), recomputed
	// after the transform as a scale sanity check.
	oldPPD := rpa.Dist(lpa)

	// Collect electrode rows, skipping the landmark rows wherever they
	// appear in the file.
	var labels []string
	var points []eeg.Point3
	for i, l := range dig.Labels {
		if isLandmark(l) {
			continue
		}
		labels = append(labels, l)
		points = append(points, dig.Points[i])
	}
	if len(labels) != wantElectrodes {
		return nil, fmt.Errorf("digitization has %d electrodes after excluding landmarks, expected %d",
			len(labels), wantElectrodes)
	}

	trans, err := headTransform(nasion, lpa, rpa)
	if err != nil {
		return nil, err
	}

	m := &Montage{
		Name:   name,
		Labels: labels,
		Nasion: applyMM(trans, nasion),
		LPA:    applyMM(trans, lpa),
		RPA:    applyMM(trans, rpa),
	}
	m.Positions = make([]eeg.Point3, len(points))
	for i, p := range points {
		m.Positions[i] = applyMM(trans, p)
	}

	// Rescale back to mm for the comparison so the tolerance matches the
	// scanner's native unit.
	newPPD := m.RPA.Dist(m.LPA) * mmPerMeter
	if math.Abs(newPPD-oldPPD) > PPDToleranceMM {
		return nil, fmt.Errorf("preauricular point distance changed by head-frame registration: %.15g mm -> %.15g mm",
			oldPPD, newPPD)
	}

	return m, nil
}

func isLandmark(label string) bool {
	return strings.EqualFold(label, fastscan.LabelNasion) ||
		strings.EqualFold(label, fastscan.LabelLPA) ||
		strings.EqualFold(label, fastscan.LabelRPA)
}

// headTransform computes the rigid scanner-to-head transform from the three
// fiducials. Returned as a 4x4 homogeneous matrix operating on scanner-frame
// millimeter coordinates. Degenerate fiducials that cannot span the frame
// are rejected.
func headTransform(nasion, lpa, rpa eeg.Point3) (*mat.Dense, error) {
	lpaV := []float64{lpa.X, lpa.Y, lpa.Z}
	rpaV := []float64{rpa.X, rpa.Y, rpa.Z}
	nasV := []float64{nasion.X, nasion.Y, nasion.Z}

	// +X axis: LPA -> RPA, normalized.
	ex := make([]float64, 3)
	floats.SubTo(ex, rpaV, lpaV)
	if floats.Norm(ex, 2) < degenerateFiducialMM {
		return nil, fmt.Errorf("preauricular points coincide, cannot orient the head frame")
	}
	normalize(ex)

	// Origin: the point on the LPA-RPA line where the nasion projects.
	origin := make([]float64, 3)
	floats.SubTo(origin, nasV, lpaV)
	t := floats.Dot(origin, ex)
	for i := range origin {
		origin[i] = lpaV[i] + t*ex[i]
	}

	// +Y axis: origin -> nasion, normalized. A nasion on the preauricular
	// line gives a zero axis and would silently collapse Y and Z.
	ey := make([]float64, 3)
	floats.SubTo(ey, nasV, origin)
	if floats.Norm(ey, 2) < degenerateFiducialMM {
		return nil, fmt.Errorf("nasion lies on the preauricular line, fiducials are collinear")
	}
	normalize(ey)

	// +Z axis: X cross Y.
	ez := cross(ex, ey)

	// Rotation rows are the new basis vectors; translation moves the
	// origin to the fiducial-derived origin.
	trans := mat.NewDense(4, 4, nil)
	for j := 0; j < 3; j++ {
		trans.Set(0, j, ex[j])
		trans.Set(1, j, ey[j])
		trans.Set(2, j, ez[j])
	}
	trans.Set(0, 3, -floats.Dot(ex, origin))
	trans.Set(1, 3, -floats.Dot(ey, origin))
	trans.Set(2, 3, -floats.Dot(ez, origin))
	trans.Set(3, 3, 1)
	return trans, nil
}

// normalize scales v to unit length. Callers check for degenerate norms
// first.
func normalize(v []float64) {
	floats.Scale(1/floats.Norm(v, 2), v)
}

func cross(a, b []float64) []float64 {
	return []float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// applyMM applies the homogeneous transform to a scanner-frame millimeter
// point and converts the result to meters.
func applyMM(trans *mat.Dense, p eeg.Point3) eeg.Point3 {
	in := mat.NewVecDense(4, []float64{p.X, p.Y, p.Z, 1})
	var out mat.VecDense
	out.MulVec(trans, in)
	return eeg.Point3{
		X: out.AtVec(0) / mmPerMeter,
		Y: out.AtVec(1) / mmPerMeter,
		Z: out.AtVec(2) / mmPerMeter,
	}
}

// AttachTo sets per-channel positions on the recording from the montage,
// matching electrodes to channels by name, and records the landmark
// positions. Channels without a matching electrode (status or reference
// channels) keep zero positions. Returns the number of channels that
// received a position.
func (m *Montage) AttachTo(rec *eeg.Recording) int {
	rec.Landmarks = &eeg.Landmarks{Nasion: m.Nasion, LPA: m.LPA, RPA: m.RPA}
	attached := 0
	for i := range rec.Channels {
		pos, ok := m.Position(rec.Channels[i].Name)
		if !ok {
			continue
		}
		rec.Channels[i].Position = pos
		rec.Channels[i].HasPosition = true
		attached++
	}
	return attached
}
