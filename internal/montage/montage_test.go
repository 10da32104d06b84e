package montage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurodata-tools/eegbridge/internal/eeg"
	"github.com/neurodata-tools/eegbridge/internal/fastscan"
)

// testDig builds a digitization with the landmarks in a convenient scanner
// frame: nasion on +X, preauriculars symmetric about the X axis, all in mm.
func testDig(extra ...string) *fastscan.Digitization {
	dig := &fastscan.Digitization{
		Labels: []string{"nasion", "lpa", "rpa"},
		Points: []eeg.Point3{
			{X: 100, Y: 0, Z: 0},
			{X: 0, Y: 70, Z: 0},
			{X: 0, Y: -70, Z: 0},
		},
	}
	for i, label := range extra {
		dig.Labels = append(dig.Labels, label)
		dig.Points = append(dig.Points, eeg.Point3{X: 50, Y: float64(i), Z: 80})
	}
	return dig
}

func TestFromDigitizationGeometry(t *testing.T) {
	m, err := FromDigitization(testDig("Z1", "Z2"), "test_dig", 2)
	require.NoError(t, err)

	assert.Equal(t, "test_dig", m.Name)
	assert.Equal(t, 2, m.NumElectrodes())

	// The preauricular points land on the X axis, symmetric about the
	// origin; the scanner frame put them 140 mm apart.
	assert.InDelta(t, -0.07, m.LPA.X, 1e-9, "lpa x")
	assert.InDelta(t, 0, m.LPA.Y, 1e-9, "lpa y")
	assert.InDelta(t, 0, m.LPA.Z, 1e-9, "lpa z")
	assert.InDelta(t, 0.07, m.RPA.X, 1e-9, "rpa x")

	// The nasion lands on the +Y axis.
	assert.InDelta(t, 0, m.Nasion.X, 1e-9, "nasion x")
	assert.InDelta(t, 0.1, m.Nasion.Y, 1e-9, "nasion y")
	assert.InDelta(t, 0, m.Nasion.Z, 1e-9, "nasion z")

	// Rigid transform: inter-point distances survive (checked here in
	// meters between an electrode and a landmark).
	scannerDist := (eeg.Point3{X: 50, Y: 0, Z: 80}).Dist(eeg.Point3{X: 100, Y: 0, Z: 0}) / 1000
	headDist := m.Positions[0].Dist(m.Nasion)
	assert.InDelta(t, scannerDist, headDist, 1e-12)
}

func TestFromDigitizationElectrodeCountMismatch(t *testing.T) {
	_, err := FromDigitization(testDig("Z1"), "test_dig", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 5")
}

func TestFromDigitizationMissingLandmark(t *testing.T) {
	dig := testDig("Z1")
	dig.Labels[1] = "ear" // clobber lpa
	_, err := FromDigitization(dig, "test_dig", 1)
	require.Error(t, err)
}

func TestLandmarkCaseInsensitive(t *testing.T) {
	dig := testDig("Z1")
	dig.Labels[0] = "Nasion"
	m, err := FromDigitization(dig, "test_dig", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, m.NumElectrodes())
}

func TestPreauricularDistancePreserved(t *testing.T) {
	// An asymmetric, rotated fiducial set; the PPD check must still pass
	// because the registration is rigid.
	dig := &fastscan.Digitization{
		Labels: []string{"nasion", "lpa", "rpa", "Z1"},
		Points: []eeg.Point3{
			{X: 91.3, Y: 12.7, Z: -38.2},
			{X: -3.1, Y: 74.9, Z: -41.0},
			{X: 2.8, Y: -69.2, Z: -44.6},
			{X: 48.0, Y: 3.2, Z: 81.9},
		},
	}
	oldPPD := dig.Points[2].Dist(dig.Points[1])

	m, err := FromDigitization(dig, "test_dig", 1)
	require.NoError(t, err)

	newPPD := m.RPA.Dist(m.LPA) * 1000
	assert.InDelta(t, oldPPD, newPPD, PPDToleranceMM)
}

func TestAttachTo(t *testing.T) {
	m, err := FromDigitization(testDig("Cz", "Pz"), "test_dig", 2)
	require.NoError(t, err)

	rec := &eeg.Recording{
		SampleRate: 250,
		Channels: []eeg.Channel{
			{Name: "Cz", Kind: eeg.KindEEG},
			{Name: "Pz", Kind: eeg.KindEEG},
			{Name: "TRIG", Kind: eeg.KindMisc},
		},
		Data: [][]float64{
			make([]float64, 10),
			make([]float64, 10),
			make([]float64, 10),
		},
	}

	attached := m.AttachTo(rec)
	assert.Equal(t, 2, attached)
	assert.True(t, rec.Channels[0].HasPosition)
	assert.True(t, rec.Channels[1].HasPosition)
	assert.False(t, rec.Channels[2].HasPosition, "TRIG has no digitized position")

	require.NotNil(t, rec.Landmarks)
	assert.InDelta(t, 0.1, rec.Landmarks.Nasion.Y, 1e-9)

	// Positions differ between the two electrodes (distinct scanner rows).
	assert.NotEqual(t, rec.Channels[0].Position, rec.Channels[1].Position)
}

func TestFromDigitizationRejectsCollinearFiducials(t *testing.T) {
	// Nasion directly on the line between the preauricular points: the +Y
	// axis cannot be oriented, so registration must fail rather than
	// collapse two axes. Note the preauricular distance alone would still
	// survive such a transform.
	dig := testDig("Z1")
	dig.Points[0] = eeg.Point3{X: 0, Y: 10, Z: 0}

	_, err := FromDigitization(dig, "test_dig", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collinear")
}

func TestFromDigitizationRejectsCoincidentPreauriculars(t *testing.T) {
	dig := testDig("Z1")
	dig.Points[2] = dig.Points[1]

	_, err := FromDigitization(dig, "test_dig", 1)
	require.Error(t, err)
}

func TestPositionLookup(t *testing.T) {
	m, err := FromDigitization(testDig("Cz"), "test_dig", 1)
	require.NoError(t, err)

	_, ok := m.Position("Cz")
	assert.True(t, ok)
	_, ok = m.Position("Oz")
	assert.False(t, ok)
}

func TestHeadTransformOrthonormal(t *testing.T) {
	trans, err := headTransform(
		eeg.Point3{X: 91.3, Y: 12.7, Z: -38.2},
		eeg.Point3{X: -3.1, Y: 74.9, Z: -41.0},
		eeg.Point3{X: 2.8, Y: -69.2, Z: -44.6},
	)
	require.NoError(t, err)

	// The rotation rows must be unit length and mutually orthogonal.
	rows := [3][]float64{}
	for i := 0; i < 3; i++ {
		rows[i] = []float64{trans.At(i, 0), trans.At(i, 1), trans.At(i, 2)}
	}
	for i := 0; i < 3; i++ {
		norm := math.Sqrt(rows[i][0]*rows[i][0] + rows[i][1]*rows[i][1] + rows[i][2]*rows[i][2])
		assert.InDelta(t, 1, norm, 1e-12, "row %d norm", i)
		for j := i + 1; j < 3; j++ {
			dot := rows[i][0]*rows[j][0] + rows[i][1]*rows[j][1] + rows[i][2]*rows[j][2]
			assert.InDelta(t, 0, dot, 1e-12, "rows %d,%d dot", i, j)
		}
	}
}
