package setfile

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"math"
	"testing"
)

// --- synthetic MAT-file builders -------------------------------------------
//
// The tests assemble real MAT-file v5 byte streams rather than fixtures on
// disk, mirroring how EEGLAB lays sets out: a 128-byte header followed by a
// single struct variable named EEG.

func matHeader() []byte {
	h := make([]byte, matHeaderSize)
	copy(h, "MATLAB 5.0 MAT-file, written by eegbridge tests")
	binary.LittleEndian.PutUint16(h[124:126], 0x0100)
	copy(h[126:128], "IM")
	return h
}

// element writes a full 8-byte tag plus payload, padded to 8 bytes.
func element(typ int, payload []byte) []byte {
	out := make([]byte, 8, 8+len(payload)+7)
	binary.LittleEndian.PutUint32(out[0:4], uint32(typ))
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(payload)))
	out = append(out, payload...)
	for len(out)%8 != 0 {
		out = append(out, 0)
	}
	return out
}

func int32s(vals ...int32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
	}
	return out
}

func doubles(vals ...float64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

// matrixPayload assembles the inner payload of an miMATRIX element.
func matrixPayload(class int, dims []int32, name string, content []byte) []byte {
	var buf bytes.Buffer
	flags := make([]byte, 8)
	binary.LittleEndian.PutUint32(flags[0:4], uint32(class))
	buf.Write(element(miUINT32, flags))
	buf.Write(element(miINT32, int32s(dims...)))
	buf.Write(element(miINT8, []byte(name)))
	buf.Write(content)
	return buf.Bytes()
}

func numericMatrix(name string, rows, cols int32, vals []float64) []byte {
	payload := matrixPayload(mxDOUBLE, []int32{rows, cols}, name, element(miDOUBLE, doubles(vals...)))
	return element(miMATRIX, payload)
}

func scalarMatrix(name string, v float64) []byte {
	return numericMatrix(name, 1, 1, []float64{v})
}

func charMatrix(name, s string) []byte {
	payload := matrixPayload(mxCHAR, []int32{1, int32(len(s))}, name, element(miUINT8, []byte(s)))
	return element(miMATRIX, payload)
}

// structMatrix builds a struct array. fields lists the field order; elems
// holds, per array element, pre-encoded miMATRIX elements keyed by field.
func structMatrix(name string, dims []int32, fields []string, elems []map[string][]byte) []byte {
	var content bytes.Buffer
	content.Write(element(miINT32, int32s(32)))
	names := make([]byte, 32*len(fields))
	for i, f := range fields {
		copy(names[i*32:], f)
	}
	content.Write(element(miINT8, names))
	for _, e := range elems {
		for _, f := range fields {
			content.Write(e[f])
		}
	}
	payload := matrixPayload(mxSTRUCT, dims, name, content.Bytes())
	return element(miMATRIX, payload)
}

// chanlocsFor builds a 1xN chanlocs struct array with a labels field.
func chanlocsFor(labels ...string) []byte {
	elems := make([]map[string][]byte, len(labels))
	for i, l := range labels {
		elems[i] = map[string][]byte{"labels": charMatrix("", l)}
	}
	return structMatrix("", []int32{1, int32(len(labels))}, []string{"labels"}, elems)
}

// eegSet builds a complete .set byte stream around the given EEG struct
// fields (field name -> encoded miMATRIX element).
func eegSet(fields []string, values map[string][]byte) []byte {
	var buf bytes.Buffer
	buf.Write(matHeader())
	buf.Write(structMatrix("EEG", []int32{1, 1}, fields, []map[string][]byte{values}))
	return buf.Bytes()
}

// basicFields returns a continuous 2-channel, 3-point EEG struct with
// inline data in microvolts, column-major (channels fastest).
func basicFields() ([]string, map[string][]byte) {
	fields := []string{"setname", "nbchan", "pnts", "trials", "srate", "chanlocs", "data"}
	values := map[string][]byte{
		"setname":  charMatrix("", "night1"),
		"nbchan":   scalarMatrix("", 2),
		"pnts":     scalarMatrix("", 3),
		"trials":   scalarMatrix("", 1),
		"srate":    scalarMatrix("", 500),
		"chanlocs": chanlocsFor("Cz", "EOG"),
		"data":     numericMatrix("", 2, 3, []float64{1, 10, 2, 20, 3, 30}),
	}
	return fields, values
}

// --- tests -----------------------------------------------------------------

func TestParseSetInlineData(t *testing.T) {
	data := eegSet(basicFields())

	s, err := parseSet(data)
	if err != nil {
		t.Fatalf("parseSet failed: %v", err)
	}

	if s.Setname != "night1" {
		t.Errorf("Setname = %q, want night1", s.Setname)
	}
	if s.NChans != 2 || s.Pnts != 3 || s.Trials != 1 {
		t.Errorf("dims = %d x %d x %d, want 2 x 3 x 1", s.NChans, s.Pnts, s.Trials)
	}
	if s.SRate != 500 {
		t.Errorf("SRate = %g, want 500", s.SRate)
	}
	if len(s.ChanLabels) != 2 || s.ChanLabels[0] != "Cz" || s.ChanLabels[1] != "EOG" {
		t.Errorf("ChanLabels = %v", s.ChanLabels)
	}

	rec, err := s.recording(nil)
	if err != nil {
		t.Fatalf("recording failed: %v", err)
	}
	if rec.NumChannels() != 2 || rec.NumSamples() != 3 {
		t.Fatalf("recording is %d x %d, want 2 x 3", rec.NumChannels(), rec.NumSamples())
	}

	// De-interleaved and rescaled from microvolts to volts.
	wantCz := []float64{1e-6, 2e-6, 3e-6}
	for i, v := range rec.Data[0] {
		if math.Abs(v-wantCz[i]) > 1e-18 {
			t.Errorf("Cz[%d] = %g, want %g", i, v, wantCz[i])
		}
	}
	if math.Abs(rec.Data[1][2]-30e-6) > 1e-18 {
		t.Errorf("EOG[2] = %g, want 30e-6", rec.Data[1][2])
	}

	// Kind classification by label.
	if rec.Channels[0].Kind.String() != "eeg" || rec.Channels[1].Kind.String() != "eog" {
		t.Errorf("kinds = %v, %v", rec.Channels[0].Kind, rec.Channels[1].Kind)
	}
}

func TestParseSetSidecarData(t *testing.T) {
	fields, values := basicFields()
	values["data"] = charMatrix("", "night1.fdt")
	data := eegSet(fields, values)

	s, err := parseSet(data)
	if err != nil {
		t.Fatalf("parseSet failed: %v", err)
	}
	if s.DataFile != "night1.fdt" {
		t.Fatalf("DataFile = %q, want night1.fdt", s.DataFile)
	}

	// Sidecar: float32 LE, channels fastest.
	sidecar := make([]byte, 2*3*4)
	vals := []float32{1, 10, 2, 20, 3, 30}
	for i, v := range vals {
		binary.LittleEndian.PutUint32(sidecar[i*4:], math.Float32bits(v))
	}

	rec, err := s.recording(func(name string) ([]byte, error) {
		if name != "night1.fdt" {
			return nil, fmt.Errorf("unexpected sidecar %q", name)
		}
		return sidecar, nil
	})
	if err != nil {
		t.Fatalf("recording failed: %v", err)
	}
	if math.Abs(rec.Data[1][1]-20e-6) > 1e-12 {
		t.Errorf("ch1[1] = %g, want 20e-6", rec.Data[1][1])
	}
}

func TestRecordingRejectsTraversalSidecar(t *testing.T) {
	fields, values := basicFields()
	values["data"] = charMatrix("", "../../etc/passwd")
	s, err := parseSet(eegSet(fields, values))
	if err != nil {
		t.Fatalf("parseSet failed: %v", err)
	}

	_, err = s.recording(func(name string) ([]byte, error) {
		t.Fatalf("sidecar loader called with %q", name)
		return nil, nil
	})
	if err == nil {
		t.Fatal("expected rejection of sidecar name with path components")
	}
}

func TestParseSetSidecarTruncated(t *testing.T) {
	fields, values := basicFields()
	values["data"] = charMatrix("", "night1.fdt")
	s, err := parseSet(eegSet(fields, values))
	if err != nil {
		t.Fatalf("parseSet failed: %v", err)
	}

	_, err = s.recording(func(string) ([]byte, error) {
		return make([]byte, 7), nil // not even two float32s
	})
	if err == nil {
		t.Fatal("expected error for truncated sidecar")
	}
}

func TestParseSetEvents(t *testing.T) {
	fields, values := basicFields()
	fields = append(fields, "event")
	values["event"] = structMatrix("", []int32{1, 2}, []string{"type", "latency"},
		[]map[string][]byte{
			{"type": charMatrix("", "stim"), "latency": scalarMatrix("", 1)},
			{"type": scalarMatrix("", 7), "latency": scalarMatrix("", 3)},
		})

	s, err := parseSet(eegSet(fields, values))
	if err != nil {
		t.Fatalf("parseSet failed: %v", err)
	}
	if len(s.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(s.Events))
	}
	// Latencies are 1-based in EEGLAB.
	if s.Events[0].Code != "stim" || s.Events[0].Sample != 0 {
		t.Errorf("event 0 = %+v", s.Events[0])
	}
	if s.Events[1].Code != "7" || s.Events[1].Sample != 2 {
		t.Errorf("event 1 = %+v", s.Events[1])
	}
}

func TestParseSetLegacyVersionUsesUrchanlocs(t *testing.T) {
	fields, values := basicFields()
	fields = append(fields, "version", "urchanlocs")
	values["version"] = charMatrix("", "13.6.5b")
	values["urchanlocs"] = chanlocsFor("Fp1", "Fp2")

	s, err := parseSet(eegSet(fields, values))
	if err != nil {
		t.Fatalf("parseSet failed: %v", err)
	}
	if s.ChanLabels[0] != "Fp1" || s.ChanLabels[1] != "Fp2" {
		t.Errorf("legacy writer should read urchanlocs, got %v", s.ChanLabels)
	}
}

func TestParseSetModernVersionUsesChanlocs(t *testing.T) {
	fields, values := basicFields()
	fields = append(fields, "version", "urchanlocs")
	values["version"] = charMatrix("", "2023.1")
	values["urchanlocs"] = chanlocsFor("Fp1", "Fp2")

	s, err := parseSet(eegSet(fields, values))
	if err != nil {
		t.Fatalf("parseSet failed: %v", err)
	}
	if s.ChanLabels[0] != "Cz" {
		t.Errorf("modern writer should read chanlocs, got %v", s.ChanLabels)
	}
}

func TestParseSetNoChanlocsSynthesizesLabels(t *testing.T) {
	_, values := basicFields()
	delete(values, "chanlocs")
	fields := []string{"setname", "nbchan", "pnts", "trials", "srate", "data"}

	s, err := parseSet(eegSet(fields, values))
	if err != nil {
		t.Fatalf("parseSet failed: %v", err)
	}
	if s.ChanLabels[0] != "E1" || s.ChanLabels[1] != "E2" {
		t.Errorf("synthesized labels = %v", s.ChanLabels)
	}
}

func TestParseSetEpochedRejected(t *testing.T) {
	fields, values := basicFields()
	values["trials"] = scalarMatrix("", 12)
	if _, err := parseSet(eegSet(fields, values)); err == nil {
		t.Fatal("expected error for epoched dataset")
	}
}

func TestParseSetDataDimsMismatch(t *testing.T) {
	fields, values := basicFields()
	values["data"] = numericMatrix("", 3, 3, make([]float64, 9))
	if _, err := parseSet(eegSet(fields, values)); err == nil {
		t.Fatal("expected error for data dims not matching nbchan")
	}
}

func TestParseSetChanlocsCountMismatch(t *testing.T) {
	fields, values := basicFields()
	values["chanlocs"] = chanlocsFor("Cz")
	if _, err := parseSet(eegSet(fields, values)); err == nil {
		t.Fatal("expected error for chanlocs/nbchan mismatch")
	}
}

func TestParseSetCompressed(t *testing.T) {
	// Wrap the EEG matrix element in an miCOMPRESSED envelope, as MATLAB
	// does by default since R14.
	fields, values := basicFields()
	matrix := structMatrix("EEG", []int32{1, 1}, fields, []map[string][]byte{values})

	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	if _, err := zw.Write(matrix); err != nil {
		t.Fatalf("compress fixture: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close compressor: %v", err)
	}

	var buf bytes.Buffer
	buf.Write(matHeader())
	tag := make([]byte, 8)
	binary.LittleEndian.PutUint32(tag[0:4], miCOMPRESSED)
	binary.LittleEndian.PutUint32(tag[4:8], uint32(z.Len()))
	buf.Write(tag)
	buf.Write(z.Bytes())

	s, err := parseSet(buf.Bytes())
	if err != nil {
		t.Fatalf("parseSet failed on compressed element: %v", err)
	}
	if s.Setname != "night1" {
		t.Errorf("Setname = %q, want night1", s.Setname)
	}
}

func TestParseMATRejectsGarbage(t *testing.T) {
	if _, err := parseMAT([]byte("not a mat file")); err == nil {
		t.Fatal("expected error for short input")
	}

	bad := matHeader()
	copy(bad[126:128], "XX")
	if _, err := parseMAT(bad); err == nil {
		t.Fatal("expected error for bad endian indicator")
	}
}

func TestParseSetMissingRequiredField(t *testing.T) {
	fields, values := basicFields()
	delete(values, "srate")
	fields = []string{"setname", "nbchan", "pnts", "trials", "chanlocs", "data"}
	if _, err := parseSet(eegSet(fields, values)); err == nil {
		t.Fatal("expected error for missing srate")
	}
}

func TestDecodeNumericStorageNarrowing(t *testing.T) {
	// MATLAB narrows double arrays to the smallest integer storage that
	// holds the values; the reader must widen transparently.
	payload := matrixPayload(mxDOUBLE, []int32{1, 3}, "", element(miUINT8, []byte{1, 2, 3}))
	var buf bytes.Buffer
	buf.Write(matHeader())
	buf.Write(element(miMATRIX, payload))

	vars, err := parseMAT(buf.Bytes())
	if err != nil {
		t.Fatalf("parseMAT failed: %v", err)
	}
	v := vars[""]
	if v == nil || len(v.num) != 3 || v.num[2] != 3 {
		t.Fatalf("widened values = %+v", v)
	}
}
