package cnt

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/neurodata-tools/eegbridge/internal/eeg"
	"github.com/neurodata-tools/eegbridge/internal/fsutil"
)

func testChannels() []ChannelDesc {
	return []ChannelDesc{
		{Label: "Cz"},
		{Label: "Pz", Reference: "M1", Unit: "uV"},
	}
}

func writeContainer(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	wr, err := NewWriter(&buf, 512, testChannels())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := wr.AddSamples([]float64{1, 10, 2, 20, 3, 30}); err != nil {
		t.Fatalf("AddSamples failed: %v", err)
	}
	if err := wr.AddTrigger("128", 1); err != nil {
		t.Fatalf("AddTrigger failed: %v", err)
	}
	if err := wr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return buf.Bytes()
}

func TestWriteParseRoundTrip(t *testing.T) {
	f, err := Parse(writeContainer(t))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if f.Version != FileVersion {
		t.Errorf("Version = %q, want %q", f.Version, FileVersion)
	}
	if f.SampleRate() != 512 {
		t.Errorf("SampleRate = %g, want 512", f.SampleRate())
	}
	if f.ChannelCount() != 2 || f.SampleCount() != 3 {
		t.Fatalf("dims = %d channels x %d frames, want 2 x 3", f.ChannelCount(), f.SampleCount())
	}
	if f.Channels[0].Label != "Cz" || f.Channels[1].Reference != "M1" {
		t.Errorf("channel table = %+v", f.Channels)
	}

	vals, err := f.Samples(0, 3)
	if err != nil {
		t.Fatalf("Samples failed: %v", err)
	}
	want := []float64{1, 10, 2, 20, 3, 30}
	for i, w := range want {
		if math.Abs(vals[i]-w) > 1e-6 {
			t.Errorf("sample %d = %g, want %g", i, vals[i], w)
		}
	}

	trg := f.Triggers()
	if len(trg) != 1 || trg[0].Code != "128" || trg[0].Sample != 1 {
		t.Errorf("triggers = %+v", trg)
	}
}

func TestSamplesRangeChecks(t *testing.T) {
	f, err := Parse(writeContainer(t))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	for _, r := range [][2]int{{-1, 2}, {2, 1}, {0, 4}} {
		if _, err := f.Samples(r[0], r[1]); err == nil {
			t.Errorf("Samples(%d, %d) accepted an invalid range", r[0], r[1])
		}
	}
	if vals, err := f.Samples(1, 2); err != nil || len(vals) != 2 {
		t.Errorf("Samples(1, 2) = %v, %v", vals, err)
	}
}

func TestAddSamplesRejectsPartialFrame(t *testing.T) {
	wr, err := NewWriter(&bytes.Buffer{}, 512, testChannels())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := wr.AddSamples([]float64{1, 2, 3}); err == nil {
		t.Fatal("expected error for a partial frame")
	}
	if wr.SampleCount() != 0 {
		t.Errorf("SampleCount = %d after rejected add", wr.SampleCount())
	}
}

func TestWriterClosedRejectsUse(t *testing.T) {
	wr, err := NewWriter(&bytes.Buffer{}, 512, testChannels())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := wr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := wr.AddSamples([]float64{1, 2}); err == nil {
		t.Error("AddSamples accepted after Close")
	}
	if err := wr.AddTrigger("1", 0); err == nil {
		t.Error("AddTrigger accepted after Close")
	}
	if err := wr.Close(); err == nil {
		t.Error("second Close did not fail")
	}
}

func TestNewWriterValidation(t *testing.T) {
	if _, err := NewWriter(&bytes.Buffer{}, 0, testChannels()); err == nil {
		t.Error("accepted zero sampling rate")
	}
	if _, err := NewWriter(&bytes.Buffer{}, 512, nil); err == nil {
		t.Error("accepted empty channel table")
	}
	if _, err := NewWriter(&bytes.Buffer{}, 512, []ChannelDesc{{Label: " "}}); err == nil {
		t.Error("accepted blank channel label")
	}
}

func TestParseRejectsRaggedSamplesBeforeHeader(t *testing.T) {
	// Two declared channels but five sample values, with the sample chunk
	// ahead of the header so the channel count is unknown when the samples
	// are decoded.
	header := []byte("[File Version]\n4.0\n[Sampling Rate]\n512\n[Channels]\n2\n[Basic Channel Data]\nCz ref uV\nPz ref uV\n")
	samples := make([]byte, 5*bytesPerSample)

	payload := chunkHeaderSize + padded(len(samples))
	payload += chunkHeaderSize + padded(len(header))
	out := append([]byte(nil), riffMagic...)
	out = binary.LittleEndian.AppendUint32(out, uint32(4+payload))
	out = append(out, formType...)
	out = appendChunk(out, chunkSamples, samples)
	out = appendChunk(out, chunkHeader, header)

	if _, err := Parse(out); err == nil {
		t.Fatal("accepted a sample count that does not fill the channels evenly")
	}
}

func TestParseRejectsCorrupt(t *testing.T) {
	good := writeContainer(t)

	if _, err := Parse(good[:8]); err == nil {
		t.Error("accepted truncated header")
	}

	bad := append([]byte(nil), good...)
	copy(bad[0:4], "JUNK")
	if _, err := Parse(bad); err == nil {
		t.Error("accepted bad magic")
	}

	bad = append([]byte(nil), good...)
	copy(bad[8:12], "WAV ")
	if _, err := Parse(bad); err == nil {
		t.Error("accepted wrong form type")
	}
}

func TestToRecordingVolts(t *testing.T) {
	f, err := Parse(writeContainer(t))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	rec, err := f.ToRecording("night1")
	if err != nil {
		t.Fatalf("ToRecording failed: %v", err)
	}

	if rec.Name != "night1" || rec.SampleRate != 512 {
		t.Errorf("rec = %q @ %g Hz", rec.Name, rec.SampleRate)
	}
	// Channel-major rows, rescaled to volts.
	if math.Abs(rec.Data[0][2]-3e-6) > 1e-12 {
		t.Errorf("Cz[2] = %g, want 3e-6", rec.Data[0][2])
	}
	if math.Abs(rec.Data[1][0]-10e-6) > 1e-12 {
		t.Errorf("Pz[0] = %g, want 10e-6", rec.Data[1][0])
	}
	if len(rec.Events) != 1 || rec.Events[0].Code != "128" || rec.Events[0].Sample != 1 {
		t.Errorf("events = %+v", rec.Events)
	}
}

func TestSaveAndReadRecording(t *testing.T) {
	rec := &eeg.Recording{
		Name:       "sub01",
		SampleRate: 250,
		Channels: []eeg.Channel{
			{Name: "Fz", Kind: eeg.KindEEG},
			{Name: "Oz", Kind: eeg.KindEEG},
		},
		Data: [][]float64{
			{1e-6, 2e-6},
			{3e-6, 4e-6},
		},
		Events: []eeg.Event{{Code: "sync", Sample: 0}},
	}

	fs := fsutil.NewMemoryFileSystem()
	if err := Save(fs, "sub01.cnt", rec, false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := Save(fs, "sub01.cnt", rec, false); err == nil {
		t.Fatal("expected refusal to overwrite without the flag")
	}
	if err := Save(fs, "sub01.cnt", rec, true); err != nil {
		t.Fatalf("overwrite Save failed: %v", err)
	}

	data, err := fs.ReadFile("sub01.cnt")
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	f, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	got, err := f.ToRecording("sub01")
	if err != nil {
		t.Fatalf("ToRecording failed: %v", err)
	}
	if got.NumChannels() != 2 || got.NumSamples() != 2 {
		t.Fatalf("round trip dims = %d x %d", got.NumChannels(), got.NumSamples())
	}
	if math.Abs(got.Data[1][1]-4e-6) > 1e-12 {
		t.Errorf("Oz[1] = %g, want 4e-6", got.Data[1][1])
	}
	if len(got.Events) != 1 || got.Events[0].Code != "sync" {
		t.Errorf("events = %+v", got.Events)
	}
}

func TestReadRecordingFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bench.cnt")
	if err := os.WriteFile(path, writeContainer(t), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	rec, err := ReadRecording(path)
	if err != nil {
		t.Fatalf("ReadRecording failed: %v", err)
	}
	if rec.Name != "bench" {
		t.Errorf("Name = %q, want bench", rec.Name)
	}
	if rec.NumChannels() != 2 || rec.NumSamples() != 3 {
		t.Errorf("dims = %d x %d", rec.NumChannels(), rec.NumSamples())
	}
}
