package fiff

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/neurodata-tools/eegbridge/internal/eeg"
	"github.com/neurodata-tools/eegbridge/internal/fsutil"
)

// RawSuffix is appended to the input stem when deriving output names.
const RawSuffix = "_raw.fif"

// RawName derives the output filename for a converted set file:
// sub01.set -> sub01_raw.fif, in the same directory.
func RawName(setPath string) string {
	dir := filepath.Dir(setPath)
	stem := strings.TrimSuffix(filepath.Base(setPath), ".set")
	return filepath.Join(dir, stem+RawSuffix)
}

// SaveRaw writes the recording to path. An existing file is only replaced
// when overwrite is set.
func SaveRaw(fs fsutil.FileSystem, path string, rec *eeg.Recording, overwrite bool) error {
	if fs.Exists(path) && !overwrite {
		return fmt.Errorf("%s exists; pass overwrite to replace it", path)
	}
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteRaw(f, rec); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// WriteRaw serializes the recording as a raw FIFF stream.
func WriteRaw(w io.Writer, rec *eeg.Recording) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid recording: %w", err)
	}

	bw := bufio.NewWriter(w)
	enc := &encoder{w: bw}

	enc.writeID(FIFF_FILE_ID)
	enc.writeInt(FIFF_DIR_POINTER, nextNone)
	enc.writeInt(FIFF_FREE_LIST, nextNone)

	enc.beginBlock(FIFFB_MEAS)
	enc.beginBlock(FIFFB_MEAS_INFO)
	enc.writeInt(FIFF_NCHAN, int32(rec.NumChannels()))
	enc.writeFloat(FIFF_SFREQ, float32(rec.SampleRate))
	for i := range rec.Channels {
		enc.writeChInfo(i, &rec.Channels[i])
	}
	enc.writeIsotrak(rec)
	enc.endBlock(FIFFB_MEAS_INFO)

	enc.beginBlock(FIFFB_RAW_DATA)
	enc.writeInt(FIFF_FIRST_SAMPLE, 0)
	enc.writeBuffers(rec)
	enc.endBlock(FIFFB_RAW_DATA)
	enc.endBlock(FIFFB_MEAS)

	enc.writeTag(FIFF_NOP, FIFFT_VOID, nil, nextNone)

	if enc.err != nil {
		return enc.err
	}
	return bw.Flush()
}

// encoder accumulates the first write error so the tag helpers stay
// chainable.
type encoder struct {
	w   io.Writer
	err error
}

func (e *encoder) writeTag(kind, typ int32, payload []byte, next int32) {
	if e.err != nil {
		return
	}
	var hdr [tagHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(kind))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(typ))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(payload)))
	binary.BigEndian.PutUint32(hdr[12:16], uint32(next))
	if _, err := e.w.Write(hdr[:]); err != nil {
		e.err = err
		return
	}
	if len(payload) > 0 {
		if _, err := e.w.Write(payload); err != nil {
			e.err = err
		}
	}
}

func (e *encoder) writeInt(kind int32, v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	e.writeTag(kind, FIFFT_INT, b[:], nextSeq)
}

func (e *encoder) writeFloat(kind int32, v float32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], math.Float32bits(v))
	e.writeTag(kind, FIFFT_FLOAT, b[:], nextSeq)
}

func (e *encoder) beginBlock(kind int32) { e.writeInt(FIFF_BLOCK_START, kind) }
func (e *encoder) endBlock(kind int32)   { e.writeInt(FIFF_BLOCK_END, kind) }

// writeID emits a file id struct: format version, a machine id, and the
// creation time.
func (e *encoder) writeID(kind int32) {
	now := time.Now()
	var b [idStructSize]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(fiffVersion))
	binary.BigEndian.PutUint32(b[4:8], 0)  // machid[0]
	binary.BigEndian.PutUint32(b[8:12], 0) // machid[1]
	binary.BigEndian.PutUint32(b[12:16], uint32(now.Unix()))
	binary.BigEndian.PutUint32(b[16:20], uint32(now.Nanosecond()/1000))
	e.writeTag(kind, FIFFT_ID_STRUCT, b[:], nextSeq)
}

// writeChInfo emits one fixed-size channel record. Samples are stored in
// volts with unit calibration, so range and cal are both 1.
func (e *encoder) writeChInfo(index int, ch *eeg.Channel) {
	var b [chInfoSize]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(index+1)) // scanNo, 1-based
	binary.BigEndian.PutUint32(b[4:8], uint32(index+1)) // logNo

	kind, unit, coil := int32(FIFFV_EEG_CH), int32(FIFF_UNIT_V), int32(FIFFV_COIL_EEG)
	switch ch.Kind {
	case eeg.KindEOG:
		kind = FIFFV_EOG_CH
		coil = FIFFV_COIL_NONE
	case eeg.KindMisc:
		kind, unit, coil = FIFFV_MISC_CH, FIFF_UNIT_NONE, FIFFV_COIL_NONE
	}
	binary.BigEndian.PutUint32(b[8:12], uint32(kind))
	binary.BigEndian.PutUint32(b[12:16], math.Float32bits(1)) // range
	binary.BigEndian.PutUint32(b[16:20], math.Float32bits(1)) // cal
	binary.BigEndian.PutUint32(b[20:24], uint32(coil))

	// loc[0:3] is the sensor position; the orientation vectors stay zero
	// for EEG electrodes.
	if ch.HasPosition {
		binary.BigEndian.PutUint32(b[24:28], math.Float32bits(float32(ch.Position.X)))
		binary.BigEndian.PutUint32(b[28:32], math.Float32bits(float32(ch.Position.Y)))
		binary.BigEndian.PutUint32(b[32:36], math.Float32bits(float32(ch.Position.Z)))
	}

	binary.BigEndian.PutUint32(b[72:76], uint32(unit))
	binary.BigEndian.PutUint32(b[76:80], 0) // unit_mul

	name := ch.Name
	if len(name) > chNameLen {
		name = name[:chNameLen]
	}
	copy(b[80:80+chNameLen], name)

	e.writeTag(FIFF_CH_INFO, FIFFT_CH_INFO_STRUCT, b[:], nextSeq)
}

// writeIsotrak emits the digitizer block: the three cardinal landmarks when
// the recording carries a montage, then one EEG point per positioned
// channel.
func (e *encoder) writeIsotrak(rec *eeg.Recording) {
	type dig struct {
		kind, ident int32
		p           eeg.Point3
	}
	var points []dig

	if m := rec.Landmarks; m != nil {
		points = append(points,
			dig{FIFFV_POINT_CARDINAL, FIFFV_POINT_LPA, m.LPA},
			dig{FIFFV_POINT_CARDINAL, FIFFV_POINT_NASION, m.Nasion},
			dig{FIFFV_POINT_CARDINAL, FIFFV_POINT_RPA, m.RPA},
		)
	}
	ident := int32(1)
	for i := range rec.Channels {
		if !rec.Channels[i].HasPosition {
			continue
		}
		points = append(points, dig{FIFFV_POINT_EEG, ident, rec.Channels[i].Position})
		ident++
	}
	if len(points) == 0 {
		return
	}

	e.beginBlock(FIFFB_ISOTRAK)
	for _, d := range points {
		var b [digPointSize]byte
		binary.BigEndian.PutUint32(b[0:4], uint32(d.kind))
		binary.BigEndian.PutUint32(b[4:8], uint32(d.ident))
		binary.BigEndian.PutUint32(b[8:12], math.Float32bits(float32(d.p.X)))
		binary.BigEndian.PutUint32(b[12:16], math.Float32bits(float32(d.p.Y)))
		binary.BigEndian.PutUint32(b[16:20], math.Float32bits(float32(d.p.Z)))
		e.writeTag(FIFF_DIG_POINT, FIFFT_DIG_POINT_STRUCT, b[:], nextSeq)
	}
	e.endBlock(FIFFB_ISOTRAK)
}

// writeBuffers emits the sample data as float32 buffers, channels fastest,
// bufferSamples frames per tag.
func (e *encoder) writeBuffers(rec *eeg.Recording) {
	nchan := rec.NumChannels()
	nsamp := rec.NumSamples()

	for start := 0; start < nsamp; start += bufferSamples {
		end := start + bufferSamples
		if end > nsamp {
			end = nsamp
		}
		buf := make([]byte, (end-start)*nchan*4)
		o := 0
		for t := start; t < end; t++ {
			for c := 0; c < nchan; c++ {
				binary.BigEndian.PutUint32(buf[o:o+4], math.Float32bits(float32(rec.Data[c][t])))
				o += 4
			}
		}
		e.writeTag(FIFF_DATA_BUFFER, FIFFT_FLOAT, buf, nextSeq)
	}
}

// DefaultFS is the filesystem used by the path-based helpers.
var DefaultFS fsutil.FileSystem = fsutil.OSFileSystem{}

// SaveRawFile is SaveRaw against the host filesystem.
func SaveRawFile(path string, rec *eeg.Recording, overwrite bool) error {
	return SaveRaw(DefaultFS, path, rec, overwrite)
}
