// Package fiff serializes recordings to the FIFF tag-stream format used by
// the downstream processing toolkit, and provides a minimal reader for
// verifying written files.
package fiff

/*
FIFF container layout

A FIFF file is a flat sequence of big-endian tags:

	┌────────────────────────────┐
	│ kind  int32                │  what the tag carries (FIFF_* constant)
	│ type  int32                │  encoding of the payload (FIFFT_*)
	│ size  int32                │  payload bytes
	│ next  int32                │  0 = next tag follows, -1 = end of file
	│ payload (size bytes)       │
	└────────────────────────────┘

Logical structure is expressed with block start/end tags. A raw recording is:

	file id, dir pointer (-1), free list (-1)
	block meas
	  block meas info
	    nchan, sfreq, ch_info × nchan
	    block isotrak
	      dig point × (landmarks + positioned channels)
	    end isotrak
	  end meas info
	  block raw data
	    first sample
	    data buffer × n   (float32, channels fastest)
	  end raw data
	end meas
	nop (next = -1)

This writer emits a sequential stream (no directory at the end); readers
that honour the tag chain handle it without one.
*/

// Tag kinds.
const (
	FIFF_FILE_ID      = 100
	FIFF_DIR_POINTER  = 101
	FIFF_BLOCK_ID     = 103
	FIFF_BLOCK_START  = 104
	FIFF_BLOCK_END    = 105
	FIFF_FREE_LIST    = 106
	FIFF_NOP          = 108
	FIFF_NCHAN        = 200
	FIFF_SFREQ        = 201
	FIFF_CH_INFO      = 203
	FIFF_FIRST_SAMPLE = 208
	FIFF_DIG_POINT    = 213
	FIFF_DATA_BUFFER  = 300
)

// Payload types.
const (
	FIFFT_VOID             = 0
	FIFFT_INT              = 3
	FIFFT_FLOAT            = 4
	FIFFT_STRING           = 10
	FIFFT_CH_INFO_STRUCT   = 30
	FIFFT_ID_STRUCT        = 31
	FIFFT_DIG_POINT_STRUCT = 33
)

// Block kinds.
const (
	FIFFB_MEAS      = 100
	FIFFB_MEAS_INFO = 101
	FIFFB_RAW_DATA  = 102
	FIFFB_ISOTRAK   = 107
)

// Digitizer point kinds and cardinal idents.
const (
	FIFFV_POINT_CARDINAL = 1
	FIFFV_POINT_EEG      = 3

	FIFFV_POINT_LPA    = 1
	FIFFV_POINT_NASION = 2
	FIFFV_POINT_RPA    = 3
)

// Channel kinds and units.
const (
	FIFFV_EEG_CH  = 2
	FIFFV_EOG_CH  = 202
	FIFFV_MISC_CH = 502

	FIFF_UNIT_V    = 107 // volt
	FIFF_UNIT_NONE = -1

	FIFFV_COIL_EEG  = 1
	FIFFV_COIL_NONE = 0
)

// Structure sizes.
const (
	tagHeaderSize = 16 // kind + type + size + next
	idStructSize  = 20 // version + machid[2] + secs + usecs
	chInfoSize    = 96 // fixed ch_info record
	digPointSize  = 20 // kind + ident + r[3]
	chNameLen     = 16 // NUL-padded name field inside ch_info

	fiffVersion = (1 << 16) | 3 // FIFF 1.3

	// nextSeq and nextNone are the two values this writer emits in the
	// tag chain field.
	nextSeq  = 0
	nextNone = -1

	// bufferSamples is how many sample frames go into one data buffer
	// tag.
	bufferSamples = 1000
)
