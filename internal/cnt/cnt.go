// Package cnt reads and writes the acquisition container used by this
// pipeline: a RIFF file in the libeep v4 family, with an ASCII header
// chunk, an uncompressed float32 sample chunk, and an optional trigger
// chunk.
package cnt

/*
Container layout (all multi-byte integers little-endian):

	"RIFF" + uint32 payload size
	└── form type "CNT "
	    ├── "eeph" chunk: ASCII header
	    │     [File Version]
	    │     4.0
	    │     [Sampling Rate]
	    │     512
	    │     [Channels]
	    │     2
	    │     [Basic Channel Data]
	    │     Cz    ref   uV
	    │     ...   (one line per channel: label, reference, unit)
	    ├── "rawf" chunk: float32 samples, channels fastest, microvolts
	    └── "evt " chunk (optional): uint32 count, then per trigger
	          uint64 sample offset + uint8 code length + code bytes

Chunks are padded to even sizes per RIFF; the pad byte is not counted in
the chunk size.
*/

const (
	riffMagic = "RIFF"
	formType  = "CNT "

	chunkHeader   = "eeph"
	chunkSamples  = "rawf"
	chunkTriggers = "evt "

	// FileVersion is the header version this package writes.
	FileVersion = "4.0"

	bytesPerSample = 4 // float32 storage

	riffHeaderSize  = 12 // "RIFF" + size + form type
	chunkHeaderSize = 8  // fourcc + size
)

// header section names inside the eeph chunk
const (
	sectVersion  = "[File Version]"
	sectRate     = "[Sampling Rate]"
	sectChannels = "[Channels]"
	sectChanData = "[Basic Channel Data]"
)

// ChannelDesc describes one channel in the container header.
type ChannelDesc struct {
	Label     string
	Reference string
	Unit      string
}

// Trigger is a labelled sample offset.
type Trigger struct {
	Code   string
	Sample uint64
}
