// Command cnt-smoke writes a tiny two-channel CNT container with a counter
// pattern. It exists to exercise the writer API end to end against other
// tooling; the output carries no meaningful signal.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/neurodata-tools/eegbridge/internal/cnt"
)

func main() {
	out := flag.String("out", "smoke.cnt", "output file")
	rate := flag.Float64("rate", 512, "sampling rate in Hz")
	frames := flag.Int("frames", 1024, "sample frames to write")
	flag.Parse()

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("create %s: %v", *out, err)
	}

	channels := []cnt.ChannelDesc{
		{Label: "Cz", Reference: "ref", Unit: "uV"},
		{Label: "Pz", Reference: "ref", Unit: "uV"},
	}
	w, err := cnt.NewWriter(f, *rate, channels)
	if err != nil {
		log.Fatalf("new writer: %v", err)
	}

	// A few frames in one call, then the rest one frame at a time.
	if err := w.AddSamples([]float64{0, 0, 1, 0, 2, 0, 3, 0}); err != nil {
		log.Fatalf("add samples: %v", err)
	}
	for n := w.SampleCount(); n < *frames; n++ {
		if err := w.AddSamples([]float64{13, float64(n)}); err != nil {
			log.Fatalf("add sample %d: %v", n, err)
		}
	}

	if err := w.Close(); err != nil {
		log.Fatalf("finalize: %v", err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("close %s: %v", *out, err)
	}
	log.Printf("wrote %s: %d channels, %d frames at %g Hz", *out, len(channels), *frames, *rate)
}
