// Command dig-inspect summarizes a FastScan digitization CSV: point
// counts, landmark positions, and the preauricular point distance. Useful
// for cap QC before running a conversion.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/neurodata-tools/eegbridge/internal/eeg"
	"github.com/neurodata-tools/eegbridge/internal/fastscan"
	"github.com/neurodata-tools/eegbridge/internal/montage"
)

func main() {
	register := flag.Bool("register", false, "also register to the head frame and print transformed landmarks")
	electrodes := flag.Int("electrodes", eeg.NumElectrodes, "expected electrode count for -register")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: dig-inspect [flags] <fastscan.csv>")
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	dig, err := fastscan.ParseFile(path)
	if err != nil {
		log.Fatalf("%v", err)
	}

	nasion, _ := dig.Landmark(fastscan.LabelNasion)
	lpa, _ := dig.Landmark(fastscan.LabelLPA)
	rpa, _ := dig.Landmark(fastscan.LabelRPA)

	fmt.Printf("file:       %s\n", path)
	fmt.Printf("points:     %d (%d electrodes + %d landmarks expected for the standard cap)\n",
		dig.NumPoints(), eeg.NumElectrodes, eeg.NumLandmarks)
	fmt.Printf("nasion:     (%.2f, %.2f, %.2f) mm\n", nasion.X, nasion.Y, nasion.Z)
	fmt.Printf("lpa:        (%.2f, %.2f, %.2f) mm\n", lpa.X, lpa.Y, lpa.Z)
	fmt.Printf("rpa:        (%.2f, %.2f, %.2f) mm\n", rpa.X, rpa.Y, rpa.Z)
	fmt.Printf("lpa-rpa:    %.3f mm\n", lpa.Dist(rpa))

	if dig.NumPoints() != eeg.NumDigPoints {
		fmt.Printf("WARNING: point count differs from the standard cap (%d)\n", eeg.NumDigPoints)
	}

	if *register {
		m, err := montage.FromDigitization(dig, "inspect", *electrodes)
		if err != nil {
			log.Fatalf("registration failed: %v", err)
		}
		fmt.Printf("head-frame nasion: (%.4f, %.4f, %.4f) m\n", m.Nasion.X, m.Nasion.Y, m.Nasion.Z)
		fmt.Printf("head-frame lpa:    (%.4f, %.4f, %.4f) m\n", m.LPA.X, m.LPA.Y, m.LPA.Z)
		fmt.Printf("head-frame rpa:    (%.4f, %.4f, %.4f) m\n", m.RPA.X, m.RPA.Y, m.RPA.Z)
		fmt.Printf("head-frame lpa-rpa: %.6f m\n", m.LPA.Dist(m.RPA))
	}
}
