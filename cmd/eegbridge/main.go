// Command eegbridge converts EEG recordings between the pipeline's
// formats: EEGLAB .set (plus optional FastScan digitization) in, raw FIFF
// or CNT out.
//
// Typical use, converting a set file with its digitization:
//
//	eegbridge -set night1.set -dig night1_fastscan.csv -overwrite
//
// writes night1_raw.fif next to the input.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/neurodata-tools/eegbridge/internal/catalog"
	"github.com/neurodata-tools/eegbridge/internal/config"
	"github.com/neurodata-tools/eegbridge/internal/convert"
	"github.com/neurodata-tools/eegbridge/internal/version"
)

func main() {
	var (
		setPath     = flag.String("set", "", "input EEGLAB .set file")
		cntPath     = flag.String("cnt", "", "input CNT container (alternative to -set)")
		digPath     = flag.String("dig", "", "FastScan digitization CSV to attach")
		outPath     = flag.String("out", "", "output path (default: derived from the input name)")
		format      = flag.String("format", convert.FormatFIF, "output format: fif or cnt")
		overwrite   = flag.Bool("overwrite", false, "replace an existing output file")
		plotDir     = flag.String("plot-dir", "", "write a sensor layout PNG into this directory")
		catalogPath = flag.String("catalog", "", "sqlite conversion catalog (optional)")
		configPath  = flag.String("config", "", "JSON config file (optional)")
		showVersion = flag.Bool("version", false, "print the version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("eegbridge", version.String())
		return
	}

	if *setPath == "" && *cntPath == "" {
		fmt.Fprintln(os.Stderr, "eegbridge: one of -set or -cnt is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	// Flags win; the config file fills in whatever was left unset.
	if *plotDir == "" {
		*plotDir = cfg.PlotOutputDir()
	}
	if *catalogPath == "" {
		*catalogPath = cfg.Catalog()
	}

	opts := convert.Options{
		SetPath:   *setPath,
		CNTPath:   *cntPath,
		DigPath:   *digPath,
		OutPath:   *outPath,
		Format:    *format,
		Overwrite: *overwrite || cfg.OverwriteOutputs(),
		PlotDir:   *plotDir,
		Config:    cfg,
	}

	if *catalogPath != "" {
		db, err := catalog.Open(*catalogPath)
		if err != nil {
			log.Fatalf("open catalog: %v", err)
		}
		defer db.Close()
		opts.Catalog = db
	}

	res, err := convert.Run(opts)
	if err != nil {
		log.Fatalf("conversion failed: %v", err)
	}

	log.Printf("converted %d channels at %g Hz -> %s", res.Channels, res.SampleRate, res.OutPath)
	if res.ConversionID != "" {
		log.Printf("catalog entry %s", res.ConversionID)
	}
}
