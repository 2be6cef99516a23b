// Command dart2las converts DART full-waveform LIDAR binaries to LAS.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/banshee-data/dartlas/internal/catalog"
	"github.com/banshee-data/dartlas/internal/config"
	"github.com/banshee-data/dartlas/internal/convert"
	"github.com/banshee-data/dartlas/internal/monitoring"
	"github.com/banshee-data/dartlas/internal/report"
	"github.com/banshee-data/dartlas/internal/version"
)

var (
	inPath         = flag.String("in", "", "Input DART binary (or DetectedPoints text file with -detected-points)")
	outPath        = flag.String("out", "", "Output LAS file (default: input with .las extension)")
	configPath     = flag.String("config", "", "Path to a JSON or YAML run configuration")
	catalogPath    = flag.String("catalog", "", "Record the run in this SQLite catalog")
	listRuns       = flag.Int("list", 0, "List the newest N runs from -catalog and exit")
	reportDir      = flag.String("report", "", "Write an HTML report and pulse plots to this directory")
	plotPulses     = flag.String("plot-pulses", "", "Comma-separated pulse indices to plot (requires -report)")
	detectedPoints = flag.Bool("detected-points", false, "Input is a DetectedPoints text export")
	showVersion    = flag.Bool("version", false, "Print version and exit")
	debug          = flag.Bool("debug", false, "Enable per-pulse debug logging")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("dart2las %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	monitoring.SetDebug(*debug)

	if *listRuns > 0 {
		if *catalogPath == "" {
			log.Fatal("-list requires -catalog")
		}
		if err := printRuns(*catalogPath, *listRuns); err != nil {
			log.Fatalf("failed to list runs: %v", err)
		}
		return
	}

	if *inPath == "" {
		log.Fatal("input file is required (-in)")
	}
	out := *outPath
	if out == "" {
		out = defaultOutput(*inPath)
	}

	cfg := config.DefaultRunConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadRunConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	pulses, err := parsePulseList(*plotPulses)
	if err != nil {
		log.Fatalf("invalid -plot-pulses: %v", err)
	}
	if len(pulses) > 0 && *reportDir == "" {
		log.Fatal("-plot-pulses requires -report")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conv := convert.New(cfg)
	var plotter *report.PulsePlotter
	if len(pulses) > 0 {
		plotter, err = report.NewPulsePlotter(*reportDir, pulses)
		if err != nil {
			log.Fatalf("failed to prepare plots: %v", err)
		}
		conv.OnPulse = plotter.Observe
	}

	var summary *convert.Summary
	if *detectedPoints {
		summary, err = conv.RunDetectedPoints(ctx, *inPath, out)
	} else {
		summary, err = conv.Run(ctx, *inPath, out)
	}
	if err != nil {
		log.Fatalf("conversion failed: %v", err)
	}

	if plotter != nil {
		if err := plotter.Err(); err != nil {
			log.Printf("some pulse plots failed: %v", err)
		}
		log.Printf("wrote %d pulse plots to %s", len(plotter.Written()), *reportDir)
	}
	if *reportDir != "" {
		path, err := report.WriteHTMLFile(*reportDir, summary)
		if err != nil {
			log.Fatalf("failed to write report: %v", err)
		}
		log.Printf("wrote report %s", path)
	}
	if *catalogPath != "" {
		if err := recordRun(*catalogPath, summary, cfg); err != nil {
			log.Fatalf("failed to record run: %v", err)
		}
	}
}

// defaultOutput replaces the input extension with .las.
func defaultOutput(in string) string {
	if i := strings.LastIndexByte(in, '.'); i > strings.LastIndexByte(in, '/') {
		return in[:i] + ".las"
	}
	return in + ".las"
}

// parsePulseList parses "3,10,42" into pulse indices.
func parsePulseList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("pulse %q: %w", part, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("pulse %d: must be non-negative", n)
		}
		out = append(out, n)
	}
	return out, nil
}

func recordRun(path string, s *convert.Summary, cfg *config.RunConfig) error {
	store, err := catalog.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := catalog.RunFromSummary(s, cfg)
	if err != nil {
		return err
	}
	if err := store.Insert(run); err != nil {
		return err
	}
	log.Printf("recorded run %s in %s", run.RunID, path)
	return nil
}

func printRuns(path string, limit int) error {
	store, err := catalog.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(runs)
}
