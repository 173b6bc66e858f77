// Command lane-report summarises, plots and lists lane distance runs recorded
// by lanedistance, reading either a CSV file or the SQLite run store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/lane.report/internal/analysis"
	"github.com/banshee-data/lane.report/internal/config"
	"github.com/banshee-data/lane.report/internal/db"
	"github.com/banshee-data/lane.report/internal/fsutil"
	"github.com/banshee-data/lane.report/internal/lane/l4distance"
	"github.com/banshee-data/lane.report/internal/lane/output"
	"github.com/banshee-data/lane.report/internal/security"
	"github.com/banshee-data/lane.report/internal/units"
	"github.com/banshee-data/lane.report/internal/version"
)

const usage = `usage: lane-report <command> [flags]

commands:
  summary    print distance statistics
  plot       write the distance chart (PNG, and HTML with -html)
  frequency  print and chart the lane position change frequency
  export     write a stored run's samples as CSV
  runs       list runs in the store
  migrate    apply store migrations (up|down|version)
  version    print version
`

type options struct {
	csv     string
	db      string
	run     string
	units   string
	outDir  string
	config  string
	html    bool
	command string
	args    []string
}

func newFlagSet(command string) (*flag.FlagSet, *options) {
	o := &options{command: command}
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.StringVar(&o.csv, "csv", "", "Read samples from this CSV file")
	fs.StringVar(&o.db, "db", "", "Run store database")
	fs.StringVar(&o.run, "run", "", "Run id to read from -db")
	fs.StringVar(&o.units, "units", units.CM, "Display units: "+units.GetValidUnitsString())
	fs.StringVar(&o.outDir, "out-dir", ".", "Directory for charts and exports")
	fs.StringVar(&o.config, "config", "", "Pipeline config JSON for analysis settings")
	fs.BoolVar(&o.html, "html", false, "Also write an interactive HTML report")
	return fs, o
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	if len(args) == 0 {
		return nil, errors.New("missing command")
	}
	fs, o := newFlagSet(args[0])
	fs.SetOutput(stderr)
	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}
	o.args = fs.Args()
	return o, o.validate()
}

func (o *options) validate() error {
	if !units.IsValid(o.units) {
		return fmt.Errorf("invalid -units %q, expected one of: %s", o.units, units.GetValidUnitsString())
	}
	switch o.command {
	case "summary", "plot", "frequency":
		if (o.csv == "") == (o.db == "") {
			return errors.New("exactly one of -csv or -db is required")
		}
		if o.db != "" && o.run == "" {
			return errors.New("-run is required with -db")
		}
	case "export":
		if o.db == "" || o.run == "" {
			return errors.New("-db and -run are required")
		}
	case "runs", "migrate":
		if o.db == "" {
			return errors.New("-db is required")
		}
	case "version":
	default:
		return fmt.Errorf("unknown command %q", o.command)
	}
	return nil
}

func main() {
	log.SetFlags(0)
	o, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprint(os.Stderr, usage)
		}
		log.Fatalf("%v", err)
	}
	if err := execute(context.Background(), o, fsutil.OSFileSystem{}, os.Stdout); err != nil {
		log.Fatalf("%s: %v", o.command, err)
	}
}

func execute(ctx context.Context, o *options, fsys fsutil.FileSystem, stdout io.Writer) error {
	switch o.command {
	case "version":
		fmt.Fprintln(stdout, version.String("lane-report"))
		return nil
	case "runs":
		return listRuns(ctx, o, stdout)
	case "migrate":
		return migrate(o, stdout)
	}

	samples, name, err := loadSamples(ctx, o, fsys)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(o.config)
	if err != nil {
		return err
	}
	params := analysis.FrequencyParamsFromConfig(cfg)
	series := analysis.FromSamples(samples)

	switch o.command {
	case "summary":
		return summary(series, o.units, stdout)
	case "export":
		return export(samples, o, fsys, name, stdout)
	case "plot":
		return plotDistance(series, params, o, fsys, name, stdout)
	default:
		return frequency(series, params, o, fsys, name, stdout)
	}
}

func loadConfig(path string) (*config.PipelineConfig, error) {
	if path == "" {
		return config.DefaultPipelineConfig(), nil
	}
	return config.LoadPipelineConfig(path)
}

// loadSamples returns the samples and a base name for chart files.
func loadSamples(ctx context.Context, o *options, fsys fsutil.FileSystem) ([]l4distance.Sample, string, error) {
	if o.csv != "" {
		samples, err := output.ReadSamplesFile(fsys, o.csv)
		if err != nil {
			return nil, "", err
		}
		return samples, strings.TrimSuffix(filepath.Base(o.csv), filepath.Ext(o.csv)), nil
	}

	store, err := db.OpenExisting(o.db)
	if err != nil {
		return nil, "", err
	}
	defer store.Close()
	samples, err := store.Samples(ctx, o.run)
	if err != nil {
		return nil, "", err
	}
	return samples, o.run, nil
}

func displaySeries(s analysis.Series, unit string) analysis.Series {
	out := analysis.Series{
		Seconds:    s.Seconds,
		DistanceCM: append([]float64(nil), s.DistanceCM...),
	}
	units.ConvertAll(out.DistanceCM, unit)
	return out
}

func summary(s analysis.Series, unit string, stdout io.Writer) error {
	sum := analysis.Summarize(s.DistanceCM).Convert(func(v float64) float64 {
		return units.ConvertDistance(v, unit)
	})
	_, err := io.WriteString(stdout, sum.Format(unit))
	return err
}

func chartPath(o *options, fsys fsutil.FileSystem, name, suffix string) (string, error) {
	if err := fsys.MkdirAll(o.outDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", o.outDir, err)
	}
	return security.OutputPath(o.outDir, name+suffix)
}

func plotDistance(s analysis.Series, params analysis.FrequencyParams, o *options, fsys fsutil.FileSystem, name string, stdout io.Writer) error {
	display := displaySeries(s, o.units)
	p, err := analysis.PlotDistance(display, o.units)
	if err != nil {
		return err
	}
	path, err := chartPath(o, fsys, name, "_distance.png")
	if err != nil {
		return err
	}
	if err := analysis.SavePNG(fsys, path, p); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", path)

	if !o.html {
		return nil
	}
	htmlPath, err := chartPath(o, fsys, name, "_report.html")
	if err != nil {
		return err
	}
	f, err := fsys.Create(htmlPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", htmlPath, err)
	}
	if err := analysis.RenderHTML(f, display, o.units, analysis.ChangeFrequency(s.DistanceCM, params), params); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", htmlPath)
	return nil
}

func frequency(s analysis.Series, params analysis.FrequencyParams, o *options, fsys fsutil.FileSystem, name string, stdout io.Writer) error {
	freq := analysis.ChangeFrequency(s.DistanceCM, params)
	sum := analysis.Summarize(freq)
	fmt.Fprintf(stdout, "Position changes > %.1f cm over %.1f s windows at %.0f Hz:\n", params.ThresholdCM, params.WindowSeconds, params.SampleRateHz)
	fmt.Fprintf(stdout, "Mean: %.2f Hz\nMaximum: %.2f Hz\n", sum.Mean, sum.Max)

	p, err := analysis.PlotFrequency(s.Seconds, freq, params)
	if err != nil {
		return err
	}
	path, err := chartPath(o, fsys, name, "_frequency.png")
	if err != nil {
		return err
	}
	if err := analysis.SavePNG(fsys, path, p); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", path)
	return nil
}

// export writes samples in the lanedistance CSV layout, so the file reads
// back with -csv.
func export(samples []l4distance.Sample, o *options, fsys fsutil.FileSystem, name string, stdout io.Writer) error {
	path, err := chartPath(o, fsys, name, ".csv")
	if err != nil {
		return err
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := output.WriteSamples(f, samples); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s (%d samples)\n", path, len(samples))
	return nil
}

func listRuns(ctx context.Context, o *options, stdout io.Writer) error {
	store, err := db.OpenExisting(o.db)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(stdout, "no runs")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintln(stdout, r.String())
	}
	return nil
}

func migrate(o *options, stdout io.Writer) error {
	store, err := db.Open(o.db)
	if err != nil {
		return err
	}
	defer store.Close()

	action := "up"
	if len(o.args) > 0 {
		action = o.args[0]
	}
	switch action {
	case "up":
		err = store.MigrateUp()
	case "down":
		err = store.MigrateDown()
	case "version":
	default:
		return fmt.Errorf("unknown migrate action %q (up|down|version)", action)
	}
	if err != nil {
		return err
	}

	v, dirty, err := store.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "schema version %d (dirty=%t)\n", v, dirty)
	return nil
}
