// Command lanedistance measures the distance from a vehicle's wheel to the
// painted lane line in every frame of a dashcam video.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/lane.report/internal/config"
	"github.com/banshee-data/lane.report/internal/db"
	"github.com/banshee-data/lane.report/internal/fsutil"
	"github.com/banshee-data/lane.report/internal/lane/calibration"
	"github.com/banshee-data/lane.report/internal/lane/l1frames"
	"github.com/banshee-data/lane.report/internal/lane/output"
	"github.com/banshee-data/lane.report/internal/lane/pipeline"
	"github.com/banshee-data/lane.report/internal/monitoring"
	"github.com/banshee-data/lane.report/internal/version"
)

type options struct {
	video       string
	calibration string
	config      string
	csv         string
	outVideo    string
	db          string
	workers     int
	debug       bool
	version     bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	o := &options{}
	fs.StringVar(&o.video, "video", "", "Input video file (required)")
	fs.StringVar(&o.calibration, "calibration", "", "Camera calibration JSON (required)")
	fs.StringVar(&o.config, "config", "", "Pipeline config JSON (defaults apply when empty)")
	fs.StringVar(&o.csv, "csv", "", "Write per-frame distances to this CSV file")
	fs.StringVar(&o.outVideo, "out-video", "", "Write the annotated video to this file")
	fs.StringVar(&o.db, "db", "", "Record the run in this SQLite database")
	fs.IntVar(&o.workers, "workers", 0, "Processing workers (0 uses the config value)")
	fs.BoolVar(&o.debug, "debug", false, "Log every frame's measurement")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *options) validate() error {
	if o.video == "" {
		return errors.New("-video is required")
	}
	if o.calibration == "" {
		return errors.New("-calibration is required")
	}
	if o.csv == "" && o.outVideo == "" && o.db == "" {
		return errors.New("at least one of -csv, -out-video or -db is required")
	}
	if o.workers < 0 {
		return fmt.Errorf("-workers must be non-negative, got %d", o.workers)
	}
	return nil
}

func loadConfig(path string) (*config.PipelineConfig, error) {
	if path == "" {
		return config.DefaultPipelineConfig(), nil
	}
	return config.LoadPipelineConfig(path)
}

func main() {
	o, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("failed to parse flags: %v", err)
	}
	if o.version {
		fmt.Println(version.String("lanedistance"))
		return
	}
	if err := o.validate(); err != nil {
		flag.Usage()
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o); err != nil {
		log.Fatalf("%v", err)
	}
}

// closers are released in reverse order of registration.
type closers []io.Closer

func (c *closers) add(cl io.Closer) { *c = append(*c, cl) }

func (c closers) closeAll() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func run(ctx context.Context, o *options) error {
	var trace io.Writer
	if o.debug {
		trace = monitoring.Writer()
	}
	pipeline.SetLogWriters(monitoring.Writer(), monitoring.Writer(), trace)

	cfg, err := loadConfig(o.config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	params, err := calibration.Load(o.calibration)
	if err != nil {
		return fmt.Errorf("failed to load calibration: %w", err)
	}
	model, err := calibration.NewModel(params)
	if err != nil {
		return fmt.Errorf("failed to build calibration model: %w", err)
	}
	defer model.Close()

	src, err := l1frames.OpenVideo(o.video)
	if err != nil {
		return err
	}
	defer src.Close()
	log.Printf("processing %s", src)

	var (
		sinks []pipeline.Sink
		owned closers
		store *db.DB
		runID string
	)
	defer func() {
		if err := owned.closeAll(); err != nil {
			log.Printf("failed to close outputs: %v", err)
		}
	}()

	if o.csv != "" {
		csvSink, err := output.NewCSVSink(fsutil.OSFileSystem{}, o.csv)
		if err != nil {
			return err
		}
		owned.add(csvSink)
		sinks = append(sinks, csvSink)
	}

	if o.outVideo != "" {
		fps := src.FPS()
		if fps <= 0 {
			fps = cfg.GetSampleRateHz()
		}
		video, err := output.NewVideoSink(o.outVideo, cfg.GetVideoCodec(), fps, output.OutputSize(src.FrameSize()))
		if err != nil {
			return err
		}
		owned.add(video)
		sinks = append(sinks, video)
	}

	// Store writes outlive a cancelled run so the partial run is recorded.
	storeCtx := context.WithoutCancel(ctx)
	if o.db != "" {
		store, err = db.OpenAndMigrate(o.db)
		if err != nil {
			return fmt.Errorf("failed to open run store: %w", err)
		}
		defer store.Close()

		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		r, err := store.CreateRun(storeCtx, src.Path(), string(cfgJSON), time.Now())
		if err != nil {
			return err
		}
		runID = r.RunID
		log.Printf("recording run %s", runID)

		storeSink := output.NewStoreSink(store, runID, output.DefaultStoreBatch)
		owned.add(storeSink)
		sinks = append(sinks, storeSink)
	}

	workers := o.workers
	if workers == 0 {
		workers = cfg.GetWorkers()
	}
	proc := pipeline.New(cfg, model)
	ref := proc.Reference()
	log.Printf("measuring from (%d, %d) at %.3f cm/px with %d worker(s)", ref.X, ref.Y, cfg.GetPixelToCM(), workers)

	runner := &pipeline.Runner{
		Processor: proc,
		Workers:   workers,
	}

	stats, runErr := runner.Run(ctx, src, sinks...)

	// Flush sinks before the run is marked finished.
	if err := owned.closeAll(); err != nil && runErr == nil {
		runErr = err
	}
	owned = nil

	if store != nil {
		if err := store.FinishRun(storeCtx, runID, time.Now(), stats.Frames, stats.Detections); err != nil {
			log.Printf("failed to finish run %s: %v", runID, err)
		}
	}

	log.Printf("%s (%.1f fps)", stats, stats.FramesPerSecond())
	if runErr != nil {
		return fmt.Errorf("run stopped: %w", runErr)
	}
	return nil
}
