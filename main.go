package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/db"
	"github.com/banshee-data/presence.report/internal/monitor"
	"github.com/banshee-data/presence.report/internal/overlay"
	"github.com/banshee-data/presence.report/internal/pipeline"
	"github.com/banshee-data/presence.report/internal/session"
	"github.com/banshee-data/presence.report/internal/version"
	"github.com/banshee-data/presence.report/internal/vision"
)

var (
	listen        = flag.String("listen", ":8080", "HTTP listen address")
	dbFile        = flag.String("db", "presence_data.db", "Path to the SQLite session archive")
	migrationsDir = flag.String("migrations", db.DefaultMigrationsDir, "Path to the database migrations directory")
	configFile    = flag.String("config", "", "Path to a tuning config JSON file (default: search for "+config.DefaultConfigPath+")")
	cameraURL     = flag.String("camera-url", "", "MJPEG camera stream URL (required unless -demo)")
	inferURL      = flag.String("infer-url", "http://127.0.0.1:9090", "Inference sidecar base URL")
	demoMode      = flag.Bool("demo", false, "Run a synthetic walk-through scenario instead of a live camera")
	autoStart     = flag.Bool("start", false, "Start the pipeline immediately instead of waiting for POST /api/pipeline/start")
	logDiag       = flag.Bool("log-diag", false, "Enable diagnostic logging")
	logTrace      = flag.Bool("log-trace", false, "Enable per-frame trace logging")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("HTTP listen address is required")
	}

	var diag, trace *os.File
	if *logDiag {
		diag = os.Stderr
	}
	if *logTrace {
		trace = os.Stderr
	}
	pipeline.SetLogWriters(pipeline.LogWriters{Ops: os.Stderr, Diag: diag, Trace: trace})

	var tuning *config.TuningConfig
	if *configFile != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
	} else {
		tuning = config.MustLoadDefaultConfig()
	}

	archive, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open session archive: %v", err)
	}
	defer archive.Close()
	if err := archive.MigrateUp(*migrationsDir); err != nil {
		log.Fatalf("Failed to migrate session archive: %v", err)
	}

	runID := uuid.NewString()
	log.Printf("presence.report %s (%s), run ID %s", version.Version, version.GitSHA, runID)

	opts := pipeline.Options{
		Renderer: overlay.NewRenderer(tuning.GetJPEGQuality()),
		Tuning:   tuning,
		RunID:    runID,
		ClosedSink: func(personID int, s *session.Session) {
			if err := archive.ArchiveSession(runID, personID, s); err != nil {
				log.Printf("Failed to archive session %s: %v", s.SessionID, err)
			}
		},
	}

	if *demoMode {
		scn := demoScenario(tuning)
		opts.Source = scn
		opts.Detector = scn
		opts.Embedder = scn
		opts.Lines = demoLines()
		opts.Zones = demoZones()
	} else {
		if *cameraURL == "" {
			log.Fatal("-camera-url is required (or use -demo)")
		}
		infer := vision.NewInferenceClient(*inferURL, nil)
		if !infer.Healthy() {
			log.Printf("Warning: inference sidecar at %s is not responding", *inferURL)
		}
		opts.Source = vision.NewMJPEGSource(*cameraURL, nil)
		opts.Detector = infer
		opts.Embedder = infer
	}

	runner, err := pipeline.NewRunner(opts)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	if *autoStart || *demoMode {
		if err := runner.Start(); err != nil {
			log.Fatalf("Failed to start pipeline: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ws := monitor.NewWebServer(monitor.WebServerConfig{
		Address: *listen,
		Runner:  runner,
		Archive: archive,
	})
	if err := ws.Start(ctx); err != nil {
		log.Printf("HTTP server error: %v", err)
	}

	runner.Stop()
	log.Printf("Graceful shutdown complete")
}
