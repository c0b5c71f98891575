// Command alignd runs the spatial alignment driver with its HTTP status API
// and gRPC health service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/spatial-alignment/internal/config"
	"github.com/banshee-data/spatial-alignment/internal/monitoring"
	"github.com/banshee-data/spatial-alignment/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to alignment config JSON (defaults to "+config.DefaultConfigPath+" when present)")
	listen      = flag.String("listen", "", "HTTP listen address (overrides config)")
	grpcListen  = flag.String("grpc-listen", "", "gRPC health listen address (overrides config)")
	dbPath      = flag.String("db", "", "SQLite database path (overrides config)")
	framesFile  = flag.String("frames", "", "Frames JSON document to import at startup and export at shutdown (overrides config)")
	plotDir     = flag.String("plot-dir", "", "Directory for layout plots and timelines written at shutdown (overrides config)")
	anchorID    = flag.String("anchor-strategy", "anchored", "ID of the strategy fed by located cloud anchors; empty disables it")
	demoAnchors = flag.Int("demo-anchors", 0, "Seed the simulated anchor service with this many anchors")
	verbose     = flag.Bool("verbose", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyFlagOverrides(cfg)
	monitoring.SetVerbose(cfg.GetVerbose())
	monitoring.Logf("starting %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, appOptions{AnchorStrategyID: *anchorID, DemoAnchors: *demoAnchors})
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	if err := a.run(ctx); err != nil {
		log.Printf("alignd exited with error: %v", err)
	}
	if err := a.close(); err != nil {
		log.Printf("shutdown error: %v", err)
		os.Exit(1)
	}
	log.Printf("Graceful shutdown complete")
}

// loadConfig reads path, or the default config when path is empty and the
// default file exists, or returns an empty config.
func loadConfig(path string) (*config.AlignmentConfig, error) {
	if path != "" {
		return config.LoadAlignmentConfig(path)
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		return config.LoadAlignmentConfig(config.DefaultConfigPath)
	}
	return config.EmptyAlignmentConfig(), nil
}

func applyFlagOverrides(cfg *config.AlignmentConfig) {
	setString := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	setString(&cfg.Listen, *listen)
	setString(&cfg.GRPCListen, *grpcListen)
	setString(&cfg.DBPath, *dbPath)
	setString(&cfg.FramesFile, *framesFile)
	setString(&cfg.PlotDir, *plotDir)
	if *verbose {
		v := true
		cfg.Verbose = &v
	}
}
