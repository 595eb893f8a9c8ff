// logtierd is the tiered log storage lifecycle daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xtxerr/logtier/internal/logging"
	"github.com/xtxerr/logtier/internal/tiering"
	"github.com/xtxerr/logtier/internal/tiering/config"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logJSON := flag.Bool("log-json", false, "log in JSON format")
	sweepNow := flag.Bool("sweep", false, "run one sweep at startup")
	dryRun := flag.Bool("dry-run", false, "with -sweep: report decisions without moving records")
	flag.Parse()

	logging.Init(parseLevel(*logLevel), *logJSON)
	logging.Info("logtierd starting", "version", Version)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("no config file found, using defaults", "path", *cfgPath)
			cfg = config.DefaultConfig()
		} else {
			logging.Error("load config", "error", err)
			os.Exit(1)
		}
	}

	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	svc, err := tiering.New(cfg)
	if err != nil {
		logging.Error("create service", "error", err)
		os.Exit(1)
	}

	if err := svc.Start(); err != nil {
		logging.Error("start service", "error", err)
		os.Exit(1)
	}

	logging.Info("logtierd running",
		"data_dir", cfg.DataDir,
		"sweep_cron", cfg.Sweep.Cron,
		"reheat_enabled", cfg.Reheat.Enabled)

	if *sweepNow {
		runStartupSweep(svc, *dryRun)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logging.Info("shutting down")
	if err := svc.Stop(); err != nil {
		logging.Error("stop service", "error", err)
		os.Exit(1)
	}
}

// runStartupSweep runs the -sweep flag's one-shot sweep.
func runStartupSweep(svc *tiering.Service, dryRun bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if dryRun {
		decisions, err := svc.DryRunSweep(ctx)
		if err != nil {
			logging.Error("dry-run sweep", "error", err)
			return
		}
		for _, d := range decisions {
			fmt.Printf("%s\t%s\t%s -> %s\t%s\n", d.RecordID, d.Action, d.Tier, d.Target, d.Reason)
		}
		logging.Info("dry-run sweep finished", "decisions", len(decisions))
		return
	}

	result, err := svc.RunSweep(ctx)
	if err != nil {
		logging.Error("startup sweep", "error", err)
		return
	}
	logging.Info("startup sweep finished",
		"scanned", result.Scanned,
		"demoted", result.Demoted,
		"promoted", result.Promoted,
		"expired", result.Expired)
}

// parseLevel maps the -log-level flag to a slog level.
func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
