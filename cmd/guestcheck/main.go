// guestcheck connects to the configured Windows guests once, waits for
// cloudbase-init to finish and verifies the state it left behind.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/andrej220/guestcheck/internal/harness"
	"github.com/andrej220/guestcheck/internal/lg"
	"github.com/andrej220/guestcheck/pkg/config"
	"github.com/google/uuid"
)

const serviceName = "GUESTCHECK"

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func main() {
	fs := flag.CommandLine
	logCfg := lg.BindFlags(fs, serviceName)
	store := config.BindStoreFlags(fs)
	targets := fs.String("targets", "", "comma separated target names, all when empty")
	checkNames := fs.String("checks", "", "comma separated check names, overrides the configuration")
	flag.Parse()

	logger := lg.New(logCfg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = lg.Attach(ctx, logger)

	code := run(ctx, logger, store, splitList(*targets), splitList(*checkNames))
	stop()
	_ = logger.Sync()
	os.Exit(code)
}

func run(ctx context.Context, logger lg.Logger, store *config.StoreFlags, targets, checkNames []string) int {
	cs, err := store.Open(ctx)
	if err != nil {
		logger.Error("failed to open config store", lg.Err(err))
		return 1
	}
	defer func() {
		if err := cs.Close(context.Background()); err != nil {
			logger.Warn("closing config store", lg.Err(err))
		}
	}()
	cfg, err := config.Load(ctx, cs)
	if err != nil {
		logger.Error("failed to load config", lg.Err(err))
		return 1
	}

	sinks, closeSinks, err := harness.Sinks(ctx, cfg)
	if err != nil {
		logger.Error("failed to set up report sinks", lg.Err(err))
		return 1
	}
	defer func() {
		if err := closeSinks(); err != nil {
			logger.Warn("closing report sinks", lg.Err(err))
		}
	}()

	runID := uuid.New()
	logger.Info("starting run", lg.String("runId", runID.String()), lg.Strings("targets", targets))

	reports, err := harness.New(cfg, harness.SSHDialer, sinks).RunAll(ctx, runID, targets, checkNames)
	code := 0
	if err != nil {
		logger.Error("run failed", lg.Err(err))
		code = 1
	}
	for _, r := range reports {
		if r.Failed() {
			logger.Warn("target failed", lg.String("target", r.Target), lg.String("error", r.Error))
			code = 1
		}
	}
	logger.Info("run finished", lg.String("runId", runID.String()), lg.Int("targets", len(reports)), lg.Bool("ok", code == 0))
	return code
}
