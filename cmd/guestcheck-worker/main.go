// guestcheck-worker consumes run requests from Kafka and checks the
// requested guests, reloading its configuration when the file changes.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/andrej220/guestcheck/internal/harness"
	"github.com/andrej220/guestcheck/internal/lg"
	"github.com/andrej220/guestcheck/pkg/config"
	"github.com/andrej220/guestcheck/pkg/consumer"
	dm "github.com/andrej220/guestcheck/pkg/shared-models"
	"github.com/google/uuid"
)

const serviceName = "GUESTCHECK-WORKER"

type requestReader interface {
	Read(ctx context.Context) (dm.RunRequest, error)
}

type worker struct {
	cfg    atomic.Pointer[config.HarnessConfig]
	reader requestReader
	dial   harness.Dialer
	lg     lg.Logger
}

func main() {
	fs := flag.CommandLine
	logCfg := lg.BindFlags(fs, serviceName)
	store := config.BindStoreFlags(fs)
	flag.Parse()

	logger := lg.New(logCfg)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = lg.Attach(ctx, logger)

	if err := run(ctx, logger, store); err != nil {
		logger.Error("worker stopped", lg.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger lg.Logger, store *config.StoreFlags) error {
	cs, err := store.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := cs.Close(context.Background()); err != nil {
			logger.Warn("closing config store", lg.Err(err))
		}
	}()
	cfg, err := config.Load(ctx, cs)
	if err != nil {
		return err
	}
	if cfg.Kafka == nil || cfg.Kafka.RequestsTopic == "" {
		return errors.New("kafka.requestsTopic is required by the worker")
	}

	c := consumer.NewConsumer[dm.RunRequest](consumer.Config{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.GroupID,
		Topic:   cfg.Kafka.RequestsTopic,
	})
	defer c.Close()

	w := &worker{reader: c, dial: harness.SSHDialer, lg: logger}
	w.cfg.Store(cfg)

	if err := cs.Watch(ctx, func() { w.reload(ctx, cs) }); err != nil {
		logger.Warn("config reload disabled", lg.Err(err))
	}

	logger.Info("waiting for run requests", lg.String("topic", cfg.Kafka.RequestsTopic))
	return w.serve(ctx)
}

func (w *worker) reload(ctx context.Context, cs config.Config) {
	cfg, err := config.Load(ctx, cs)
	if err != nil {
		w.lg.Warn("keeping previous config", lg.Err(err))
		return
	}
	w.cfg.Store(cfg)
	w.lg.Info("config reloaded", lg.Int("targets", len(cfg.Targets)))
}

// serve handles requests one at a time until ctx is done.
func (w *worker) serve(ctx context.Context) error {
	for {
		req, err := w.reader.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var decodeErr *consumer.DecodeError
			if errors.As(err, &decodeErr) {
				w.lg.Warn("dropping malformed request", lg.Err(err))
				continue
			}
			return err
		}
		w.handle(ctx, req)
	}
}

func (w *worker) handle(ctx context.Context, req dm.RunRequest) {
	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}
	logger := w.lg.With(lg.String("runId", req.RunID.String()))
	cfg := w.cfg.Load()

	sinks, closeSinks, err := harness.Sinks(ctx, cfg)
	if err != nil {
		logger.Error("failed to set up report sinks", lg.Err(err))
		return
	}
	defer func() {
		if err := closeSinks(); err != nil {
			logger.Warn("closing report sinks", lg.Err(err))
		}
	}()

	reports, err := harness.New(cfg, w.dial, sinks).RunAll(lg.Attach(ctx, logger), req.RunID, req.Targets, req.Checks)
	if err != nil {
		logger.Error("run failed", lg.Err(err))
	}
	failed := 0
	for _, r := range reports {
		if r.Failed() {
			failed++
		}
	}
	logger.Info("run finished", lg.Int("targets", len(reports)), lg.Int("failed", failed))
}
