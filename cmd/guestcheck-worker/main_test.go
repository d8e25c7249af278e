package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andrej220/guestcheck/internal/executor"
	"github.com/andrej220/guestcheck/internal/executor/executortest"
	"github.com/andrej220/guestcheck/internal/lg"
	"github.com/andrej220/guestcheck/pkg/config"
	"github.com/andrej220/guestcheck/pkg/consumer"
	dm "github.com/andrej220/guestcheck/pkg/shared-models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedReader struct {
	requests []dm.RunRequest
	errs     []error
	cancel   context.CancelFunc
}

func (r *scriptedReader) Read(ctx context.Context) (dm.RunRequest, error) {
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return dm.RunRequest{}, err
	}
	if len(r.requests) == 0 {
		r.cancel()
		<-ctx.Done()
		return dm.RunRequest{}, ctx.Err()
	}
	req := r.requests[0]
	r.requests = r.requests[1:]
	return req, nil
}

func workerConfig(t *testing.T) *config.HarnessConfig {
	cfg := &config.HarnessConfig{
		Targets: []config.Target{{Name: "win2019", Address: "10.0.0.15:22", User: "Administrator", Password: "x"}},
		Cloudbaseinit: config.Cloudbaseinit{
			ImageUser:   "Admin",
			CreatedUser: "Admin",
		},
		Resources: "http://resources.local",
		Polling:   config.Polling{Count: 2, Delay: time.Millisecond},
		Output:    config.Output{Dir: t.TempDir()},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestServeHandlesRequestsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runID := uuid.New()
	reader := &scriptedReader{
		errs:     []error{&consumer.DecodeError{Offset: 3, Err: errors.New("bad json")}},
		requests: []dm.RunRequest{{RunID: runID, Checks: []string{"created-user"}}},
		cancel:   cancel,
	}
	guest := executortest.NewFake().
		On("net user", "User name Admin").
		On("Test-Path", "True").
		On("Get-Service", "Stopped").
		On("Win32_Account", "Admin")

	w := &worker{
		reader: reader,
		dial:   func(context.Context, executor.SSHConfig) (executor.Session, error) { return guest, nil },
		lg:     lg.Discard,
	}
	cfg := workerConfig(t)
	w.cfg.Store(cfg)

	require.NoError(t, w.serve(ctx))

	assert.True(t, guest.Closed)
	matches, err := filepath.Glob(filepath.Join(cfg.Output.Dir, "win2019-"+runID.String()+".json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestServeStopsOnReaderError(t *testing.T) {
	boom := errors.New("broker gone")
	w := &worker{reader: &scriptedReader{errs: []error{boom}}, lg: lg.Discard}
	w.cfg.Store(workerConfig(t))

	assert.ErrorIs(t, w.serve(context.Background()), boom)
}

func TestReloadKeepsPreviousConfigOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guestcheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte("targets: []\n"), 0o600))
	store, err := config.NewStore(context.Background(), config.FileStore, &config.FileConfig{Path: path})
	require.NoError(t, err)

	w := &worker{lg: lg.Discard}
	previous := workerConfig(t)
	w.cfg.Store(previous)

	w.reload(context.Background(), store)

	assert.Same(t, previous, w.cfg.Load())
}
