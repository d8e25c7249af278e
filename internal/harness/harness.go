// Package harness runs the whole pipeline against configured guests:
// connect, wait for cloudbase-init, run the checks and publish the reports.
package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/andrej220/guestcheck/internal/checks"
	"github.com/andrej220/guestcheck/internal/executor"
	"github.com/andrej220/guestcheck/internal/introspection"
	"github.com/andrej220/guestcheck/internal/lg"
	"github.com/andrej220/guestcheck/internal/recipe"
	"github.com/andrej220/guestcheck/internal/report"
	"github.com/andrej220/guestcheck/pkg/config"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var ErrUnknownTarget = errors.New("unknown target")

// Dialer opens a session on a guest.
type Dialer func(ctx context.Context, cfg executor.SSHConfig) (executor.Session, error)

// SSHDialer dials guests over SSH.
func SSHDialer(ctx context.Context, cfg executor.SSHConfig) (executor.Session, error) {
	exec, err := executor.DialSSH(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return exec, nil
}

type Harness struct {
	cfg  *config.HarnessConfig
	dial Dialer
	sink report.Sink
}

func New(cfg *config.HarnessConfig, dial Dialer, sink report.Sink) *Harness {
	return &Harness{cfg: cfg, dial: dial, sink: sink}
}

// RunAll checks the named targets, every target when names is empty, at
// most cfg.Parallel at a time. Reports are returned in target order. The
// error joins the lookup and publishing failures; failed checks are only
// recorded in the reports.
func (h *Harness) RunAll(ctx context.Context, runID uuid.UUID, names, checkNames []string) ([]checks.Report, error) {
	targets, err := h.targets(names)
	if err != nil {
		return nil, err
	}
	if len(checkNames) == 0 {
		checkNames = h.cfg.Checks
	}
	selected, err := checks.Select(checkNames)
	if err != nil {
		return nil, err
	}

	reports := make([]checks.Report, len(targets))
	var (
		mu         sync.Mutex
		publishErr []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(h.cfg.Parallel, 1))
	for i, target := range targets {
		g.Go(func() error {
			reports[i] = h.RunTarget(gctx, runID, target, selected)
			if err := h.sink.Publish(gctx, reports[i]); err != nil {
				mu.Lock()
				publishErr = append(publishErr, fmt.Errorf("target %s: %w", target.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return reports, errors.Join(publishErr...)
}

func (h *Harness) targets(names []string) ([]config.Target, error) {
	if len(names) == 0 {
		return h.cfg.Targets, nil
	}
	out := make([]config.Target, 0, len(names))
	for _, name := range names {
		t, ok := h.cfg.Target(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, name)
		}
		out = append(out, t)
	}
	return out, nil
}

// RunTarget runs selected against one target. Failing to reach or to wait
// for the guest is reported in Report.Error, with no check results.
func (h *Harness) RunTarget(ctx context.Context, runID uuid.UUID, target config.Target, selected []checks.Check) checks.Report {
	logger := lg.FromContext(ctx).With(lg.String("target", target.Name), lg.String("address", target.Address))
	ctx = lg.Attach(ctx, logger)
	started := time.Now()

	env, closeFn, err := h.prepare(ctx, target)
	if err != nil {
		logger.Error("target not ready", lg.Err(err))
		return checks.Report{
			RunID:      runID,
			Target:     target.Name,
			StartedAt:  started,
			FinishedAt: time.Now(),
			Error:      err.Error(),
			Results:    []checks.Result{},
		}
	}
	defer closeFn()

	return checks.NewRunner(selected).Run(ctx, runID, target.Name, env)
}

func (h *Harness) prepare(ctx context.Context, target config.Target) (*checks.Env, func(), error) {
	sess, err := h.connect(ctx, target)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := sess.Close(); err != nil {
			lg.FromContext(ctx).Warn("closing session", lg.Err(err))
		}
	}

	cb := h.cfg.Cloudbaseinit
	guest := introspection.New(sess, sess, introspection.Options{
		CreatedUser:  cb.CreatedUser,
		ResourcesURL: h.cfg.Resources,
		RetryCount:   h.cfg.Polling.Count,
		RetryDelay:   h.cfg.Polling.Delay,
	})
	waits := recipe.New(sess, guest, recipe.Options{
		Username: cb.ImageUser,
		Count:    h.cfg.Polling.Count,
		Delay:    h.cfg.Polling.Delay,
	})

	if err := waits.WaitForBootCompletion(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	if cb.Wait == config.WaitImage {
		err = waits.WaitImageFinalization(ctx)
	} else {
		err = waits.WaitCbinitFinalization(ctx, recipe.DefaultMarkers)
	}
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	publicKey, err := target.PublicKey()
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	env := &checks.Env{
		Guest: guest,
		Expect: checks.Expectations{
			CreatedUser:   cb.CreatedUser,
			Timezone:      cb.Timezone,
			Hostname:      target.Hostname,
			Group:         cb.Group,
			PublicKey:     publicKey,
			PluginsCount:  cb.PluginsCount,
			MinDiskSize:   target.MinDiskSize,
			DnsmasqConfig: cb.DnsmasqConfig,
			NICs:          slices.Clone(target.NICs),
		},
	}
	return env, closeFn, nil
}

// connect dials the target, retrying while the guest is still booting.
func (h *Harness) connect(ctx context.Context, target config.Target) (executor.Session, error) {
	sshCfg := executor.SSHConfig{
		Address:        target.Address,
		User:           target.User,
		Password:       target.Password,
		PrivateKeyPath: target.KeyPath,
	}
	var sess executor.Session
	operation := func() error {
		s, err := h.dial(ctx, sshCfg)
		if err != nil {
			return err
		}
		sess = s
		return nil
	}
	notify := func(err error, next time.Duration) {
		lg.FromContext(ctx).Debug("guest not reachable yet", lg.Err(err), lg.Duration("retryIn", next))
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(h.cfg.Polling.Delay), uint64(max(h.cfg.Polling.Count-1, 0))),
		ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", target.Address, err)
	}
	return sess, nil
}
