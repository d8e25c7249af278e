// Package recipe holds the readiness waits run against a freshly booted
// guest before any check.
package recipe

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/andrej220/guestcheck/internal/executor"
	"github.com/andrej220/guestcheck/internal/lg"
	"github.com/andrej220/guestcheck/internal/parser"
)

const (
	DefaultCount = 20
	DefaultDelay = 20 * time.Second
)

// Markers created by the unattended and the normal cloudbase-init runs.
var DefaultMarkers = []string{
	`C:\cloudbaseinit_unattended`,
	`C:\cloudbaseinit_normal`,
}

// CbinitLocator finds the cloudbase-init installation directory.
type CbinitLocator interface {
	CbinitDir(ctx context.Context) (string, error)
}

type Options struct {
	// Username is the image account whose presence signals a completed boot.
	Username string
	Count    int
	Delay    time.Duration
}

type Recipe struct {
	exec    executor.Executor
	locator CbinitLocator
	opts    Options
}

func New(exec executor.Executor, locator CbinitLocator, opts Options) *Recipe {
	if opts.Count < 1 {
		opts.Count = DefaultCount
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	return &Recipe{exec: exec, locator: locator, opts: opts}
}

func (r *Recipe) poll(ctx context.Context, command string, cond executor.Condition) error {
	_, err := executor.PollUntil(ctx, r.exec, command, cond, r.opts.Count, r.opts.Delay)
	return err
}

// WaitForBootCompletion waits until the image user is listed by `net user`.
func (r *Recipe) WaitForBootCompletion(ctx context.Context) error {
	lg.FromContext(ctx).Info("waiting for boot completion", lg.String("user", r.opts.Username))

	booted := regexp.MustCompile(`^User name\s*` + regexp.QuoteMeta(r.opts.Username))
	cmd := fmt.Sprintf(`net user "%s"`, r.opts.Username)
	if err := r.poll(ctx, cmd, booted.MatchString); err != nil {
		return fmt.Errorf("boot completion: %w", err)
	}
	return nil
}

// WaitCbinitFinalization waits until every path in markers exists and the
// cloudbase-init service has stopped.
func (r *Recipe) WaitCbinitFinalization(ctx context.Context, markers []string) error {
	logger := lg.FromContext(ctx)
	logger.Info("waiting for cloudbase-init finalization", lg.Strings("markers", markers))

	isTrue := func(out string) bool { return strings.TrimSpace(out) == "True" }
	for _, marker := range markers {
		cmd := fmt.Sprintf(`powershell "Test-Path %s 1> C:\output.txt 2>&1" >null && type C:\output.txt`,
			parser.EscapePath(marker))
		if err := r.poll(ctx, cmd, isTrue); err != nil {
			return fmt.Errorf("marker %s: %w", marker, err)
		}
		logger.Debug("marker present", lg.String("path", marker))
	}

	status := "powershell \"(Get-Service `\"| where -Property Name -match cloudbase-init`\").Status " +
		`1> C:\output.txt 2>&1" >null && type C:\output.txt`
	stopped := func(out string) bool { return strings.TrimSpace(out) == "Stopped" }
	if err := r.poll(ctx, status, stopped); err != nil {
		return fmt.Errorf("cloudbase-init service: %w", err)
	}
	return nil
}

// WaitImageFinalization waits for an image with cloudbase-init already
// installed, using the service logs as markers.
func (r *Recipe) WaitImageFinalization(ctx context.Context) error {
	cbdir, err := r.locator.CbinitDir(ctx)
	if err != nil {
		return err
	}
	markers := []string{
		cbdir + `\log\cloudbase-init-unattend.log`,
		cbdir + `\log\cloudbase-init.log`,
	}
	return r.WaitCbinitFinalization(ctx, markers)
}
