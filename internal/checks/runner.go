package checks

import (
	"context"
	"errors"
	"time"

	"github.com/andrej220/guestcheck/internal/lg"
	"github.com/google/uuid"
)

type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

type Result struct {
	Name     string        `json:"name" bson:"name"`
	Status   Status        `json:"status" bson:"status"`
	Duration time.Duration `json:"duration" bson:"duration"`
	Error    string        `json:"error,omitempty" bson:"error,omitempty"`
}

// Report is the outcome of one run of checks against one target.
type Report struct {
	RunID      uuid.UUID `json:"runId" bson:"runId"`
	Target     string    `json:"target" bson:"target"`
	StartedAt  time.Time `json:"startedAt" bson:"startedAt"`
	FinishedAt time.Time `json:"finishedAt" bson:"finishedAt"`
	// Error is set when the target could not be checked at all.
	Error   string   `json:"error,omitempty" bson:"error,omitempty"`
	Results []Result `json:"results" bson:"results"`
}

// Failed reports whether the run errored or any check failed.
func (r *Report) Failed() bool {
	if r.Error != "" {
		return true
	}
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Count returns how many results have status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

type Runner struct {
	checks []Check
	now    func() time.Time
}

func NewRunner(checks []Check) *Runner {
	return &Runner{checks: checks, now: time.Now}
}

// Run executes the checks one after the other against env. A failing check
// does not stop the run. Cancelling ctx marks the remaining checks failed.
func (r *Runner) Run(ctx context.Context, runID uuid.UUID, target string, env *Env) Report {
	logger := lg.FromContext(ctx).With(lg.String("target", target), lg.String("runId", runID.String()))
	report := Report{
		RunID:     runID,
		Target:    target,
		StartedAt: r.now(),
		Results:   make([]Result, 0, len(r.checks)),
	}

	for _, check := range r.checks {
		start := r.now()
		var err error
		if err = ctx.Err(); err == nil {
			err = check.Run(ctx, env)
		}
		res := Result{Name: check.Name, Duration: r.now().Sub(start)}

		switch {
		case err == nil:
			res.Status = StatusPassed
			logger.Info("check passed", lg.String("check", check.Name), lg.Duration("duration", res.Duration))
		case errors.Is(err, ErrSkipped):
			res.Status = StatusSkipped
			res.Error = err.Error()
			logger.Info("check skipped", lg.String("check", check.Name), lg.Err(err))
		default:
			res.Status = StatusFailed
			res.Error = err.Error()
			logger.Warn("check failed", lg.String("check", check.Name), lg.Err(err))
		}
		report.Results = append(report.Results, res)
	}

	report.FinishedAt = r.now()
	logger.Info("checks finished",
		lg.Int("passed", report.Count(StatusPassed)),
		lg.Int("failed", report.Count(StatusFailed)),
		lg.Int("skipped", report.Count(StatusSkipped)))
	return report
}
