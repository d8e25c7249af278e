package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andrej220/guestcheck/internal/lg"
	"github.com/cenkalti/backoff/v4"
)

var (
	ErrPollTimeout = errors.New("condition not met before attempts ran out")

	errConditionUnmet = errors.New("condition unmet")
)

// Condition reports whether the captured stdout of a command is the one the
// caller is waiting for.
type Condition func(stdout string) bool

// PollTimeoutError is returned by PollUntil when the attempt budget ran out.
// LastErr holds the transport error of the final attempt, if any.
type PollTimeoutError struct {
	Command    string
	Attempts   int
	LastOutput string
	LastErr    error
}

func (e *PollTimeoutError) Error() string {
	msg := fmt.Sprintf("%v: %q after %d attempts, last output %q", ErrPollTimeout, e.Command, e.Attempts, e.LastOutput)
	if e.LastErr != nil {
		msg += fmt.Sprintf(", last error: %v", e.LastErr)
	}
	return msg
}

func (e *PollTimeoutError) Unwrap() error { return e.LastErr }

func (e *PollTimeoutError) Is(target error) bool { return target == ErrPollTimeout }

// PollUntil runs command up to count times, waiting delay between attempts,
// until cond accepts its stdout. It returns the accepted stdout.
//
// A failed execution counts as an unsuccessful attempt. The wait between
// attempts cannot be interrupted: ctx is only handed to the executor, so the
// call blocks for at most count*delay plus execution time.
func PollUntil(ctx context.Context, exec Executor, command string, cond Condition, count int, delay time.Duration) (string, error) {
	if count < 1 {
		count = 1
	}
	logger := lg.FromContext(ctx).With(lg.String("command", command))

	var (
		attempts   int
		lastOutput string
		lastErr    error
	)
	operation := func() error {
		attempts++
		lastOutput, lastErr = exec.Execute(ctx, command)
		if lastErr != nil {
			return lastErr
		}
		if !cond(lastOutput) {
			return errConditionUnmet
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		logger.Debug("poll attempt unsuccessful",
			lg.Int("attempt", attempts),
			lg.Int("count", count),
			lg.Duration("retry_in", next),
			lg.Err(err))
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(count-1))
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return lastOutput, &PollTimeoutError{
			Command:    command,
			Attempts:   attempts,
			LastOutput: lastOutput,
			LastErr:    lastErr,
		}
	}
	logger.Debug("poll condition met", lg.Int("attempt", attempts))
	return lastOutput, nil
}

// Retry runs command until it executes without error, at most count times.
func Retry(ctx context.Context, exec Executor, command string, count int, delay time.Duration) (string, error) {
	return PollUntil(ctx, exec, command, func(string) bool { return true }, count, delay)
}
