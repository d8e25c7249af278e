package recipe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andrej220/guestcheck/internal/executor"
	"github.com/andrej220/guestcheck/internal/executor/executortest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLocator struct {
	dir string
	err error
}

func (s staticLocator) CbinitDir(context.Context) (string, error) { return s.dir, s.err }

func newRecipe(f *executortest.Fake, loc CbinitLocator) *Recipe {
	return New(f, loc, Options{Username: "Admin", Count: 3, Delay: time.Millisecond})
}

func TestNewAppliesDefaults(t *testing.T) {
	r := New(executortest.NewFake(), nil, Options{})
	assert.Equal(t, DefaultCount, r.opts.Count)
	assert.Equal(t, DefaultDelay, r.opts.Delay)
}

func TestWaitForBootCompletion(t *testing.T) {
	f := executortest.NewFake().OnSequence(`net user "Admin"`,
		"The user name could not be found.",
		"User name                    Admin\r\nFull Name\r\n")

	err := newRecipe(f, nil).WaitForBootCompletion(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, f.Calls("net user"))
}

func TestWaitForBootCompletionAnchorsAtStart(t *testing.T) {
	f := executortest.NewFake().On("net user", "Error: User name Admin is locked")

	err := newRecipe(f, nil).WaitForBootCompletion(context.Background())

	assert.ErrorIs(t, err, executor.ErrPollTimeout)
	assert.Equal(t, 3, f.Calls("net user"))
}

func TestWaitCbinitFinalization(t *testing.T) {
	f := executortest.NewFake().
		OnSequence(`Test-Path C:\cloudbaseinit_unattended`, "False", "True\r\n").
		On(`Test-Path C:\cloudbaseinit_normal`, "True\r\n").
		OnSequence("Get-Service", "Running", "Running", "Stopped\r\n")

	err := newRecipe(f, nil).WaitCbinitFinalization(context.Background(), DefaultMarkers)

	require.NoError(t, err)
	assert.Equal(t, 2, f.Calls("cloudbaseinit_unattended"))
	assert.Equal(t, 1, f.Calls("cloudbaseinit_normal"))
	assert.Equal(t, 3, f.Calls("Get-Service"))
}

func TestWaitCbinitFinalizationServiceNeverStops(t *testing.T) {
	f := executortest.NewFake().
		On("Test-Path", "True").
		On("Get-Service", "Running")

	err := newRecipe(f, nil).WaitCbinitFinalization(context.Background(), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, executor.ErrPollTimeout)
	assert.Equal(t, 0, f.Calls("Test-Path"))
}

func TestWaitImageFinalization(t *testing.T) {
	dir := `C:\Program Files\Cloudbase Solutions\Cloudbase-Init`
	f := executortest.NewFake().
		On("Test-Path", "True").
		On("Get-Service", "Stopped")

	err := newRecipe(f, staticLocator{dir: dir}).WaitImageFinalization(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, f.Calls("Program` Files\\Cloudbase` Solutions\\Cloudbase-Init\\log\\cloudbase-init.log"))
	assert.Equal(t, 1, f.Calls("cloudbase-init-unattend.log"))
}

func TestWaitImageFinalizationWithoutInstall(t *testing.T) {
	missing := errors.New("not installed")
	err := newRecipe(executortest.NewFake(), staticLocator{err: missing}).WaitImageFinalization(context.Background())
	assert.ErrorIs(t, err, missing)
}
