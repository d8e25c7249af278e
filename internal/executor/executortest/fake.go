// Package executortest provides a scripted guest for tests of code built on
// executor.Session.
package executortest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/andrej220/guestcheck/internal/executor"
)

var _ executor.Session = (*Fake)(nil)

// Response is what the fake guest answers to a matched command. When
// Sequence is set, successive calls consume it and the last element repeats.
type Response struct {
	Output   string
	Err      error
	Sequence []string
}

type rule struct {
	substr string
	resp   Response
	calls  int
}

// Fake answers commands by substring match, first registered rule wins.
// Unmatched commands fail with a RemoteExecutionError.
type Fake struct {
	mu       sync.Mutex
	rules    []*rule
	Commands []string
	Copied   map[string]string
	Closed   bool
}

func NewFake() *Fake {
	return &Fake{Copied: make(map[string]string)}
}

// On registers the answer for every command containing substr.
func (f *Fake) On(substr, output string) *Fake {
	return f.OnResponse(substr, Response{Output: output})
}

// OnSequence registers successive answers for commands containing substr.
func (f *Fake) OnSequence(substr string, outputs ...string) *Fake {
	return f.OnResponse(substr, Response{Sequence: outputs})
}

func (f *Fake) OnResponse(substr string, resp Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{substr: substr, resp: resp})
	return f
}

func (f *Fake) Execute(_ context.Context, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Commands = append(f.Commands, command)
	for _, r := range f.rules {
		if !strings.Contains(command, r.substr) {
			continue
		}
		r.calls++
		if n := len(r.resp.Sequence); n > 0 {
			return r.resp.Sequence[min(r.calls, n)-1], r.resp.Err
		}
		return r.resp.Output, r.resp.Err
	}
	return "", &executor.RemoteExecutionError{Command: command, Err: fmt.Errorf("no scripted response")}
}

// CopyFile records the content of localPath under remotePath.
func (f *Fake) CopyFile(_ context.Context, localPath, remotePath string) error {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Copied[remotePath] = string(content)
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Calls returns how many executed commands contained substr.
func (f *Fake) Calls(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Commands {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}
