// Package remotetest provides in-memory remote execution fakes for tests.
package remotetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/narvanalabs/benchctl/internal/remote"
)

// Handle is a scripted remote.Handle. Each Start begins a new attempt; Outcomes[i]
// decides how attempt i+1 behaves and the last outcome repeats.
type Handle struct {
	Name     string
	Hosts    []remote.Host
	Outcomes []Outcome
	Output   string

	mu      sync.Mutex
	attempt int
	polls   int
	started bool
	killed  bool
	resets  int
}

// Outcome scripts one attempt.
type Outcome struct {
	// Fail makes the attempt report a failed status.
	Fail bool
	// Polls is how many timed waits report "still running" before the attempt resolves.
	Polls int
}

// Succeed returns an outcome that finishes successfully after polls waits.
func Succeed(polls int) Outcome {
	return Outcome{Polls: polls}
}

// Fail returns an outcome that fails after polls waits.
func Fail(polls int) Outcome {
	return Outcome{Fail: true, Polls: polls}
}

// NewHandle creates a handle that is considered started on creation.
func NewHandle(name string, outcomes ...Outcome) *Handle {
	if len(outcomes) == 0 {
		outcomes = []Outcome{Succeed(0)}
	}
	return &Handle{Name: name, Outcomes: outcomes, attempt: 1, started: true}
}

func (h *Handle) outcome() Outcome {
	idx := h.attempt - 1
	if idx >= len(h.Outcomes) {
		idx = len(h.Outcomes) - 1
	}
	return h.Outcomes[idx]
}

// Start begins the next attempt.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return nil
	}
	h.started = true
	h.attempt++
	h.polls = 0
	return nil
}

// Wait resolves the current attempt according to its outcome.
func (h *Handle) Wait(ctx context.Context, timeout time.Duration) remote.Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started || h.killed {
		return remote.Status{OK: !h.killed && h.started}
	}

	o := h.outcome()
	if timeout > 0 && h.polls < o.Polls {
		h.polls++
		return remote.Status{OK: true}
	}
	if o.Fail {
		return remote.Status{OK: false}
	}
	return remote.Status{OK: true, FinishedOK: true}
}

// Reset discards the current attempt.
func (h *Handle) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = false
	h.resets++
}

// Kill marks the handle killed.
func (h *Handle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killed = true
	return nil
}

// Stdout returns the scripted output.
func (h *Handle) Stdout() string {
	return h.Output
}

func (h *Handle) String() string {
	return h.Name
}

// Attempts returns how many times the command was started.
func (h *Handle) Attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempt
}

// Resets returns how many times Reset was called.
func (h *Handle) Resets() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resets
}

// Killed reports whether Kill was called.
func (h *Handle) Killed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

// Call records one executor invocation.
type Call struct {
	Op      string
	Hosts   []remote.Host
	Command string
	Files   []string
	Dest    string
}

// Executor records every call and hands out scripted handles. Like the SSH
// executor it refuses to contact hosts once ctx is done; refused calls are not
// recorded.
type Executor struct {
	mu      sync.Mutex
	calls   []Call
	handles []*Handle

	// Script returns the outcomes for a launched command. Nil means succeed at once.
	Script func(command string) []Outcome
	// OutputFor returns the stdout of a launched command.
	OutputFor func(command string) string
	// Files maps host address to remote path to content served by Download.
	Files map[string]map[string]string
	// WriteFile stores downloaded content locally. It is required for Download.
	WriteFile func(path string, data []byte) error
}

// NewExecutor creates an empty fake executor.
func NewExecutor() *Executor {
	return &Executor{Files: make(map[string]map[string]string)}
}

func (e *Executor) record(c Call) {
	e.mu.Lock()
	e.calls = append(e.calls, c)
	e.mu.Unlock()
}

// Launch returns a scripted handle for command.
func (e *Executor) Launch(ctx context.Context, hosts []remote.Host, command string) (remote.Handle, error) {
	if len(hosts) == 0 {
		return nil, remote.ErrNoHosts
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.record(Call{Op: "launch", Hosts: hosts, Command: command})

	var outcomes []Outcome
	if e.Script != nil {
		outcomes = e.Script(command)
	}
	h := NewHandle(command, outcomes...)
	h.Hosts = hosts
	if e.OutputFor != nil {
		h.Output = e.OutputFor(command)
	}

	e.mu.Lock()
	e.handles = append(e.handles, h)
	e.mu.Unlock()
	return h, nil
}

// Run launches command and waits for it.
func (e *Executor) Run(ctx context.Context, hosts []remote.Host, command string) error {
	h, err := e.Launch(ctx, hosts, command)
	if err != nil {
		return err
	}
	if !h.Wait(ctx, 0).FinishedOK {
		return fmt.Errorf("%s: %w", command, remote.ErrCommandFailed)
	}
	return nil
}

// Upload records the upload.
func (e *Executor) Upload(ctx context.Context, hosts []remote.Host, files []string, destDir string) error {
	if len(hosts) == 0 {
		return remote.ErrNoHosts
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.record(Call{Op: "upload", Hosts: hosts, Files: files, Dest: destDir})
	return nil
}

// Download serves content from Files.
func (e *Executor) Download(ctx context.Context, hosts []remote.Host, files []string, destDir string) (map[string][]string, error) {
	if len(hosts) == 0 {
		return nil, remote.ErrNoHosts
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.record(Call{Op: "download", Hosts: hosts, Files: files, Dest: destDir})

	out := make(map[string][]string)
	for _, h := range hosts {
		for _, f := range files {
			content, ok := e.Files[h.Address][f]
			if !ok {
				return nil, fmt.Errorf("%s:%s: no such file", h.Address, f)
			}
			local := destDir + "/" + h.Address + "/" + f[strings.LastIndex(f, "/")+1:]
			if e.WriteFile == nil {
				return nil, fmt.Errorf("remotetest: WriteFile not set")
			}
			if err := e.WriteFile(local, []byte(content)); err != nil {
				return nil, err
			}
			out[h.Address] = append(out[h.Address], local)
		}
	}
	return out, nil
}

// Calls returns the recorded calls.
func (e *Executor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

// Commands returns the commands passed to Launch and Run, in order.
func (e *Executor) Commands() []string {
	var out []string
	for _, c := range e.Calls() {
		if c.Op == "launch" {
			out = append(out, c.Command)
		}
	}
	return out
}

// Handles returns every handle handed out.
func (e *Executor) Handles() []*Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Handle, len(e.handles))
	copy(out, e.handles)
	return out
}

// HandleFor returns the last handle launched with a command containing substr.
func (e *Executor) HandleFor(substr string) *Handle {
	handles := e.Handles()
	for i := len(handles) - 1; i >= 0; i-- {
		if strings.Contains(handles[i].Name, substr) {
			return handles[i]
		}
	}
	return nil
}
