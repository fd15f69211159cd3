package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/narvanalabs/benchctl/internal/clock"
	"github.com/narvanalabs/benchctl/internal/models"
	"github.com/narvanalabs/benchctl/internal/remote"
)

// DefaultSettleDelay is the pause before and after a run that lets monitors stabilize.
const DefaultSettleDelay = 30 * time.Second

// Launcher starts the benchmark bound to a VM without waiting for it.
type Launcher interface {
	StartTest(ctx context.Context, vm *models.VM, test *models.Test) (remote.Handle, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, vm *models.VM, test *models.Test) (remote.Handle, error)

// StartTest calls f.
func (f LauncherFunc) StartTest(ctx context.Context, vm *models.VM, test *models.Test) (remote.Handle, error) {
	return f(ctx, vm, test)
}

// Report is the outcome of a run.
type Report struct {
	// Outputs maps VM name to the stdout captured when its test stopped or completed.
	Outputs map[string]string
	// States maps VM name to the final state of its test.
	States map[string]State
	// Skipped lists VMs whose test kind could not be started.
	Skipped []string
}

// Engine executes a timeline.
type Engine struct {
	launcher  Launcher
	clock     clock.Clock
	logger    *slog.Logger
	settle    time.Duration
	onStart   func(ctx context.Context) error
	onInstant func(instant float64, states map[string]State)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for every sleep.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithSettleDelay overrides DefaultSettleDelay. Zero disables the pauses.
func WithSettleDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.settle = d
	}
}

// WithStartHook runs fn once, after the first settle delay and before the first
// instant. Campaigns use it to reset monitor counters.
func WithStartHook(fn func(ctx context.Context) error) Option {
	return func(e *Engine) {
		e.onStart = fn
	}
}

// WithInstantHook runs fn after the events of each instant have been processed.
// The states map is a copy.
func WithInstantHook(fn func(instant float64, states map[string]State)) Option {
	return func(e *Engine) {
		e.onInstant = fn
	}
}

// NewEngine creates an engine that starts tests through launcher.
func NewEngine(launcher Launcher, opts ...Option) *Engine {
	e := &Engine{
		launcher: launcher,
		clock:    clock.Real{},
		logger:   slog.Default(),
		settle:   DefaultSettleDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.clock == nil {
		e.clock = clock.Real{}
	}
	return e
}

type running struct {
	binding models.Binding
	handle  remote.Handle
}

type run struct {
	*Engine
	running map[string]*running
	report  *Report
}

// Run executes the timeline. Instants are processed strictly in ascending order
// and the engine sleeps until each one is due, measured from the first instant.
// Tests still running after the last instant are waited on to completion.
// When ctx is cancelled every running test is killed and ctx.Err() is returned.
func (e *Engine) Run(ctx context.Context, tl *Timeline) (*Report, error) {
	if e.launcher == nil {
		return nil, ErrNoLauncher
	}

	r := &run{
		Engine:  e,
		running: make(map[string]*running),
		report: &Report{
			Outputs: make(map[string]string),
			States:  make(map[string]State),
		},
	}
	for _, b := range tl.Bindings() {
		r.report.States[b.VM.Name] = StateNotStarted
	}

	if err := r.execute(ctx, tl); err != nil {
		r.killAll()
		return r.report, err
	}
	return r.report, nil
}

func (r *run) execute(ctx context.Context, tl *Timeline) error {
	if err := r.pause(ctx); err != nil {
		return err
	}
	r.logger.Info("starting benchmark", "instants", len(tl.Instants()), "events", tl.Len())
	if r.onStart != nil {
		if err := r.onStart(ctx); err != nil {
			return fmt.Errorf("start hook: %w", err)
		}
	}

	instants := tl.Instants()
	origin := r.clock.Now()
	for i, instant := range instants {
		if i > 0 {
			due := origin.Add(seconds(instant - instants[0]))
			if wait := due.Sub(r.clock.Now()); wait > 0 {
				r.logger.Debug("sleeping", "duration", wait.String())
				if err := r.clock.Sleep(ctx, wait); err != nil {
					return err
				}
			}
		}

		r.logger.Info("running instant", "instant", instant)
		for _, ev := range tl.Events(instant) {
			if err := r.fire(ctx, ev); err != nil {
				return err
			}
		}
		if r.onInstant != nil {
			r.onInstant(instant, r.snapshot())
		}
	}

	if err := r.drain(ctx); err != nil {
		return err
	}
	if err := r.pause(ctx); err != nil {
		return err
	}
	r.logger.Info("benchmark finished", "outputs", len(r.report.Outputs))
	return nil
}

func (r *run) pause(ctx context.Context) error {
	if r.settle <= 0 {
		return nil
	}
	return r.clock.Sleep(ctx, r.settle)
}

func (r *run) fire(ctx context.Context, ev Event) error {
	name := ev.Binding.VM.Name
	switch ev.Kind {
	case EventStart:
		if !ev.Binding.Test.Kind.Known() {
			r.logger.Warn("skipping test", "vm", name, "type", string(ev.Binding.Test.Kind), "error", ErrUnknownTestType)
			r.report.Skipped = append(r.report.Skipped, name)
			return nil
		}
		if _, ok := r.running[name]; ok {
			return fmt.Errorf("vm %s: test already running", name)
		}
		h, err := r.launcher.StartTest(ctx, ev.Binding.VM, ev.Binding.Test)
		if err != nil {
			return fmt.Errorf("starting test on %s: %w", name, err)
		}
		r.running[name] = &running{binding: ev.Binding, handle: h}
		r.report.States[name] = StateRunning
		r.logger.Info("test started", "vm", name, "test", ev.Binding.Test.Name)

	case EventStop:
		rec, ok := r.running[name]
		if !ok {
			return nil
		}
		if err := rec.handle.Kill(); err != nil {
			r.logger.Warn("killing test failed", "vm", name, "error", err)
		}
		r.report.Outputs[name] = rec.handle.Stdout()
		r.report.States[name] = StateStopped
		delete(r.running, name)
		r.logger.Info("test stopped", "vm", name, "test", rec.binding.Test.Name)
	}
	return nil
}

// drain waits for tests without an end instant, in name order.
func (r *run) drain(ctx context.Context) error {
	for _, name := range r.runningNames() {
		rec := r.running[name]
		status := rec.handle.Wait(ctx, 0)
		if err := ctx.Err(); err != nil {
			return err
		}
		if !status.FinishedOK {
			r.logger.Warn("test did not finish cleanly", "vm", name, "test", rec.binding.Test.Name)
		}
		r.report.Outputs[name] = rec.handle.Stdout()
		r.report.States[name] = StateCompleted
		delete(r.running, name)
	}
	return nil
}

func (r *run) killAll() {
	for _, name := range r.runningNames() {
		rec := r.running[name]
		if err := rec.handle.Kill(); err != nil {
			r.logger.Warn("killing test failed", "vm", name, "error", err)
		}
		r.report.Outputs[name] = rec.handle.Stdout()
		r.report.States[name] = StateStopped
		delete(r.running, name)
	}
}

func (r *run) runningNames() []string {
	names := make([]string, 0, len(r.running))
	for name := range r.running {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *run) snapshot() map[string]State {
	out := make(map[string]State, len(r.report.States))
	for k, v := range r.report.States {
		out[k] = v
	}
	return out
}
