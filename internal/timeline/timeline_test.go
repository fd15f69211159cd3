package timeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/narvanalabs/benchctl/internal/clock"
	"github.com/narvanalabs/benchctl/internal/models"
	"github.com/narvanalabs/benchctl/internal/remote"
	"github.com/narvanalabs/benchctl/internal/remote/remotetest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func f(v float64) *float64 {
	return &v
}

func binding(name string, kind models.TestKind, start float64, end *float64) models.Binding {
	return models.Binding{
		VM:   &models.VM{Name: name, VCPUs: 1},
		Test: &models.Test{Kind: kind, Name: "bench-" + name, Start: start, End: end},
	}
}

type fakeLauncher struct {
	handles map[string]*remotetest.Handle
	order   []string
	// delay advances the clock on every start to simulate slow remote calls.
	delay time.Duration
	clock *clock.Fake
	err   error
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{handles: make(map[string]*remotetest.Handle)}
}

func (l *fakeLauncher) StartTest(ctx context.Context, vm *models.VM, test *models.Test) (remote.Handle, error) {
	if l.err != nil {
		return nil, l.err
	}
	if l.delay > 0 {
		l.clock.Advance(l.delay)
	}
	h := remotetest.NewHandle(vm.Name)
	h.Output = "out-" + vm.Name
	l.handles[vm.Name] = h
	l.order = append(l.order, vm.Name)
	return h, nil
}

func TestBuild(t *testing.T) {
	tl := Build([]models.Binding{
		binding("a", models.TestKindPhoronix, 10, f(20)),
		binding("b", models.TestKindCustom, 0, f(10)),
		binding("c", models.TestKindCustom, 10, nil),
	})

	if got, want := tl.Instants(), []float64{0, 10, 20}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Instants() = %v, want %v", got, want)
	}
	if tl.Len() != 5 {
		t.Errorf("Len() = %d, want 5", tl.Len())
	}

	var got []string
	for _, ev := range tl.Events(10) {
		got = append(got, ev.Kind.String()+":"+ev.Binding.VM.Name)
	}
	want := []string{"stop:b", "start:a", "start:c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Events(10) = %v, want %v", got, want)
	}
	if tl.Events(5) != nil {
		t.Error("Events(5) should be empty")
	}
}

func TestStateAt(t *testing.T) {
	test := &models.Test{Start: 5, End: f(15)}
	tests := []struct {
		instant float64
		want    State
	}{
		{0, StateNotStarted},
		{5, StateRunning},
		{10, StateRunning},
		{14.9, StateRunning},
		{15, StateStopped},
		{20, StateStopped},
	}
	for _, tt := range tests {
		if got := StateAt(test, tt.instant); got != tt.want {
			t.Errorf("StateAt(%v) = %v, want %v", tt.instant, got, tt.want)
		}
	}

	open := &models.Test{Start: 5}
	if got := StateAt(open, 1000); got != StateRunning {
		t.Errorf("StateAt(open, 1000) = %v, want running", got)
	}
}

func TestEngineRun(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	launcher := newFakeLauncher()
	seen := make(map[float64]map[string]State)

	engine := NewEngine(launcher,
		WithClock(fc),
		WithLogger(quietLogger()),
		WithInstantHook(func(instant float64, states map[string]State) {
			seen[instant] = states
		}),
	)

	tl := Build([]models.Binding{
		binding("t0", models.TestKindPhoronix, 5, f(15)),
		binding("u0", models.TestKindCustom, 10, nil),
	})
	report, err := engine.Run(context.Background(), tl)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for instant, want := range map[float64]State{5: StateRunning, 10: StateRunning, 15: StateStopped} {
		if got := seen[instant]["t0"]; got != want {
			t.Errorf("t0 at %v = %v, want %v", instant, got, want)
		}
	}
	if got := seen[5]["u0"]; got != StateNotStarted {
		t.Errorf("u0 at 5 = %v, want not_started", got)
	}

	if !launcher.handles["t0"].Killed() {
		t.Error("t0 should have been killed at its end instant")
	}
	if launcher.handles["u0"].Killed() {
		t.Error("u0 should have completed without a kill")
	}
	if report.States["t0"] != StateStopped || report.States["u0"] != StateCompleted {
		t.Errorf("final states = %v", report.States)
	}
	wantOut := map[string]string{"t0": "out-t0", "u0": "out-u0"}
	if !reflect.DeepEqual(report.Outputs, wantOut) {
		t.Errorf("Outputs = %v, want %v", report.Outputs, wantOut)
	}

	wantSleeps := []time.Duration{DefaultSettleDelay, 5 * time.Second, 5 * time.Second, DefaultSettleDelay}
	if got := fc.Sleeps(); !reflect.DeepEqual(got, wantSleeps) {
		t.Errorf("sleeps = %v, want %v", got, wantSleeps)
	}
}

func TestEngineStartHook(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	calls := 0
	engine := NewEngine(newFakeLauncher(),
		WithClock(fc),
		WithLogger(quietLogger()),
		WithSettleDelay(0),
		WithStartHook(func(ctx context.Context) error {
			calls++
			return nil
		}),
	)
	if _, err := engine.Run(context.Background(), Build([]models.Binding{binding("a", models.TestKindCustom, 0, nil)})); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("start hook called %d times, want 1", calls)
	}
	if len(fc.Sleeps()) != 0 {
		t.Errorf("sleeps = %v, want none", fc.Sleeps())
	}

	failing := NewEngine(newFakeLauncher(),
		WithClock(fc),
		WithLogger(quietLogger()),
		WithStartHook(func(ctx context.Context) error { return errors.New("monitor down") }),
	)
	if _, err := failing.Run(context.Background(), Build(nil)); err == nil {
		t.Error("Run() should fail when the start hook fails")
	}
}

func TestEngineSkipsUnknownType(t *testing.T) {
	launcher := newFakeLauncher()
	engine := NewEngine(launcher, WithClock(clock.NewFake(time.Unix(0, 0))), WithLogger(quietLogger()))

	report, err := engine.Run(context.Background(), Build([]models.Binding{
		binding("a", "spec-cpu", 0, f(10)),
		binding("b", models.TestKindCustom, 0, f(10)),
	}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !reflect.DeepEqual(report.Skipped, []string{"a"}) {
		t.Errorf("Skipped = %v, want [a]", report.Skipped)
	}
	if report.States["a"] != StateNotStarted {
		t.Errorf("a state = %v, want not_started", report.States["a"])
	}
	if !reflect.DeepEqual(launcher.order, []string{"b"}) {
		t.Errorf("started = %v, want [b]", launcher.order)
	}
}

func TestEngineCorrectsDrift(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	launcher := newFakeLauncher()
	launcher.clock = fc
	launcher.delay = 3 * time.Second

	engine := NewEngine(launcher, WithClock(fc), WithLogger(quietLogger()), WithSettleDelay(0))
	_, err := engine.Run(context.Background(), Build([]models.Binding{
		binding("a", models.TestKindCustom, 0, nil),
		binding("b", models.TestKindCustom, 10, nil),
		binding("c", models.TestKindCustom, 20, nil),
	}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []time.Duration{7 * time.Second, 7 * time.Second}
	if got := fc.Sleeps(); !reflect.DeepEqual(got, want) {
		t.Errorf("sleeps = %v, want %v", got, want)
	}
}

func TestEngineCancelKillsRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fc := clock.NewFake(time.Unix(0, 0))
	fc.OnSleep = func(d time.Duration) {
		if d == 10*time.Second {
			cancel()
		}
	}
	launcher := newFakeLauncher()
	engine := NewEngine(launcher, WithClock(fc), WithLogger(quietLogger()), WithSettleDelay(0))

	report, err := engine.Run(ctx, Build([]models.Binding{
		binding("a", models.TestKindCustom, 0, f(100)),
		binding("b", models.TestKindCustom, 10, nil),
	}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	for _, name := range []string{"a", "b"} {
		if !launcher.handles[name].Killed() {
			t.Errorf("%s should have been killed", name)
		}
		if report.States[name] != StateStopped {
			t.Errorf("%s state = %v, want stopped", name, report.States[name])
		}
	}
}

func TestEngineLaunchError(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.err = remote.ErrNoHosts
	engine := NewEngine(launcher, WithClock(clock.NewFake(time.Unix(0, 0))), WithLogger(quietLogger()))

	_, err := engine.Run(context.Background(), Build([]models.Binding{binding("a", models.TestKindCustom, 0, nil)}))
	if !errors.Is(err, remote.ErrNoHosts) {
		t.Errorf("Run() error = %v, want ErrNoHosts", err)
	}

	if _, err := NewEngine(nil).Run(context.Background(), Build(nil)); !errors.Is(err, ErrNoLauncher) {
		t.Errorf("Run() without launcher error = %v, want ErrNoLauncher", err)
	}
}
