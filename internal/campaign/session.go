// Package campaign drives one benchmark scenario across the node pool: monitor
// start, VM placement and provisioning, test installation, timed execution and
// result collection.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/narvanalabs/benchctl/internal/clock"
	"github.com/narvanalabs/benchctl/internal/models"
	"github.com/narvanalabs/benchctl/internal/placement"
	"github.com/narvanalabs/benchctl/internal/registry"
	"github.com/narvanalabs/benchctl/internal/remote"
	"github.com/narvanalabs/benchctl/internal/scenario"
	"github.com/narvanalabs/benchctl/internal/store"
	"github.com/narvanalabs/benchctl/internal/supervisor"
	"github.com/narvanalabs/benchctl/internal/timeline"
)

// DefaultTeardownTimeout bounds the teardown Store runs after collecting logs.
const DefaultTeardownTimeout = 2 * time.Minute

// Config holds the session settings.
type Config struct {
	Nodes    []string
	Capacity int
	NodeUser string
	PortBase int
	Strategy placement.Strategy

	VMUser        string
	PublicKeyFile string

	AssetsDir string
	WorkDir   string

	MonitorDelay    time.Duration
	SettleDelay     time.Duration
	TeardownTimeout time.Duration
}

// Session runs one scenario. It owns its node pool and registry; sessions never
// share state.
type Session struct {
	id       string
	scenario *scenario.Scenario
	cfg      Config
	exec     remote.Executor
	results  store.ResultStore
	sup      *supervisor.Supervisor
	clock    clock.Clock
	logger   *slog.Logger

	registry  *registry.Registry
	scheduler *placement.Scheduler
	nodeHosts []remote.Host
	vmHosts   map[string]remote.Host

	monitor     remote.Handle
	outcome     *placement.Outcome
	provisioned []string
	skipped     []string
	report      *timeline.Report
	configured  bool
	ready       bool

	mu            sync.Mutex
	killed        map[string]bool
	monitorKilled bool
}

// Option configures a Session.
type Option func(*Session)

// WithSupervisor sets the supervisor used for installation phases.
func WithSupervisor(sup *supervisor.Supervisor) Option {
	return func(s *Session) {
		s.sup = sup
	}
}

// WithClock sets the clock used for every delay.
func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// NewSession prepares a session for sc. Every VM of the scenario is registered
// but nothing is contacted until Configure.
func NewSession(sc *scenario.Scenario, cfg Config, exec remote.Executor, results store.ResultStore, opts ...Option) (*Session, error) {
	if len(cfg.Nodes) == 0 {
		return nil, ErrNoNodes
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = DefaultTeardownTimeout
	}

	s := &Session{
		id:       uuid.New().String(),
		scenario: sc,
		cfg:      cfg,
		exec:     exec,
		results:  results,
		clock:    clock.Real{},
		logger:   slog.Default(),
		vmHosts:  make(map[string]remote.Host),
		killed:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.sup == nil {
		s.sup = supervisor.New(supervisor.WithClock(s.clock), supervisor.WithLogger(s.logger))
	}
	s.logger = s.logger.With("session_id", s.id, "scenario_hash", sc.Hash())

	nodes := make([]*models.Node, 0, len(cfg.Nodes))
	for _, addr := range cfg.Nodes {
		nodes = append(nodes, models.NewNode(addr, cfg.Capacity))
		s.nodeHosts = append(s.nodeHosts, remote.Host{Address: addr, User: cfg.NodeUser})
	}
	s.registry = registry.New(nodes, cfg.PortBase)
	for _, b := range sc.Bindings {
		if err := s.registry.Register(b.VM, b.Test); err != nil {
			return nil, err
		}
	}
	s.scheduler = placement.NewScheduler(cfg.Strategy, s.registry, s.logger)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Registry exposes the session's VM registry.
func (s *Session) Registry() *registry.Registry {
	return s.registry
}

// Configure starts the monitors, places and provisions every VM, connects them
// through NAT and installs their tests.
func (s *Session) Configure(ctx context.Context) error {
	if s.configured {
		return ErrAlreadyConfigured
	}
	s.configured = true

	if err := s.startMonitor(ctx); err != nil {
		return err
	}

	outcome, err := s.scheduler.ScheduleAll()
	if err != nil {
		return fmt.Errorf("placing vms: %w", err)
	}
	s.outcome = outcome

	if err := s.provision(ctx); err != nil {
		return err
	}
	if err := s.connect(ctx); err != nil {
		return err
	}
	if err := s.install(ctx); err != nil {
		return err
	}
	s.ready = true
	return nil
}

func (s *Session) startMonitor(ctx context.Context) error {
	cpu, mem := s.scenario.MarketConfig()
	local, err := writeMarketConfig(s.cfg.WorkDir, cpu, mem)
	if err != nil {
		return err
	}
	if err := s.exec.Run(ctx, s.nodeHosts, "mkdir -p "+monitorConfigDir); err != nil {
		return fmt.Errorf("preparing monitor config dir: %w", err)
	}
	if err := s.exec.Upload(ctx, s.nodeHosts, []string{local}, monitorConfigDir); err != nil {
		return fmt.Errorf("uploading monitor config: %w", err)
	}

	h, err := s.exec.Launch(ctx, s.nodeHosts, monitorCommand)
	if err != nil {
		return fmt.Errorf("starting monitor: %w", err)
	}
	s.monitor = h
	s.logger.Info("monitor started", "nodes", len(s.nodeHosts))

	return s.clock.Sleep(ctx, s.cfg.MonitorDelay)
}

func (s *Session) nodeHost(vm string) (remote.Host, error) {
	node, err := s.registry.NodeOf(vm)
	if err != nil {
		return remote.Host{}, err
	}
	return remote.Host{Address: node.Address, User: s.cfg.NodeUser}, nil
}

func (s *Session) provision(ctx context.Context) error {
	publicKey, err := s.publicKey()
	if err != nil {
		return err
	}

	var handles []remote.Handle
	for _, b := range s.registry.Placed() {
		host, err := s.nodeHost(b.VM.Name)
		if err != nil {
			return err
		}
		local, err := writeVMConfig(s.cfg.WorkDir, b.VM, publicKey)
		if err != nil {
			return err
		}
		if err := s.exec.Upload(ctx, []remote.Host{host}, []string{local}, "."); err != nil {
			return fmt.Errorf("uploading config of %s: %w", b.VM.Name, err)
		}
		h, err := s.exec.Launch(ctx, []remote.Host{host}, provisionCommand(b.VM.Name))
		if err != nil {
			return fmt.Errorf("provisioning %s: %w", b.VM.Name, err)
		}
		s.provisioned = append(s.provisioned, b.VM.Name)
		handles = append(handles, h)
		s.logger.Info("vm provisioning", "vm", b.VM.Name, "node", host.Address)
	}

	if err := s.sup.Wait(ctx, handles); err != nil {
		return fmt.Errorf("provisioning vms: %w", err)
	}
	return nil
}

func (s *Session) publicKey() (string, error) {
	if s.cfg.PublicKeyFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(s.cfg.PublicKeyFile)
	if err != nil {
		return "", fmt.Errorf("reading public key: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *Session) connect(ctx context.Context) error {
	for _, b := range s.registry.Placed() {
		name := b.VM.Name
		ep, err := s.registry.Connect(name)
		if err != nil {
			return err
		}
		host, err := s.nodeHost(name)
		if err != nil {
			return err
		}
		if err := s.exec.Run(ctx, []remote.Host{host}, natCommand(name, ep.Port)); err != nil {
			return fmt.Errorf("connecting %s: %w", name, err)
		}
		s.vmHosts[name] = remote.Host{Address: ep.Address, Port: ep.Port, User: s.cfg.VMUser}
		s.logger.Info("vm connected", "vm", name, "node", ep.Address, "port", ep.Port)
	}
	return nil
}

// Run executes the scenario timeline.
func (s *Session) Run(ctx context.Context) error {
	if !s.ready {
		return ErrNotConfigured
	}

	engine := timeline.NewEngine(s,
		timeline.WithClock(s.clock),
		timeline.WithLogger(s.logger),
		timeline.WithSettleDelay(s.cfg.SettleDelay),
		timeline.WithStartHook(s.resetMonitorCounters),
	)
	report, err := engine.Run(ctx, timeline.Build(s.runnable()))
	s.report = report
	if err != nil {
		return fmt.Errorf("running scenario: %w", err)
	}
	return nil
}

// runnable returns the placed bindings whose test was installed.
func (s *Session) runnable() []models.Binding {
	skip := make(map[string]bool, len(s.skipped))
	for _, name := range s.skipped {
		skip[name] = true
	}
	var out []models.Binding
	for _, b := range s.registry.Placed() {
		if !skip[b.VM.Name] {
			out = append(out, b)
		}
	}
	return out
}

func (s *Session) resetMonitorCounters(ctx context.Context) error {
	return s.exec.Run(ctx, s.nodeHosts, resetCountersCmd)
}

// StartTest launches the test of vm inside the VM.
func (s *Session) StartTest(ctx context.Context, vm *models.VM, test *models.Test) (remote.Handle, error) {
	host, ok := s.vmHosts[vm.Name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", vm.Name, registry.ErrNotPlaced)
	}
	cmd, err := startCommand(test)
	if err != nil {
		return nil, err
	}
	return s.exec.Launch(ctx, []remote.Host{host}, cmd)
}

// Store collects monitor logs, tears the VMs and monitors down, then persists
// the result. Nothing is persisted when log collection fails.
func (s *Session) Store(ctx context.Context) (*models.Result, error) {
	if s.report == nil {
		return nil, ErrNotRun
	}

	monitors, logErr := s.collectMonitorLogs(ctx)

	// The VMs are released even when ctx was cancelled while collecting.
	teardownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TeardownTimeout)
	err := s.Teardown(teardownCtx)
	cancel()
	if err != nil {
		s.logger.Warn("teardown incomplete", "error", err)
	}
	if logErr != nil {
		return nil, logErr
	}

	result := &models.Result{
		ID:          uuid.New().String(),
		Monitors:    monitors,
		Outputs:     s.report.Outputs,
		Placement:   s.registry.Placement(),
		Unallocated: s.outcome.Unallocated,
		CreatedAt:   s.clock.Now().UTC(),
	}
	if err := s.results.Insert(ctx, s.scenario.Canonical(), result); err != nil {
		return nil, fmt.Errorf("storing result: %w", err)
	}
	s.logger.Info("result stored", "result_id", result.ID, "vms", len(result.Outputs))
	return result, nil
}

func (s *Session) collectMonitorLogs(ctx context.Context) (map[string]string, error) {
	dest := filepath.Join(s.cfg.WorkDir, "monitors-"+s.id)
	local, err := s.exec.Download(ctx, s.nodeHosts, []string{monitorLogPath}, dest)
	if err != nil {
		return nil, fmt.Errorf("downloading monitor logs: %w", err)
	}

	out := make(map[string]string, len(local))
	for addr, files := range local {
		for _, f := range files {
			if path.Base(filepath.ToSlash(f)) != path.Base(monitorLogPath) {
				continue
			}
			data, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("reading monitor log of %s: %w", addr, err)
			}
			out[addr] = string(data)
		}
	}
	return out, nil
}

// Teardown kills every provisioned VM and the monitors. VMs that were killed
// are remembered, so a later call only retries what failed and issues nothing
// once everything is down.
func (s *Session) Teardown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, name := range s.provisioned {
		if s.killed[name] {
			continue
		}
		host, err := s.nodeHost(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.exec.Run(ctx, []remote.Host{host}, killVMCommand(name)); err != nil {
			s.logger.Warn("killing vm failed", "vm", name, "error", err)
			errs = append(errs, fmt.Errorf("killing %s: %w", name, err))
			continue
		}
		s.killed[name] = true
	}
	if s.monitor != nil && !s.monitorKilled {
		if err := s.monitor.Kill(); err != nil {
			errs = append(errs, fmt.Errorf("killing monitor: %w", err))
		} else {
			s.monitorKilled = true
			s.logger.Info("monitor killed", "nodes", len(s.nodeHosts))
		}
	}
	return errors.Join(errs...)
}
