package remote

import (
	"bytes"
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

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/sync/errgroup"
)

// SSHConfig configures the SSH executor.
type SSHConfig struct {
	KeyFile string
	// KnownHostsFile enables host key verification. Empty accepts any host key,
	// which is the norm for freshly provisioned testbed VMs.
	KnownHostsFile string
	DialTimeout    time.Duration
}

// SSHExecutor runs commands over SSH with public key authentication.
type SSHExecutor struct {
	signer  ssh.Signer
	hostKey ssh.HostKeyCallback
	timeout time.Duration
	logger  *slog.Logger
}

// NewSSHExecutor loads the key material and returns an executor.
func NewSSHExecutor(cfg *SSHConfig, logger *slog.Logger) (*SSHExecutor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	key, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh key: %w", err)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		hostKey, err = knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("loading known hosts: %w", err)
		}
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &SSHExecutor{
		signer:  signer,
		hostKey: hostKey,
		timeout: timeout,
		logger:  logger,
	}, nil
}

func (e *SSHExecutor) dial(ctx context.Context, host Host) (*ssh.Client, error) {
	cfg := &ssh.ClientConfig{
		User:            host.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(e.signer)},
		HostKeyCallback: e.hostKey,
		Timeout:         e.timeout,
	}

	type result struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := ssh.Dial("tcp", host.Addr(), cfg)
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("dialing %s: %w", host, r.err)
		}
		return r.client, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.client != nil {
				r.client.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Launch starts command on every host and returns the running handle.
func (e *SSHExecutor) Launch(ctx context.Context, hosts []Host, command string) (Handle, error) {
	if len(hosts) == 0 {
		return nil, ErrNoHosts
	}
	h := &sshCommand{exec: e, hosts: hosts, command: command}
	e.logger.Info("launching command", "command", command, "hosts", hostList(hosts))
	if err := h.Start(ctx); err != nil {
		return h, err
	}
	return h, nil
}

// Run starts command on every host and blocks until it exits.
func (e *SSHExecutor) Run(ctx context.Context, hosts []Host, command string) error {
	h, err := e.Launch(ctx, hosts, command)
	if err != nil {
		return err
	}
	status := h.Wait(ctx, 0)
	if !status.FinishedOK {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w", h, ErrCommandFailed)
	}
	e.logger.Debug("command done", "command", command)
	return nil
}

// Upload streams each file into destDir on every host.
func (e *SSHExecutor) Upload(ctx context.Context, hosts []Host, files []string, destDir string) error {
	if len(hosts) == 0 {
		return ErrNoHosts
	}
	e.logger.Info("uploading files", "hosts", hostList(hosts), "files", files, "dest", destDir)

	g, gctx := errgroup.WithContext(ctx)
	for _, host := range hosts {
		g.Go(func() error {
			client, err := e.dial(gctx, host)
			if err != nil {
				return err
			}
			defer client.Close()

			for _, file := range files {
				if err := uploadFile(client, file, destDir); err != nil {
					return fmt.Errorf("uploading %s to %s: %w", file, host, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func uploadFile(client *ssh.Client, file, destDir string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stdin = f
	session.Stderr = &stderr

	target := path.Join(destDir, filepath.Base(file))
	cmd := fmt.Sprintf("mkdir -p %s && cat > %s", Quote(destDir), Quote(target))
	if err := session.Run(cmd); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Download fetches each remote file from every host into destDir/<address>/.
func (e *SSHExecutor) Download(ctx context.Context, hosts []Host, files []string, destDir string) (map[string][]string, error) {
	if len(hosts) == 0 {
		return nil, ErrNoHosts
	}
	e.logger.Info("downloading files", "hosts", hostList(hosts), "files", files, "dest", destDir)

	var mu sync.Mutex
	out := make(map[string][]string, len(hosts))

	g, gctx := errgroup.WithContext(ctx)
	for _, host := range hosts {
		g.Go(func() error {
			client, err := e.dial(gctx, host)
			if err != nil {
				return err
			}
			defer client.Close()

			dir := filepath.Join(destDir, host.Address)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}

			var paths []string
			for _, file := range files {
				local := filepath.Join(dir, path.Base(file))
				if err := downloadFile(client, file, local); err != nil {
					return fmt.Errorf("downloading %s from %s: %w", file, host, err)
				}
				paths = append(paths, local)
			}

			mu.Lock()
			out[host.Address] = paths
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func downloadFile(client *ssh.Client, remoteFile, local string) error {
	f, err := os.Create(local)
	if err != nil {
		return err
	}
	defer f.Close()

	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stdout = f
	session.Stderr = &stderr
	if err := session.Run("cat " + Quote(remoteFile)); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// sshCommand is a Handle over one command running on several hosts.
type sshCommand struct {
	exec    *SSHExecutor
	hosts   []Host
	command string

	mu   sync.Mutex
	runs []*hostRun
}

type hostRun struct {
	client  *ssh.Client
	session *ssh.Session
	stdout  syncBuffer
	done    chan struct{}
	err     error
}

func (c *sshCommand) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	c.runs = make([]*hostRun, 0, len(c.hosts))
	for _, host := range c.hosts {
		run := &hostRun{done: make(chan struct{})}
		c.runs = append(c.runs, run)

		if err := c.startOn(ctx, host, run); err != nil {
			run.err = err
			close(run.done)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *sshCommand) startOn(ctx context.Context, host Host, run *hostRun) error {
	client, err := c.exec.dial(ctx, host)
	if err != nil {
		return err
	}
	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return fmt.Errorf("opening session on %s: %w", host, err)
	}
	session.Stdout = &run.stdout

	if err := session.Start(c.command); err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("starting command on %s: %w", host, err)
	}

	run.client = client
	run.session = session
	go func() {
		run.err = session.Wait()
		close(run.done)
	}()
	return nil
}

func (c *sshCommand) Wait(ctx context.Context, timeout time.Duration) Status {
	c.mu.Lock()
	runs := c.runs
	c.mu.Unlock()

	if len(runs) == 0 {
		return Status{}
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	finished := true
	for _, run := range runs {
		select {
		case <-run.done:
		case <-expired:
			finished = false
		case <-ctx.Done():
			finished = false
		}
		if !finished {
			break
		}
	}

	ok := true
	for _, run := range runs {
		select {
		case <-run.done:
			if run.err != nil {
				ok = false
			}
		default:
			finished = false
		}
	}
	return Status{OK: ok, FinishedOK: ok && finished}
}

func (c *sshCommand) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, run := range c.runs {
		run.close()
	}
	c.runs = nil
}

func (c *sshCommand) Kill() error {
	c.mu.Lock()
	runs := c.runs
	c.mu.Unlock()

	if len(runs) == 0 {
		return ErrNotStarted
	}
	for _, run := range runs {
		if run.session != nil {
			_ = run.session.Signal(ssh.SIGKILL)
		}
		run.close()
	}
	c.exec.logger.Info("killed command", "command", c.command, "hosts", hostList(c.hosts))
	return nil
}

func (c *sshCommand) Stdout() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.runs) == 0 {
		return ""
	}
	return c.runs[0].stdout.String()
}

func (c *sshCommand) String() string {
	return fmt.Sprintf("%q on %s", c.command, hostList(c.hosts))
}

func (r *hostRun) close() {
	if r.session != nil {
		r.session.Close()
	}
	if r.client != nil {
		r.client.Close()
	}
}

// syncBuffer is a bytes.Buffer safe for a writing session and a reading caller.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func hostList(hosts []Host) string {
	parts := make([]string, len(hosts))
	for i, h := range hosts {
		parts[i] = h.String()
	}
	return strings.Join(parts, ",")
}
