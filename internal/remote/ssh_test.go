package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// sshServer is an in-process SSH endpoint that understands three commands:
// "echo <text>" prints text, "false" exits 1 and "hang" runs until it is
// signalled or its channel is closed.
type sshServer struct {
	host    Host
	hostKey ssh.Signer

	mu    sync.Mutex
	execs []string
}

func newKey(t *testing.T) (ed25519.PrivateKey, ssh.Signer) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return priv, signer
}

func startSSHServer(t *testing.T, client ssh.PublicKey) *sshServer {
	t.Helper()
	_, hostKey := newKey(t)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if !bytes.Equal(key.Marshal(), client.Marshal()) {
				return nil, errors.New("unknown key")
			}
			return nil, nil
		},
	}
	cfg.AddHostKey(hostKey)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	s := &sshServer{
		host:    Host{Address: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port, User: "bench"},
		hostKey: hostKey,
	}
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(nc, cfg)
		}
	}()
	return s
}

func (s *sshServer) serve(nc net.Conn, cfg *ssh.ServerConfig) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			nch.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, requests, err := nch.Accept()
		if err != nil {
			continue
		}
		go s.session(ch, requests)
	}
}

func (s *sshServer) session(ch ssh.Channel, requests <-chan *ssh.Request) {
	stop := make(chan struct{})
	var once sync.Once
	halt := func() { once.Do(func() { close(stop) }) }
	defer halt()

	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			s.mu.Lock()
			s.execs = append(s.execs, payload.Command)
			s.mu.Unlock()
			go s.exec(ch, payload.Command, stop)
		case "signal":
			req.Reply(true, nil)
			halt()
		default:
			req.Reply(false, nil)
		}
	}
}

func (s *sshServer) exec(ch ssh.Channel, command string, stop <-chan struct{}) {
	defer ch.Close()

	var status uint32
	switch {
	case strings.HasPrefix(command, "echo "):
		fmt.Fprintln(ch, strings.TrimPrefix(command, "echo "))
	case command == "false":
		status = 1
	case command == "hang":
		<-stop
		return
	}
	ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
}

func (s *sshServer) count(command string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.execs {
		if c == command {
			n++
		}
	}
	return n
}

func newTestExecutor(t *testing.T) (*SSHExecutor, *sshServer) {
	t.Helper()
	_, signer := newKey(t)
	srv := startSSHServer(t, signer.PublicKey())
	return &SSHExecutor{
		signer:  signer,
		hostKey: ssh.FixedHostKey(srv.hostKey.PublicKey()),
		timeout: 5 * time.Second,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, srv
}

func TestSSHLaunchAndWait(t *testing.T) {
	e, srv := newTestExecutor(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		command string
		status  Status
		stdout  string
	}{
		{"success", "echo ready", Status{OK: true, FinishedOK: true}, "ready\n"},
		{"failure", "false", Status{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := e.Launch(ctx, []Host{srv.host}, tt.command)
			if err != nil {
				t.Fatalf("Launch: %v", err)
			}
			defer h.Reset()

			if got := h.Wait(ctx, 0); got != tt.status {
				t.Errorf("Wait() = %+v, want %+v", got, tt.status)
			}
			if got := h.Stdout(); got != tt.stdout {
				t.Errorf("Stdout() = %q, want %q", got, tt.stdout)
			}
		})
	}
}

func TestSSHWaitTimeoutLeavesCommandRunning(t *testing.T) {
	e, srv := newTestExecutor(t)
	ctx := context.Background()

	h, err := e.Launch(ctx, []Host{srv.host}, "hang")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	if got := h.Wait(ctx, 50*time.Millisecond); got != (Status{OK: true}) {
		t.Errorf("Wait() on running command = %+v, want OK without FinishedOK", got)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if got := h.Wait(cancelled, 0); got.FinishedOK {
		t.Errorf("Wait() with cancelled ctx = %+v, want unfinished", got)
	}

	if err := h.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if got := h.Wait(ctx, 5*time.Second); got.OK {
		t.Errorf("Wait() after Kill = %+v, want failed", got)
	}
}

func TestSSHResetAndRestart(t *testing.T) {
	e, srv := newTestExecutor(t)
	ctx := context.Background()
	hosts := []Host{srv.host, srv.host}

	h, err := e.Launch(ctx, hosts, "echo again")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if got := h.Wait(ctx, 0); !got.FinishedOK {
		t.Fatalf("first run = %+v", got)
	}

	h.Reset()
	if got := h.Stdout(); got != "" {
		t.Errorf("Stdout() after Reset = %q, want empty", got)
	}
	if got := h.Wait(ctx, 0); got != (Status{}) {
		t.Errorf("Wait() after Reset = %+v, want zero status", got)
	}
	if err := h.Kill(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Kill() after Reset = %v, want ErrNotStarted", err)
	}

	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := h.Wait(ctx, 0); !got.FinishedOK {
		t.Errorf("second run = %+v", got)
	}
	if got := h.Stdout(); got != "again\n" {
		t.Errorf("Stdout() = %q", got)
	}
	if got := srv.count("echo again"); got != 4 {
		t.Errorf("server ran command %d times, want 4", got)
	}
	h.Reset()
}

func TestSSHRun(t *testing.T) {
	e, srv := newTestExecutor(t)
	ctx := context.Background()

	if err := e.Run(ctx, []Host{srv.host}, "echo ok"); err != nil {
		t.Errorf("Run(echo) = %v", err)
	}
	if err := e.Run(ctx, []Host{srv.host}, "false"); !errors.Is(err, ErrCommandFailed) {
		t.Errorf("Run(false) = %v, want ErrCommandFailed", err)
	}
	if err := e.Run(ctx, nil, "echo ok"); !errors.Is(err, ErrNoHosts) {
		t.Errorf("Run(no hosts) = %v, want ErrNoHosts", err)
	}
}

func TestNewSSHExecutorKnownHosts(t *testing.T) {
	priv, signer := newKey(t)
	srv := startSSHServer(t, signer.PublicKey())
	dir := t.TempDir()

	block, err := ssh.MarshalPrivateKey(priv, "bench")
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyFile := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}

	_, stranger := newKey(t)
	tests := []struct {
		name    string
		hostKey ssh.PublicKey
		wantErr bool
	}{
		{"matching host key", srv.hostKey.PublicKey(), false},
		{"changed host key", stranger.PublicKey(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			knownHosts := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_"))
			line := knownhosts.Line([]string{srv.host.Addr()}, tt.hostKey)
			if err := os.WriteFile(knownHosts, []byte(line+"\n"), 0o600); err != nil {
				t.Fatal(err)
			}

			e, err := NewSSHExecutor(&SSHConfig{KeyFile: keyFile, KnownHostsFile: knownHosts}, nil)
			if err != nil {
				t.Fatalf("NewSSHExecutor: %v", err)
			}
			err = e.Run(context.Background(), []Host{srv.host}, "echo hi")
			if (err != nil) != tt.wantErr {
				t.Errorf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if _, err := NewSSHExecutor(&SSHConfig{KeyFile: filepath.Join(dir, "missing")}, nil); err == nil {
		t.Error("NewSSHExecutor with missing key file succeeded")
	}
}
