// Package remote defines the remote execution boundary used to drive nodes and VMs:
// non-blocking command handles plus file upload and download.
package remote

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultPort is the SSH port used when a host does not carry one.
const DefaultPort = 22

// Host is a remote endpoint. VMs are reached through their node address and a NAT port.
type Host struct {
	Address string
	Port    int
	User    string
}

// Addr returns the dialable host:port.
func (h Host) Addr() string {
	port := h.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(h.Address, strconv.Itoa(port))
}

// String returns user@host:port.
func (h Host) String() string {
	if h.User == "" {
		return h.Addr()
	}
	return h.User + "@" + h.Addr()
}

// Status is the outcome of polling a handle.
// OK is false as soon as any process failed; FinishedOK is true only once every
// process has exited successfully.
type Status struct {
	OK         bool
	FinishedOK bool
}

// Handle is a remote command invocation.
type Handle interface {
	// Start launches the command without waiting for it.
	Start(ctx context.Context) error
	// Wait polls the command for at most timeout. A non-positive timeout waits
	// until the command has exited.
	Wait(ctx context.Context, timeout time.Duration) Status
	// Reset discards the previous invocation so Start can launch it again.
	Reset()
	// Kill terminates the command immediately.
	Kill() error
	// Stdout returns the output buffered so far by the first host.
	Stdout() string
	String() string
}

// Executor launches commands and moves files to and from hosts.
type Executor interface {
	// Launch starts command on every host and returns without waiting.
	Launch(ctx context.Context, hosts []Host, command string) (Handle, error)
	// Run starts command on every host and waits for it to finish.
	Run(ctx context.Context, hosts []Host, command string) error
	// Upload copies local files into destDir on every host.
	Upload(ctx context.Context, hosts []Host, files []string, destDir string) error
	// Download copies remote files from every host into destDir/<address>/ and
	// returns the local paths keyed by host address.
	Download(ctx context.Context, hosts []Host, files []string, destDir string) (map[string][]string, error)
}

// Quote wraps s in single quotes for a POSIX shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
