package libvirt

import (
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

const (
	// DefaultSocketPath is the standard libvirt system socket location.
	DefaultSocketPath = "/var/run/libvirt/libvirt-sock"

	// DefaultTimeout is the default connection timeout.
	DefaultTimeout = 5 * time.Second
)

// Client wraps a libvirt connection.
type Client struct {
	libvirt *libvirt.Libvirt
}

// Connect establishes a connection to the libvirt daemon via Unix socket.
// If socketPath is empty, DefaultSocketPath is used. If timeout is zero,
// DefaultTimeout is used.
func Connect(socketPath string, timeout time.Duration) (*Client, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	dialer := dialers.NewLocal(
		dialers.WithSocket(socketPath),
		dialers.WithLocalTimeout(timeout),
	)

	l := libvirt.NewWithDialer(dialer)
	if err := l.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt at %s: %w", socketPath, err)
	}

	return &Client{libvirt: l}, nil
}

// Close disconnects from the libvirt daemon.
func (c *Client) Close() error {
	if c.libvirt == nil {
		return nil
	}

	if err := c.libvirt.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from libvirt: %w", err)
	}

	c.libvirt = nil
	return nil
}

// Libvirt returns the underlying libvirt connection for direct API access.
func (c *Client) Libvirt() *libvirt.Libvirt {
	return c.libvirt
}

// Ping verifies the connection is alive.
func (c *Client) Ping() error {
	if c.libvirt == nil {
		return fmt.Errorf("not connected to libvirt")
	}

	if _, err := c.libvirt.ConnectGetLibVersion(); err != nil {
		return fmt.Errorf("libvirt ping failed: %w", err)
	}

	return nil
}

// Version returns the libvirt library version in dotted form, e.g. "10.3.0".
func (c *Client) Version() (string, error) {
	if c.libvirt == nil {
		return "", fmt.Errorf("not connected to libvirt")
	}

	v, err := c.libvirt.ConnectGetLibVersion()
	if err != nil {
		return "", fmt.Errorf("failed to query libvirt version: %w", err)
	}

	return fmt.Sprintf("%d.%d.%d", v/1000000, (v/1000)%1000, v%1000), nil
}
