// Package probe classifies fleet guests by how far the agent bootstrap has
// progressed, observed from outside over SSH. The classification hinges on
// the sentinel file the bootstrap touches as its final step: SSH up and
// sentinel present means the guest is ready, SSH up without the sentinel
// means cloud-init is still working, and no SSH session means the guest is
// unreachable.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/snailsec/snailfleet/internal/cloudinit"
)

// AgentState is the externally observable bootstrap state of one guest.
type AgentState string

const (
	// StateReady means the bootstrap sentinel exists: cloud-init finished
	// and the agent service was installed and started.
	StateReady AgentState = "ready"

	// StateSettingUp means SSH answers but the sentinel is not there yet.
	// Normal for the first few minutes after create; a guest stuck here
	// usually has a failed bootstrap step worth reading the console for.
	StateSettingUp AgentState = "setting-up"

	// StateUnreachable means no SSH session could be established.
	StateUnreachable AgentState = "unreachable"
)

// sshPort is fixed: fleet guests run stock sshd.
const sshPort = "22"

// Prober checks the bootstrap sentinel on fleet guests using the fleet's
// SSH key pair.
type Prober struct {
	user    string
	signer  ssh.Signer
	timeout time.Duration
	port    string
}

// NewProber loads the private half of the fleet key pair from keyPath. The
// key must match the public key injected at provisioning time, or every
// probe will report unreachable.
func NewProber(user, keyPath string, timeout time.Duration) (*Prober, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH private key %s: %w", keyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("%s is not a usable SSH private key: %w", keyPath, err)
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Prober{
		user:    user,
		signer:  signer,
		timeout: timeout,
		port:    sshPort,
	}, nil
}

// Probe reports the agent state of the guest at addr. Failures are
// classifications, not errors: a guest that cannot be dialed is exactly
// what unreachable means. An empty addr (no DHCP lease yet) is unreachable
// without a dial attempt.
func (p *Prober) Probe(addr string) AgentState {
	if addr == "" {
		return StateUnreachable
	}

	config := &ssh.ClientConfig{
		User: p.user,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(p.signer),
		},
		// Guests are freshly provisioned throwaways with generated host
		// keys; there is nothing to pin them against.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         p.timeout,
	}

	conn, err := ssh.Dial("tcp", net.JoinHostPort(addr, p.port), config)
	if err != nil {
		return StateUnreachable
	}
	defer conn.Close()

	session, err := conn.NewSession()
	if err != nil {
		return StateUnreachable
	}
	defer session.Close()

	// test(1) exits 0 when the sentinel exists and 1 when it does not, so
	// the remote exit status carries the whole answer.
	err = session.Run("test -f " + cloudinit.SentinelPath)
	if err == nil {
		return StateReady
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return StateSettingUp
	}
	return StateUnreachable
}

// ProbeAll classifies every address and returns the states in input order.
// limit bounds concurrent SSH dials; values below one probe one guest at a
// time. Guests whose probe never ran because ctx was already canceled
// report unreachable.
func (p *Prober) ProbeAll(ctx context.Context, addrs []string, limit int) []AgentState {
	states := make([]AgentState, len(addrs))
	if limit < 1 {
		limit = 1
	}

	g := new(errgroup.Group)
	g.SetLimit(limit)
	for i, addr := range addrs {
		// With the go directive below 1.22 the range variables are shared
		// across iterations; rebind them so each worker sees its own pair.
		i, addr := i, addr
		g.Go(func() error {
			if ctx.Err() != nil {
				states[i] = StateUnreachable
				return nil
			}
			states[i] = p.Probe(addr)
			return nil
		})
	}
	_ = g.Wait() // workers only classify, they never fail

	return states
}
