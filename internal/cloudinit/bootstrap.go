package cloudinit

import (
	"fmt"

	"github.com/snailsec/snailfleet/internal/fleet"
)

// FailurePolicy states what a bootstrap command's failure does to the rest
// of the guest's setup sequence.
type FailurePolicy string

const (
	// FailureAbort stops the remaining bootstrap commands, leaving the
	// completion sentinel absent.
	FailureAbort FailurePolicy = "abort"

	// FailureIgnore lets the sequence continue; used for optional tooling
	// that not every distribution can install.
	FailureIgnore FailurePolicy = "ignore"
)

// BootstrapCommand is one step of the guest's first-boot setup with an
// explicit failure policy, instead of opaque shell fallback chains.
type BootstrapCommand struct {
	Command   string
	OnFailure FailurePolicy
}

// Shell renders the command for cloud-init's runcmd. Ignored failures are
// expressed with a trailing "|| true" since runcmd aborts the sequence on
// the first non-zero exit.
func (c BootstrapCommand) Shell() string {
	if c.OnFailure == FailureIgnore {
		return c.Command + " || true"
	}
	return c.Command
}

const (
	scanServicePath = "/etc/systemd/system/snail-scan.service"
	scanTimerPath   = "/etc/systemd/system/snail-scan.timer"

	defaultScanInterval = "30min"

	trivyInstall = "curl -sfL https://raw.githubusercontent.com/aquasecurity/trivy/main/contrib/install.sh | sh -s -- -b /usr/local/bin"
)

// scanServiceUnit runs one agent scan per activation; scheduling lives in
// the timer unit.
const scanServiceUnit = `[Unit]
Description=snail-core security scan
Wants=network-online.target
After=network-online.target

[Service]
Type=oneshot
ExecStart=` + AgentHome + `/venv/bin/snail run
`

func scanTimerUnit(interval string) string {
	if interval == "" {
		interval = defaultScanInterval
	}
	return fmt.Sprintf(`[Unit]
Description=Periodic snail-core security scan

[Timer]
OnBootSec=2min
OnUnitActiveSec=%s
Unit=snail-scan.service

[Install]
WantedBy=timers.target
`, interval)
}

// aptBased reports whether the distribution installs packages with apt.
// Everything else in the supported set is dnf-based.
func aptBased(d fleet.Distribution) bool {
	switch d {
	case fleet.DistributionDebian, fleet.DistributionUbuntu:
		return true
	default:
		return false
	}
}

// adminGroup returns the distribution's passwordless-sudo group.
func adminGroup(d fleet.Distribution) string {
	if aptBased(d) {
		return "sudo"
	}
	return "wheel"
}

// guestPackages lists what cloud-init's package module installs before
// runcmd starts: the agent's clone/build prerequisites. apt distributions
// ship the venv module as a separate package.
func guestPackages(d fleet.Distribution) []string {
	packages := []string{"git", "python3", "python3-pip"}
	if aptBased(d) {
		packages = append(packages, "python3-venv")
	}
	return packages
}

// BootstrapSequence produces the ordered first-boot command list for a
// guest. Steps marked FailureIgnore are optional tooling; every step that
// the agent needs to produce scans is FailureAbort so a broken guest never
// reports itself ready.
func BootstrapSequence(in Input) []BootstrapCommand {
	refresh := "dnf makecache"
	installScanners := "dnf install -y lynis rkhunter"
	if aptBased(in.Distribution) {
		refresh = "apt-get update"
		installScanners = "DEBIAN_FRONTEND=noninteractive apt-get install -y lynis rkhunter"
	}

	outputDir := in.Agent.OutputDir
	if outputDir == "" {
		outputDir = AgentHome + "/scans"
	}

	return []BootstrapCommand{
		{Command: refresh, OnFailure: FailureAbort},
		{Command: installScanners, OnFailure: FailureIgnore},
		{Command: trivyInstall, OnFailure: FailureIgnore},
		{Command: fmt.Sprintf("git clone %s %s", in.RepoURL, AgentHome), OnFailure: FailureAbort},
		{Command: fmt.Sprintf("python3 -m venv %s/venv", AgentHome), OnFailure: FailureAbort},
		{Command: fmt.Sprintf("%s/venv/bin/pip install -e %s", AgentHome, AgentHome), OnFailure: FailureAbort},
		{Command: fmt.Sprintf("mkdir -p %s /var/lib/snail-core", outputDir), OnFailure: FailureAbort},
		{Command: "systemctl daemon-reload", OnFailure: FailureAbort},
		{Command: "systemctl enable --now snail-scan.timer", OnFailure: FailureAbort},
		{Command: "systemctl start --no-block snail-scan.service", OnFailure: FailureIgnore},
		{Command: "touch " + SentinelPath, OnFailure: FailureAbort},
	}
}
