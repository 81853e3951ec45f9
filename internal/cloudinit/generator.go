// Package cloudinit renders the first-boot payload for fleet guests and
// packages it into a NoCloud seed volume.
//
// Each guest receives two documents: meta-data (instance identity) and
// user-data (a #cloud-config that creates the admin user, installs the
// agent's prerequisites, and bootstraps the snail-core agent itself).
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/snailsec/snailfleet/internal/fleet"
)

// Guest filesystem paths owned by the bootstrap. The status probe and the
// agent's systemd units rely on these staying fixed.
const (
	// AgentHome is where the agent repository is cloned and its
	// virtualenv created.
	AgentHome = "/opt/snail-core"

	// AgentConfigPath is where the agent's runtime configuration is
	// written.
	AgentConfigPath = "/etc/snail-core/config.yaml"

	// SentinelPath is touched as the final bootstrap step; its presence
	// means every setup command completed.
	SentinelPath = "/var/lib/snail-core/setup-complete"
)

// Input carries everything needed to render one guest's first-boot payload.
type Input struct {
	Name          string
	Distribution  fleet.Distribution
	Username      string
	Password      string
	AuthorizedKey string
	RepoURL       string
	ScanInterval  string
	Agent         AgentConfig
}

// AgentConfig is the snail-core runtime configuration document written to
// AgentConfigPath inside the guest.
type AgentConfig struct {
	Endpoint   string   `yaml:"endpoint"`
	APIKey     string   `yaml:"api_key"`
	Collectors []string `yaml:"collectors"`
	OutputDir  string   `yaml:"output_dir"`
	LogLevel   string   `yaml:"log_level"`
}

// UserData is the cloud-config user-data structure, marshaled to YAML and
// prefixed with the "#cloud-config" header.
//
// See https://cloudinit.readthedocs.io/en/latest/explanation/format.html#cloud-config-data
type UserData struct {
	Hostname        string      `yaml:"hostname"`
	Users           []User      `yaml:"users,omitempty"`
	Chpasswd        *Chpasswd   `yaml:"chpasswd,omitempty"`
	SSHPasswordAuth bool        `yaml:"ssh_pwauth"`
	PackageUpdate   bool        `yaml:"package_update"`
	Packages        []string    `yaml:"packages,omitempty"`
	WriteFiles      []WriteFile `yaml:"write_files,omitempty"`
	RunCommands     []string    `yaml:"runcmd,omitempty"`
	Output          *Output     `yaml:"output,omitempty"`
}

// User is a cloud-config user entry.
type User struct {
	Name              string   `yaml:"name"`
	Groups            string   `yaml:"groups,omitempty"`
	Sudo              string   `yaml:"sudo,omitempty"`
	Shell             string   `yaml:"shell,omitempty"`
	LockPasswd        bool     `yaml:"lock_passwd"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys,omitempty"`
}

// Chpasswd sets the fallback static password for console access when key
// auth is unavailable.
type Chpasswd struct {
	Expire bool   `yaml:"expire"`
	List   string `yaml:"list"` // "username:password"
}

// WriteFile is a cloud-config write_files entry.
type WriteFile struct {
	Path        string `yaml:"path"`
	Content     string `yaml:"content"`
	Permissions string `yaml:"permissions,omitempty"`
}

// Output configures cloud-init output logging.
type Output struct {
	All string `yaml:"all"`
}

// MetaData is the cloud-init meta-data structure.
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// GenerateMetaData renders the meta-data document for a guest.
//
// The instance-id is salted with a fresh UUID fragment so that destroying
// and recreating a VM under the same name still counts as a first boot and
// re-runs the full bootstrap.
func GenerateMetaData(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("instance name cannot be empty")
	}

	metaData := MetaData{
		InstanceID:    fmt.Sprintf("%s-%s", name, uuid.NewString()[:8]),
		LocalHostname: name,
	}

	yamlBytes, err := yaml.Marshal(&metaData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}

	return string(yamlBytes), nil
}

// GenerateUserData renders the user-data document for a guest: admin user,
// agent configuration, scan scheduling units, and the ordered bootstrap
// command sequence.
//
// Returns the complete user-data content including the "#cloud-config"
// header.
func GenerateUserData(in Input) (string, error) {
	if in.Name == "" {
		return "", fmt.Errorf("instance name cannot be empty")
	}
	if in.Username == "" {
		return "", fmt.Errorf("admin username cannot be empty")
	}

	agentYAML, err := yaml.Marshal(&in.Agent)
	if err != nil {
		return "", fmt.Errorf("failed to marshal agent config to YAML: %w", err)
	}

	admin := User{
		Name:       in.Username,
		Groups:     adminGroup(in.Distribution),
		Sudo:       "ALL=(ALL) NOPASSWD:ALL",
		Shell:      "/bin/bash",
		LockPasswd: false,
	}
	if in.AuthorizedKey != "" {
		admin.SSHAuthorizedKeys = []string{strings.TrimSpace(in.AuthorizedKey)}
	}

	userData := UserData{
		Hostname:        in.Name,
		Users:           []User{admin},
		SSHPasswordAuth: true,
		PackageUpdate:   true,
		Packages:        guestPackages(in.Distribution),
		WriteFiles: []WriteFile{
			{Path: AgentConfigPath, Content: string(agentYAML), Permissions: "0600"},
			{Path: scanServicePath, Content: scanServiceUnit, Permissions: "0644"},
			{Path: scanTimerPath, Content: scanTimerUnit(in.ScanInterval), Permissions: "0644"},
		},
		Output: &Output{
			All: "| tee -a /var/log/cloud-init-output.log",
		},
	}

	if in.Password != "" {
		userData.Chpasswd = &Chpasswd{
			Expire: false,
			List:   fmt.Sprintf("%s:%s", in.Username, in.Password),
		}
	}

	commands := BootstrapSequence(in)
	userData.RunCommands = make([]string, 0, len(commands))
	for _, c := range commands {
		userData.RunCommands = append(userData.RunCommands, c.Shell())
	}

	yamlBytes, err := yaml.Marshal(&userData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}

	// Prepend #cloud-config header (required by cloud-init spec)
	return "#cloud-config\n" + string(yamlBytes), nil
}
