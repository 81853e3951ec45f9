// Package config loads the tool's configuration from defaults, an optional
// YAML file, environment variables, and bound CLI flags, in ascending
// precedence. Components receive the resulting Config struct explicitly and
// never consult the environment themselves.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/ssh"

	"github.com/snailsec/snailfleet/internal/fleet"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// SNAILFLEET_IMAGE_DIR or SNAILFLEET_LOG_LEVEL.
const EnvPrefix = "SNAILFLEET"

// Config holds every tunable of the fleet tool.
type Config struct {
	// Fleet identity and shape.
	NamePrefix          string `mapstructure:"name_prefix"`
	DefaultDistribution string `mapstructure:"default_distribution"`
	DefaultSpecs        string `mapstructure:"default_specs"`
	CountPerSpec        int    `mapstructure:"count_per_spec"`

	// Host paths.
	ImageDir     string `mapstructure:"image_dir"`
	SeedDir      string `mapstructure:"seed_dir"`
	ManifestPath string `mapstructure:"manifest_path"`

	// Hypervisor connection. Empty socket means the libvirt default.
	LibvirtSocket string `mapstructure:"libvirt_socket"`

	// Guest credentials.
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	SSHKeyPath string `mapstructure:"ssh_key_path"`

	// Agent bootstrap.
	AgentRepoURL   string   `mapstructure:"agent_repo_url"`
	IngestEndpoint string   `mapstructure:"ingest_endpoint"`
	IngestAPIKey   string   `mapstructure:"ingest_api_key"`
	Collectors     []string `mapstructure:"collectors"`
	GuestOutputDir string   `mapstructure:"guest_output_dir"`
	GuestLogLevel  string   `mapstructure:"guest_log_level"`
	ScanInterval   string   `mapstructure:"scan_interval"`

	// Per-VM resources.
	MemoryMB int `mapstructure:"memory_mb"`
	VCPUs    int `mapstructure:"vcpus"`
	DiskGB   int `mapstructure:"disk_gb"`

	// Orchestration.
	Parallelism  int           `mapstructure:"parallelism"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	SSHTimeout   time.Duration `mapstructure:"ssh_timeout"`

	LogLevel string `mapstructure:"log_level"`
}

// SetDefaults registers the default for every key on the global viper
// instance. Called by Load and by the cmd layer before flag binding so
// that bound flags inherit these defaults.
func SetDefaults() {
	viper.SetDefault("name_prefix", "snail-test")
	viper.SetDefault("default_distribution", "fedora")
	viper.SetDefault("default_specs", "fedora:42")
	viper.SetDefault("count_per_spec", 5)

	viper.SetDefault("image_dir", "/var/lib/libvirt/images")
	viper.SetDefault("seed_dir", "/tmp/snail-test-cloudinit")
	viper.SetDefault("manifest_path", "/tmp/snail-test-vms.list")

	viper.SetDefault("libvirt_socket", "")

	viper.SetDefault("username", "snail")
	viper.SetDefault("password", "snailpass")
	viper.SetDefault("ssh_key_path", "~/.ssh/snail-test-key")

	viper.SetDefault("agent_repo_url", "https://github.com/snailsec/snail-core.git")
	viper.SetDefault("ingest_endpoint", "https://ingest.snailsec.io/api/v1/upload")
	viper.SetDefault("ingest_api_key", "dev-key-local")
	viper.SetDefault("collectors", []string{"packages", "processes", "network"})
	viper.SetDefault("guest_output_dir", "/var/lib/snail-core/scans")
	viper.SetDefault("guest_log_level", "info")
	viper.SetDefault("scan_interval", "30min")

	viper.SetDefault("memory_mb", 2048)
	viper.SetDefault("vcpus", 2)
	viper.SetDefault("disk_gb", 20)

	viper.SetDefault("parallelism", 1)
	viper.SetDefault("poll_timeout", 5*time.Minute)
	viper.SetDefault("poll_interval", 5*time.Second)
	viper.SetDefault("ssh_timeout", 10*time.Second)

	viper.SetDefault("log_level", "info")
}

// Load builds the effective configuration. path names an explicit config
// file and must exist when given; with an empty path a snailfleet.yaml is
// picked up from the working directory or ~/.config when present, and
// silently skipped otherwise.
func Load(path string) (*Config, error) {
	SetDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		viper.SetConfigName("snailfleet")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config")
		// Optional when not named explicitly.
		_ = viper.ReadInConfig()
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ImageDir = expandPath(cfg.ImageDir)
	cfg.SeedDir = expandPath(cfg.SeedDir)
	cfg.ManifestPath = expandPath(cfg.ManifestPath)
	cfg.SSHKeyPath = expandPath(cfg.SSHKeyPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// prefixPattern matches libvirt-safe name prefixes: the fleet naming scheme
// appends -<distro>-<version>-<index> to this.
var prefixPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Validate rejects nonsensical values before any action is taken.
func (c *Config) Validate() error {
	if c.NamePrefix == "" {
		return fmt.Errorf("name_prefix is required")
	}
	if !prefixPattern.MatchString(c.NamePrefix) {
		return fmt.Errorf("name_prefix must start with an alphanumeric and contain only lowercase alphanumerics or hyphens, got %q", c.NamePrefix)
	}

	if !fleet.KnownDistribution(fleet.Distribution(c.DefaultDistribution)) {
		return fmt.Errorf("default_distribution %q is not one of %v", c.DefaultDistribution, fleet.Distributions)
	}

	if c.ImageDir == "" {
		return fmt.Errorf("image_dir is required")
	}
	if c.SeedDir == "" {
		return fmt.Errorf("seed_dir is required")
	}
	if c.ManifestPath == "" {
		return fmt.Errorf("manifest_path is required")
	}

	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	if c.SSHKeyPath == "" {
		return fmt.Errorf("ssh_key_path is required")
	}

	if c.CountPerSpec <= 0 {
		return fmt.Errorf("count_per_spec must be > 0, got %d", c.CountPerSpec)
	}
	if c.MemoryMB < 256 {
		return fmt.Errorf("memory_mb must be >= 256, got %d", c.MemoryMB)
	}
	if c.VCPUs <= 0 {
		return fmt.Errorf("vcpus must be > 0, got %d", c.VCPUs)
	}
	if c.DiskGB <= 0 {
		return fmt.Errorf("disk_gb must be > 0, got %d", c.DiskGB)
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be > 0, got %d", c.Parallelism)
	}

	if c.PollTimeout <= 0 {
		return fmt.Errorf("poll_timeout must be > 0, got %s", c.PollTimeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0, got %s", c.PollInterval)
	}
	if c.SSHTimeout <= 0 {
		return fmt.Errorf("ssh_timeout must be > 0, got %s", c.SSHTimeout)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}

	return nil
}

// PublicKeyPath returns the path of the fleet's SSH public key.
func (c *Config) PublicKeyPath() string {
	return c.SSHKeyPath + ".pub"
}

// AuthorizedKey reads and validates the fleet's SSH public key for
// injection into guests. Only the create path needs it; status and destroy
// work without any key material.
func (c *Config) AuthorizedKey() (string, error) {
	data, err := os.ReadFile(c.PublicKeyPath())
	if err != nil {
		return "", fmt.Errorf("failed to read SSH public key %s (generate one with: ssh-keygen -t ed25519 -f %s -N ''): %w",
			c.PublicKeyPath(), c.SSHKeyPath, err)
	}

	key := strings.TrimSpace(string(data))
	if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
		return "", fmt.Errorf("%s is not a valid SSH public key: %w", c.PublicKeyPath(), err)
	}

	return key, nil
}

// expandPath resolves a leading ~/ against the current user's home
// directory. Paths that cannot be resolved are returned unchanged.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
