package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

const testSSHKeyEd25519 = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIIbJKZscbOLzBsgY5y2QupKW4A2kSDjMBQGPb1dChr+S test@example.com"

// resetViper clears the global viper state before and after a test so that
// Load calls do not observe each other.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func validConfig() *Config {
	return &Config{
		NamePrefix:          "snail-test",
		DefaultDistribution: "fedora",
		DefaultSpecs:        "fedora:42",
		CountPerSpec:        5,
		ImageDir:            "/var/lib/libvirt/images",
		SeedDir:             "/tmp/snail-test-cloudinit",
		ManifestPath:        "/tmp/snail-test-vms.list",
		Username:            "snail",
		Password:            "snailpass",
		SSHKeyPath:          "/home/tester/.ssh/snail-test-key",
		AgentRepoURL:        "https://github.com/snailsec/snail-core.git",
		IngestEndpoint:      "https://ingest.snailsec.io/api/v1/upload",
		IngestAPIKey:        "dev-key-local",
		Collectors:          []string{"packages", "processes", "network"},
		GuestOutputDir:      "/var/lib/snail-core/scans",
		GuestLogLevel:       "info",
		ScanInterval:        "30min",
		MemoryMB:            2048,
		VCPUs:               2,
		DiskGB:              20,
		Parallelism:         1,
		PollTimeout:         5 * time.Minute,
		PollInterval:        5 * time.Second,
		SSHTimeout:          10 * time.Second,
		LogLevel:            "info",
	}
}

func TestLoad_Defaults(t *testing.T) {
	resetViper(t)
	t.Setenv("HOME", t.TempDir()) // keep a real ~/.config/snailfleet.yaml out of the test

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.NamePrefix != "snail-test" {
		t.Errorf("NamePrefix = %q, want %q", cfg.NamePrefix, "snail-test")
	}
	if cfg.DefaultDistribution != "fedora" {
		t.Errorf("DefaultDistribution = %q, want %q", cfg.DefaultDistribution, "fedora")
	}
	if cfg.DefaultSpecs != "fedora:42" {
		t.Errorf("DefaultSpecs = %q, want %q", cfg.DefaultSpecs, "fedora:42")
	}
	if cfg.CountPerSpec != 5 {
		t.Errorf("CountPerSpec = %d, want 5", cfg.CountPerSpec)
	}
	if cfg.MemoryMB != 2048 {
		t.Errorf("MemoryMB = %d, want 2048", cfg.MemoryMB)
	}
	if cfg.VCPUs != 2 {
		t.Errorf("VCPUs = %d, want 2", cfg.VCPUs)
	}
	if cfg.DiskGB != 20 {
		t.Errorf("DiskGB = %d, want 20", cfg.DiskGB)
	}
	if cfg.Parallelism != 1 {
		t.Errorf("Parallelism = %d, want 1", cfg.Parallelism)
	}
	if cfg.PollTimeout != 5*time.Minute {
		t.Errorf("PollTimeout = %s, want 5m", cfg.PollTimeout)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %s, want 5s", cfg.PollInterval)
	}
	if cfg.SSHTimeout != 10*time.Second {
		t.Errorf("SSHTimeout = %s, want 10s", cfg.SSHTimeout)
	}
	if len(cfg.Collectors) != 3 {
		t.Errorf("Collectors = %v, want 3 entries", cfg.Collectors)
	}
	if cfg.Username != "snail" {
		t.Errorf("Username = %q, want %q", cfg.Username, "snail")
	}

	// The tilde default must come back expanded.
	if strings.HasPrefix(cfg.SSHKeyPath, "~") {
		t.Errorf("SSHKeyPath = %q, want tilde expanded", cfg.SSHKeyPath)
	}
	if !strings.HasSuffix(cfg.SSHKeyPath, filepath.Join(".ssh", "snail-test-key")) {
		t.Errorf("SSHKeyPath = %q, want .ssh/snail-test-key suffix", cfg.SSHKeyPath)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	resetViper(t)
	t.Setenv("HOME", t.TempDir())

	t.Setenv("SNAILFLEET_NAME_PREFIX", "ci-fleet")
	t.Setenv("SNAILFLEET_MEMORY_MB", "4096")
	t.Setenv("SNAILFLEET_POLL_TIMEOUT", "90s")
	t.Setenv("SNAILFLEET_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.NamePrefix != "ci-fleet" {
		t.Errorf("NamePrefix = %q, want env override %q", cfg.NamePrefix, "ci-fleet")
	}
	if cfg.MemoryMB != 4096 {
		t.Errorf("MemoryMB = %d, want env override 4096", cfg.MemoryMB)
	}
	if cfg.PollTimeout != 90*time.Second {
		t.Errorf("PollTimeout = %s, want env override 90s", cfg.PollTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want env override %q", cfg.LogLevel, "debug")
	}
}

func TestLoad_ExplicitFile(t *testing.T) {
	resetViper(t)

	path := filepath.Join(t.TempDir(), "fleet.yaml")
	content := `name_prefix: lab
memory_mb: 1024
collectors:
  - packages
poll_interval: 2s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.NamePrefix != "lab" {
		t.Errorf("NamePrefix = %q, want file value %q", cfg.NamePrefix, "lab")
	}
	if cfg.MemoryMB != 1024 {
		t.Errorf("MemoryMB = %d, want file value 1024", cfg.MemoryMB)
	}
	if len(cfg.Collectors) != 1 || cfg.Collectors[0] != "packages" {
		t.Errorf("Collectors = %v, want file value [packages]", cfg.Collectors)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %s, want file value 2s", cfg.PollInterval)
	}

	// Untouched keys keep their defaults.
	if cfg.CountPerSpec != 5 {
		t.Errorf("CountPerSpec = %d, want default 5", cfg.CountPerSpec)
	}
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	resetViper(t)

	path := filepath.Join(t.TempDir(), "fleet.yaml")
	if err := os.WriteFile(path, []byte("memory_mb: 1024\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("SNAILFLEET_MEMORY_MB", "8192")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MemoryMB != 8192 {
		t.Errorf("MemoryMB = %d, want env (8192) to beat file (1024)", cfg.MemoryMB)
	}
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	resetViper(t)

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for a missing explicit config file")
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	resetViper(t)
	t.Setenv("HOME", t.TempDir())

	t.Setenv("SNAILFLEET_DEFAULT_DISTRIBUTION", "arch")

	if _, err := Load(""); err == nil {
		t.Error("expected error for an unknown default distribution")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty prefix", func(c *Config) { c.NamePrefix = "" }},
		{"prefix with uppercase", func(c *Config) { c.NamePrefix = "Snail-Test" }},
		{"prefix starting with hyphen", func(c *Config) { c.NamePrefix = "-snail" }},
		{"unknown distribution", func(c *Config) { c.DefaultDistribution = "gentoo" }},
		{"empty image dir", func(c *Config) { c.ImageDir = "" }},
		{"empty seed dir", func(c *Config) { c.SeedDir = "" }},
		{"empty manifest path", func(c *Config) { c.ManifestPath = "" }},
		{"empty username", func(c *Config) { c.Username = "" }},
		{"empty ssh key path", func(c *Config) { c.SSHKeyPath = "" }},
		{"zero count", func(c *Config) { c.CountPerSpec = 0 }},
		{"memory below floor", func(c *Config) { c.MemoryMB = 128 }},
		{"zero vcpus", func(c *Config) { c.VCPUs = 0 }},
		{"zero disk", func(c *Config) { c.DiskGB = 0 }},
		{"zero parallelism", func(c *Config) { c.Parallelism = 0 }},
		{"zero poll timeout", func(c *Config) { c.PollTimeout = 0 }},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"zero ssh timeout", func(c *Config) { c.SSHTimeout = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
	}

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestAuthorizedKey(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(t *testing.T, keyPath string)
		expectErr string
	}{
		{
			name: "valid key",
			setup: func(t *testing.T, keyPath string) {
				if err := os.WriteFile(keyPath+".pub", []byte(testSSHKeyEd25519+"\n"), 0644); err != nil {
					t.Fatalf("failed to write key: %v", err)
				}
			},
		},
		{
			name:      "missing key file suggests ssh-keygen",
			setup:     func(t *testing.T, keyPath string) {},
			expectErr: "ssh-keygen",
		},
		{
			name: "invalid key content",
			setup: func(t *testing.T, keyPath string) {
				if err := os.WriteFile(keyPath+".pub", []byte("not a key\n"), 0644); err != nil {
					t.Fatalf("failed to write key: %v", err)
				}
			},
			expectErr: "not a valid SSH public key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.SSHKeyPath = filepath.Join(t.TempDir(), "snail-test-key")
			tt.setup(t, cfg.SSHKeyPath)

			key, err := cfg.AuthorizedKey()

			if tt.expectErr != "" {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.expectErr) {
					t.Errorf("error = %v, want substring %q", err, tt.expectErr)
				}
				return
			}

			if err != nil {
				t.Fatalf("AuthorizedKey() error = %v", err)
			}
			if key != testSSHKeyEd25519 {
				t.Errorf("AuthorizedKey() = %q, want trimmed key", key)
			}
		})
	}
}

func TestPublicKeyPath(t *testing.T) {
	cfg := &Config{SSHKeyPath: "/home/tester/.ssh/snail-test-key"}
	want := "/home/tester/.ssh/snail-test-key.pub"
	if got := cfg.PublicKeyPath(); got != want {
		t.Errorf("PublicKeyPath() = %q, want %q", got, want)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~", home},
		{"~/.ssh/key", filepath.Join(home, ".ssh", "key")},
		{"/var/lib/libvirt/images", "/var/lib/libvirt/images"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := expandPath(tt.in); got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
