package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/dotvezz/usbmount/internal/validation"
)

const (
	// DefaultConfigPath is the default location for the config file
	DefaultConfigPath = "/etc/usbmount.conf"
	// DefaultAutoMountDir is the default root for auto-allocated mount
	// directories
	DefaultAutoMountDir = "/var/run/media/"
	// DefaultBackend is the default device probe backend
	DefaultBackend = "udevadm"
)

// Config holds the tool configuration
type Config struct {
	// AutoMountDir is the root directory for auto-allocated mount paths
	AutoMountDir string `toml:"auto_mount_dir"`
	// Backend is the device probe backend: "udevadm" or "dbus"
	Backend string `toml:"backend"`
	// MountOption is a default mount option string applied when the
	// command line supplies none
	MountOption string `toml:"mount_option"`
}

// Load loads configuration from a TOML file
// Returns an empty config if the file doesn't exist
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Merge merges CLI flags into the config, with CLI flags taking
// precedence over config file values. Empty CLI values are ignored.
func (c *Config) Merge(autoMountDir, backend, mountOption string) {
	if autoMountDir != "" {
		c.AutoMountDir = autoMountDir
	}
	if backend != "" {
		c.Backend = backend
	}
	if mountOption != "" {
		c.MountOption = mountOption
	}
}

// ApplyDefaults applies default values for any unset fields
func (c *Config) ApplyDefaults() {
	if c.AutoMountDir == "" {
		c.AutoMountDir = DefaultAutoMountDir
	}
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Backend != "udevadm" && c.Backend != "dbus" {
		return fmt.Errorf("backend must be 'udevadm' or 'dbus', got %q", c.Backend)
	}

	if err := validation.ValidateMountOptions(c.MountOption); err != nil {
		return fmt.Errorf("invalid mount_option: %w", err)
	}

	return nil
}
