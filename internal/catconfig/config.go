// Package catconfig holds the engine's persisted configuration: device
// identity, Wi-Fi interface and port range, transfer defaults, and
// logging. Front-ends
// supply most per-transfer options directly through
// orchestrator.SenderOptions / ReceiverOptions; this file only covers
// what should survive across process restarts.
package catconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all engine configuration.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Network  NetworkConfig  `yaml:"network"`
	Transfer TransferConfig `yaml:"transfer"`
	LogLevel string         `yaml:"log_level"`
	LogPath  string         `yaml:"log_path,omitempty"`
}

// DeviceConfig identifies this host on the MTA wire protocol.
type DeviceConfig struct {
	Name          string `yaml:"name"`            // advertised name; Validate rejects more than 16 bytes UTF-8
	BrandID       uint16 `yaml:"brand_id"`         // see SPEC_FULL.md §5 Brand enumeration
	SenderID      uint16 `yaml:"sender_id"`        // opaque tag echoed by the peer
	Supports5GHz  bool   `yaml:"supports_5ghz"`
}

// NetworkConfig holds the Wi-Fi interface preference and a port range.
type NetworkConfig struct {
	WifiInterface string `yaml:"wifi_interface,omitempty"` // empty = auto-detect
	PortRangeLow  uint16 `yaml:"port_range_low"`
	PortRangeHigh uint16 `yaml:"port_range_high"`
}

// TransferConfig controls default transfer behavior.
type TransferConfig struct {
	DownloadDir string `yaml:"download_dir"`
	AutoAccept  bool   `yaml:"auto_accept"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "catshare-engine")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultDataDir returns the default data directory for application data.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "catshare-engine")
}

// DefaultDownloadDir returns the default directory received files land in.
func DefaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(DefaultDataDir(), "downloads")
	}
	return filepath.Join(home, "Downloads")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:         hostnameOrFallback(),
			BrandID:      0x0000, // Generic
			Supports5GHz: false,
		},
		Network: NetworkConfig{
			PortRangeLow:  30000,
			PortRangeHigh: 40000,
		},
		Transfer: TransferConfig{
			DownloadDir: DefaultDownloadDir(),
			AutoAccept:  false,
		},
		LogLevel: "info",
	}
}

func hostnameOrFallback() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "linux-device"
	}
	if len(name) > 16 {
		return name[:16]
	}
	return name
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catconfig: reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("catconfig: parsing config file: %w", err)
	}

	cfg.Transfer.DownloadDir = expandTilde(cfg.Transfer.DownloadDir)
	cfg.LogPath = expandTilde(cfg.LogPath)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Device.Name) == "" {
		return fmt.Errorf("catconfig: device.name must not be empty")
	}
	if len([]byte(c.Device.Name)) > 16 {
		return fmt.Errorf("catconfig: device.name must be at most 16 bytes UTF-8, got %d", len([]byte(c.Device.Name)))
	}

	if c.Network.PortRangeLow == 0 || c.Network.PortRangeHigh == 0 {
		return fmt.Errorf("catconfig: network.port_range_low/high must be set")
	}
	if c.Network.PortRangeLow > c.Network.PortRangeHigh {
		return fmt.Errorf("catconfig: network.port_range_low must not exceed port_range_high")
	}

	if c.Transfer.DownloadDir == "" {
		return fmt.Errorf("catconfig: transfer.download_dir must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("catconfig: log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// WriteDefault creates the default config file with documented defaults.
// It creates the parent directory if needed. Returns the path written to.
// If the file already exists, it returns ("", nil) without overwriting.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil // already exists
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("catconfig: creating config dir %s: %w", dir, err)
	}

	cfg := Default()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("catconfig: marshaling default config: %w", err)
	}

	header := "# catshare-engine configuration\n\n"
	if err := os.WriteFile(path, []byte(header+string(data)), 0o644); err != nil {
		return "", fmt.Errorf("catconfig: writing config file: %w", err)
	}

	return path, nil
}
