package catconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Device.Name == "" {
		t.Error("Device.Name should not be empty")
	}
	if cfg.Network.PortRangeLow != 30000 || cfg.Network.PortRangeHigh != 40000 {
		t.Errorf("port range = [%d,%d], want [30000,40000]", cfg.Network.PortRangeLow, cfg.Network.PortRangeHigh)
	}
	if cfg.Transfer.DownloadDir == "" {
		t.Error("Transfer.DownloadDir should not be empty")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
device:
  name: "CattyLinux"
  brand_id: 133
  sender_id: 43794
  supports_5ghz: true
network:
  wifi_interface: wlan0
  port_range_low: 31000
  port_range_high: 31999
transfer:
  download_dir: /tmp/catshare-downloads
  auto_accept: true
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Name != "CattyLinux" {
		t.Errorf("Device.Name = %q, want %q", cfg.Device.Name, "CattyLinux")
	}
	if cfg.Device.BrandID != 133 {
		t.Errorf("Device.BrandID = %d, want 133", cfg.Device.BrandID)
	}
	if !cfg.Device.Supports5GHz {
		t.Error("Device.Supports5GHz should be true")
	}
	if cfg.Network.WifiInterface != "wlan0" {
		t.Errorf("Network.WifiInterface = %q, want wlan0", cfg.Network.WifiInterface)
	}
	if cfg.Transfer.DownloadDir != "/tmp/catshare-downloads" {
		t.Errorf("Transfer.DownloadDir = %q, want /tmp/catshare-downloads", cfg.Transfer.DownloadDir)
	}
	if !cfg.Transfer.AutoAccept {
		t.Error("Transfer.AutoAccept should be true")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
device:
  name: "dev"
network:
  port_range_low: 30000
  port_range_high: 40000
transfer:
  download_dir: "~/CatshareDownloads"
log_level: info
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := filepath.Join(home, "CatshareDownloads")
	if cfg.Transfer.DownloadDir != want {
		t.Errorf("Transfer.DownloadDir = %q, want %q", cfg.Transfer.DownloadDir, want)
	}
}

func TestValidateRejectsEmptyDeviceName(t *testing.T) {
	cfg := Default()
	cfg.Device.Name = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject empty device name")
	}
}

func TestValidateRejectsOverlongDeviceName(t *testing.T) {
	cfg := Default()
	cfg.Device.Name = "this-name-is-way-too-long-for-the-wire"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject device names over 16 bytes")
	}
}

func TestValidateRejectsBadPortRange(t *testing.T) {
	cfg := Default()
	cfg.Network.PortRangeLow = 40000
	cfg.Network.PortRangeHigh = 30000
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject an inverted port range")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject unknown log levels")
	}
}

func TestWriteDefaultDoesNotOverwrite(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path == "" {
		t.Fatal("WriteDefault() should return the written path on first call")
	}

	path2, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() second call error = %v", err)
	}
	if path2 != "" {
		t.Error("WriteDefault() should not overwrite an existing config")
	}
}
