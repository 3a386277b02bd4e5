package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.vigil/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	UserID         string `toml:"user_id"`

	Firestore Firestore `toml:"firestore"`
	Storage   Storage   `toml:"storage"`
	Network   Network   `toml:"network"`
}

// Firestore holds backend project settings.
type Firestore struct {
	ProjectID       string `toml:"project_id"`
	CredentialsFile string `toml:"credentials_file"`
}

// Storage holds media bucket settings. An empty bucket disables media
// uploads.
type Storage struct {
	Bucket string `toml:"bucket"`
}

// Network holds connectivity probe settings.
type Network struct {
	ProbeAddr         string `toml:"probe_addr"`
	ProbeIntervalSecs int    `toml:"probe_interval_secs"`
}

// Default returns the config used when no file exists yet.
func Default() *Config {
	return &Config{
		Network: Network{
			ProbeAddr:         "firestore.googleapis.com:443",
			ProbeIntervalSecs: 15,
		},
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Network.ProbeAddr == "" {
		cfg.Network.ProbeAddr = Default().Network.ProbeAddr
	}
	if cfg.Network.ProbeIntervalSecs <= 0 {
		cfg.Network.ProbeIntervalSecs = Default().Network.ProbeIntervalSecs
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
