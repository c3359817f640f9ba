package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultLIDLookupTimeout = 10 * time.Second
	DefaultUnreadBuffer     = 256
)

// Config represents the global ~/.wppchat/config.toml.
type Config struct {
	DefaultSession string         `toml:"default_session"`
	Resolver       ResolverConfig `toml:"resolver"`
	Unread         UnreadConfig   `toml:"unread"`
}

// ResolverConfig tunes chat resolution.
type ResolverConfig struct {
	// LIDLookupTimeout bounds one platform LID lookup, e.g. "10s".
	LIDLookupTimeout time.Duration `toml:"lid_lookup_timeout"`
}

// UnreadConfig tunes the unread tracker.
type UnreadConfig struct {
	// Buffer is the tracker's bus subscription buffer. Events arriving while
	// it is full are dropped and the tracked set goes stale.
	Buffer int `toml:"buffer"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Resolver.LIDLookupTimeout <= 0 {
		c.Resolver.LIDLookupTimeout = DefaultLIDLookupTimeout
	}
	if c.Unread.Buffer <= 0 {
		c.Unread.Buffer = DefaultUnreadBuffer
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadOrDefault reads config from path, falling back to Default when the
// file does not exist. Any other read or parse error is returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
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
