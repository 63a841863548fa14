// Package config holds the node's tunable parameters: compiled-in defaults
// overridable by an optional TOML file.
package config

import (
	"os"
	"time"

	"github.com/naoina/toml"
)

// Compiled-in defaults, matching the protocol constants the original
// reference implementation hard-codes.
const (
	DefaultBroadcastPort = 25550
	DefaultUDPPort       = 25555
	DefaultTCPPort       = 25560
	DefaultChunkSize     = 10

	DefaultBroadcastWindow       = 2 * time.Second
	DefaultBroadcastEmitInterval = 500 * time.Millisecond
	DefaultSearchTimeout         = 10 * time.Second
	DefaultAwaitPollInterval     = time.Second

	// FileTrackerCapacity bounds the FileTracker LRU so a node under
	// adversarial search-query growth cannot be made to grow its file map
	// without limit.
	FileTrackerCapacity = 4096
)

// ConfigEnvVar names the environment variable holding the path to an
// optional TOML override file. The CLI itself takes no flags.
const ConfigEnvVar = "SHARENET_CONFIG"

type Config struct {
	BroadcastPort          int    `toml:"broadcast_port"`
	UDPPort                int    `toml:"udp_port"`
	TCPPort                int    `toml:"tcp_port"`
	ChunkSize              int    `toml:"chunk_size"`
	BroadcastWindowSeconds int    `toml:"broadcast_window_seconds"`
	SearchTimeoutSeconds   int    `toml:"search_timeout_seconds"`
	MetricsAddr            string `toml:"metrics_addr"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		BroadcastPort:          DefaultBroadcastPort,
		UDPPort:                DefaultUDPPort,
		TCPPort:                DefaultTCPPort,
		ChunkSize:              DefaultChunkSize,
		BroadcastWindowSeconds: int(DefaultBroadcastWindow / time.Second),
		SearchTimeoutSeconds:   int(DefaultSearchTimeout / time.Second),
	}
}

// Load returns the default configuration, optionally overridden by the TOML
// file named by the SHARENET_CONFIG environment variable.
func Load() (Config, error) {
	cfg := Default()
	path := os.Getenv(ConfigEnvVar)
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) BroadcastWindow() time.Duration {
	return time.Duration(c.BroadcastWindowSeconds) * time.Second
}

func (c Config) SearchTimeout() time.Duration {
	return time.Duration(c.SearchTimeoutSeconds) * time.Second
}
