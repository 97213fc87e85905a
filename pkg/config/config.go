package config

// Package config provides a viper-backed loader for calimerod
// configuration files and environment variables. It is versioned so
// that callers can depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/calimero-network/core/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a Calimero node.
type Config struct {
	Node struct {
		Home     string `mapstructure:"home" json:"home" yaml:"home"`
		LogLevel string `mapstructure:"log_level" json:"log_level" yaml:"log_level"`
	} `mapstructure:"node" json:"node" yaml:"node"`

	Network struct {
		ListenAddr     string        `mapstructure:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
		DiscoveryTag   string        `mapstructure:"discovery_tag" json:"discovery_tag" yaml:"discovery_tag"`
		BootstrapPeers []string      `mapstructure:"bootstrap_peers" json:"bootstrap_peers" yaml:"bootstrap_peers"`
		MaxPeers       int           `mapstructure:"max_peers" json:"max_peers" yaml:"max_peers"`
		GossipMaxSize  int           `mapstructure:"gossip_max_size" json:"gossip_max_size" yaml:"gossip_max_size"`
		StreamMaxFrame int           `mapstructure:"stream_max_frame" json:"stream_max_frame" yaml:"stream_max_frame"`
		DialTimeout    time.Duration `mapstructure:"dial_timeout" json:"dial_timeout" yaml:"dial_timeout"`
	} `mapstructure:"network" json:"network" yaml:"network"`

	Sync struct {
		Interval        time.Duration `mapstructure:"interval" json:"interval" yaml:"interval"`
		Timeout         time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
		ContextsPerTick int           `mapstructure:"contexts_per_tick" json:"contexts_per_tick" yaml:"contexts_per_tick"`
		PeersPerTick    int           `mapstructure:"peers_per_tick" json:"peers_per_tick" yaml:"peers_per_tick"`
	} `mapstructure:"sync" json:"sync" yaml:"sync"`

	Storage struct {
		DBPath          string        `mapstructure:"db_path" json:"db_path" yaml:"db_path"`
		BlobDir         string        `mapstructure:"blob_dir" json:"blob_dir" yaml:"blob_dir"`
		BlobChunkSize   int           `mapstructure:"blob_chunk_size" json:"blob_chunk_size" yaml:"blob_chunk_size"`
		TombstoneRetain time.Duration `mapstructure:"tombstone_retain" json:"tombstone_retain" yaml:"tombstone_retain"`
		GCInterval      time.Duration `mapstructure:"gc_interval" json:"gc_interval" yaml:"gc_interval"`
	} `mapstructure:"storage" json:"storage" yaml:"storage"`

	Runtime struct {
		MaxMemoryPages      uint32 `mapstructure:"max_memory_pages" json:"max_memory_pages" yaml:"max_memory_pages"`
		MaxRegisters        uint32 `mapstructure:"max_registers" json:"max_registers" yaml:"max_registers"`
		MaxRegisterSize     uint32 `mapstructure:"max_register_size" json:"max_register_size" yaml:"max_register_size"`
		MaxLogs             uint32 `mapstructure:"max_logs" json:"max_logs" yaml:"max_logs"`
		MaxLogSize          uint32 `mapstructure:"max_log_size" json:"max_log_size" yaml:"max_log_size"`
		MaxEvents           uint32 `mapstructure:"max_events" json:"max_events" yaml:"max_events"`
		MaxEventKindSize    uint32 `mapstructure:"max_event_kind_size" json:"max_event_kind_size" yaml:"max_event_kind_size"`
		MaxEventDataSize    uint32 `mapstructure:"max_event_data_size" json:"max_event_data_size" yaml:"max_event_data_size"`
		MaxStorageKeySize   uint32 `mapstructure:"max_storage_key_size" json:"max_storage_key_size" yaml:"max_storage_key_size"`
		MaxStorageValueSize uint32 `mapstructure:"max_storage_value_size" json:"max_storage_value_size" yaml:"max_storage_value_size"`
	} `mapstructure:"runtime" json:"runtime" yaml:"runtime"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// setDefaults installs the factory defaults before any file or env var
// is applied, so a node started with zero configuration still behaves
// sanely.
func setDefaults(v *viper.Viper) {
	v.SetDefault("node.log_level", "info")
	v.SetDefault("network.listen_addr", "/ip4/0.0.0.0/tcp/2427")
	v.SetDefault("network.discovery_tag", "calimero")
	v.SetDefault("network.max_peers", 64)
	v.SetDefault("network.gossip_max_size", 1<<20)
	v.SetDefault("network.stream_max_frame", 1<<20)
	v.SetDefault("network.dial_timeout", 10*time.Second)

	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.timeout", 15*time.Second)
	v.SetDefault("sync.contexts_per_tick", 3)
	v.SetDefault("sync.peers_per_tick", 3)

	v.SetDefault("storage.db_path", "calimero.db")
	v.SetDefault("storage.blob_dir", "blobs")
	v.SetDefault("storage.blob_chunk_size", 256*1024)
	v.SetDefault("storage.tombstone_retain", 24*time.Hour)
	v.SetDefault("storage.gc_interval", 12*time.Hour)

	v.SetDefault("runtime.max_memory_pages", 1024)
	v.SetDefault("runtime.max_registers", 64)
	v.SetDefault("runtime.max_register_size", 4<<20)
	v.SetDefault("runtime.max_logs", 256)
	v.SetDefault("runtime.max_log_size", 16*1024)
	v.SetDefault("runtime.max_events", 256)
	v.SetDefault("runtime.max_event_kind_size", 128)
	v.SetDefault("runtime.max_event_data_size", 64*1024)
	v.SetDefault("runtime.max_storage_key_size", 1024)
	v.SetDefault("runtime.max_storage_value_size", 10<<20)
}

// Load reads the node's config file (if present) from path and merges
// CALIMERO_*-prefixed environment variable overrides on top. The result is
// stored in AppConfig and returned.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("load config %s", path))
		}
	}

	v.SetEnvPrefix("CALIMERO")
	v.AutomaticEnv()

	if err := v.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// YAML renders the effective configuration as a YAML document in the
// same shape the config file uses, for `calimerod config show`.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, utils.Wrap(err, "render config")
	}
	return out, nil
}

// LoadFromEnv loads configuration using the CALIMERO_CONFIG_FILE
// environment variable, falling back to pure defaults plus env overrides
// when it is unset.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("CALIMERO_CONFIG_FILE", ""))
}

// Validate performs basic sanity checks a malformed config file would
// otherwise surface only once the node starts touching the affected
// subsystem.
func (c *Config) Validate() error {
	if c.Network.GossipMaxSize <= 0 {
		return fmt.Errorf("config: network.gossip_max_size must be positive")
	}
	if c.Sync.ContextsPerTick <= 0 {
		return fmt.Errorf("config: sync.contexts_per_tick must be positive")
	}
	if c.Runtime.MaxMemoryPages == 0 {
		return fmt.Errorf("config: runtime.max_memory_pages must be positive")
	}
	return nil
}
