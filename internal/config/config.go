package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config holds the server's startup configuration. Values come from an
// optional TOML file overridden by command-line flags; keys the file does
// not set keep the defaults below.
type Config struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// Directory and filename the CONFIG GET surface reports for RDB
	// persistence.
	Dir        string `toml:"dir"`
	DBFilename string `toml:"dbfilename"`

	// Primary to replicate from. Empty host means this node is a primary.
	ReplicaOfHost string `toml:"replicaof_host"`
	ReplicaOfPort int    `toml:"replicaof_port"`

	MaxConnections int `toml:"max_connections"`
}

func Default() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           6379,
		Dir:            ".",
		DBFilename:     "dump.rdb",
		MaxConnections: 10000,
	}
}

// Load reads a TOML configuration file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %s", path)
	}
	return cfg, nil
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("invalid port %d", c.Port)
	}
	if c.IsReplica() {
		if c.ReplicaOfPort < 1 || c.ReplicaOfPort > 65535 {
			return errors.Errorf("invalid primary port %d", c.ReplicaOfPort)
		}
	}
	if c.MaxConnections < 1 {
		return errors.Errorf("invalid max connections %d", c.MaxConnections)
	}
	return nil
}

// IsReplica reports whether this node starts as a replica.
func (c *Config) IsReplica() bool {
	return c.ReplicaOfHost != ""
}

// Get answers a single CONFIG GET parameter lookup.
func (c *Config) Get(key string) (string, bool) {
	switch key {
	case "dir":
		return c.Dir, true
	case "dbfilename":
		return c.DBFilename, true
	default:
		return "", false
	}
}
