// Package config loads the optional dpdb configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable overriding the config file path.
const EnvPath = "DPDB_CONFIG"

// DefaultFile is the config file looked up in the working directory when
// EnvPath is unset.
const DefaultFile = "dpdb.yaml"

// Config carries the optional knobs. Zero values mean "use the built-in
// default".
type Config struct {
	// DumpDir is the destination directory for crash artifacts.
	DumpDir string `yaml:"dump_dir"`
	// Theme forces the display theme: "light" or "dark".
	Theme string `yaml:"theme"`
	// Redact replaces the default credential-name patterns.
	Redact []string `yaml:"redact"`
}

// Save writes the config as YAML, the form Load reads back. It is used to
// hand an effective configuration down to a child process via EnvPath.
func Save(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Load reads the config file. A missing file yields the zero Config; a
// malformed one warns and degrades to the zero Config.
func Load() Config {
	path := os.Getenv(EnvPath)
	if path == "" {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: ignoring malformed config %s: %v\n", path, err)
		return Config{}
	}
	return cfg
}
