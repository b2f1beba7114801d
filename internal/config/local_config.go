package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the subset of config.yaml read directly from the file
// rather than through the viper singleton. Useful when the working
// directory has changed since initialization, or before Initialize runs.
type LocalConfig struct {
	Repo     string `yaml:"repo"`
	TokenEnv string `yaml:"token-env"`
	Prefix   string `yaml:"prefix"`
	LogLevel string `yaml:"log-level"`
}

// LoadLocalConfig reads and parses config.yaml directly from the given
// .tether directory. Returns an empty LocalConfig (not nil) if the file is
// missing or unparseable.
func LoadLocalConfig(tetherDir string) *LocalConfig {
	data, err := os.ReadFile(filepath.Join(tetherDir, "config.yaml")) // #nosec G304 - path from tetherDir
	if err != nil {
		return &LocalConfig{}
	}

	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}
	return &cfg
}

// LoadLocalConfigWithEnv reads config.yaml and applies environment variable
// overrides. Environment variables take precedence over file values.
func LoadLocalConfigWithEnv(tetherDir string) *LocalConfig {
	cfg := LoadLocalConfig(tetherDir)
	if repo := os.Getenv("TETHER_REPO"); repo != "" {
		cfg.Repo = repo
	}
	if prefix := os.Getenv("TETHER_PREFIX"); prefix != "" {
		cfg.Prefix = prefix
	}
	return cfg
}
