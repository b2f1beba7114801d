// Package config manages tether's configuration: a per-project
// .tether/config.yaml discovered by walking up from the working directory,
// overridden by TETHER_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// v is the package-level viper instance. All accessors are nil-safe so
// callers never have to check whether Initialize ran.
var v *viper.Viper

// Initialize builds the viper instance: defaults, then config.yaml (if one
// is found), then environment overrides. Safe to call more than once; each
// call rebuilds the instance from scratch.
func Initialize() error {
	nv := viper.New()

	nv.SetDefault("repo", "")
	nv.SetDefault("token-env", "GITHUB_TOKEN")
	nv.SetDefault("prefix", "aw_")
	nv.SetDefault("log-level", "info")
	nv.SetDefault("enabled", []string{})
	nv.SetDefault("standalone", []string{"create_pull_request"})
	nv.SetDefault("custom", []string{})
	nv.SetDefault("timeout", 30*time.Second)

	nv.SetEnvPrefix("TETHER")
	nv.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	nv.AutomaticEnv()

	if dir, err := findProjectDir(); err == nil {
		nv.SetConfigName("config")
		nv.SetConfigType("yaml")
		nv.AddConfigPath(dir)
		// A missing file is fine; a malformed one is not.
		if err := nv.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return err
			}
		}
	}

	v = nv
	return nil
}

// findProjectDir walks up from the working directory looking for a .tether
// directory.
func findProjectDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return FindProjectDir(cwd)
}

// FindProjectDir walks up from start looking for a .tether directory.
// Callers use this to read the config of a project other than the working
// directory's, paired with LoadLocalConfig.
func FindProjectDir(start string) (string, error) {
	for dir := start; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, ".tether")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
	}
	return "", os.ErrNotExist
}

// Override sets a key directly on the active instance. Viper gives explicit
// sets precedence over file and environment values, which is exactly the
// flag-beats-config behavior callers want.
func Override(key string, value any) {
	if v == nil {
		return
	}
	v.Set(key, value)
}

// GetString returns the string value for key, or "" before Initialize.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool returns the boolean value for key, or false before Initialize.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt returns the integer value for key, or 0 before Initialize.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration returns the duration value for key, or 0 before Initialize.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringSlice returns the string-slice value for key, or nil before
// Initialize.
func GetStringSlice(key string) []string {
	if v == nil {
		return nil
	}
	return v.GetStringSlice(key)
}

// AllSettings returns every effective setting, or an empty map before
// Initialize.
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// Repo splits the configured "owner/name" scope. ok is false when the
// setting is missing or malformed.
func Repo() (owner, name string, ok bool) {
	return SplitRepo(GetString("repo"))
}

// SplitRepo splits an "owner/name" scope string.
func SplitRepo(scope string) (owner, name string, ok bool) {
	owner, name, found := strings.Cut(scope, "/")
	if !found || owner == "" || name == "" {
		return "", "", false
	}
	return owner, name, true
}
