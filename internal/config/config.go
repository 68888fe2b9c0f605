// Package config loads converge settings from .converge/config.yaml, the
// user config directory and CONVERGE_* environment variables via viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ProjectDirName is the per-project state directory.
const ProjectDirName = ".converge"

var v *viper.Viper

// Initialize sets up the viper configuration singleton, discovering the
// project from the working directory.
// Precedence: flags (applied by the CLI) > env > project config > user config > defaults.
func Initialize() error {
	return InitializeFrom("")
}

// InitializeFrom is Initialize with project discovery starting at start.
func InitializeFrom(start string) error {
	v = viper.New()
	v.SetConfigType("yaml")

	if projectDir, err := FindProjectDir(start); err == nil {
		v.SetConfigFile(filepath.Join(projectDir, "config.yaml"))
	} else if configDir, err := os.UserConfigDir(); err == nil {
		v.SetConfigFile(filepath.Join(configDir, "converge", "config.yaml"))
	}

	v.SetEnvPrefix("CONVERGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("json", false)
	v.SetDefault("actor", "")
	RegisterReviewDefaults()

	if _, err := os.Stat(v.ConfigFileUsed()); err != nil {
		// No config file is fine: defaults and env still apply.
		return nil
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// ResetForTesting drops the singleton so the next Initialize starts clean.
func ResetForTesting() {
	v = nil
}

// FindProjectDir walks up from start (or the working directory when empty)
// looking for a .converge directory and returns its path.
func FindProjectDir(start string) (string, error) {
	dir := start
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = cwd
	}
	for {
		candidate := filepath.Join(dir, ProjectDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s directory found (run 'converge init' first)", ProjectDirName)
		}
		dir = parent
	}
}

// ConfigFileUsed returns the config file viper read, or "".
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	if _, err := os.Stat(v.ConfigFileUsed()); err != nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringSlice retrieves a string slice configuration value
func GetStringSlice(key string) []string {
	if v == nil {
		return []string{}
	}
	return v.GetStringSlice(key)
}

// Set sets a configuration value for the current process only
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// IsSet reports whether key has a value from any source other than defaults
func IsSet(key string) bool {
	if v == nil {
		return false
	}
	return v.IsSet(key)
}

// AllSettings returns all configuration settings as a map
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}
