// Package config loads the coordinator configuration through viper: a
// project-level .lumenflow/config.yaml found by walking up from the working
// directory, then user-level fallbacks, with LF_-prefixed environment
// variables taking precedence over the file.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lumenflow/lumenflow/internal/debug"
)

var v *viper.Viper

// projectDir holds the directory containing the .lumenflow config dir when
// one was found during Initialize. Empty otherwise.
var projectDir string

// Initialize sets up the viper configuration. Called once at startup.
// Precedence for the file: project .lumenflow/config.yaml (walking up from
// CWD) > ~/.config/lf/config.yaml > ~/.lumenflow/config.yaml.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".lumenflow", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				projectDir = dir
				configFileSet = true
				break
			}
			// A .lumenflow dir without a config file still marks the project
			// root; defaults apply.
			if fi, err := os.Stat(filepath.Join(dir, ".lumenflow")); err == nil && fi.IsDir() {
				projectDir = dir
				break
			}
		}
	}
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "lf", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}
	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".lumenflow", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// LF_JSON, LF_ACTOR, LF_MAIN_BRANCH map to json, actor, main-branch.
	v.SetEnvPrefix("LF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("json", false)
	v.SetDefault("actor", "")
	v.SetDefault("main-branch", "main")
	v.SetDefault("remote", "origin")

	// Layout overrides, relative to the repo root. Empty means the built-in
	// default for that role.
	v.SetDefault("paths.wu-dir", "")
	v.SetDefault("paths.status-doc", "")
	v.SetDefault("paths.backlog-doc", "")
	v.SetDefault("paths.stamps-dir", "")
	v.SetDefault("paths.state-dir", "")
	v.SetDefault("paths.memory-dir", "")
	v.SetDefault("paths.worktrees-dir", "")
	v.SetDefault("paths.recovery-dir", "")

	v.SetDefault("lanes.wip", 1)
	v.SetDefault("coverage.rename-detection", false)
	v.SetDefault("claim.seed-symlinks", []string{})

	v.SetDefault("git.author", "")
	v.SetDefault("git.no-gpg-sign", false)

	v.SetDefault("memory.context-max-size", 16384)
	v.SetDefault("memory.recover-max-size", 8192)

	v.SetDefault("gates.command", "")
	v.SetDefault("gates.timeout", "10m")

	v.SetDefault("ai.api-key", "")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		debug.Logf("config: loaded %s\n", v.ConfigFileUsed())
	} else {
		debug.Logf("config: no config.yaml found; using defaults and environment\n")
	}
	return nil
}

// ProjectDir returns the directory whose .lumenflow dir anchored the config
// search, or "" when none was found.
func ProjectDir() string { return projectDir }

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringSlice retrieves a string slice configuration value.
func GetStringSlice(key string) []string {
	if v == nil {
		return nil
	}
	return v.GetStringSlice(key)
}

// Set overrides a configuration value (flag precedence is handled by the CLI).
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// GetActor resolves the identity recorded in audit entries and commits.
// Priority: --actor flag > LF_ACTOR / config actor > git user.name > hostname.
func GetActor(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if actor := GetString("actor"); actor != "" {
		return actor
	}
	cmd := exec.Command("git", "config", "user.name")
	if output, err := cmd.Output(); err == nil {
		if gitUser := strings.TrimSpace(string(output)); gitUser != "" {
			return gitUser
		}
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "unknown"
}
