package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for contactguard.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the binary itself, which
// shares the base name, is never picked up.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("contactguard")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: CONTACTGUARD_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("CONTACTGUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for contactguard.yaml.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".contactguard"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "contactguard"))
		}
	} else {
		paths = append(paths, "/etc/contactguard")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for contactguard.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "contactguard"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// envKeys lists every scalar key that may be overridden from the environment.
// Example: CONTACTGUARD_REDIS_ADDR overrides redis.addr.
var envKeys = []string{
	"server.http_addr",
	"server.log_level",
	"server.shutdown_timeout",

	"store.backend",
	"store.namespace",
	"store.timeout",
	"store.strict_admission",
	"store.cleanup_interval",

	"redis.addr",
	"redis.username",
	"redis.password",
	"redis.db",
	"redis.dial_timeout",
	"redis.read_timeout",
	"redis.write_timeout",
	"redis.pool_size",

	"rate_limit.max_requests",
	"rate_limit.window",
	"rate_limit.suspicious_max_requests",
	"rate_limit.suspicious_window",
	"rate_limit.ban_duration",
	"rate_limit.escalation_margin",
	"rate_limit.exempt_expression",
	"rate_limit.messages.rate_limited",
	"rate_limit.messages.banned",

	"upstream.url",
	"upstream.timeout",
	"upstream.path",

	"admin.enabled",
	"admin.token_hash",
	"admin.requests_per_minute",

	"events.output",
	"events.channel_size",
	"events.batch_size",
	"events.flush_interval",
	"events.buffer_size",
	"events.warning_threshold",

	"telemetry.tracing",

	"dev_mode",
}

// bindNestedEnvKeys binds all config keys for environment variable support.
// AutomaticEnv alone does not see nested keys during Unmarshal.
func bindNestedEnvKeys() {
	for _, k := range envKeys {
		_ = viper.BindEnv(k)
	}
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the validated Config.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
