package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/jameshyojaelee/omnispatial/errors"
)

// ProjectFile is the per-project configuration file searched for upwards
// from the working directory.
const ProjectFile = "omnispatial.toml"

// envReplacer maps writer.compressor to OMNISPATIAL_WRITER_COMPRESSOR.
var envReplacer = strings.NewReplacer(".", "_")

var globalConfig *Config
var viperInstance *viper.Viper

// Load reads the configuration once and caches it.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}
	cfg, err := LoadWithViper(initViper())
	if err != nil {
		return nil, err
	}
	globalConfig = cfg
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}

// LoadFromFile loads configuration from a specific file path on top of the
// defaults. Environment variables are not consulted.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}
	cfg, err := LoadWithViper(v)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", configPath)
	}
	return cfg, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()
	v.SetEnvPrefix("OMNISPATIAL")
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()
	BindSensitiveEnvVars(v)

	SetDefaults(v)
	mergeConfigFiles(v, configPaths())

	viperInstance = v
	return v
}

// UserDir returns ~/.omnispatial.
func UserDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".omnispatial"
	}
	return filepath.Join(home, ".omnispatial")
}

// UserConfigPath returns ~/.omnispatial/config.toml.
func UserConfigPath() string {
	return filepath.Join(UserDir(), "config.toml")
}

// configPaths lists config files in increasing precedence.
func configPaths() []string {
	paths := []string{
		"/etc/omnispatial/config.toml",
		UserConfigPath(),
	}
	if project := findProjectConfig(); project != "" {
		paths = append(paths, project)
	}
	return paths
}

// findProjectConfig walks up from the working directory and returns the
// first omnispatial.toml found, or "".
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ProjectFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// mergeConfigFiles merges each existing file into v's config layer, so
// later files win and environment variables still override them.
func mergeConfigFiles(v *viper.Viper, paths []string) {
	for _, configPath := range paths {
		if _, err := os.Stat(configPath); err != nil {
			continue
		}
		tmp := viper.New()
		tmp.SetConfigFile(configPath)
		tmp.SetConfigType("toml")
		if err := tmp.ReadInConfig(); err != nil {
			continue
		}
		_ = v.MergeConfigMap(tmp.AllSettings())
	}
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
