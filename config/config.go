// Package config loads keyfs settings from an optional YAML file, defaults
// and KEYFS_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, so fuse.debug is
// read from KEYFS_FUSE_DEBUG.
const EnvPrefix = "KEYFS"

type Config struct {
	Mountpoint string        `mapstructure:"mountpoint"`
	Fuse       FuseConfig    `mapstructure:"fuse"`
	Control    ControlConfig `mapstructure:"control"`
	Metrics    MetricsConfig `mapstructure:"metrics"`
	Keys       KeysConfig    `mapstructure:"keys"`
	Log        LogConfig     `mapstructure:"log"`
}

type FuseConfig struct {
	SingleThreaded bool   `mapstructure:"single_threaded"`
	AllowOther     bool   `mapstructure:"allow_other"`
	Debug          bool   `mapstructure:"debug"`
	FsName         string `mapstructure:"fs_name"`
}

type ControlConfig struct {
	Socket string `mapstructure:"socket"`
}

type MetricsConfig struct {
	// Listen is an optional TCP address serving /metrics in addition to the
	// control socket.
	Listen string `mapstructure:"listen"`
}

type KeysConfig struct {
	// Auto registers a passphrase-derived key for every created path.
	Auto          bool   `mapstructure:"auto"`
	PassphraseEnv string `mapstructure:"passphrase_env"`
	KDF           string `mapstructure:"kdf"`
	// Salt is mixed into every derivation. Changing it changes every
	// derived key.
	Salt string `mapstructure:"salt"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Supported values of keys.kdf.
const (
	KDFArgon2id = "argon2id"
	KDFPBKDF2   = "pbkdf2"
	KDFHKDF     = "hkdf"
)

// DefaultSocketPath places the control socket in the user's runtime
// directory when there is one.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "keyfs.sock")
	}
	return filepath.Join(os.TempDir(), "keyfs.sock")
}

// Load reads the configuration. With an empty configPath, config.yaml is
// looked up in the working directory and $HOME/.config/keyfs; a missing file
// is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "keyfs"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mountpoint", "")
	v.SetDefault("fuse.single_threaded", true)
	v.SetDefault("fuse.allow_other", false)
	v.SetDefault("fuse.debug", false)
	v.SetDefault("fuse.fs_name", "keyfs")
	v.SetDefault("control.socket", DefaultSocketPath())
	v.SetDefault("metrics.listen", "")
	v.SetDefault("keys.auto", false)
	v.SetDefault("keys.passphrase_env", "KEYFS_PASSPHRASE")
	v.SetDefault("keys.kdf", KDFArgon2id)
	v.SetDefault("keys.salt", "keyfs")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
}

// Validate rejects settings the rest of the program cannot act on.
func (c *Config) Validate() error {
	switch c.Keys.KDF {
	case KDFArgon2id, KDFPBKDF2, KDFHKDF:
	default:
		return fmt.Errorf("keys.kdf: unsupported value %q", c.Keys.KDF)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format: unsupported value %q", c.Log.Format)
	}
	if c.Control.Socket == "" {
		return fmt.Errorf("control.socket: must not be empty")
	}
	return nil
}
