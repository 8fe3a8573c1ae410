// Package config provides configuration management for the auditview helper.
// It uses koanf v2 to load configuration from a YAML file.
//
// Configuration is loaded from /etc/auditview/server.yaml by default. The
// helper must work on a stock install, so a missing file yields the defaults.
// The file decides which directory the helper exposes with elevated
// privileges, so Load only accepts a regular file owned by the trusted uid
// that neither group nor others can write.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	goyaml "gopkg.in/yaml.v3"
)

// DefaultConfigPath is the default location for the helper configuration file.
const DefaultConfigPath = "/etc/auditview/server.yaml"

// DefaultLogDir is the directory auditd writes its logs to.
const DefaultLogDir = "/var/log/audit"

// Config holds the helper configuration.
// Fields are tagged for both koanf (loading) and yaml (dumping).
type Config struct {
	// LogDir is the protected directory whose files are listed and served.
	// Must be absolute. Default: /var/log/audit.
	LogDir string `koanf:"log_dir" yaml:"log_dir"`

	// LogLevel controls the verbosity of helper logging.
	// Valid values: "debug", "info", "warn", "error".
	// Default: "info".
	LogLevel string `koanf:"log_level" yaml:"log_level"`

	// Connection selects where the connection comes from: "stdin" for a
	// socket passed by the viewer, "systemd" for socket activation with
	// Accept=yes. Default: "stdin".
	Connection string `koanf:"connection" yaml:"connection"`

	// MaxFileSize is the largest file, in bytes, the helper will buffer.
	// 0 means no limit.
	MaxFileSize int64 `koanf:"max_file_size" yaml:"max_file_size"`

	// NameMax overrides the file name length limit. 0 resolves it from the
	// file system holding LogDir. Values above 255 are capped.
	NameMax int `koanf:"name_max" yaml:"name_max"`
}

// Validation errors returned by Load.
var (
	ErrLogDirNotAbsolute  = errors.New("log_dir must be an absolute path")
	ErrInvalidConnection  = errors.New("connection must be \"stdin\" or \"systemd\"")
	ErrInvalidMaxFileSize = errors.New("max_file_size must not be negative")
	ErrInvalidNameMax     = errors.New("name_max must not be negative")
)

// ErrUntrustedConfig is returned by Load for a config file that someone
// other than the trusted owner could have written.
var ErrUntrustedConfig = errors.New("untrusted config file")

// Load reads configuration from the YAML file at path, which must be owned
// by owner (0 in production).
// A missing file is not an error; defaults are returned instead.
func Load(path string, owner int) (*Config, error) {
	k := koanf.New(".")

	info, err := os.Stat(path)
	switch {
	case err == nil:
		if err := checkTrusted(info, owner); err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrUntrustedConfig, path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// checkTrusted refuses anything but a regular file owned by owner and
// writable by nobody else.
func checkTrusted(info fs.FileInfo, owner int) error {
	if !info.Mode().IsRegular() {
		return errors.New("not a regular file")
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return errors.New("file owner unavailable")
	}
	if int(st.Uid) != owner {
		return fmt.Errorf("owned by uid %d, want %d", st.Uid, owner)
	}
	if info.Mode().Perm()&0o022 != 0 {
		return fmt.Errorf("mode %v is group or world writable", info.Mode().Perm())
	}
	return nil
}

// applyDefaults sets default values for optional configuration fields.
func (c *Config) applyDefaults() {
	if c.LogDir == "" {
		c.LogDir = DefaultLogDir
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Connection == "" {
		c.Connection = "stdin"
	}
	// A trailing slash would produce "dir//name" paths.
	c.LogDir = filepath.Clean(c.LogDir)
}

// validate checks that configuration fields are present and valid.
func (c *Config) validate() error {
	if !filepath.IsAbs(c.LogDir) {
		return ErrLogDirNotAbsolute
	}
	if c.Connection != "stdin" && c.Connection != "systemd" {
		return ErrInvalidConnection
	}
	if c.MaxFileSize < 0 {
		return ErrInvalidMaxFileSize
	}
	if c.NameMax < 0 {
		return ErrInvalidNameMax
	}
	return nil
}

// Dump renders the effective configuration as YAML.
func Dump(cfg *Config) ([]byte, error) {
	data, err := goyaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
