package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/jamesainslie/rdtcap/pkg/logging"
	"github.com/jamesainslie/rdtcap/pkg/qos"
	"github.com/jamesainslie/rdtcap/pkg/qos/iface"
	"github.com/jamesainslie/rdtcap/pkg/qos/probe"
	"github.com/jamesainslie/rdtcap/pkg/qos/resctrl"
	"github.com/jamesainslie/rdtcap/pkg/qos/topology"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size" yaml:"max_size"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level        string            `mapstructure:"level" yaml:"level"`
	Path         string            `mapstructure:"path" yaml:"path"`
	ConsoleLevel string            `mapstructure:"console_level" yaml:"console_level"`
	Rotation     RotationConfig    `mapstructure:"rotation" yaml:"rotation"`
	Components   map[string]string `mapstructure:"components" yaml:"components"`
}

// ResctrlConfig configures the OS-mediated interface.
type ResctrlConfig struct {
	Root      string `mapstructure:"root" yaml:"root"`
	AutoMount bool   `mapstructure:"auto_mount" yaml:"auto_mount"`
}

// Config represents the application configuration.
type Config struct {
	Interface string `mapstructure:"interface" yaml:"interface"`
	// InterfaceOverride mirrors RDT_IFACE, the out-of-band interface
	// restriction.
	InterfaceOverride string        `mapstructure:"interface_override" yaml:"interface_override"`
	LockPath          string        `mapstructure:"lock_path" yaml:"lock_path"`
	LockTimeout       time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	Resctrl           ResctrlConfig `mapstructure:"resctrl" yaml:"resctrl"`
	SysfsRoot         string        `mapstructure:"sysfs_root" yaml:"sysfs_root"`
	ProcfsRoot        string        `mapstructure:"procfs_root" yaml:"procfs_root"`
	DevRoot           string        `mapstructure:"dev_root" yaml:"dev_root"`
	Logging           LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// Load loads configuration from file and environment variables.
// Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/rdtcap/config.yaml
//   - $HOME/.config/rdtcap/config.yaml
//
// Environment variables are prefixed with RDTCAP_ (e.g. RDTCAP_LOCK_PATH).
// RDT_IFACE is read as interface_override.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		v.AddConfigPath(filepath.Join(xdgConfigHome, "rdtcap"))
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	v.AddConfigPath(filepath.Join(homeDir, ".config", "rdtcap"))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("interface_override", iface.OverrideEnv); err != nil {
		return nil, fmt.Errorf("binding %s: %w", iface.OverrideEnv, err)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Logging.Path, err = ExpandPath(cfg.Logging.Path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interface", DefaultInterface)
	v.SetDefault("interface_override", "")
	v.SetDefault("lock_path", DefaultLockPath)
	v.SetDefault("lock_timeout", DefaultLockTimeout)
	v.SetDefault("resctrl.root", DefaultResctrlRoot)
	v.SetDefault("resctrl.auto_mount", true)
	v.SetDefault("sysfs_root", DefaultSysfsRoot)
	v.SetDefault("procfs_root", DefaultProcfsRoot)
	v.SetDefault("dev_root", DefaultDevRoot)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "") // Empty means logging.DefaultLogPath
	v.SetDefault("logging.console_level", "")
	v.SetDefault("logging.rotation.max_size", DefaultLogMaxSize)
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.components", map[string]string{})
}

// Validate checks the values Load cannot type-check.
func (c *Config) Validate() error {
	if _, err := iface.Parse(c.Interface); err != nil {
		return fmt.Errorf("interface: %w", err)
	}
	if c.InterfaceOverride != "" {
		upper := strings.ToUpper(c.InterfaceOverride)
		if !strings.HasPrefix(upper, "OS") && !strings.HasPrefix(upper, "MSR") {
			return fmt.Errorf("%s: invalid value %q", iface.OverrideEnv, c.InterfaceOverride)
		}
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("lock_timeout: negative duration %s", c.LockTimeout)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if _, err := humanize.ParseBytes(c.Logging.Rotation.MaxSize); err != nil {
		return fmt.Errorf("logging.rotation.max_size: %w", err)
	}
	return nil
}

// LibraryConfig returns the library-level configuration.
func (c *Config) LibraryConfig() (qos.Config, error) {
	inter, err := iface.Parse(c.Interface)
	if err != nil {
		return qos.Config{}, err
	}
	return qos.Config{Interface: inter}, nil
}

// LibraryOptions returns the qos.New options that place the library on the
// configured paths.
func (c *Config) LibraryOptions() []qos.Option {
	override := c.InterfaceOverride
	return []qos.Option{
		qos.WithLockPath(c.LockPath),
		qos.WithLockTimeout(c.LockTimeout),
		qos.WithProber(probe.NewDevCPU(c.DevRoot)),
		qos.WithTopologyProvider(topology.NewSysfsProvider(c.SysfsRoot)),
		qos.WithResctrl(resctrl.New(
			resctrl.WithRoot(c.Resctrl.Root),
			resctrl.WithProcRoot(c.ProcfsRoot),
			resctrl.WithSysRoot(c.SysfsRoot),
		)),
		qos.WithAutoMount(c.Resctrl.AutoMount),
		qos.WithGetenv(func(key string) string {
			if key == iface.OverrideEnv {
				return override
			}
			return os.Getenv(key)
		}),
	}
}

// LogConfig converts the logging section for logging.Init.
func (c *Config) LogConfig() (logging.Config, error) {
	size, err := humanize.ParseBytes(c.Logging.Rotation.MaxSize)
	if err != nil {
		return logging.Config{}, fmt.Errorf("logging.rotation.max_size: %w", err)
	}
	path := c.Logging.Path
	if path == "" {
		path = logging.DefaultLogPath()
	}
	return logging.Config{
		Level:        c.Logging.Level,
		Path:         path,
		ConsoleLevel: c.Logging.ConsoleLevel,
		Components:   c.Logging.Components,
		Rotation: logging.RotationConfig{
			MaxSize:    int64(size),
			MaxAge:     c.Logging.Rotation.MaxAge,
			MaxBackups: c.Logging.Rotation.MaxBackups,
		},
	}, nil
}

// ConfigDir returns $XDG_CONFIG_HOME/rdtcap, falling back to
// ~/.config/rdtcap.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "rdtcap"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "rdtcap"), nil
}

// StateDir returns $XDG_STATE_HOME/rdtcap/ for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "rdtcap")
}

// EnsureStateDir creates the state directory if it doesn't exist.
func EnsureStateDir() error {
	if err := os.MkdirAll(StateDir(), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	return nil
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, path[1:]), nil
}

// WriteDefault writes a commented default config file unless one exists.
// It returns the path of the file.
func WriteDefault() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}

	content := fmt.Sprintf(`# rdtcap configuration

# Hardware access: msr, os or os-resctrl-mon
interface: %s

# Lock shared with every process driving the QoS hardware
lock_path: %s
# 0s waits forever
lock_timeout: 0s

resctrl:
  root: %s
  # Mount resctrl when an OS interface is selected and it is not mounted
  auto_mount: true

logging:
  # Log level: debug, info, warn, error
  level: info
  # Empty means $XDG_STATE_HOME/rdtcap/rdtcap.log
  path: ""
  # Mirror entries at or above this level to stderr; empty disables
  console_level: ""
  rotation:
    max_size: %s
    max_age: 30       # days
    max_backups: 5
  # Per-component log levels: discovery, lifecycle, lock, resctrl, topology
  components: {}
`, DefaultInterface, DefaultLockPath, DefaultResctrlRoot, DefaultLogMaxSize)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}
	return path, nil
}
