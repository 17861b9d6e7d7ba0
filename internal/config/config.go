package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/trayvisor/internal/logger"
	"github.com/loykin/trayvisor/internal/process"
	"github.com/loykin/trayvisor/internal/supervisor"
)

// Names of the files kept in the config directory.
const (
	DirName         = ".smart-proxy"
	ConfigFileName  = "trayvisor.toml"
	OutputFileName  = "output.log"
	LockFileName    = "trayvisor.lock"
	HistoryFileName = "history.db"
	ExecutableName  = "smart-proxy-gui"

	DefaultEndpoint      = "http://127.0.0.1:10086"
	DefaultControlListen = "127.0.0.1:10087"
	DefaultGrace         = 3 * time.Second
	DefaultSampleEvery   = 5 * time.Second

	EnvPrefix = "TRAYVISOR"
)

// Config is the top-level TOML structure.
type Config struct {
	Dir      string                   `mapstructure:"dir"`
	Endpoint string                   `mapstructure:"endpoint"`
	Grace    time.Duration            `mapstructure:"grace"`
	Service  ServiceConfig            `mapstructure:"service"`
	Restart  supervisor.RestartPolicy `mapstructure:"restart"`
	Output   logger.Rotation          `mapstructure:"output"`
	Log      logger.AppConfig         `mapstructure:"log"`
	Control  ControlConfig            `mapstructure:"control"`
	Metrics  MetricsConfig            `mapstructure:"metrics"`
	History  HistoryConfig            `mapstructure:"history"`
}

type ServiceConfig struct {
	Name       string   `mapstructure:"name"`
	Executable string   `mapstructure:"executable"`
	Args       []string `mapstructure:"args"`
	WorkDir    string   `mapstructure:"workdir"`
	Env        []string `mapstructure:"env"`
	EnvFiles   []string `mapstructure:"env_files"`
	LogFile    string   `mapstructure:"log_file"`
	AutoStart  bool     `mapstructure:"auto_start"`
}

type ControlConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type MetricsConfig struct {
	Listen         string        `mapstructure:"listen"` // empty disables /metrics
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

// HistoryConfig selects the lifecycle event store. An empty DSN means the
// SQLite file in the config directory; postgres:// DSNs use pgx.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// Default returns the built-in configuration rooted at ~/.smart-proxy.
func Default() Config {
	return Config{
		Dir:      DefaultDir(),
		Endpoint: DefaultEndpoint,
		Grace:    DefaultGrace,
		Service: ServiceConfig{
			Name:      ExecutableName,
			AutoStart: true,
		},
		Control: ControlConfig{Enabled: true, Listen: DefaultControlListen},
		Metrics: MetricsConfig{SampleInterval: DefaultSampleEvery},
		Log:     logger.AppConfig{Level: "info", Format: "color"},
	}
}

// DefaultDir is ~/.smart-proxy, or a relative .smart-proxy when the home
// directory is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return DirName
	}
	return filepath.Join(home, DirName)
}

// Load reads path (or <dir>/trayvisor.toml when path is empty and the file
// exists) over the defaults, then applies TRAYVISOR_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	v := viper.New()
	setDefaults(v, cfg)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		dir := v.GetString("dir")
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("dir", c.Dir)
	v.SetDefault("endpoint", c.Endpoint)
	v.SetDefault("grace", c.Grace)
	v.SetDefault("service.name", c.Service.Name)
	v.SetDefault("service.executable", "")
	v.SetDefault("service.args", []string{})
	v.SetDefault("service.workdir", "")
	v.SetDefault("service.env", []string{})
	v.SetDefault("service.env_files", []string{})
	v.SetDefault("service.log_file", "")
	v.SetDefault("service.auto_start", c.Service.AutoStart)
	v.SetDefault("restart.max_retries", 0)
	v.SetDefault("restart.backoff", []string{})
	v.SetDefault("restart.initial_delay", time.Duration(0))
	v.SetDefault("restart.multiplier", 0.0)
	v.SetDefault("restart.max_delay", time.Duration(0))
	v.SetDefault("restart.stable_after", time.Duration(0))
	v.SetDefault("output.max_size_mb", 0)
	v.SetDefault("output.max_backups", 0)
	v.SetDefault("output.max_age_days", 0)
	v.SetDefault("output.compress", false)
	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)
	v.SetDefault("log.file", "")
	v.SetDefault("log.show_time", false)
	v.SetDefault("control.enabled", c.Control.Enabled)
	v.SetDefault("control.listen", c.Control.Listen)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.sample_interval", c.Metrics.SampleInterval)
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")
}

// resolve fills paths that depend on the config directory.
func (c *Config) resolve() {
	if c.Dir == "" {
		c.Dir = DefaultDir()
	}
	if c.Service.Executable == "" {
		c.Service.Executable = DefaultExecutable()
	}
	if c.Service.WorkDir == "" {
		c.Service.WorkDir = c.Dir
	}
	c.Service.LogFile = c.inDir(c.Service.LogFile, OutputFileName)
	if c.Log.File != "" {
		c.Log.File = c.inDir(c.Log.File, "")
	}
	for i, f := range c.Service.EnvFiles {
		c.Service.EnvFiles[i] = c.inDir(f, "")
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	if c.Metrics.SampleInterval <= 0 {
		c.Metrics.SampleInterval = DefaultSampleEvery
	}
}

func (c Config) inDir(p, def string) string {
	if p == "" {
		p = def
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Dir) == "" {
		return errors.New("dir is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("endpoint %q must be an absolute URL", c.Endpoint)
	}
	if err := c.Restart.Validate(); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	if c.Control.Enabled && c.Control.Listen == "" {
		return errors.New("control.listen is required when the control API is enabled")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// LockPath is the single-instance lock file.
func (c Config) LockPath() string { return filepath.Join(c.Dir, LockFileName) }

// HistoryDSN returns the configured DSN or the default SQLite file.
func (c Config) HistoryDSN() string {
	if c.History.DSN != "" {
		return c.History.DSN
	}
	return filepath.Join(c.Dir, HistoryFileName)
}

// ServiceSpec builds the launch description. Variables from env_files are
// applied first, then the inline env list.
func (c Config) ServiceSpec() (process.Spec, error) {
	var overrides []string
	for _, f := range c.Service.EnvFiles {
		pairs, err := LoadEnvFile(f)
		if err != nil {
			return process.Spec{}, fmt.Errorf("env file %s: %w", f, err)
		}
		overrides = append(overrides, pairs...)
	}
	overrides = append(overrides, c.Service.Env...)
	spec := process.Spec{
		Name:       c.Service.Name,
		Executable: c.Service.Executable,
		Args:       append([]string(nil), c.Service.Args...),
		WorkDir:    c.Service.WorkDir,
		Env:        overrides,
		LogPath:    c.Service.LogFile,
	}
	if err := spec.Validate(); err != nil {
		return process.Spec{}, err
	}
	return spec, nil
}
