package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/loykin/firestarter/internal/logger"
	"github.com/loykin/firestarter/internal/orchestrator"
	"github.com/loykin/firestarter/internal/process"
	"github.com/loykin/firestarter/internal/project"
	"github.com/loykin/firestarter/internal/schema"
	"github.com/spf13/viper"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "firestarter.toml"

// EnvPrefix prefixes environment overrides, e.g. FIRESTARTER_SERVER_LISTEN.
const EnvPrefix = "FIRESTARTER"

// Config represents the top-level TOML structure.
type Config struct {
	ProjectRoot      string `mapstructure:"project_root"`
	EnvFile          string `mapstructure:"env_file"`
	MigrationsDir    string `mapstructure:"migrations_dir"`
	MarkerDependency string `mapstructure:"marker_dependency"`
	DatabaseURLKey   string `mapstructure:"database_url_key"`
	AppKey           string `mapstructure:"app_key"`

	// UseOSEnv passes the tool's environment to spawned commands.
	UseOSEnv bool `mapstructure:"use_os_env"`
	// Env entries ("K=V") override the environment of spawned commands.
	Env []string `mapstructure:"env"`

	Commands      CommandsConfig      `mapstructure:"commands"`
	Schema        SchemaConfig        `mapstructure:"schema"`
	Server        ServerConfig        `mapstructure:"server"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Log           LogConfig           `mapstructure:"log"`
	Watch         WatchConfig         `mapstructure:"watch"`
	Notifications NotificationsConfig `mapstructure:"notifications"`

	// path of the loaded file, empty when running on defaults
	file string
}

// CommandsConfig holds the external commands. Each may be a string split on
// whitespace or a list of arguments.
type CommandsConfig struct {
	Runtime    process.Command `mapstructure:"runtime"`
	Build      process.Command `mapstructure:"build"`
	Release    process.Command `mapstructure:"release"`
	Run        process.Command `mapstructure:"run"`
	Migrate    process.Command `mapstructure:"migrate"`
	StopSignal string          `mapstructure:"stop_signal"`
}

type SchemaConfig struct {
	Table string `mapstructure:"table"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Color      bool   `mapstructure:"color"`
	TimeStamps bool   `mapstructure:"timestamps"`
	Source     bool   `mapstructure:"source"`
	// MirrorRun logs run process output line by line.
	MirrorRun bool              `mapstructure:"mirror_run"`
	File      logger.FileConfig `mapstructure:"file"`
}

type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

type NotificationsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

func setDefaults(v *viper.Viper) {
	cmds := orchestrator.DefaultCommands()
	v.SetDefault("project_root", ".")
	v.SetDefault("env_file", project.DefaultEnvFile)
	v.SetDefault("migrations_dir", project.DefaultMigrationsDir)
	v.SetDefault("marker_dependency", project.DefaultMarker)
	v.SetDefault("database_url_key", "DATABASE_URL")
	v.SetDefault("app_key", "NODE_APP")
	v.SetDefault("use_os_env", true)
	v.SetDefault("commands.runtime", cmds.Runtime.String())
	v.SetDefault("commands.build", cmds.Build.String())
	v.SetDefault("commands.release", cmds.Release.String())
	v.SetDefault("commands.run", cmds.Run.String())
	v.SetDefault("commands.migrate", cmds.Migrate.String())
	v.SetDefault("commands.stop_signal", "SIGINT")
	v.SetDefault("schema.table", schema.DefaultTable)
	v.SetDefault("server.listen", "127.0.0.1:8735")
	v.SetDefault("server.base_path", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9735")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", true)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.mirror_run", true)
	v.SetDefault("watch.enabled", true)
	v.SetDefault("watch.debounce", "250ms")
	v.SetDefault("notifications.buffer_size", 200)
}

// Load reads path, or DefaultFile from the working directory when path is
// empty. A missing default file is not an error; defaults apply.
// Environment variables prefixed with FIRESTARTER_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	v.SetConfigFile(path)
	loaded := true
	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		loaded = false
	}

	var c Config
	if err := v.Unmarshal(&c, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		commandHook(),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if loaded {
		c.file = path
	}
	c.resolvePaths()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// commandHook decodes a command from a string or a list of strings.
func commandHook() mapstructure.DecodeHookFuncType {
	cmdType := reflect.TypeOf(process.Command{})
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != cmdType {
			return data, nil
		}
		switch d := data.(type) {
		case string:
			return process.ParseCommand(d), nil
		case []any:
			parts := make([]string, 0, len(d))
			for _, p := range d {
				s, ok := p.(string)
				if !ok {
					return nil, fmt.Errorf("command arguments must be strings, got %T", p)
				}
				parts = append(parts, s)
			}
			if len(parts) == 0 {
				return process.Command{}, nil
			}
			return process.Command{Name: parts[0], Args: parts[1:]}, nil
		case []string:
			if len(d) == 0 {
				return process.Command{}, nil
			}
			return process.Command{Name: d[0], Args: append([]string(nil), d[1:]...)}, nil
		default:
			return data, nil
		}
	}
}

// resolvePaths makes the project root relative to the config file.
func (c *Config) resolvePaths() {
	if c.file == "" || filepath.IsAbs(c.ProjectRoot) {
		return
	}
	c.ProjectRoot = filepath.Join(filepath.Dir(c.file), c.ProjectRoot)
}

// File is the path of the loaded configuration file, empty on defaults.
func (c *Config) File() string { return c.file }

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if c.Commands.Build.Empty() {
		errs = append(errs, errors.New("commands.build is empty"))
	}
	if c.Commands.Release.Empty() {
		errs = append(errs, errors.New("commands.release is empty"))
	}
	if c.Commands.Run.Empty() {
		errs = append(errs, errors.New("commands.run is empty"))
	}
	if c.Commands.Migrate.Empty() {
		errs = append(errs, errors.New("commands.migrate is empty"))
	}
	if _, err := ParseSignal(c.Commands.StopSignal); err != nil {
		errs = append(errs, err)
	}
	if err := schema.ValidateTable(c.Schema.Table); err != nil {
		errs = append(errs, err)
	}
	switch logger.Format(strings.ToLower(c.Log.Format)) {
	case logger.FormatText, logger.FormatJSON, "":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	for _, kv := range c.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			errs = append(errs, fmt.Errorf("env entry %q is not K=V", kv))
		}
	}
	if c.DatabaseURLKey == "" {
		errs = append(errs, errors.New("database_url_key is empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// EnvVars returns the env entries as a map; later entries win and
// malformed ones are skipped.
func (c *Config) EnvVars() map[string]string {
	out := make(map[string]string, len(c.Env))
	for _, kv := range c.Env {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			out[k] = v
		}
	}
	return out
}

// OrchestratorCommands returns the configured commands.
func (c *Config) OrchestratorCommands() orchestrator.Commands {
	return orchestrator.Commands{
		Runtime: c.Commands.Runtime,
		Build:   c.Commands.Build,
		Release: c.Commands.Release,
		Run:     c.Commands.Run,
		Migrate: c.Commands.Migrate,
	}
}

// StopSignal returns the signal that terminates the run process.
func (c *Config) StopSignal() os.Signal {
	sig, err := ParseSignal(c.Commands.StopSignal)
	if err != nil {
		return os.Interrupt
	}
	return sig
}

// ParseSignal accepts INT, SIGINT, TERM, SIGTERM, KILL and SIGKILL in any case.
func ParseSignal(s string) (os.Signal, error) {
	switch strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "SIG") {
	case "", "INT", "INTERRUPT":
		return os.Interrupt, nil
	case "TERM":
		return syscall.SIGTERM, nil
	case "KILL":
		return os.Kill, nil
	default:
		return nil, fmt.Errorf("unsupported stop signal %q", s)
	}
}

// ProjectOptions returns the project location.
func (c *Config) ProjectOptions() project.Options {
	return project.Options{
		Root:          c.ProjectRoot,
		EnvFile:       c.EnvFile,
		MigrationsDir: c.MigrationsDir,
		Marker:        c.MarkerDependency,
	}
}

// LoggerConfig converts the [log] section.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      logger.Level(c.Log.Level),
			Format:     logger.Format(strings.ToLower(c.Log.Format)),
			Color:      c.Log.Color,
			TimeStamps: c.Log.TimeStamps,
			Source:     c.Log.Source,
		},
		File: c.Log.File,
	}
}
