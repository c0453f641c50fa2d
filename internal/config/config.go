// Package config loads the TOML configuration file and maps it onto the
// typed configs of the engine, pool and retention packages.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kibitz-hq/kibitz/internal/engine"
	"github.com/kibitz-hq/kibitz/internal/env"
	"github.com/kibitz-hq/kibitz/internal/logger"
	"github.com/kibitz-hq/kibitz/internal/pool"
	"github.com/kibitz-hq/kibitz/internal/retention"
	"github.com/kibitz-hq/kibitz/internal/tls"
)

// Config represents the top-level TOML structure.
type Config struct {
	Server    Server    `toml:"server" mapstructure:"server"`
	Pool      Pool      `toml:"pool" mapstructure:"pool"`
	Engine    Engine    `toml:"engine" mapstructure:"engine"`
	Log       Log       `toml:"log" mapstructure:"log"`
	Store     Store     `toml:"store" mapstructure:"store"`
	History   History   `toml:"history" mapstructure:"history"`
	Retention Retention `toml:"retention" mapstructure:"retention"`
}

type Server struct {
	Listen       string        `toml:"listen" mapstructure:"listen"`
	BasePath     string        `toml:"base_path" mapstructure:"base_path"`
	Metrics      *bool         `toml:"metrics" mapstructure:"metrics"`
	ReadTimeout  time.Duration `toml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `toml:"idle_timeout" mapstructure:"idle_timeout"`
	TLS          *tls.Config   `toml:"tls" mapstructure:"tls"`
}

type Pool struct {
	Size     int `toml:"size" mapstructure:"size"`
	MaxQueue int `toml:"max_queue" mapstructure:"max_queue"`
}

type Engine struct {
	Name        string            `toml:"name" mapstructure:"name"`
	Command     string            `toml:"command" mapstructure:"command"`
	Args        []string          `toml:"args" mapstructure:"args"`
	Env         []string          `toml:"env" mapstructure:"env"`
	EnvFiles    []string          `toml:"env_files" mapstructure:"env_files"`
	WorkDir     string            `toml:"workdir" mapstructure:"workdir"`
	MultiPV     int               `toml:"multipv" mapstructure:"multipv"`
	Threads     int               `toml:"threads" mapstructure:"threads"`
	MaxDepth    int               `toml:"max_depth" mapstructure:"max_depth"`
	Options     map[string]string `toml:"options" mapstructure:"options"`
	InitTimeout time.Duration     `toml:"init_timeout" mapstructure:"init_timeout"`
	EvalTimeout time.Duration     `toml:"eval_timeout" mapstructure:"eval_timeout"`
	QuitGrace   time.Duration     `toml:"quit_grace" mapstructure:"quit_grace"`
}

type Log struct {
	Level      string `toml:"level" mapstructure:"level"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type Store struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type History struct {
	Sinks []string `toml:"sinks" mapstructure:"sinks"`
}

type Retention struct {
	// Schedule is a standard cron expression. Empty with a positive
	// MaxAge defaults to a daily run.
	Schedule string        `toml:"schedule" mapstructure:"schedule"`
	MaxAge   time.Duration `toml:"max_age" mapstructure:"max_age"`
}

// Load reads a TOML config file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/api/v1"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Retention.Schedule == "" && c.Retention.MaxAge > 0 {
		c.Retention.Schedule = "0 3 * * *"
	}
}

func (c *Config) validate() error {
	if c.Engine.Command == "" {
		return fmt.Errorf("engine command is required")
	}
	if c.Pool.Size < 0 {
		return fmt.Errorf("pool size cannot be negative")
	}
	if c.Pool.MaxQueue < 0 {
		return fmt.Errorf("pool max_queue cannot be negative")
	}
	if c.Retention.Schedule != "" && c.Retention.MaxAge <= 0 {
		return fmt.Errorf("retention schedule %q requires a positive max_age", c.Retention.Schedule)
	}
	if t := c.Server.TLS; t != nil && t.Enabled {
		if (t.CertFile == "") != (t.KeyFile == "") {
			return fmt.Errorf("server tls requires both cert_file and key_file")
		}
		if t.CertFile == "" && t.Dir == "" {
			return fmt.Errorf("server tls enabled but no cert_file/key_file or dir configured")
		}
	}
	return nil
}

// MetricsEnabled reports whether the /metrics endpoint should be exposed.
// Enabled unless the config says otherwise.
func (c *Config) MetricsEnabled() bool {
	if c.Server.Metrics == nil {
		return true
	}
	return *c.Server.Metrics
}

// EngineConfig builds the driver template from the [engine] and [log]
// sections. Environment files are merged first, then the inline env list
// overrides, and the command path is expanded against the OS environment.
func (c *Config) EngineConfig() (engine.Config, error) {
	env, err := mergeEnv(c.Engine.EnvFiles, c.Engine.Env)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Name:        c.Engine.Name,
		Command:     os.ExpandEnv(c.Engine.Command),
		Args:        c.Engine.Args,
		Env:         env,
		WorkDir:     c.Engine.WorkDir,
		MultiPV:     c.Engine.MultiPV,
		Threads:     c.Engine.Threads,
		MaxDepth:    c.Engine.MaxDepth,
		Options:     c.Engine.Options,
		InitTimeout: c.Engine.InitTimeout,
		EvalTimeout: c.Engine.EvalTimeout,
		QuitGrace:   c.Engine.QuitGrace,
		Log: logger.Config{
			Dir:        c.Log.Dir,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}, nil
}

// PoolConfig builds the pool configuration around the engine template.
func (c *Config) PoolConfig() (pool.Config, error) {
	ecfg, err := c.EngineConfig()
	if err != nil {
		return pool.Config{}, err
	}
	return pool.Config{
		Size:     c.Pool.Size,
		MaxQueue: c.Pool.MaxQueue,
		Engine:   ecfg,
	}, nil
}

// RetentionConfig maps the [retention] section.
func (c *Config) RetentionConfig() retention.Config {
	return retention.Config{
		Schedule: c.Retention.Schedule,
		MaxAge:   c.Retention.MaxAge,
	}
}

// mergeEnv loads KEY=VALUE pairs from each env file in order, applies the
// inline overrides last and returns a sorted slice with ${VAR} expansion.
func mergeEnv(files, overrides []string) ([]string, error) {
	if len(files) == 0 && len(overrides) == 0 {
		return nil, nil
	}
	e := env.New()
	for _, p := range files {
		if err := e.LoadFile(p); err != nil {
			return nil, err
		}
	}
	for _, kv := range overrides {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			e.Set(kv[:i], kv[i+1:])
		}
	}
	return e.Overrides(), nil
}
