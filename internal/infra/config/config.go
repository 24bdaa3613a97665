package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Queue    QueueConfig    `mapstructure:"queue" yaml:"queue"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`

	Port string `mapstructure:"port" yaml:"port"`
}

type DownloadConfig struct {
	// Dir is where completed files land. Applies to jobs started after a
	// change; running transfers keep their original destination.
	Dir        string `mapstructure:"dir" yaml:"dir"`
	TempSuffix string `mapstructure:"temp_suffix" yaml:"temp_suffix"`

	// CookiesFile is handed to the resolver untouched. The core never
	// reads it.
	CookiesFile string `mapstructure:"cookies_file" yaml:"cookies_file"`
}

type QueueConfig struct {
	MaxConcurrent    int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	MaxRetries       int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ProgressInterval time.Duration `mapstructure:"progress_interval" yaml:"progress_interval"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

type StoreConfig struct {
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// DefaultDownloadDir is a "grabd" folder under the user's Videos directory,
// falling back to the home directory when Videos cannot be determined.
func DefaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./downloads"
	}
	return filepath.Join(home, "Videos", "grabd")
}

func Load(path string) (*Config, error) {
	v := viper.New()

	// Set Defaults
	v.SetDefault("port", "8080")
	v.SetDefault("download.dir", DefaultDownloadDir())
	v.SetDefault("download.temp_suffix", ".part")
	v.SetDefault("queue.max_concurrent", 2)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.retry_backoff", "2s")
	v.SetDefault("queue.idle_timeout", "30s")
	v.SetDefault("queue.progress_interval", "500ms")
	v.SetDefault("log.path", "grabd.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// Support Environment Variables
	v.SetEnvPrefix("GRABD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Queue.MaxConcurrent < 1 {
		return fmt.Errorf("queue.max_concurrent must be at least 1, got %d", c.Queue.MaxConcurrent)
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries cannot be negative")
	}
	if c.Queue.ProgressInterval <= 0 {
		c.Queue.ProgressInterval = 500 * time.Millisecond
	}
	if c.Download.TempSuffix == "" {
		c.Download.TempSuffix = ".part"
	}
	if c.Download.Dir == "" {
		c.Download.Dir = DefaultDownloadDir()
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "grabd.db"
	}

	if c.Download.CookiesFile != "" {
		if _, err := os.Stat(c.Download.CookiesFile); err != nil {
			return fmt.Errorf("cookies file not readable: %w", err)
		}
	}

	return nil
}
