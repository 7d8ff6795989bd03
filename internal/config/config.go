// This file defines the configuration structure for the application.
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port     int            `mapstructure:"port"`
	Database DatabaseConfig `mapstructure:"database"`
	Download DownloadConfig `mapstructure:"download"`
	Binaries BinariesConfig `mapstructure:"binaries"`
	Network  NetworkConfig  `mapstructure:"network"`
	Polling  PollingConfig  `mapstructure:"polling"`
	Retry    RetryConfig    `mapstructure:"retry"`
	History  HistoryConfig  `mapstructure:"history"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type DownloadConfig struct {
	Dir            string `mapstructure:"dir"`
	OutputTemplate string `mapstructure:"output_template"`
	// MetadataTimeoutSeconds bounds the optional title/thumbnail prefetch.
	MetadataTimeoutSeconds int `mapstructure:"metadata_timeout_seconds"`
}

// BinariesConfig locates the external tools. PackagedDir is searched before
// the host PATH.
type BinariesConfig struct {
	PackagedDir          string `mapstructure:"packaged_dir"`
	Downloader           string `mapstructure:"downloader"`
	Transcoder           string `mapstructure:"transcoder"`
	Prober               string `mapstructure:"prober"`
	MinDownloaderVersion string `mapstructure:"min_downloader_version"`
	ReprobeIntervalHours int    `mapstructure:"reprobe_interval_hours"`
}

type NetworkConfig struct {
	Proxy              string `mapstructure:"proxy"`
	CookiesFile        string `mapstructure:"cookies_file"`
	CookiesFromBrowser string `mapstructure:"cookies_from_browser"`
}

type PollingConfig struct {
	Enabled                bool `mapstructure:"enabled"`
	TickSeconds            int  `mapstructure:"tick_seconds"`
	DefaultIntervalMinutes int  `mapstructure:"default_interval_minutes"`
	FetchTimeoutSeconds    int  `mapstructure:"fetch_timeout_seconds"`
	MaxItems               int  `mapstructure:"max_items"`
}

type RetryConfig struct {
	BackoffSeconds int `mapstructure:"backoff_seconds"`
}

type HistoryConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

func (p PollingConfig) Tick() time.Duration {
	return time.Duration(p.TickSeconds) * time.Second
}

func (p PollingConfig) DefaultInterval() time.Duration {
	return time.Duration(p.DefaultIntervalMinutes) * time.Minute
}

func (p PollingConfig) FetchTimeout() time.Duration {
	return time.Duration(p.FetchTimeoutSeconds) * time.Second
}

func (r RetryConfig) Backoff() time.Duration {
	return time.Duration(r.BackoffSeconds) * time.Second
}

func (d DownloadConfig) MetadataTimeout() time.Duration {
	return time.Duration(d.MetadataTimeoutSeconds) * time.Second
}

func (b BinariesConfig) ReprobeInterval() time.Duration {
	return time.Duration(b.ReprobeIntervalHours) * time.Hour
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")
	v.AddConfigPath(".")

	// --- Environment Variable Overrides ---
	// e.g., MEDIAFLOW_DATABASE_PATH will override the `database.path` key.
	v.SetEnvPrefix("MEDIAFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// Config file was found but another error was produced
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("database.path", "./mediaflow.db")

	v.SetDefault("download.dir", "./downloads")
	v.SetDefault("download.output_template", "%(title)s [%(id)s].%(ext)s")
	v.SetDefault("download.metadata_timeout_seconds", 20)

	v.SetDefault("binaries.packaged_dir", "./bin")
	v.SetDefault("binaries.downloader", "yt-dlp")
	v.SetDefault("binaries.transcoder", "ffmpeg")
	v.SetDefault("binaries.prober", "ffprobe")
	v.SetDefault("binaries.min_downloader_version", "2023.1.6")
	v.SetDefault("binaries.reprobe_interval_hours", 24)

	v.SetDefault("network.proxy", "")
	v.SetDefault("network.cookies_file", "")
	v.SetDefault("network.cookies_from_browser", "")

	v.SetDefault("polling.enabled", true)
	v.SetDefault("polling.tick_seconds", 60)
	v.SetDefault("polling.default_interval_minutes", 60)
	v.SetDefault("polling.fetch_timeout_seconds", 120)
	v.SetDefault("polling.max_items", 15)

	v.SetDefault("retry.backoff_seconds", 5)
	v.SetDefault("history.retention_days", 90)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
}

// loadDotEnv pulls .env files into the process environment so they can feed
// the MEDIAFLOW_ overrides. Variables already set are never replaced.
func loadDotEnv() {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		_ = godotenv.Load(envFile)
		return
	}
	for _, f := range []string{".env.local", ".env"} {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}
