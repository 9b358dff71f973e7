// Package config provides configuration management for tvrec using Viper.
// It supports configuration from files, environment variables, a .env file
// and defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jmylchreest/tvrec/internal/urlutil"
)

// EnvPrefix is the prefix for environment overrides, e.g. TVREC_SERVER_PORT.
const EnvPrefix = "TVREC"

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultRateLimit       = 60
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute
	defaultPollTimeout     = 60
	defaultMessagesPerSec  = 1.0
	defaultTimezone        = "Asia/Kolkata"
	defaultUploadAttempts  = 3
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telegram  TelegramConfig  `mapstructure:"telegram" yaml:"telegram"`
	Playlists PlaylistsConfig `mapstructure:"playlists" yaml:"playlists"`
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	Upload    UploadConfig    `mapstructure:"upload" yaml:"upload"`
	History   HistoryConfig   `mapstructure:"history" yaml:"history"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	// RateLimit is the number of API requests allowed per minute per client IP.
	RateLimit int `mapstructure:"rate_limit" yaml:"rate_limit"`
	// APIToken is the bearer token required on /api/ routes. It may only be
	// empty when the API listens on a loopback address.
	APIToken string `mapstructure:"api_token" yaml:"api_token"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
	// Redact lists extra literal values masked in every log record.
	Redact []string `mapstructure:"redact" yaml:"redact"`
}

// TelegramConfig holds bot credentials and chat routing.
type TelegramConfig struct {
	Token string `mapstructure:"token" yaml:"token"`
	// APIEndpoint is the Bot API endpoint format for regular calls.
	APIEndpoint string `mapstructure:"api_endpoint" yaml:"api_endpoint"`
	// UploadAPIEndpoint is the endpoint for large uploads, normally a local
	// Bot API server that accepts files up to 2 GiB.
	UploadAPIEndpoint string  `mapstructure:"upload_api_endpoint" yaml:"upload_api_endpoint"`
	AdminIDs          []int64 `mapstructure:"admin_ids" yaml:"admin_ids"`
	StoreChatID       int64   `mapstructure:"store_chat_id" yaml:"store_chat_id"`
	LogChatID         int64   `mapstructure:"log_chat_id" yaml:"log_chat_id"`
	PollTimeout       int     `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	// MessagesPerSecond bounds message edits across all tasks.
	MessagesPerSecond float64 `mapstructure:"messages_per_second" yaml:"messages_per_second"`
}

// PlaylistsConfig holds the channel source configuration.
type PlaylistsConfig struct {
	// URLs are registered in order as p1, p2, ...
	URLs            []string `mapstructure:"urls" yaml:"urls"`
	CacheDir        string   `mapstructure:"cache_dir" yaml:"cache_dir"`
	CacheTTL        Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	FetchTimeout    Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	RefreshSchedule string   `mapstructure:"refresh_schedule" yaml:"refresh_schedule"`
}

// RecordingConfig holds capture and progress reporting settings.
type RecordingConfig struct {
	Dir             string   `mapstructure:"dir" yaml:"dir"`
	Timezone        string   `mapstructure:"timezone" yaml:"timezone"`
	PollInterval    Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MinEditInterval Duration `mapstructure:"min_edit_interval" yaml:"min_edit_interval"`
	// Tag is appended to every recording file name.
	Tag        string   `mapstructure:"tag" yaml:"tag"`
	TempMaxAge Duration `mapstructure:"temp_max_age" yaml:"temp_max_age"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path" yaml:"binary_path"` // empty = auto-detect
	ProbePath  string `mapstructure:"probe_path" yaml:"probe_path"`   // empty = auto-detect
	// CaptureInputArgs are extra ffmpeg arguments placed before -i on captures.
	CaptureInputArgs []string `mapstructure:"capture_input_args" yaml:"capture_input_args"`
}

// UploadConfig holds upload limits and retry policy.
type UploadConfig struct {
	MaxSize      ByteSize `mapstructure:"max_size" yaml:"max_size"`
	MaxAttempts  int      `mapstructure:"max_attempts" yaml:"max_attempts"`
	Backoff      Duration `mapstructure:"backoff" yaml:"backoff"`
	EditInterval Duration `mapstructure:"edit_interval" yaml:"edit_interval"`
}

// HistoryConfig controls retention of persisted recording history.
type HistoryConfig struct {
	Retention     Duration `mapstructure:"retention" yaml:"retention"`
	PruneSchedule string   `mapstructure:"prune_schedule" yaml:"prune_schedule"`
}

// LoadDotEnv loads environment variables from the given .env files (or
// ./.env). Missing files are ignored and existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// DecodeHook is the mapstructure hook used to unmarshal Config.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Example: TVREC_TELEGRAM_TOKEN=123:abc.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tvrec")
		v.AddConfigPath("$HOME/.tvrec")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(DecodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.api_token", "")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit", defaultRateLimit)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "tvrec.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.redact", []string{})

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.api_endpoint", "https://api.telegram.org/bot%s/%s")
	v.SetDefault("telegram.upload_api_endpoint", "http://localhost:8081/bot%s/%s")
	v.SetDefault("telegram.admin_ids", []int64{})
	v.SetDefault("telegram.store_chat_id", 0)
	v.SetDefault("telegram.log_chat_id", 0)
	v.SetDefault("telegram.poll_timeout", defaultPollTimeout)
	v.SetDefault("telegram.messages_per_second", defaultMessagesPerSec)

	v.SetDefault("playlists.urls", []string{})
	v.SetDefault("playlists.cache_dir", "m3u_cache")
	v.SetDefault("playlists.cache_ttl", "1h")
	v.SetDefault("playlists.fetch_timeout", "10s")
	v.SetDefault("playlists.refresh_schedule", "@every 6h")

	v.SetDefault("recording.dir", "recordings")
	v.SetDefault("recording.timezone", defaultTimezone)
	v.SetDefault("recording.poll_interval", "3s")
	v.SetDefault("recording.min_edit_interval", "1s")
	v.SetDefault("recording.tag", "@tvrec")
	v.SetDefault("recording.temp_max_age", "1d")

	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.capture_input_args", []string{})

	v.SetDefault("upload.max_size", "2GiB")
	v.SetDefault("upload.max_attempts", defaultUploadAttempts)
	v.SetDefault("upload.backoff", "5s")
	v.SetDefault("upload.edit_interval", "2s")

	v.SetDefault("history.retention", "30d")
	v.SetDefault("history.prune_schedule", "@daily")
}

// Validate checks the configuration for errors. Chat credentials are
// checked separately by ValidateBot since not every command needs them.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if err := c.Server.ValidateAuth(); err != nil {
		return err
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if _, err := time.LoadLocation(c.Recording.Timezone); err != nil {
		return fmt.Errorf("recording.timezone: %w", err)
	}
	if c.Recording.Dir == "" {
		return fmt.Errorf("recording.dir is required")
	}
	if c.Recording.PollInterval.Duration() <= 0 {
		return fmt.Errorf("recording.poll_interval must be positive")
	}

	if c.Upload.MaxAttempts < 1 {
		return fmt.Errorf("upload.max_attempts must be at least 1")
	}
	if c.Upload.MaxSize <= 0 {
		return fmt.Errorf("upload.max_size must be positive")
	}
	if c.Playlists.FetchTimeout.Duration() <= 0 {
		return fmt.Errorf("playlists.fetch_timeout must be positive")
	}
	for i, u := range c.Playlists.URLs {
		if err := urlutil.ValidateURL(u); err != nil {
			return fmt.Errorf("playlists.urls[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateBot checks the settings required to run the chat bot.
func (c *Config) ValidateBot() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if len(c.Telegram.AdminIDs) == 0 {
		return fmt.Errorf("telegram.admin_ids must list at least one user")
	}
	if c.Telegram.StoreChatID == 0 {
		return fmt.Errorf("telegram.store_chat_id is required")
	}
	if c.Telegram.MessagesPerSecond <= 0 {
		return fmt.Errorf("telegram.messages_per_second must be positive")
	}
	return nil
}

// ValidateAuth refuses an enabled API without a token on a non-loopback
// listener.
func (c *ServerConfig) ValidateAuth() error {
	if !c.Enabled || c.APIToken != "" || isLoopback(c.Host) {
		return nil
	}
	return fmt.Errorf("server.api_token is required when server.host %q is not a loopback address", c.Host)
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Location returns the configured recording time zone.
func (c *RecordingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsAdmin reports whether userID is in the admin allow-list.
func (c *TelegramConfig) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}
