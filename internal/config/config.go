package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"crowd-radio/internal/encoder"
	"crowd-radio/internal/storage"
	"crowd-radio/internal/stream"
)

// Config represents the complete server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Encoder  EncoderConfig  `yaml:"encoder"`
	Radio    RadioConfig    `yaml:"radio"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP listener configuration.
type ServerConfig struct {
	Address        string   `yaml:"address" validate:"required,hostname_port"`
	AllowedOrigins []string `yaml:"allowed_origins" validate:"dive,required"`
	MaxStreamBytes int64    `yaml:"max_stream_bytes" validate:"gte=0"`
}

// StorageConfig contains on-disk layout and upload limits.
type StorageConfig struct {
	RecordingsDir  string `yaml:"recordings_dir" validate:"required"`
	ConvertedDir   string `yaml:"converted_dir" validate:"required,nefield=RecordingsDir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes" validate:"gt=0"`
	MaxSlots       int    `yaml:"max_slots" validate:"gte=2,lte=100"`
}

// DatabaseConfig contains station database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// EncoderConfig contains conversion configuration.
type EncoderConfig struct {
	Binary        string        `yaml:"binary" validate:"required"`
	SampleRate    int           `yaml:"sample_rate" validate:"gte=8000,lte=192000"`
	LowpassCutoff int           `yaml:"lowpass_cutoff" validate:"gt=0"`
	ExitWait      time.Duration `yaml:"exit_wait" validate:"gt=0"`
	Timeout       time.Duration `yaml:"timeout" validate:"gte=0"`
	QueueSize     int           `yaml:"queue_size" validate:"gte=1"`
}

// RadioConfig contains the credentials radio clients use for the station list.
type RadioConfig struct {
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	enc := encoder.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Address:        ":8080",
			AllowedOrigins: []string{"http://localhost", "https://francoise.fm"},
			MaxStreamBytes: stream.DefaultMaxSize,
		},
		Storage: StorageConfig{
			RecordingsDir:  "recordings",
			ConvertedDir:   "converted",
			MaxUploadBytes: storage.DefaultMaxUploadBytes,
			MaxSlots:       storage.DefaultMaxSlots,
		},
		Database: DatabaseConfig{
			Path: "stations.db",
		},
		Encoder: EncoderConfig{
			Binary:        enc.Binary,
			SampleRate:    enc.SampleRate,
			LowpassCutoff: enc.LowpassCutoff,
			ExitWait:      enc.ExitWait,
			Timeout:       enc.Timeout,
			QueueSize:     enc.QueueSize,
		},
		Radio: RadioConfig{
			Username: "Melville",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// any), and RADIO_* environment variables, in that order. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every section against its constraints.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"RADIO_ADDR":           &c.Server.Address,
		"RADIO_RECORDINGS_DIR": &c.Storage.RecordingsDir,
		"RADIO_CONVERTED_DIR":  &c.Storage.ConvertedDir,
		"RADIO_DB_PATH":        &c.Database.Path,
		"RADIO_FFMPEG":         &c.Encoder.Binary,
		"RADIO_LOG_LEVEL":      &c.Logging.Level,
		"RADIO_LOG_FORMAT":     &c.Logging.Format,
		"RADIO_USERNAME":       &c.Radio.Username,
		"RADIO_PASSWORD":       &c.Radio.Password,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	// BASIC_AUTH_PASS is the historical name for the radio password.
	if v, ok := os.LookupEnv("BASIC_AUTH_PASS"); ok && os.Getenv("RADIO_PASSWORD") == "" {
		c.Radio.Password = v
	}

	if v, ok := os.LookupEnv("RADIO_ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = splitList(v)
	}

	if v, ok := os.LookupEnv("RADIO_MAX_UPLOAD_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid RADIO_MAX_UPLOAD_BYTES %q: %w", v, err)
		}
		c.Storage.MaxUploadBytes = n
	}

	if v, ok := os.LookupEnv("RADIO_QUEUE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RADIO_QUEUE_SIZE %q: %w", v, err)
		}
		c.Encoder.QueueSize = n
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Layout returns the storage roots.
func (c *Config) Layout() storage.Layout {
	return storage.Layout{
		RecordingsDir: c.Storage.RecordingsDir,
		ConvertedDir:  c.Storage.ConvertedDir,
	}
}

// TranscoderConfig returns the transcoder settings.
func (c *Config) TranscoderConfig() encoder.Config {
	return encoder.Config{
		Binary:        c.Encoder.Binary,
		SampleRate:    c.Encoder.SampleRate,
		LowpassCutoff: c.Encoder.LowpassCutoff,
		ExitWait:      c.Encoder.ExitWait,
		Timeout:       c.Encoder.Timeout,
		QueueSize:     c.Encoder.QueueSize,
	}
}
