package scheduler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"

	"github.com/st-keller/chroma-scheduler/chroma"
	"github.com/st-keller/chroma-scheduler/dispatch"
	"github.com/st-keller/chroma-scheduler/transport"
	"github.com/st-keller/chroma-scheduler/update"
)

// EnvPrefix prefixes every environment override, e.g. CHROMA_SCHEDULER_TICK_RATE.
const EnvPrefix = "CHROMA_SCHEDULER"

var (
	ErrInvalidConfig     = errors.New("invalid config")
	ErrUnsupportedFormat = errors.New("unsupported config format")
)

// Config holds the session configuration.
type Config struct {
	TickRate      string `yaml:"tick_rate" toml:"tick_rate" env:"TICK_RATE"`       // fast, medium or slow
	PollPolicy    string `yaml:"poll_policy" toml:"poll_policy" env:"POLL_POLICY"` // skip-while-simulating or always
	LogBufferSize int    `yaml:"log_buffer_size" toml:"log_buffer_size" env:"LOG_BUFFER_SIZE"`

	Chroma    ChromaConfig    `yaml:"chroma" toml:"chroma"`
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	Watch     WatchConfig     `yaml:"watch" toml:"watch"`
	Status    StatusConfig    `yaml:"status" toml:"status"`
}

// ChromaConfig describes the lighting service and how this app introduces itself.
type ChromaConfig struct {
	BaseURL           string        `yaml:"base_url" toml:"base_url" env:"CHROMA_BASE_URL"`
	Title             string        `yaml:"title" toml:"title" env:"CHROMA_TITLE"`
	Description       string        `yaml:"description" toml:"description" env:"CHROMA_DESCRIPTION"`
	AuthorName        string        `yaml:"author_name" toml:"author_name" env:"CHROMA_AUTHOR_NAME"`
	AuthorContact     string        `yaml:"author_contact" toml:"author_contact" env:"CHROMA_AUTHOR_CONTACT"`
	Devices           []string      `yaml:"devices" toml:"devices" env:"CHROMA_DEVICES"`
	Category          string        `yaml:"category" toml:"category" env:"CHROMA_CATEGORY"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" toml:"heartbeat_interval" env:"CHROMA_HEARTBEAT_INTERVAL"`
	RequestTimeout    time.Duration `yaml:"request_timeout" toml:"request_timeout" env:"CHROMA_REQUEST_TIMEOUT"`
}

// TransportConfig selects plain HTTP, h2c or mTLS over HTTP/2.
type TransportConfig struct {
	CertPath string `yaml:"cert_path" toml:"cert_path" env:"TRANSPORT_CERT_PATH"`
	KeyPath  string `yaml:"key_path" toml:"key_path" env:"TRANSPORT_KEY_PATH"`
	CAPath   string `yaml:"ca_path" toml:"ca_path" env:"TRANSPORT_CA_PATH"`
	H2C      bool   `yaml:"h2c" toml:"h2c" env:"TRANSPORT_H2C"`
}

// WatchConfig drives the compile signal of file-watching hosts.
type WatchConfig struct {
	Dirs       []string      `yaml:"dirs" toml:"dirs" env:"WATCH_DIRS"`
	Extensions []string      `yaml:"extensions" toml:"extensions" env:"WATCH_EXTENSIONS"`
	Settle     time.Duration `yaml:"settle" toml:"settle" env:"WATCH_SETTLE"`
}

// StatusConfig is used by hosts that serve the status report.
type StatusConfig struct {
	Addr string `yaml:"addr" toml:"addr" env:"STATUS_ADDR"`
}

// DefaultConfig returns a config for the local Chroma service.
func DefaultConfig() Config {
	return Config{
		TickRate:      "fast",
		PollPolicy:    dispatch.SkipWhileSimulating.String(),
		LogBufferSize: 100,
		Chroma: ChromaConfig{
			BaseURL:           chroma.DefaultBaseURL,
			Title:             "Chroma Animation Preview",
			Description:       "Editor preview of Chroma animations",
			AuthorName:        "Chroma Tools",
			AuthorContact:     "https://developer.razer.com/chroma",
			Devices:           []string{"keyboard", "mouse", "headset", "mousepad", "keypad", "chromalink"},
			Category:          "application",
			HeartbeatInterval: time.Second,
			RequestTimeout:    5 * time.Second,
		},
		Watch: WatchConfig{
			Extensions: []string{".go"},
			Settle:     2 * time.Second,
		},
		Status: StatusConfig{
			Addr: "127.0.0.1:8089",
		},
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if _, err := update.ParseInterval(c.TickRate); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := dispatch.ParsePollPolicy(c.PollPolicy); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.LogBufferSize < 0 {
		return fmt.Errorf("%w: LogBufferSize must be >= 0", ErrInvalidConfig)
	}
	if err := c.chromaConfig().Validate(); err != nil {
		return fmt.Errorf("%w: chroma: %w", ErrInvalidConfig, err)
	}
	if err := c.transportConfig().Validate(); err != nil {
		return fmt.Errorf("%w: transport: %w", ErrInvalidConfig, err)
	}
	if len(c.Watch.Dirs) > 0 && c.Watch.Settle <= 0 {
		return fmt.Errorf("%w: watch: Settle must be > 0", ErrInvalidConfig)
	}
	return nil
}

// TickInterval returns the parsed tick rate.
func (c Config) TickInterval() time.Duration {
	interval, err := update.ParseInterval(c.TickRate)
	if err != nil {
		return update.Fast.Duration()
	}
	return interval.Duration()
}

func (c Config) chromaConfig() chroma.Config {
	return chroma.Config{
		BaseURL: c.Chroma.BaseURL,
		App: chroma.AppInfo{
			Title:       c.Chroma.Title,
			Description: c.Chroma.Description,
			Author: chroma.Author{
				Name:    c.Chroma.AuthorName,
				Contact: c.Chroma.AuthorContact,
			},
			DeviceSupported: c.Chroma.Devices,
			Category:        c.Chroma.Category,
		},
		HeartbeatInterval: c.Chroma.HeartbeatInterval,
		RequestTimeout:    c.Chroma.RequestTimeout,
	}
}

func (c Config) transportConfig() transport.Config {
	return transport.Config{
		CertPath: c.Transport.CertPath,
		KeyPath:  c.Transport.KeyPath,
		CAPath:   c.Transport.CAPath,
		H2C:      c.Transport.H2C,
		Timeout:  c.Chroma.RequestTimeout,
	}
}

// LoadConfig reads path on top of DefaultConfig, applies environment
// overrides and validates. The format follows the extension: .yaml, .yml or .toml.
// An empty path loads defaults plus environment only.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse yaml config: %w", err)
			}
		case ".toml":
			if _, err := toml.Decode(string(data), &cfg); err != nil {
				return Config{}, fmt.Errorf("parse toml config: %w", err)
			}
		default:
			return Config{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
		}
	}

	if err := ApplyEnv(&cfg, EnvPrefix); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields tagged `env` from PREFIX_<TAG> variables.
// Lists are comma separated; durations use time.ParseDuration.
func ApplyEnv(cfg *Config, prefix string) error {
	return applyEnv(reflect.ValueOf(cfg).Elem(), prefix)
}

var durationType = reflect.TypeOf(time.Duration(0))

func applyEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		sf := t.Field(i)

		if sf.Type.Kind() == reflect.Struct {
			if err := applyEnv(field, prefix); err != nil {
				return err
			}
			continue
		}

		tag := sf.Tag.Get("env")
		if tag == "" {
			continue
		}
		name := strings.ToUpper(tag)
		if prefix != "" {
			name = prefix + "_" + name
		}
		raw, ok := os.LookupEnv(name)
		if !ok || raw == "" {
			continue
		}
		if err := setField(field, raw); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, name, err)
		}
	}
	return nil
}

func setField(field reflect.Value, raw string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		field.Set(reflect.ValueOf(out))
		return nil
	}

	converted, err := cast.FromType(raw, field.Type())
	if err != nil {
		return fmt.Errorf("cannot convert value to type %v: %w", field.Type(), err)
	}
	field.Set(reflect.ValueOf(converted).Convert(field.Type()))
	return nil
}
