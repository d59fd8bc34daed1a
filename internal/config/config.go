// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/transport"
	"github.com/jeranaias/streamchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete streamchat configuration.
type Config struct {
	Transport TransportConfig `toml:"transport"`
	Storage   StorageConfig   `toml:"storage"`
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
	Chat      ChatConfig      `toml:"chat"`
}

// TransportConfig configures the completion endpoint the chat client talks to.
type TransportConfig struct {
	// Endpoint is the URL receiving POSTed turns.
	Endpoint string `toml:"endpoint"`
	// Mode is the reply wire format: text, ndjson, sse or json.
	Mode string `toml:"mode"`
	// Model is sent with each request; empty means the endpoint decides.
	Model string `toml:"model"`
	// APIKey is sent as a bearer token when set.
	APIKey string `toml:"api_key"`
	// ConnectTimeout bounds dialing and waiting for response headers.
	ConnectTimeout Duration `toml:"connect_timeout"`
	// TurnTimeout bounds a whole turn, streaming included (0 = none).
	TurnTimeout Duration `toml:"turn_timeout"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is one of sqlite, postgres, mysql, redis, file, memory.
	Backend string `toml:"backend"`
	// DSN is the driver connection string (file path for sqlite, URL for redis).
	DSN string `toml:"dsn"`
	// Dir is the data directory for the file backend.
	Dir string `toml:"dir"`
}

// ServerConfig configures the relay completion server.
type ServerConfig struct {
	Addr          string `toml:"addr"`
	UpstreamURL   string `toml:"upstream_url"`
	UpstreamMode  string `toml:"upstream_mode"`
	UpstreamKey   string `toml:"upstream_key"`
	UpstreamModel string `toml:"upstream_model"`
	// RateLimit is requests per second per client address (0 = unlimited).
	RateLimit float64 `toml:"rate_limit"`
	// Burst is the rate limiter bucket size.
	Burst int `toml:"burst"`
	// MaxMessages caps the history a client may relay in one request.
	MaxMessages int `toml:"max_messages"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn, error.
	Level string `toml:"level"`
	// Format is auto, console or json. Auto picks console on a terminal.
	Format string `toml:"format"`
}

// ChatConfig holds turn-level text settings.
type ChatConfig struct {
	DefaultTitle  string `toml:"default_title"`
	FallbackText  string `toml:"fallback_text"`
	TitleMaxRunes int    `toml:"title_max_runes"`
}

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration written as a string ("30s") in TOML.
type Duration struct {
	time.Duration
}

// D wraps d.
func D(d time.Duration) Duration { return Duration{d} }

// UnmarshalText parses "1m30s" style values.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", s)
	}
	d.Duration = v
	return nil
}

// MarshalText writes the duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default values shared with other packages.
const (
	DefaultEndpoint      = "http://127.0.0.1:3000/api/chat"
	DefaultServerAddr    = "127.0.0.1:3000"
	DefaultUpstreamURL   = "https://open.bigmodel.cn/api/paas/v4/chat/completions"
	DefaultFallbackText  = "Sorry, an error occurred."
	DefaultTitleMaxRunes = 20
)

// Backends lists the accepted storage.backend values.
var Backends = []string{"sqlite", "postgres", "mysql", "redis", "file", "memory"}

// Default returns the built-in configuration. Paths under the data directory
// are resolved by SetDefaults.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Endpoint:       DefaultEndpoint,
			Mode:           string(transport.ModeText),
			ConnectTimeout: D(transport.DefaultConnectTimeout),
			TurnTimeout:    D(5 * time.Minute),
		},
		Storage: StorageConfig{
			Backend: "sqlite",
		},
		Server: ServerConfig{
			Addr:          DefaultServerAddr,
			UpstreamURL:   DefaultUpstreamURL,
			UpstreamMode:  string(transport.ModeSSE),
			UpstreamModel: model.DefaultModelID,
			RateLimit:     5,
			Burst:         10,
			MaxMessages:   200,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Chat: ChatConfig{
			DefaultTitle:  model.DefaultTitle,
			FallbackText:  DefaultFallbackText,
			TitleMaxRunes: DefaultTitleMaxRunes,
		},
	}
}

// SetDefaults fills zero values with defaults. The data directory is only
// consulted when a storage path is missing.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Transport.Endpoint == "" {
		c.Transport.Endpoint = d.Transport.Endpoint
	}
	if c.Transport.Mode == "" {
		c.Transport.Mode = d.Transport.Mode
	}
	if c.Transport.ConnectTimeout.Duration == 0 {
		c.Transport.ConnectTimeout = d.Transport.ConnectTimeout
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.Backend == "sqlite" && c.Storage.DSN == "" {
		if dir, err := DataDir(); err == nil {
			c.Storage.DSN = filepath.Join(dir, "streamchat.db")
		}
	}
	if c.Storage.Backend == "file" && c.Storage.Dir == "" {
		if dir, err := DataDir(); err == nil {
			c.Storage.Dir = filepath.Join(dir, "data")
		}
	}

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.UpstreamURL == "" {
		c.Server.UpstreamURL = d.Server.UpstreamURL
	}
	if c.Server.UpstreamMode == "" {
		c.Server.UpstreamMode = d.Server.UpstreamMode
	}
	if c.Server.UpstreamModel == "" {
		c.Server.UpstreamModel = d.Server.UpstreamModel
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = d.Server.Burst
	}
	if c.Server.MaxMessages == 0 {
		c.Server.MaxMessages = d.Server.MaxMessages
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}

	if c.Chat.DefaultTitle == "" {
		c.Chat.DefaultTitle = d.Chat.DefaultTitle
	}
	if c.Chat.FallbackText == "" {
		c.Chat.FallbackText = d.Chat.FallbackText
	}
	if c.Chat.TitleMaxRunes == 0 {
		c.Chat.TitleMaxRunes = d.Chat.TitleMaxRunes
	}
}

// =============================================================================
// PATHS
// =============================================================================

// DataDir returns ~/.streamchat.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "could not determine home directory")
	}
	return filepath.Join(home, ".streamchat"), nil
}

// DefaultPath returns ~/.streamchat/config.toml.
func DefaultPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD & SAVE
// =============================================================================

// Load reads the config at path. An empty path means DefaultPath; a missing
// file yields the defaults. Environment overrides are applied last, then the
// result is validated.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "decode %s", path)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat %s", path)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// Save writes cfg as TOML to path with owner-only permissions.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# streamchat configuration file\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return errors.Wrap(err, "encode config")
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0o600); err != nil {
		return errors.Wrap(err, "write config")
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every invalid field.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate returns ValidateErrors listing every invalid field, or nil.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if err := validateURL(c.Transport.Endpoint); err != nil {
		add("transport.endpoint", "%v", err)
	}
	if !transport.Mode(c.Transport.Mode).Valid() {
		add("transport.mode", "invalid mode '%s', must be one of: text, ndjson, sse, json", c.Transport.Mode)
	}
	if c.Transport.ConnectTimeout.Duration < 0 {
		add("transport.connect_timeout", "must not be negative")
	}
	if c.Transport.TurnTimeout.Duration < 0 {
		add("transport.turn_timeout", "must not be negative")
	}

	if !contains(Backends, c.Storage.Backend) {
		add("storage.backend", "invalid backend '%s', must be one of: %s", c.Storage.Backend, strings.Join(Backends, ", "))
	}
	switch c.Storage.Backend {
	case "postgres", "mysql", "redis":
		if c.Storage.DSN == "" {
			add("storage.dsn", "required for backend '%s'", c.Storage.Backend)
		}
	}

	if c.Server.Addr == "" {
		add("server.addr", "must not be empty")
	}
	if err := validateURL(c.Server.UpstreamURL); err != nil {
		add("server.upstream_url", "%v", err)
	}
	if m := transport.Mode(c.Server.UpstreamMode); !m.Valid() || m == transport.ModeText {
		add("server.upstream_mode", "invalid mode '%s', must be one of: ndjson, sse, json", c.Server.UpstreamMode)
	}
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must not be negative")
	}
	if c.Server.Burst < 0 {
		add("server.burst", "must not be negative")
	}
	if c.Server.MaxMessages < 0 {
		add("server.max_messages", "must not be negative")
	}

	if !contains([]string{"trace", "debug", "info", "warn", "error", "disabled"}, strings.ToLower(c.Log.Level)) {
		add("log.level", "invalid level '%s'", c.Log.Level)
	}
	if !contains([]string{"auto", "console", "json"}, strings.ToLower(c.Log.Format)) {
		add("log.format", "invalid format '%s', must be one of: auto, console, json", c.Log.Format)
	}

	if c.Chat.TitleMaxRunes < 1 {
		add("chat.title_max_runes", "must be at least 1")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("must not be empty")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return errors.Errorf("invalid URL '%s', must start with http:// or https://", raw)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies STREAMCHAT_* environment variables:
//
//	STREAMCHAT_ENDPOINT        transport.endpoint
//	STREAMCHAT_MODE            transport.mode
//	STREAMCHAT_MODEL           transport.model
//	STREAMCHAT_API_KEY         transport.api_key
//	STREAMCHAT_TURN_TIMEOUT    transport.turn_timeout
//	STREAMCHAT_BACKEND         storage.backend
//	STREAMCHAT_DSN             storage.dsn
//	STREAMCHAT_DATA_DIR        storage.dir
//	STREAMCHAT_ADDR            server.addr
//	STREAMCHAT_UPSTREAM_URL    server.upstream_url
//	STREAMCHAT_UPSTREAM_KEY    server.upstream_key (falls back to ZHIPUAI_API_KEY)
//	STREAMCHAT_LOG_LEVEL       log.level
//	STREAMCHAT_LOG_FORMAT      log.format
func (c *Config) ApplyEnvOverrides() {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	str("STREAMCHAT_ENDPOINT", &c.Transport.Endpoint)
	str("STREAMCHAT_MODE", &c.Transport.Mode)
	str("STREAMCHAT_MODEL", &c.Transport.Model)
	str("STREAMCHAT_API_KEY", &c.Transport.APIKey)
	if v := os.Getenv("STREAMCHAT_TURN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Transport.TurnTimeout = D(d)
		}
	}

	str("STREAMCHAT_BACKEND", &c.Storage.Backend)
	str("STREAMCHAT_DSN", &c.Storage.DSN)
	str("STREAMCHAT_DATA_DIR", &c.Storage.Dir)

	str("STREAMCHAT_ADDR", &c.Server.Addr)
	str("STREAMCHAT_UPSTREAM_URL", &c.Server.UpstreamURL)
	if c.Server.UpstreamKey == "" {
		str("ZHIPUAI_API_KEY", &c.Server.UpstreamKey)
	}
	str("STREAMCHAT_UPSTREAM_KEY", &c.Server.UpstreamKey)

	str("STREAMCHAT_LOG_LEVEL", &c.Log.Level)
	str("STREAMCHAT_LOG_FORMAT", &c.Log.Format)
}

// =============================================================================
// GET/SET (DOT NOTATION)
// =============================================================================

// Get returns the value at a dotted TOML key such as "transport.mode".
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	if d, ok := field.Interface().(Duration); ok {
		return d.String(), nil
	}
	return field.Interface(), nil
}

// Set assigns a string value at a dotted TOML key, converting it to the
// field's type.
func (c *Config) Set(key, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	return setFieldValue(field, value)
}

// Keys returns every settable key in dotted form.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		sect := t.Field(i)
		for j := 0; j < sect.Type.NumField(); j++ {
			keys = append(keys, tomlName(sect)+"."+tomlName(sect.Type.Field(j)))
		}
	}
	return keys
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 2 {
		return reflect.Value{}, errors.Errorf("invalid key %q, want section.name", key)
	}
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTOML(v, part)
		if !ok {
			return reflect.Value{}, errors.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return v, nil
}

func fieldByTOML(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tomlName(t.Field(i)) == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func tomlName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
	if name == "" {
		return strings.ToLower(f.Name)
	}
	return name
}

func setFieldValue(field reflect.Value, value string) error {
	if d, ok := field.Addr().Interface().(*Duration); ok {
		return d.UnmarshalText([]byte(value))
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return errors.Wrap(err, "invalid integer value")
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return errors.Wrap(err, "invalid float value")
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return errors.Wrap(err, "invalid bool value")
		}
		field.SetBool(b)
	default:
		return errors.Errorf("cannot set field of type %s", field.Type())
	}
	return nil
}
