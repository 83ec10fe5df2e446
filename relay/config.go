package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"notification_relay/logging"
)

const DefaultTimeout = 10 * time.Second

var ErrNoBroadcastURL = errors.New("config must include broadcast_url")

// Config is the on-disk relay configuration (JSON or YAML).
type Config struct {
	ServerAddr    string          `json:"server_addr,omitempty"`
	BroadcastURL  string          `json:"broadcast_url"`
	Timeout       string          `json:"timeout,omitempty"`
	RequireFields *bool           `json:"require_fields,omitempty"`
	Admin         AdminConfig     `json:"admin"`
	RateLimit     RateLimitConfig `json:"rate_limit"`
	Log           logging.Config  `json:"log"`
}

// AdminConfig holds the basic-auth credentials guarding the admin surface.
// Leaving both empty disables the gate.
type AdminConfig struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type RateLimitConfig struct {
	PerMinute int `json:"per_minute,omitempty"`
	Burst     int `json:"burst,omitempty"`
}

// Settings returns the dispatcher view of the config.
func (c Config) Settings() (Settings, error) {
	if strings.TrimSpace(c.BroadcastURL) == "" {
		return Settings{}, ErrNoBroadcastURL
	}
	u, err := url.Parse(c.BroadcastURL)
	if err != nil {
		return Settings{}, fmt.Errorf("broadcast_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Settings{}, fmt.Errorf("broadcast_url: %q is not an http(s) URL", c.BroadcastURL)
	}
	timeout, err := parseDurationOrDefault("timeout", c.Timeout, DefaultTimeout)
	if err != nil {
		return Settings{}, err
	}
	require := true
	if c.RequireFields != nil {
		require = *c.RequireFields
	}
	return Settings{
		BroadcastURL:  c.BroadcastURL,
		Timeout:       timeout,
		RequireFields: require,
	}, nil
}

// LoadConfig reads a JSON or YAML config from disk and validates it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := ParseConfig(path, data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes data strictly; the format is picked from the path extension.
func ParseConfig(path string, data []byte) (Config, error) {
	jb, err := coerceToJSON(path, data)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return Config{}, errors.New("invalid config: trailing data")
		}
		return Config{}, err
	}
	if _, err := cfg.Settings(); err != nil {
		return Config{}, err
	}
	if cfg.RateLimit.PerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return Config{}, errors.New("rate_limit values must be >= 0")
	}
	return cfg, nil
}

// coerceToJSON converts YAML into JSON so both formats share the strict decoder.
func coerceToJSON(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	j, err := json.Marshal(normalizeYAML(v))
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}

func parseDurationOrDefault(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: duration must be > 0", field)
	}
	return d, nil
}
