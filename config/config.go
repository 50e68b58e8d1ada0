// Package config loads the settings of the onerpc server.
//
// Settings come from, in increasing precedence: built-in defaults, an
// optional YAML file, a .env file and the process environment (ONERPC_*).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "ONERPC_"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	RPC       RPCConfig       `yaml:"rpc"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// RPCPath is the shared entrypoint. Methods are also served below it.
	RPCPath string `yaml:"rpc_path"`
	// DocsPath serves the OpenAPI document and method index. Empty
	// disables it.
	DocsPath       string        `yaml:"docs_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	// HSTS enables Strict-Transport-Security; only useful behind TLS.
	HSTS bool `yaml:"hsts"`
}

type RPCConfig struct {
	BatchConcurrency int `yaml:"batch_concurrency"`
	// MaxBatchSize of zero means unlimited.
	MaxBatchSize int `yaml:"max_batch_size"`
}

// RateLimitConfig limits requests per client address. RPS of zero disables
// limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LoggerConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type TracerConfig struct {
	// Exporter is "none" or "stdout".
	Exporter string `yaml:"exporter"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			RPCPath:        "/api/v1/jsonrpc",
			DocsPath:       "/docs",
			RequestTimeout: 30 * time.Second,
			MaxBodyBytes:   1 << 20,
		},
		RPC: RPCConfig{
			BatchConcurrency: 4,
			MaxBatchSize:     100,
		},
		Logger: LoggerConfig{Level: "info"},
		Tracer: TracerConfig{Exporter: "none"},
	}
}

// Load builds the configuration. path names an optional YAML file; a
// missing file is not an error. envFiles are read as dotenv files and
// default to ".env", also optional. Variables already in the environment
// win over dotenv values.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	dotenv, err := readDotenv(envFiles)
	if err != nil {
		return nil, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readDotenv(files []string) (map[string]string, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	out := map[string]string{}
	for _, f := range files {
		m, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		for k, v := range m {
			if _, seen := out[k]; !seen {
				out[k] = v
			}
		}
	}
	return out, nil
}

// ApplyEnv overrides cfg with ONERPC_* variables found by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	ve := &ValidationError{}
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok
	}
	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				ve.Add("%s%s: %v", EnvPrefix, name, err)
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				ve.Add("%s%s: %v", EnvPrefix, name, err)
				return
			}
			*dst = b
		}
	}

	str("ADDR", &cfg.Server.Addr)
	str("RPC_PATH", &cfg.Server.RPCPath)
	str("DOCS_PATH", &cfg.Server.DocsPath)
	if v, ok := get("REQUEST_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			ve.Add("%sREQUEST_TIMEOUT: %v", EnvPrefix, err)
		} else {
			cfg.Server.RequestTimeout = d
		}
	}
	if v, ok := get("MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			ve.Add("%sMAX_BODY_BYTES: %v", EnvPrefix, err)
		} else {
			cfg.Server.MaxBodyBytes = n
		}
	}
	boolean("HSTS", &cfg.Server.HSTS)
	integer("BATCH_CONCURRENCY", &cfg.RPC.BatchConcurrency)
	integer("MAX_BATCH_SIZE", &cfg.RPC.MaxBatchSize)
	if v, ok := get("RATE_LIMIT_RPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			ve.Add("%sRATE_LIMIT_RPS: %v", EnvPrefix, err)
		} else {
			cfg.RateLimit.RPS = f
		}
	}
	integer("RATE_LIMIT_BURST", &cfg.RateLimit.Burst)
	if v, ok := get("CORS_ORIGINS"); ok {
		cfg.CORS.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, o)
			}
		}
	}
	str("LOG_LEVEL", &cfg.Logger.Level)
	boolean("LOG_DEVELOPMENT", &cfg.Logger.Development)
	str("TRACER_EXPORTER", &cfg.Tracer.Exporter)

	if ve.HasErrors() {
		return ve
	}
	return nil
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate returns a *ValidationError when cfg is unusable.
func Validate(cfg *Config) error {
	ve := &ValidationError{}

	if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q: %v", cfg.Server.Addr, err)
	}
	if !strings.HasPrefix(cfg.Server.RPCPath, "/") {
		ve.Add("server.rpc_path must start with /")
	}
	if p := cfg.Server.DocsPath; p != "" {
		if !strings.HasPrefix(p, "/") {
			ve.Add("server.docs_path must start with /")
		} else if strings.TrimSuffix(p, "/") == strings.TrimSuffix(cfg.Server.RPCPath, "/") {
			ve.Add("server.docs_path must differ from server.rpc_path")
		}
	}
	if cfg.Server.RequestTimeout < 0 {
		ve.Add("server.request_timeout must be >= 0")
	}
	if cfg.Server.MaxBodyBytes < 0 {
		ve.Add("server.max_body_bytes must be >= 0")
	}
	if cfg.RPC.BatchConcurrency < 1 {
		ve.Add("rpc.batch_concurrency must be >= 1")
	}
	if cfg.RPC.MaxBatchSize < 0 {
		ve.Add("rpc.max_batch_size must be >= 0")
	}
	if cfg.RateLimit.RPS < 0 {
		ve.Add("rate_limit.rps must be >= 0")
	}
	if cfg.RateLimit.RPS > 0 && cfg.RateLimit.Burst < 1 {
		ve.Add("rate_limit.burst must be >= 1 when rate_limit.rps is set")
	}
	if _, err := zapcore.ParseLevel(cfg.Logger.Level); err != nil {
		ve.Add("logger.level: %v", err)
	}
	switch cfg.Tracer.Exporter {
	case "", "none", "stdout":
	default:
		ve.Add("tracer.exporter %q: want none or stdout", cfg.Tracer.Exporter)
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}
