// Package options implements session-level defaults and global flags:
// caps, feature flags, inheritable job defaults, and the test-mode flag,
// kept as a field of Options rather than as a process-wide variable.
package options

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Options is the session-level configuration a Scheduler is built from.
type Options struct {
	WorkDir        string `env:"BATCHCTL_WORKDIR" default:"."`
	SessionName    string `env:"BATCHCTL_SESSION" default:"session"`
	DefaultBackend string `env:"BATCHCTL_BACKEND" default:"local"`

	LocalMax          int  `env:"BATCHCTL_LOCAL_MAX" default:"4"`
	LocalDynamic      bool `env:"BATCHCTL_LOCAL_DYNAMIC" default:"false"`
	RunMax            int  `env:"BATCHCTL_RUN_MAX" default:"0"`
	Listens           bool `env:"BATCHCTL_LISTENS" default:"true"`
	DoSnapshot        bool `env:"BATCHCTL_DO_SNAPSHOT" default:"true"`
	OutputMaxAttempts int  `env:"BATCHCTL_OUTPUT_MAX_ATTEMPTS" default:"5"`

	// DefaultMaxRetries is inherited by a job's max_retries when a job is
	// added without its own value.
	DefaultMaxRetries int `env:"BATCHCTL_MAX_RETRIES" default:"0"`

	// TestMode is loaded from BATCHCTL_TEST_MODE and carried on this
	// struct. No backend adapter reads it: it does not change how jobs
	// are submitted.
	TestMode bool `env:"BATCHCTL_TEST_MODE" default:"false"`

	TickInterval time.Duration `env:"BATCHCTL_TICK_INTERVAL" default:"5s"`

	LogLevel  string `env:"BATCHCTL_LOG_LEVEL" default:"info"`
	LogFormat string `env:"BATCHCTL_LOG_FORMAT" default:"text"`
}

// Provider is the dependency-injection seam over configuration loading,
// so tests never touch real process environment.
type Provider interface {
	Load() (*Options, error)
	Validate(*Options) error
	LoadFromEnv() (*Options, error)
}

// EnvLoader is the testing seam over environment-variable reads.
type EnvLoader interface {
	Getenv(key string) string
}

// OSEnvLoader reads from the real process environment.
type OSEnvLoader struct{}

func (OSEnvLoader) Getenv(key string) string { return os.Getenv(key) }

// Loader implements Provider by reading environment variables with
// defaults.
type Loader struct {
	env EnvLoader
}

// NewLoader returns a Provider reading from the real process environment.
func NewLoader() Provider { return &Loader{env: OSEnvLoader{}} }

// NewLoaderWithEnv returns a Provider reading through a custom EnvLoader,
// for tests.
func NewLoaderWithEnv(env EnvLoader) Provider { return &Loader{env: env} }

func (l *Loader) Load() (*Options, error) { return l.LoadFromEnv() }

func (l *Loader) LoadFromEnv() (*Options, error) {
	o := &Options{
		WorkDir:           l.str("BATCHCTL_WORKDIR", "."),
		SessionName:       l.str("BATCHCTL_SESSION", "session"),
		DefaultBackend:    l.str("BATCHCTL_BACKEND", "local"),
		LocalMax:          l.int("BATCHCTL_LOCAL_MAX", 4),
		LocalDynamic:      l.bool("BATCHCTL_LOCAL_DYNAMIC", false),
		RunMax:            l.int("BATCHCTL_RUN_MAX", 0),
		Listens:           l.bool("BATCHCTL_LISTENS", true),
		DoSnapshot:        l.bool("BATCHCTL_DO_SNAPSHOT", true),
		OutputMaxAttempts: l.int("BATCHCTL_OUTPUT_MAX_ATTEMPTS", 5),
		DefaultMaxRetries: l.int("BATCHCTL_MAX_RETRIES", 0),
		TestMode:          l.bool("BATCHCTL_TEST_MODE", false),
		TickInterval:      l.duration("BATCHCTL_TICK_INTERVAL", 5*time.Second),
		LogLevel:          l.str("BATCHCTL_LOG_LEVEL", "info"),
		LogFormat:         l.str("BATCHCTL_LOG_FORMAT", "text"),
	}
	if err := l.Validate(o); err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}
	return o, nil
}

func (l *Loader) Validate(o *Options) error {
	var errs []string
	if o.LocalMax < 0 {
		errs = append(errs, "BATCHCTL_LOCAL_MAX must be non-negative")
	}
	if o.RunMax < 0 {
		errs = append(errs, "BATCHCTL_RUN_MAX must be non-negative")
	}
	if o.OutputMaxAttempts < 0 {
		errs = append(errs, "BATCHCTL_OUTPUT_MAX_ATTEMPTS must be non-negative")
	}
	if o.DefaultMaxRetries < 0 {
		errs = append(errs, "BATCHCTL_MAX_RETRIES must be non-negative")
	}
	if o.DefaultBackend == "" {
		errs = append(errs, "BATCHCTL_BACKEND must not be empty")
	}
	if !oneOf(o.LogLevel, "debug", "info", "warn", "error") {
		errs = append(errs, "BATCHCTL_LOG_LEVEL must be one of: debug, info, warn, error")
	}
	if !oneOf(o.LogFormat, "text", "json") {
		errs = append(errs, "BATCHCTL_LOG_FORMAT must be one of: text, json")
	}
	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// ValidationError collects every Options validation failure at once.
type ValidationError struct{ Errors []string }

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid options:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func oneOf(v string, candidates ...string) bool {
	for _, c := range candidates {
		if v == c {
			return true
		}
	}
	return false
}

func (l *Loader) str(key, def string) string {
	if v := l.env.Getenv(key); v != "" {
		return v
	}
	return def
}

func (l *Loader) int(key string, def int) int {
	v := l.env.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (l *Loader) bool(key string, def bool) bool {
	v := l.env.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func (l *Loader) duration(key string, def time.Duration) time.Duration {
	v := l.env.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
