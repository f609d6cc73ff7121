package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Provider kinds accepted in the providers file.
const (
	KindHTTP    = "http"
	KindSandbox = "sandbox"
)

// Config is the providers file.
//
//	providers:
//	  - name: acme
//	    kind: http
//	    http:
//	      baseURL: https://api.acme.example
//	      accountsPath: /accounts/get
//	      deltasPath: /transactions/sync
//	      pageSize: 250
//	      retry: {maxAttempts: 4, initialInterval: 250ms}
//	  - name: sandbox
//	    kind: sandbox
//	    sandbox: {pages: 3, perPage: 10}
type Config struct {
	Providers []Spec `yaml:"providers"`
}

// Spec configures one provider.
type Spec struct {
	Name    string          `yaml:"name"`
	Kind    string          `yaml:"kind"`
	HTTP    HTTPSettings    `yaml:"http"`
	Sandbox SandboxSettings `yaml:"sandbox"`
}

// HTTPSettings configures an HTTPAdapter.
type HTTPSettings struct {
	BaseURL      string          `yaml:"baseURL"`
	AccountsPath string          `yaml:"accountsPath"`
	DeltasPath   string          `yaml:"deltasPath"`
	PageSize     int             `yaml:"pageSize"`
	Timeout      time.Duration   `yaml:"timeout"`
	Retry        RetrySettings   `yaml:"retry"`
	Breaker      BreakerSettings `yaml:"breaker"`
}

// RetrySettings bounds the adapter's retries of one request.
type RetrySettings struct {
	MaxAttempts     int           `yaml:"maxAttempts"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
}

// BreakerSettings configures the per-provider circuit breaker.
type BreakerSettings struct {
	ConsecutiveFailures uint32        `yaml:"consecutiveFailures"`
	OpenTimeout         time.Duration `yaml:"openTimeout"`
}

func (s HTTPSettings) withDefaults() HTTPSettings {
	if s.AccountsPath == "" {
		s.AccountsPath = "/accounts"
	}
	if s.DeltasPath == "" {
		s.DeltasPath = "/transactions/sync"
	}
	if s.PageSize <= 0 {
		s.PageSize = 100
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	if s.Retry.MaxAttempts <= 0 {
		s.Retry.MaxAttempts = 4
	}
	if s.Retry.InitialInterval <= 0 {
		s.Retry.InitialInterval = 250 * time.Millisecond
	}
	if s.Retry.MaxInterval <= 0 {
		s.Retry.MaxInterval = 5 * time.Second
	}
	if s.Breaker.ConsecutiveFailures == 0 {
		s.Breaker.ConsecutiveFailures = 5
	}
	if s.Breaker.OpenTimeout <= 0 {
		s.Breaker.OpenTimeout = 30 * time.Second
	}
	return s
}

// Validate reports every problem in the file at once.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for i, p := range c.Providers {
		switch {
		case p.Name == "":
			errs = append(errs, fmt.Errorf("providers[%d]: name is required", i))
		case p.Name == "file":
			errs = append(errs, fmt.Errorf("providers[%d]: name %q is reserved", i, p.Name))
		case seen[p.Name]:
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true

		switch p.Kind {
		case KindHTTP:
			if p.HTTP.BaseURL == "" {
				errs = append(errs, fmt.Errorf("providers[%d] (%s): http.baseURL is required", i, p.Name))
			}
		case KindSandbox:
		default:
			errs = append(errs, fmt.Errorf("providers[%d] (%s): unknown kind %q", i, p.Name, p.Kind))
		}
	}
	return errors.Join(errs...)
}

// Build constructs an adapter for every spec. client may be nil.
func (c *Config) Build(client *http.Client) ([]Adapter, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	adapters := make([]Adapter, 0, len(c.Providers))
	for _, p := range c.Providers {
		switch p.Kind {
		case KindHTTP:
			adapters = append(adapters, NewHTTPAdapter(p.Name, p.HTTP, client))
		case KindSandbox:
			adapters = append(adapters, NewSandbox(p.Name, p.Sandbox))
		}
	}
	return adapters, nil
}

// ParseConfig decodes and validates a providers file.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse providers: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Loader reads the providers file and watches it for changes.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Config returns the latest successfully loaded file.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked after every successful reload.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch hot-reloads the file on change until stop is called. A file that
// fails to parse is logged and the previous config stays in effect.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("providers watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("providers watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						slog.Error("providers reload failed", "path", l.path, "error", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("providers watcher error", "path", l.path, "error", err)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload re-reads the file now.
func (l *Loader) Reload() (*Config, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*Config), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
	slog.Info("providers loaded", "path", l.path, "count", len(cfg.Providers))
	return cfg, nil
}

func (l *Loader) load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read providers %s: %w", l.path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.path, err)
	}
	return cfg, nil
}
