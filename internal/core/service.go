package core

import (
	"reflect"
	"strings"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/JonMunkholm/ledgersync/internal/provider"
	"github.com/go-playground/validator/v10"
)

// Config tunes the Service. Zero values fall back to defaults.
type Config struct {
	BatchSize      int           // records per store write
	MaxFileSize    int64         // largest accepted upload in bytes
	RawInlineLimit int           // larger raw snapshots go to the archive
	JobTimeout     time.Duration // upper bound for one job
	Sync           SyncOptions
}

// DefaultMaxFileSize is the upload limit when Config.MaxFileSize is unset.
const DefaultMaxFileSize = 100 << 20

// DefaultJobTimeout bounds a job when Config.JobTimeout is unset.
const DefaultJobTimeout = 10 * time.Minute

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.RawInlineLimit <= 0 {
		c.RawInlineLimit = DefaultRawInlineLimit
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	return c
}

// Service is the ingestion job controller. It owns the lifecycle of every
// job and is the only writer of job records.
type Service struct {
	store     ledger.Store
	writer    *Writer
	syncer    *Syncer
	audit     *AuditWriter
	guard     *ConnectionGuard
	providers *provider.Registry
	creds     provider.CredentialResolver
	validate  *validator.Validate
	raw       *rawRecorder
	cfg       Config
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithRawArchive sends large raw snapshots to archive instead of the store.
func WithRawArchive(archive RawArchive) Option {
	return func(s *Service) { s.raw.archive = archive }
}

// WithClock replaces time.Now for job timestamps and sync budgets.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.syncer.now = now
		s.audit.now = now
	}
}

// NewService wires a Service over store. providers and creds may be nil for
// file-only deployments.
func NewService(store ledger.Store, providers *provider.Registry, creds provider.CredentialResolver, cfg Config, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	if providers == nil {
		providers = provider.NewRegistry()
	}
	if creds == nil {
		creds = provider.NewEnvResolver()
	}

	writer := NewWriter(store, cfg.BatchSize)
	rec := &rawRecorder{store: store, inlineLimit: cfg.RawInlineLimit}

	s := &Service{
		store:     store,
		writer:    writer,
		syncer:    newSyncer(store, writer, rec, cfg.Sync),
		audit:     NewAuditWriter(store),
		guard:     NewConnectionGuard(),
		providers: providers,
		creds:     creds,
		validate:  newValidator(),
		raw:       rec,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Guard exposes the connection guard for shutdown draining and status.
func (s *Service) Guard() *ConnectionGuard {
	return s.guard
}

// Providers returns the adapter registry.
func (s *Service) Providers() *provider.Registry {
	return s.providers
}

// newValidator reports field names by their json tag so errors match the
// request body the caller sent.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}
