// Package core implements the library statistics service: variable lifecycle
// and replacement, survey versioning and status handling, and the
// publication of survey answers into the open data read model.
package core

import (
	"context"
	"time"

	blobcore "bibstat/internal/blob/core"
	"bibstat/pkg/domain"
)

// PublishPolicy tunes the publication pipeline.
type PublishPolicy struct {
	// RequiredMetadata lists survey metadata fields that must be non-blank
	// before a survey can be published.
	RequiredMetadata []string
	MaxBatch         int
	Concurrency      int
}

// APIConfig configures the public read model documents.
type APIConfig struct {
	DefaultLimit       int
	LibraryBaseURL     string
	TermBaseURL        string
	ObservationBaseURL string
}

// Service exposes the transactional operations of the statistics domain.
type Service struct {
	store     domain.PersistentStore
	logger    Logger
	audit     AuditRecorder
	metrics   MetricsRecorder
	tracer    Tracer
	clock     Clock
	libraries LibraryResolver
	templates TemplateProvider
	archive   blobcore.Store
	publish   PublishPolicy
	api       APIConfig
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAuditRecorder sets the audit sink for mutating operations.
func WithAuditRecorder(r AuditRecorder) Option {
	return func(s *Service) {
		if r != nil {
			s.audit = r
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the span factory.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock overrides wall time, used to derive variable states.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLibraryResolver sets the library registry used when creating surveys.
func WithLibraryResolver(r LibraryResolver) Option {
	return func(s *Service) { s.libraries = r }
}

// WithTemplates sets the survey template provider.
func WithTemplates(p TemplateProvider) Option {
	return func(s *Service) { s.templates = p }
}

// WithArchive sets the blob store receiving dataset exports.
func WithArchive(store blobcore.Store) Option {
	return func(s *Service) { s.archive = store }
}

// WithPublishPolicy overrides the publication settings. Zero limits keep
// their defaults.
func WithPublishPolicy(p PublishPolicy) Option {
	return func(s *Service) {
		s.publish.RequiredMetadata = append([]string(nil), p.RequiredMetadata...)
		if p.MaxBatch > 0 {
			s.publish.MaxBatch = p.MaxBatch
		}
		if p.Concurrency > 0 {
			s.publish.Concurrency = p.Concurrency
		}
	}
}

// WithAPIConfig overrides the read model settings. Empty fields keep their defaults.
func WithAPIConfig(c APIConfig) Option {
	return func(s *Service) {
		if c.DefaultLimit > 0 {
			s.api.DefaultLimit = c.DefaultLimit
		}
		if c.LibraryBaseURL != "" {
			s.api.LibraryBaseURL = c.LibraryBaseURL
		}
		if c.TermBaseURL != "" {
			s.api.TermBaseURL = c.TermBaseURL
		}
		if c.ObservationBaseURL != "" {
			s.api.ObservationBaseURL = c.ObservationBaseURL
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	svc := &Service{
		store:     store,
		logger:    noopLogger{},
		audit:     noopAuditRecorder{},
		metrics:   noopMetricsRecorder{},
		tracer:    noopTracer{},
		clock:     ClockFunc(func() time.Time { return time.Now().UTC() }),
		templates: NewStaticTemplates(),
		publish:   PublishPolicy{MaxBatch: 500, Concurrency: 4},
		api: APIConfig{
			DefaultLimit:       100,
			LibraryBaseURL:     "https://bibstat.kb.se/library",
			TermBaseURL:        "https://bibstat.kb.se/def/terms",
			ObservationBaseURL: "https://bibstat.kb.se/data",
		},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Store returns the underlying persistent store.
func (s *Service) Store() domain.PersistentStore { return s.store }

func (s *Service) today() domain.Date { return domain.DateOf(s.clock.Now()) }

// run instruments op and executes fn inside a store transaction. fn returns
// the identifier of the entity it touched for audit purposes.
func (s *Service) run(ctx context.Context, op, actor string, fn func(tx domain.Transaction) (string, error)) (domain.Result, error) {
	var entityID string
	var res domain.Result
	err := s.instrument(ctx, op, actor, func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var ferr error
			entityID, ferr = fn(tx)
			return ferr
		})
		for _, v := range res.Violations {
			if v.Severity != domain.SeverityBlock {
				s.logger.Warn("rule violation", "operation", op, "rule", v.Rule, "entity_id", v.EntityID, "message", v.Message)
			}
		}
		return entityID, err
	})
	return res, err
}

// view instruments a read-only operation.
func (s *Service) view(ctx context.Context, op string, fn func(view domain.TransactionView) error) error {
	return s.instrument(ctx, op, "", func(ctx context.Context) (string, error) {
		return "", s.store.View(ctx, fn)
	})
}

func (s *Service) instrument(ctx context.Context, op, actor string, fn func(ctx context.Context) (string, error)) error {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	entityID, err := fn(ctx)
	duration := time.Since(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.logger.Error("operation failed", "operation", op, "entity_id", entityID, "actor", actor, "error", err)
	} else {
		s.logger.Debug("operation completed", "operation", op, "entity_id", entityID, "duration", duration)
	}
	s.recordAudit(ctx, op, entityID, actor, duration, err)
	return err
}

func (s *Service) recordAudit(ctx context.Context, op, entityID, actor string, duration time.Duration, err error) {
	info, ok := auditedOperations[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    info.entity,
		Action:    info.action,
		EntityID:  entityID,
		Actor:     actor,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}
