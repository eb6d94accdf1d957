// Package core hosts the record service: validation, derived queries and the
// observability hooks wrapped around every repository call.
package core

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"recordkeeper/internal/infra/persistence/memory"
	"recordkeeper/pkg/domain"
)

// Operation names reported to loggers, metrics, tracers and auditors.
const (
	OpCreateRecord = "create_record"
	OpGetRecord    = "get_record"
	OpListRecords  = "list_records"
	OpListByRole   = "list_by_role"
	OpListByTag    = "list_by_tag"
	OpSearchByName = "search_by_name"
	OpUpdateRecord = "update_record"
	OpDeleteRecord = "delete_record"
)

var auditActions = map[string]AuditAction{
	OpCreateRecord: AuditActionCreate,
	OpUpdateRecord: AuditActionUpdate,
	OpDeleteRecord: AuditActionDelete,
}

type serviceOptions struct {
	idGen   domain.IDGenerator
	clock   Clock
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		idGen:   domain.NewID,
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:  noopLogger{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		audit:   noopAudit{},
	}
}

// ServiceOption customises a Service.
type ServiceOption func(*serviceOptions)

// WithIDGenerator replaces the UUID generator used for new records.
func WithIDGenerator(gen domain.IDGenerator) ServiceOption {
	return func(o *serviceOptions) {
		if gen != nil {
			o.idGen = gen
		}
	}
}

// WithClock sets the clock used for audit timestamps.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the operation logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(metrics MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithAuditRecorder sets the audit sink for writes.
func WithAuditRecorder(audit AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if audit != nil {
			o.audit = audit
		}
	}
}

// Service validates input and answers derived queries on top of any
// domain.Repository. It is safe for concurrent use when the repository is.
type Service struct {
	repo domain.Repository
	serviceOptions
}

// NewService constructs a service over repo.
func NewService(repo domain.Repository, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Service{repo: repo, serviceOptions: o}
}

// NewInMemoryService creates a service over a fresh in-memory repository.
func NewInMemoryService(opts ...ServiceOption) *Service {
	return NewService(memory.NewRepository(), opts...)
}

// Repository returns the backing repository.
func (s *Service) Repository() domain.Repository { return s.repo }

// CreateRecord validates the input and stores a new record with a fresh
// identifier and no tags.
func (s *Service) CreateRecord(ctx context.Context, name, contact string, role domain.Role) (domain.Record, error) {
	var created domain.Record
	err := s.run(ctx, OpCreateRecord, func(ctx context.Context) (string, error) {
		name = strings.TrimSpace(name)
		if err := validateFields(name, role); err != nil {
			return "", err
		}
		rec := domain.Record{
			ID:      s.idGen(),
			Name:    name,
			Contact: contact,
			Role:    role,
			Tags:    []string{},
		}
		var err error
		created, err = s.repo.Create(ctx, rec)
		return rec.ID, err
	})
	return created, err
}

// GetRecord returns the record stored under id or a *domain.NotFoundError.
func (s *Service) GetRecord(ctx context.Context, id string) (domain.Record, error) {
	var rec domain.Record
	err := s.run(ctx, OpGetRecord, func(ctx context.Context) (string, error) {
		var (
			ok  bool
			err error
		)
		rec, ok, err = s.repo.FindByID(ctx, id)
		if err != nil {
			return id, err
		}
		if !ok {
			return id, &domain.NotFoundError{ID: id}
		}
		return id, nil
	})
	return rec, err
}

// ListRecords returns every record ordered by creation time, then id.
func (s *Service) ListRecords(ctx context.Context) ([]domain.Record, error) {
	out, err := s.filter(ctx, OpListRecords, nil, func(domain.Record) bool { return true })
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListByRole returns the records holding role, in repository order.
func (s *Service) ListByRole(ctx context.Context, role domain.Role) ([]domain.Record, error) {
	var rejected error
	if !role.Valid() {
		rejected = invalidRole(role)
	}
	return s.filter(ctx, OpListByRole, rejected, func(r domain.Record) bool { return r.Role == role })
}

// ListByTag returns the records carrying tag, in repository order.
func (s *Service) ListByTag(ctx context.Context, tag string) ([]domain.Record, error) {
	tag = strings.TrimSpace(tag)
	var rejected error
	if tag == "" {
		rejected = &domain.ValidationError{Field: "tag", Message: "must not be empty"}
	}
	return s.filter(ctx, OpListByTag, rejected, func(r domain.Record) bool { return r.HasTag(tag) })
}

// SearchByName returns the records whose name contains query, ignoring case.
func (s *Service) SearchByName(ctx context.Context, query string) ([]domain.Record, error) {
	query = strings.TrimSpace(query)
	return s.filter(ctx, OpSearchByName, nil, func(r domain.Record) bool { return r.MatchesName(query) })
}

// UpdateRecord replaces every field of the record stored under id. The
// identifier and creation time cannot be changed.
func (s *Service) UpdateRecord(ctx context.Context, id string, rec domain.Record) (domain.Record, error) {
	var updated domain.Record
	err := s.run(ctx, OpUpdateRecord, func(ctx context.Context) (string, error) {
		rec = rec.Clone()
		rec.Name = strings.TrimSpace(rec.Name)
		if err := validateFields(rec.Name, rec.Role); err != nil {
			return id, err
		}
		rec.ID = id
		if rec.Tags == nil {
			rec.Tags = []string{}
		}
		var err error
		updated, err = s.repo.Update(ctx, id, rec)
		return id, err
	})
	return updated, err
}

// DeleteRecord removes id and reports whether it existed.
func (s *Service) DeleteRecord(ctx context.Context, id string) (bool, error) {
	var removed bool
	err := s.run(ctx, OpDeleteRecord, func(ctx context.Context) (string, error) {
		var err error
		removed, err = s.repo.Delete(ctx, id)
		return id, err
	})
	return removed, err
}

// filter runs a fetch-then-filter query. A non-nil rejected error fails the
// operation without touching the repository.
func (s *Service) filter(ctx context.Context, op string, rejected error, keep func(domain.Record) bool) ([]domain.Record, error) {
	var out []domain.Record
	err := s.run(ctx, op, func(ctx context.Context) (string, error) {
		if rejected != nil {
			return "", rejected
		}
		all, err := s.repo.FindAll(ctx)
		if err != nil {
			return "", err
		}
		out = make([]domain.Record, 0, len(all))
		for _, rec := range all {
			if keep(rec) {
				out = append(out, rec)
			}
		}
		return "", nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// run wraps fn with tracing, metrics, logging and, for writes, auditing. fn
// returns the id of the record it touched.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) (string, error)) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	id, err := fn(ctx)
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.logger.Error("record operation failed", "op", op, "record_id", id, "error", err)
	} else {
		s.logger.Debug("record operation completed", "op", op, "record_id", id, "duration", duration)
	}
	s.recordAudit(ctx, op, id, err, duration)
	return err
}

func (s *Service) recordAudit(ctx context.Context, op, id string, err error, duration time.Duration) {
	action, ok := auditActions[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Action:    action,
		RecordID:  id,
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

func validateFields(name string, role domain.Role) error {
	if name == "" {
		return &domain.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if !role.Valid() {
		return invalidRole(role)
	}
	return nil
}

func invalidRole(role domain.Role) error {
	return &domain.ValidationError{Field: "role", Message: "unknown role " + strconv.Quote(string(role))}
}
