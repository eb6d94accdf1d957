package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PrometheusMetricsRecorder exports service operation counts and latencies.
type PrometheusMetricsRecorder struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder registers the recordkeeper service metrics on
// reg (prometheus.DefaultRegisterer when nil). Registering twice on the same
// registry reuses the existing collectors.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recordkeeper",
		Name:      "operations_total",
		Help:      "Record service operations by outcome.",
	}, []string{"operation", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "recordkeeper",
		Name:      "operation_duration_seconds",
		Help:      "Record service operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	var err error
	if operations, err = register(reg, operations); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	return &PrometheusMetricsRecorder{operations: operations, duration: duration}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ZapLogger adapts a zap logger to Logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps l. A nil logger discards everything.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{sugar: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// Debug implements Logger.
func (z *ZapLogger) Debug(msg string, args ...any) { z.sugar.Debugw(msg, args...) }

// Info implements Logger.
func (z *ZapLogger) Info(msg string, args ...any) { z.sugar.Infow(msg, args...) }

// Warn implements Logger.
func (z *ZapLogger) Warn(msg string, args ...any) { z.sugar.Warnw(msg, args...) }

// Error implements Logger.
func (z *ZapLogger) Error(msg string, args ...any) { z.sugar.Errorw(msg, args...) }

// TraceEntry is a finished span recorded by LogTracer.
type TraceEntry struct {
	Operation string
	Status    string
	Duration  time.Duration
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
}

// LogTracer writes each finished span to a zap logger at debug level and
// retains it for inspection.
type LogTracer struct {
	log     *zap.Logger
	mu      sync.Mutex
	entries []TraceEntry
}

// NewLogTracer constructs a tracer writing to l. A nil logger only retains.
func NewLogTracer(l *zap.Logger) *LogTracer {
	if l == nil {
		l = zap.NewNop()
	}
	return &LogTracer{log: l}
}

// Entries returns a copy of the spans finished so far.
func (t *LogTracer) Entries() []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Start implements Tracer.
func (t *LogTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &logSpan{tracer: t, operation: operation, started: time.Now().UTC()}
}

type logSpan struct {
	tracer    *LogTracer
	operation string
	started   time.Time
	once      sync.Once
}

func (s *logSpan) End(err error) {
	s.once.Do(func() {
		ended := time.Now().UTC()
		entry := TraceEntry{
			Operation: s.operation,
			Status:    "success",
			Duration:  ended.Sub(s.started),
			StartedAt: s.started,
			EndedAt:   ended,
		}
		if err != nil {
			entry.Status = "error"
			entry.Error = err.Error()
		}
		s.tracer.mu.Lock()
		s.tracer.entries = append(s.tracer.entries, entry)
		s.tracer.mu.Unlock()
		s.tracer.log.Debug("span",
			zap.String("op", entry.Operation),
			zap.String("status", entry.Status),
			zap.Duration("duration", entry.Duration),
			zap.Error(err),
		)
	})
}
