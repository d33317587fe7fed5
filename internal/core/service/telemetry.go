package service

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/rl1809/cart-service/internal/core/domain"
)

const tracerName = "github.com/rl1809/cart-service/internal/core/service"

type Metrics struct {
	CartOperations *prometheus.CounterVec
	Checkouts      *prometheus.CounterVec
	LockAcquires   *prometheus.CounterVec
	CacheLookups   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CartOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cart_operations_total",
			Help: "Cart operations by operation and result.",
		}, []string{"operation", "result"}),
		Checkouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_total",
			Help: "Checkout attempts by result.",
		}, []string{"result"}),
		LockAcquires: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lock_acquire_total",
			Help: "Product lease acquisitions by result.",
		}, []string{"result"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cart_cache_total",
			Help: "Cart cache lookups by result.",
		}, []string{"result"}),
	}
}

// Telemetry bundles the logger, metrics and tracer shared by the services.
// Nil members are replaced with no-op implementations.
type Telemetry struct {
	Logger  *zap.Logger
	Metrics *Metrics
	Tracer  trace.Tracer
}

func (t Telemetry) withDefaults() Telemetry {
	if t.Logger == nil {
		t.Logger = zap.NewNop()
	}
	if t.Metrics == nil {
		t.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	if t.Tracer == nil {
		t.Tracer = noop.NewTracerProvider().Tracer(tracerName)
	}
	return t
}

// ResultLabel reduces an error to its kind, for metric labels and logs.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrLockUnavailable):
		return "lock_unavailable"
	case errors.Is(err, domain.ErrCartClosed):
		return "cart_closed"
	case errors.Is(err, domain.ErrStorage):
		return "storage"
	default:
		return "error"
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ResultLabel(err))
	}
	span.End()
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStorage, op, err)
}
