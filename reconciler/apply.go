package reconciler

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/crmarques/reconctl/debugctx"
	"github.com/crmarques/reconctl/resource"
)

const tracerName = "github.com/crmarques/reconctl/reconciler"

type applyConfig struct {
	logger   *logr.Logger
	progress ProgressSink
	metrics  *Metrics
	tracer   trace.Tracer
	runID    string
	observer func(Step, error)
	now      func() time.Time
}

type ApplyOption func(*applyConfig)

// WithLogger overrides the logger carried by the apply context.
func WithLogger(logger logr.Logger) ApplyOption {
	return func(cfg *applyConfig) {
		cfg.logger = &logger
	}
}

func WithProgress(progress ProgressSink) ApplyOption {
	return func(cfg *applyConfig) {
		if progress != nil {
			cfg.progress = progress
		}
	}
}

func WithMetrics(metrics *Metrics) ApplyOption {
	return func(cfg *applyConfig) {
		cfg.metrics = metrics
	}
}

func WithTracer(tracer trace.Tracer) ApplyOption {
	return func(cfg *applyConfig) {
		if tracer != nil {
			cfg.tracer = tracer
		}
	}
}

func WithRunID(runID string) ApplyOption {
	return func(cfg *applyConfig) {
		if runID != "" {
			cfg.runID = runID
		}
	}
}

// WithObserver registers a callback invoked after every remote call with the
// step and its error.
func WithObserver(observer func(Step, error)) ApplyOption {
	return func(cfg *applyConfig) {
		cfg.observer = observer
	}
}

func WithClock(now func() time.Time) ApplyOption {
	return func(cfg *applyConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

func newApplyConfig(opts []ApplyOption) applyConfig {
	cfg := applyConfig{
		progress: nopProgress{},
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.runID == "" {
		cfg.runID = uuid.NewString()
	}
	return cfg
}

// Apply diffs the working set against the snapshot and executes the resulting
// steps. The returned error is set only when no plan could be computed;
// per-item failures and cancellation are reported through the Result.
func Apply[R any](ctx context.Context, kind Kind[R], original []R, workingSet []Entry[R], opts ...ApplyOption) (Result, error) {
	steps, _, err := Prepare(kind, original, workingSet)
	if err != nil {
		return Result{}, err
	}
	return Execute(ctx, kind.Name(), steps, opts...), nil
}

// Execute runs steps one at a time in order. A failed step is recorded and
// the run continues. ctx is polled for cancellation before the first step and
// after every step; remote calls themselves run detached from ctx
// cancellation so an in-flight call always completes.
func Execute(ctx context.Context, kind resource.Kind, steps []Step, opts ...ApplyOption) Result {
	cfg := newApplyConfig(opts)

	logger := debugctx.Logger(ctx)
	if cfg.logger != nil {
		logger = *cfg.logger
	}
	logger = logger.WithValues("kind", kind, "run", cfg.runID)

	ctx, span := cfg.tracer.Start(ctx, "reconcile.apply", trace.WithAttributes(
		attribute.String("reconctl.kind", string(kind)),
		attribute.String("reconctl.run_id", cfg.runID),
		attribute.Int("reconctl.steps", len(steps)),
	))
	defer span.End()

	result := Result{
		RunID:     cfg.runID,
		Kind:      kind,
		Status:    StatusSucceeded,
		Total:     len(steps),
		StartedAt: cfg.now(),
	}

	cfg.progress.Start(len(steps))
	callCtx := context.WithoutCancel(ctx)

	canceled := len(steps) > 0 && ctx.Err() != nil
	for _, step := range steps {
		if canceled {
			break
		}

		err := runStep(callCtx, cfg, step)
		result.Attempted++
		if err != nil {
			result.Failures = append(result.Failures, newFailure(step, err))
			logger.Error(err, "remote operation failed", "operation", step.Operation, "identity", step.Identity)
		} else {
			logger.V(debugctx.DebugLevel).Info("remote operation applied", "operation", step.Operation, "identity", step.Identity)
		}
		if cfg.observer != nil {
			cfg.observer(step, err)
		}
		cfg.progress.Advance(1)

		canceled = ctx.Err() != nil
	}

	switch {
	case canceled:
		result.Status = StatusCanceled
	case len(result.Failures) > 0:
		result.Status = StatusFailed
	}
	result.FinishedAt = cfg.now()

	span.SetAttributes(
		attribute.String("reconctl.status", string(result.Status)),
		attribute.Int("reconctl.attempted", result.Attempted),
		attribute.Int("reconctl.failures", len(result.Failures)),
	)
	if result.Status != StatusSucceeded {
		span.SetStatus(codes.Error, string(result.Status))
	}
	cfg.metrics.observeRun(result)

	if result.Total > 0 {
		logger.Info(
			"apply finished",
			"status", result.Status,
			"attempted", result.Attempted,
			"total", result.Total,
			"failures", len(result.Failures),
		)
	}
	return result
}

func runStep(ctx context.Context, cfg applyConfig, step Step) error {
	ctx, span := cfg.tracer.Start(ctx, "reconcile.step", trace.WithAttributes(
		attribute.String("reconctl.kind", string(step.Kind)),
		attribute.String("reconctl.operation", string(step.Operation)),
		attribute.String("reconctl.identity", step.Identity),
	))
	defer span.End()

	started := cfg.now()
	err := step.execute(ctx)
	cfg.metrics.observeStep(step, cfg.now().Sub(started), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
