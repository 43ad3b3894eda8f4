package analyses

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/bryanwahyu/sans-pilot/internal/domain/analysis"
	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
)

// Executor runs a named analysis synchronously.
type Executor interface {
	Execute(ctx context.Context, name string, params analysis.Parameters) (analysis.Result, error)
}

// Observer receives run lifecycle events, typically metrics.
type Observer interface {
	RunStarted(analysis string)
	RunFinished(analysis string, err error, elapsed time.Duration)
}

// Dispatcher runs blocking analyses on a bounded pool of goroutines so the
// request loop stays responsive. Runs cannot be cancelled once submitted and
// no timeout is applied.
type Dispatcher struct {
	exec     Executor
	sem      *semaphore.Weighted
	logger   *slog.Logger
	tracer   trace.Tracer
	observer Observer
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

func WithTracer(t trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) { d.tracer = t }
}

// NewDispatcher bounds concurrent runs to workers (minimum 1).
func NewDispatcher(exec Executor, workers int, opts ...DispatcherOption) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		exec:   exec,
		sem:    semaphore.NewWeighted(int64(workers)),
		logger: slog.New(slog.DiscardHandler),
		tracer: otel.Tracer("github.com/bryanwahyu/sans-pilot/analyses"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Task is the pending result of a submitted run.
type Task struct {
	name   string
	done   chan struct{}
	result analysis.Result
	err    error
}

// Done is closed when the run has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the run finishes or ctx ends. When ctx ends first the run
// keeps going in the background and ctx's error is returned.
func (t *Task) Wait(ctx context.Context) (analysis.Result, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return analysis.Result{}, ctx.Err()
	}
}

// Outcome returns the result of a finished task. It must only be called after Done is closed.
func (t *Task) Outcome() (analysis.Result, error) { return t.result, t.err }

// Submit queues name for execution and returns immediately. The run is
// detached from ctx cancellation but keeps its values (trace, request ids).
func (d *Dispatcher) Submit(ctx context.Context, name string, params analysis.Parameters) *Task {
	t := &Task{name: name, done: make(chan struct{})}
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(t.done)
		// cannot fail: runCtx is never cancelled
		_ = d.sem.Acquire(runCtx, 1)
		defer d.sem.Release(1)
		t.result, t.err = d.run(runCtx, name, params)
	}()
	return t
}

func (d *Dispatcher) run(ctx context.Context, name string, params analysis.Parameters) (res analysis.Result, err error) {
	ctx, span := d.tracer.Start(ctx, "analysis.execute", trace.WithAttributes(attribute.String("analysis.name", name)))
	defer span.End()

	start := time.Now()
	if d.observer != nil {
		d.observer.RunStarted(name)
	}
	d.logger.Info("analysis.run_started", "analysis", name)

	defer func() {
		if p := recover(); p != nil {
			err = analysis.WrapExecution(name, fmt.Errorf("panic: %v", p))
		}
		elapsed := time.Since(start)
		if d.observer != nil {
			d.observer.RunFinished(name, err, elapsed)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, sentinel.Code(err))
			d.logger.Warn("analysis.run_failed", "analysis", name, "duration_ms", elapsed.Milliseconds(),
				"trace_id", span.SpanContext().TraceID().String(), "error", err.Error())
			return
		}
		d.logger.Info("analysis.run_finished", "analysis", name, "duration_ms", elapsed.Milliseconds(),
			"trace_id", span.SpanContext().TraceID().String())
	}()

	return d.exec.Execute(ctx, name, params)
}
