package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jobpsych/server/internal/module/document"
	"github.com/jobpsych/server/internal/shared/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Worker executes one task and returns its analysis. It is expected to honor
// context cancellation; the dispatcher converts its errors into per-task
// results.
type Worker func(ctx context.Context, task Task) (*Analysis, error)

// DispatcherConfig configures batch dispatch.
type DispatcherConfig struct {
	// MaxConcurrency caps the worker pool. The effective pool is
	// min(len(tasks), MaxConcurrency).
	MaxConcurrency int
	// TaskTimeout bounds a single task; exceeding it records a timeout
	// failure without blocking sibling tasks.
	TaskTimeout time.Duration
}

// DefaultDispatcherConfig returns the default dispatcher configuration.
func DefaultDispatcherConfig() *DispatcherConfig {
	return &DispatcherConfig{
		MaxConcurrency: 10,
		TaskTimeout:    90 * time.Second,
	}
}

// Dispatcher fans a batch of independent tasks out over a bounded worker
// pool. One task's failure never aborts the batch: every task terminates in
// exactly one TaskResult, and the result slice preserves submission order no
// matter the completion order.
type Dispatcher struct {
	cfg     DispatcherConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewDispatcher creates a batch dispatcher. metrics may be nil.
func NewDispatcher(cfg *DispatcherConfig, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg == nil {
		cfg = DefaultDispatcherConfig()
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	return &Dispatcher{cfg: *cfg, logger: logger, metrics: m}
}

// Run executes all tasks and collects their outcomes. An all-failure batch is
// a valid, non-exceptional outcome.
func (d *Dispatcher) Run(ctx context.Context, tasks []Task, worker Worker) BatchOutcome {
	results := make([]TaskResult, len(tasks))
	sem := semaphore.NewWeighted(int64(d.cfg.MaxConcurrency))

	var wg sync.WaitGroup
	for _, task := range tasks {
		// Results are written by submission index, not appended on
		// completion, so ordering survives arbitrary scheduling.
		if err := sem.Acquire(ctx, 1); err != nil {
			results[task.Index] = TaskResult{
				Index:     task.Index,
				Filename:  task.Filename,
				ErrorKind: TaskErrorCancelled,
				Message:   "request cancelled before task started",
			}
			continue
		}

		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			defer sem.Release(1)
			results[task.Index] = d.runOne(ctx, task, worker)
		}(task)
	}
	wg.Wait()

	outcome := BatchOutcome{Results: results}
	for _, r := range results {
		if r.Success {
			outcome.SuccessCount++
		} else {
			outcome.FailureCount++
		}
	}
	if len(results) > 0 {
		outcome.SuccessRate = float64(outcome.SuccessCount) / float64(len(results))
	}
	return outcome
}

// runOne executes a single task, converting every failure path, including a
// worker panic, into a TaskResult.
func (d *Dispatcher) runOne(ctx context.Context, task Task, worker Worker) (result TaskResult) {
	start := time.Now()
	result = TaskResult{Index: task.Index, Filename: task.Filename}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("task panicked",
				zap.Int("index", task.Index),
				zap.String("filename", task.Filename),
				zap.Any("panic", r),
			)
			result.Success = false
			result.Analysis = nil
			result.ErrorKind = TaskErrorInternal
			result.Message = "internal error while processing document"
		}
		if d.metrics != nil {
			d.metrics.RecordBatchTask(taskOutcomeLabel(result), time.Since(start))
		}
	}()

	taskCtx, cancel := context.WithTimeout(ctx, d.cfg.TaskTimeout)
	defer cancel()

	analysis, err := worker(taskCtx, task)
	if err != nil {
		result.ErrorKind, result.Message = classifyTaskError(taskCtx, err)
		return result
	}

	result.Success = true
	result.Analysis = analysis
	return result
}

func classifyTaskError(ctx context.Context, err error) (TaskErrorKind, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return TaskErrorTimeout, "document processing timed out"
	case errors.Is(err, context.Canceled):
		return TaskErrorCancelled, "request cancelled"
	default:
		kind := TaskErrorAnalysis
		var extractionErr *document.ExtractionError
		if errors.As(err, &extractionErr) {
			kind = TaskErrorExtraction
		}
		return kind, err.Error()
	}
}

func taskOutcomeLabel(r TaskResult) string {
	switch {
	case r.Success:
		return "success"
	case r.ErrorKind == TaskErrorTimeout:
		return "timeout"
	default:
		return "failure"
	}
}
