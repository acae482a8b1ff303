package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadlock_backend/platform/config"
	"leadlock_backend/platform/logger"

	"github.com/hibiken/asynq"
)

const maxRetryDelay = 15 * time.Minute

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *logger.Logger
}

// NewWorker builds the retry coordinator. Tasks that exhaust their retries or
// fail permanently are archived by asynq, which is the dead-letter queue.
func NewWorker(cfg config.SchedulerConfig, processor *Processor, log *logger.Logger) (*Worker, error) {
	if cfg.GetRedisURL() == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(cfg)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
		RetryDelayFunc: retryDelay(cfg.GetRetryBaseDelay()),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			reportFailure(ctx, log, task, err)
		}),
		Logger:          asynqLogger{log: log},
		ShutdownTimeout: 30 * time.Second,
	})

	mux := asynq.NewServeMux()
	processor.Register(mux)

	return &Worker{server: server, mux: mux, log: log}, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

// retryDelay doubles base on every attempt up to maxRetryDelay.
func retryDelay(base time.Duration) asynq.RetryDelayFunc {
	if base <= 0 {
		base = 10 * time.Second
	}
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		d := base
		for i := 0; i < n && d < maxRetryDelay; i++ {
			d *= 2
		}
		if d > maxRetryDelay {
			d = maxRetryDelay
		}
		return d
	}
}

func reportFailure(ctx context.Context, log *logger.Logger, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	taskID, _ := asynq.GetTaskID(ctx)

	args := []any{"type", task.Type(), "taskId", taskID, "retried", retried, "maxRetry", maxRetry, "error", err}
	if deadLettered(err, retried, maxRetry) {
		log.Error("scheduler: task dead_lettered", args...)
		return
	}
	log.Warn("scheduler: task failed, will retry", args...)
}

// deadLettered reports whether asynq will archive the task after this failure.
func deadLettered(err error, retried, maxRetry int) bool {
	return errors.Is(err, asynq.SkipRetry) || retried >= maxRetry
}

// asynqLogger routes asynq's internal logging through the structured logger.
type asynqLogger struct {
	log *logger.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...), "component", "asynq") }
func (l asynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...), "component", "asynq") }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...), "component", "asynq") }
func (l asynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...), "component", "asynq") }
func (l asynqLogger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...), "component", "asynq", "fatal", true) }
