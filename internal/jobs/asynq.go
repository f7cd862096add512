package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// AsynqEnqueuer queues tasks in Redis for the worker.
type AsynqEnqueuer struct {
	client *asynq.Client
}

// NewAsynqEnqueuer creates an enqueuer from a redis:// URL.
func NewAsynqEnqueuer(redisURL string) (*AsynqEnqueuer, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse REDIS_URL: %w", err)
	}
	return &AsynqEnqueuer{client: asynq.NewClient(opt)}, nil
}

func (a *AsynqEnqueuer) Enqueue(ctx context.Context, taskType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = a.client.EnqueueContext(ctx, asynq.NewTask(taskType, data),
		asynq.Queue("default"),
		asynq.MaxRetry(8),
		asynq.Timeout(time.Minute),
		asynq.Retention(24*time.Hour),
	)
	return err
}

// Close closes the Redis connection.
func (a *AsynqEnqueuer) Close() error {
	return a.client.Close()
}

// Worker processes queued tasks.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker creates a worker that consumes the default queue.
func NewWorker(redisURL string, concurrency int, h *Handlers, logger zerolog.Logger) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse REDIS_URL: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 5
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{"default": 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			logger.Error().Err(err).
				Str("task", task.Type()).
				Int("retry", retried).
				Msg("background task failed")
		}),
		Logger:   asynqLogger{logger},
		LogLevel: asynq.WarnLevel,
	})

	mux := asynq.NewServeMux()
	for _, taskType := range []string{TypeVerificationEmail, TypeModerationEmail} {
		mux.HandleFunc(taskType, func(ctx context.Context, t *asynq.Task) error {
			err := h.Process(ctx, t.Type(), t.Payload())
			if errors.Is(err, errBadPayload) {
				return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
			}
			return err
		})
	}
	return &Worker{server: srv, mux: mux}, nil
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}

// asynqLogger adapts zerolog to asynq.Logger.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
