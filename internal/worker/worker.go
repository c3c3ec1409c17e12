package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"jarvis/internal/metrics"
	"jarvis/internal/providers"
)

var (
	ErrQueueFull = errors.New("turn queue is full")
	ErrStopped   = errors.New("worker stopped")
)

// Answerer runs one turn. assistant.Assistant satisfies it.
type Answerer interface {
	Answer(ctx context.Context, utterance string, explicit providers.Name) string
}

// Job is one queued turn. Reply receives the answer on the worker goroutine.
type Job struct {
	ID        string
	Utterance string
	Provider  providers.Name
	Reply     func(ctx context.Context, text string)
	queuedAt  time.Time
}

type Config struct {
	Answerer  Answerer
	QueueSize int
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// Worker is the single consumer for remote surfaces. Jobs run one at a time
// in submission order, so handlers never block on provider latency and turns
// never interleave.
type Worker struct {
	answerer Answerer
	jobs     chan Job
	done     chan struct{}
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

const DefaultQueueSize = 64

func New(cfg Config) *Worker {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Worker{
		answerer: cfg.Answerer,
		jobs:     make(chan Job, cfg.QueueSize),
		done:     make(chan struct{}),
		logger:   cfg.Logger.With().Str("component", "worker").Logger(),
		metrics:  m,
	}
}

// Submit queues a job without waiting. It fails fast when the queue is full
// or the worker has stopped.
func (w *Worker) Submit(job Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.queuedAt = time.Now()

	select {
	case <-w.done:
		return "", ErrStopped
	default:
	}
	select {
	case w.jobs <- job:
		w.metrics.WorkerJobs.WithLabelValues("enqueued").Inc()
		return job.ID, nil
	default:
		w.metrics.WorkerJobs.WithLabelValues("rejected").Inc()
		return "", ErrQueueFull
	}
}

// Ask submits a turn and waits for its answer or ctx.
func (w *Worker) Ask(ctx context.Context, utterance string, provider providers.Name) (string, error) {
	out := make(chan string, 1)
	_, err := w.Submit(Job{
		Utterance: utterance,
		Provider:  provider,
		Reply:     func(_ context.Context, text string) { out <- text },
	})
	if err != nil {
		return "", err
	}
	select {
	case text := <-out:
		return text, nil
	case <-ctx.Done():
		return "", fmt.Errorf("wait for answer: %w", ctx.Err())
	case <-w.done:
		return "", ErrStopped
	}
}

// Start consumes jobs until ctx is cancelled. Queued jobs left at shutdown are
// dropped.
func (w *Worker) Start(ctx context.Context) error {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			if n := len(w.jobs); n > 0 {
				w.logger.Warn().Int("dropped", n).Msg("worker stopping with queued jobs")
			}
			return nil
		case job := <-w.jobs:
			w.process(ctx, job)
		}
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	log := w.logger.With().Str("job_id", job.ID).Logger()
	defer func() {
		if r := recover(); r != nil {
			w.metrics.WorkerJobs.WithLabelValues("failed").Inc()
			log.Error().Interface("panic", r).Msg("job panicked")
		}
	}()

	waited := time.Since(job.queuedAt)
	text := w.answerer.Answer(ctx, job.Utterance, job.Provider)
	if job.Reply != nil {
		job.Reply(ctx, text)
	}
	w.metrics.WorkerJobs.WithLabelValues("processed").Inc()
	log.Debug().Dur("queued", waited).Str("provider", string(job.Provider)).Msg("job processed")
}
