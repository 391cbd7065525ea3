package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/stream-recorder/internal/metrics"
	"github.com/cuongbtq/stream-recorder/internal/worker/domain"
	"github.com/cuongbtq/stream-recorder/internal/worker/storage"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrDeliveriesClosed is returned by Start when the broker closes the
	// delivery stream while the worker is running
	ErrDeliveriesClosed = errors.New("delivery channel closed by broker")

	// ErrDrainTimeout is returned by Stop when in-flight jobs do not finish in time
	ErrDrainTimeout = errors.New("timed out waiting for in-flight jobs")

	// ErrAlreadyStarted is returned by a second call to Start
	ErrAlreadyStarted = errors.New("worker already started")
)

// Broker is the channel surface the worker consumes from and settles on
type Broker interface {
	SetPrefetch(count int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	CancelConsumer(consumerTag string) error
	Ack(deliveryTag uint64) error
	Nack(deliveryTag uint64, requeue bool) error
}

// JobProcessor turns one message into a result. It must not panic and must
// always return.
type JobProcessor interface {
	Process(ctx context.Context, msg *domain.JobMessage) domain.Result
}

// Ledger stores settled outcomes
type Ledger interface {
	RecordOutcome(ctx context.Context, entry *storage.Entry) error
}

// Config holds worker configuration
type Config struct {
	Logger           *slog.Logger
	Broker           Broker
	Processor        JobProcessor
	Ledger           Ledger // optional
	Metrics          *metrics.Metrics
	ConsumerTag      string
	QueueName        string
	PrefetchCount    int
	RequeueOnFailure bool
}

// Worker consumes recording jobs with at most PrefetchCount in flight
type Worker struct {
	logger           *slog.Logger
	broker           Broker
	processor        JobProcessor
	ledger           Ledger
	metrics          *metrics.Metrics
	consumerTag      string
	queueName        string
	prefetchCount    int
	requeueOnFailure bool

	jobsChan chan amqp.Delivery
	stopChan chan struct{}
	wg       sync.WaitGroup

	// mu orders Start against Stop so wg.Add never races wg.Wait
	mu      sync.Mutex
	started bool
	stopped bool
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	prefetch := cfg.PrefetchCount
	if prefetch < 1 {
		prefetch = 1
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}

	return &Worker{
		logger:           cfg.Logger,
		broker:           cfg.Broker,
		processor:        cfg.Processor,
		ledger:           cfg.Ledger,
		metrics:          m,
		consumerTag:      cfg.ConsumerTag,
		queueName:        cfg.QueueName,
		prefetchCount:    prefetch,
		requeueOnFailure: cfg.RequeueOnFailure,
		jobsChan:         make(chan amqp.Delivery),
		stopChan:         make(chan struct{}),
	}
}

// Start configures backpressure, begins consuming and dispatches deliveries
// until the worker is stopped or ctx is done. It returns ErrDeliveriesClosed
// if the broker ends the delivery stream first.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	w.started = true

	w.logger.Info("Starting worker",
		slog.Int("prefetch_count", w.prefetchCount),
		slog.String("queue", w.queueName),
		slog.Bool("requeue_on_failure", w.requeueOnFailure),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.wg.Add(1)
	w.mu.Unlock()

	return w.dispatch(ctx, deliveries)
}

// Stop cancels the consumer and waits for the dispatcher and every
// in-flight job to settle. Jobs are not interrupted; if ctx ends first
// Stop returns ErrDrainTimeout and the jobs keep running.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		w.logger.Info("Stopping worker...")
		close(w.stopChan)

		if w.started {
			if err := w.broker.CancelConsumer(w.consumerTag); err != nil {
				w.logger.Warn("Failed to cancel consumer",
					slog.String("consumer_tag", w.consumerTag),
					slog.Any("error", err),
				)
			}
		}
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrDrainTimeout, ctx.Err())
	}
}

func (w *Worker) stopping() bool {
	select {
	case <-w.stopChan:
		return true
	default:
		return false
	}
}
