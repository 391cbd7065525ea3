package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/stream-recorder/internal/worker/domain"
	"github.com/cuongbtq/stream-recorder/internal/worker/storage"
	amqp "github.com/rabbitmq/amqp091-go"
)

const ledgerTimeout = 5 * time.Second

// spawnWorkerPool spawns one goroutine per prefetch slot
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.prefetchCount; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.prefetchCount),
	)
}

// workerLoop runs jobs until the worker stops. A job that has been
// received always runs to completion and is settled.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.consumerTag, workerNum)

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case delivery := <-w.jobsChan:
			w.handle(ctx, workerName, delivery)
		}
	}
}

// handle processes one delivery and settles it exactly once
func (w *Worker) handle(ctx context.Context, workerName string, delivery amqp.Delivery) {
	w.metrics.JobStarted()
	defer w.metrics.JobFinished()

	msg := &domain.JobMessage{
		DeliveryTag: delivery.DeliveryTag,
		Redelivered: delivery.Redelivered,
		Body:        delivery.Body,
	}

	w.logger.Info("Worker received job",
		slog.String("worker_name", workerName),
		slog.Uint64("delivery_tag", msg.DeliveryTag),
		slog.Bool("redelivered", msg.Redelivered),
	)

	// shutdown does not interrupt a running job
	jobCtx := context.WithoutCancel(ctx)

	result := w.processor.Process(jobCtx, msg)
	requeue := w.settle(workerName, msg, result)
	w.recordOutcome(jobCtx, msg, result, requeue)
}

// settle acks or nacks the delivery from the result and reports whether
// a nack asked for requeue
func (w *Worker) settle(workerName string, msg *domain.JobMessage, result domain.Result) bool {
	outcome := result.Outcome()
	w.metrics.ObserveOutcome(outcome.String())

	if outcome == domain.OutcomeAck {
		if err := w.broker.Ack(msg.DeliveryTag); err != nil {
			w.metrics.SettleFailed("ack")
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.Uint64("delivery_tag", msg.DeliveryTag),
				slog.Any("error", err),
			)
			return false
		}

		w.logger.Info("Job completed successfully",
			slog.String("worker_name", workerName),
			slog.Uint64("delivery_tag", msg.DeliveryTag),
			slog.String("location", result.Location),
			slog.Duration("elapsed", result.Elapsed),
		)
		return false
	}

	requeue := w.shouldRequeueJob(result.Err)

	w.logger.Error("Job processing failed",
		slog.String("worker_name", workerName),
		slog.Uint64("delivery_tag", msg.DeliveryTag),
		slog.Any("error", result.Err),
		slog.Bool("requeue", requeue),
	)

	if err := w.broker.Nack(msg.DeliveryTag, requeue); err != nil {
		w.metrics.SettleFailed("nack")
		w.logger.Error("Failed to NACK message",
			slog.String("worker_name", workerName),
			slog.Uint64("delivery_tag", msg.DeliveryTag),
			slog.Any("error", err),
		)
	}

	return requeue
}

// shouldRequeueJob determines if a failed job should go back on the queue
func (w *Worker) shouldRequeueJob(err error) bool {
	// a malformed payload fails the same way on every delivery
	if errors.Is(err, domain.ErrInvalidPayload) {
		return false
	}

	return w.requeueOnFailure
}

func (w *Worker) recordOutcome(ctx context.Context, msg *domain.JobMessage, result domain.Result, requeued bool) {
	if w.ledger == nil {
		return
	}

	entry := &storage.Entry{
		ConsumerTag: w.consumerTag,
		DeliveryTag: msg.DeliveryTag,
		Redelivered: msg.Redelivered,
		Location:    result.Location,
		Status:      storage.StatusCompleted,
		Requeued:    requeued,
		Elapsed:     result.Elapsed,
	}
	if result.Job != nil {
		entry.URL = result.Job.URL
		entry.DurationSecs = result.Job.Duration
	}
	if result.Err != nil {
		entry.Status = storage.StatusRejected
		entry.ErrorMessage = result.Err.Error()
	}

	ctx, cancel := context.WithTimeout(ctx, ledgerTimeout)
	defer cancel()

	if err := w.ledger.RecordOutcome(ctx, entry); err != nil {
		w.logger.Warn("Failed to record job outcome",
			slog.Uint64("delivery_tag", msg.DeliveryTag),
			slog.Any("error", err),
		)
	}
}
