package worker

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer sets the prefetch limit and registers the consumer
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	// the broker withholds further deliveries while prefetchCount are unacked
	if err := w.broker.SetPrefetch(w.prefetchCount); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	w.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.broker.Consume(w.consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.consumerTag),
		slog.String("queue", w.queueName),
	)

	return deliveries, nil
}

// dispatch hands deliveries to the pool in broker order. The hand-off is
// unbuffered, so a delivery is only taken by an idle pool goroutine.
func (w *Worker) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	defer w.wg.Done()

	w.logger.Info("Message dispatcher started",
		slog.String("consumer_tag", w.consumerTag),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped")
			return nil

		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				if w.stopping() {
					return nil
				}
				w.logger.Error("RabbitMQ delivery channel closed")
				return ErrDeliveriesClosed
			}

			select {
			case w.jobsChan <- delivery:
				w.logger.Debug("Job dispatched to worker pool",
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-w.stopChan:
				w.release(delivery)
				return nil
			case <-ctx.Done():
				w.release(delivery)
				return nil
			}
		}
	}
}

// release returns an unprocessed delivery to the queue
func (w *Worker) release(delivery amqp.Delivery) {
	if err := w.broker.Nack(delivery.DeliveryTag, true); err != nil {
		w.metrics.SettleFailed("nack")
		w.logger.Error("Failed to NACK message on shutdown",
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
			slog.Any("error", err),
		)
		return
	}
	w.logger.Info("Released undispatched message",
		slog.Uint64("delivery_tag", delivery.DeliveryTag),
	)
}
