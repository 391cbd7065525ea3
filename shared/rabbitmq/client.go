package rabbitmq

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ connection configuration
type Config struct {
	URI            string
	ConnectionName string
	QueueName      string
	QueueDurable   bool
	RetryAttempts  int
	RetryInterval  time.Duration
	Heartbeat      time.Duration

	// Dialer opens the broker connection. Defaults to Dial.
	Dialer Dialer
}

// Client owns the single broker connection and channel of the process
type Client struct {
	config    *Config
	conn      Connection
	channel   Channel
	logger    *slog.Logger
	closeChan chan *amqp.Error

	// chMu serializes acknowledgments on the shared channel
	chMu      sync.Mutex
	connected atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewClient connects to the broker, opens a channel and declares the queue
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect() error {
	dial := c.config.Dialer
	if dial == nil {
		dial = Dial
	}

	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	amqpConfig := amqp.Config{
		Heartbeat:  c.config.Heartbeat,
		Locale:     "en_US",
		Properties: amqp.NewConnectionProperties(),
	}
	if c.config.ConnectionName != "" {
		amqpConfig.Properties.SetClientConnectionName(c.config.ConnectionName)
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		c.conn, err = dial(c.config.URI, amqpConfig)
		if err == nil {
			c.logger.Info("Successfully connected to RabbitMQ")
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("%w: after %d attempts: %w", ErrConnectivity, attempts, err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("%w: open channel: %w", ErrChannel, err)
	}

	if err := c.declareQueue(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return err
	}

	c.closeChan = c.channel.NotifyClose(make(chan *amqp.Error, 1))
	c.connected.Store(true)

	c.logger.Info("RabbitMQ client initialized",
		slog.String("queue", c.config.QueueName),
		slog.Bool("durable", c.config.QueueDurable),
	)

	return nil
}

// declareQueue asserts the work queue exists with the configured durability
func (c *Client) declareQueue() error {
	_, err := c.channel.QueueDeclare(
		c.config.QueueName,    // name
		c.config.QueueDurable, // durable
		false,                 // auto-delete
		false,                 // exclusive
		false,                 // no-wait
		nil,                   // arguments
	)
	if err == nil {
		return nil
	}

	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed {
		return fmt.Errorf("%w: queue %q: %w", ErrQueueConfigConflict, c.config.QueueName, err)
	}
	return fmt.Errorf("%w: declare queue %q: %w", ErrChannel, c.config.QueueName, err)
}

// SetPrefetch bounds the number of unacknowledged deliveries held by this consumer
func (c *Client) SetPrefetch(count int) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	// prefetch_size 0: no byte limit; global false: per consumer
	if err := c.channel.Qos(count, 0, false); err != nil {
		return fmt.Errorf("%w: set QoS: %w", ErrChannel, err)
	}
	return nil
}

// Consume starts a manual-ack consumer on the queue
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	messages, err := c.channel.Consume(
		c.config.QueueName, // queue
		consumerTag,        // consumer tag
		false,              // auto-ack
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,                // args
	)
	if err != nil {
		return nil, fmt.Errorf("%w: consume: %w", ErrChannel, err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", consumerTag),
	)

	return messages, nil
}

// CancelConsumer asks the broker to stop delivering to consumerTag
func (c *Client) CancelConsumer(consumerTag string) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	if err := c.channel.Cancel(consumerTag, false); err != nil {
		return fmt.Errorf("%w: cancel consumer: %w", ErrChannel, err)
	}
	return nil
}

// Ack positively acknowledges a single delivery
func (c *Client) Ack(deliveryTag uint64) error {
	c.chMu.Lock()
	defer c.chMu.Unlock()

	if !c.connected.Load() {
		return ErrNotConnected
	}
	return c.channel.Ack(deliveryTag, false)
}

// Nack negatively acknowledges a single delivery
func (c *Client) Nack(deliveryTag uint64, requeue bool) error {
	c.chMu.Lock()
	defer c.chMu.Unlock()

	if !c.connected.Load() {
		return ErrNotConnected
	}
	return c.channel.Nack(deliveryTag, false, requeue)
}

// NotifyClose yields an error when the broker closes the channel. It is
// closed without a value on a client-initiated Close.
func (c *Client) NotifyClose() <-chan *amqp.Error {
	return c.closeChan
}

// Close closes the channel, then the connection. Later calls return the
// result of the first.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.close()
	})
	return c.closeErr
}

func (c *Client) close() error {
	c.logger.Info("Closing RabbitMQ connection")

	// Wait for any acknowledgment in flight before tearing the channel down.
	c.chMu.Lock()
	c.connected.Store(false)
	c.chMu.Unlock()

	var chErr, connErr error
	if c.channel != nil {
		if chErr = c.channel.Close(); chErr != nil {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", chErr),
			)
			chErr = fmt.Errorf("close channel: %w", chErr)
		}
	}

	if c.conn != nil {
		if connErr = c.conn.Close(); connErr != nil {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", connErr),
			)
			connErr = fmt.Errorf("close connection: %w", connErr)
		}
	}

	if err := errors.Join(chErr, connErr); err != nil {
		return fmt.Errorf("%w: %w", ErrShutdown, err)
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.conn != nil && !c.conn.IsClosed()
}
