package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Dialer opens a connection to the broker at uri.
type Dialer func(uri string, config amqp.Config) (Connection, error)

// Connection is the subset of *amqp.Connection the client uses.
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// Channel is the subset of *amqp.Channel the client uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Dial connects to a real broker.
func Dial(uri string, config amqp.Config) (Connection, error) {
	conn, err := amqp.DialConfig(uri, config)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{Connection: conn}, nil
}

type amqpConnection struct {
	*amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}
