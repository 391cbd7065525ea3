package rabbitmq

import "errors"

var (
	// ErrConnectivity is returned when the broker is unreachable, rejects
	// the credentials, or drops the session.
	ErrConnectivity = errors.New("rabbitmq connectivity error")

	// ErrChannel is returned when a channel cannot be opened or a channel
	// level operation is refused by the broker.
	ErrChannel = errors.New("rabbitmq channel error")

	// ErrQueueConfigConflict is returned when the queue already exists with
	// incompatible settings.
	ErrQueueConfigConflict = errors.New("rabbitmq queue configuration conflict")

	// ErrShutdown wraps failures while closing the channel or connection.
	ErrShutdown = errors.New("rabbitmq shutdown failed")

	// ErrNotConnected is returned by operations issued after Close.
	ErrNotConnected = errors.New("not connected to RabbitMQ")
)
