package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/stream-recorder/internal/worker/domain"
	"github.com/cuongbtq/stream-recorder/internal/worker/storage"
)

type fakeBroker struct {
	mu         sync.Mutex
	deliveries chan amqp.Delivery
	closeOnce  sync.Once
	events     []string
	acks       map[uint64]int
	nacks      map[uint64]int
	requeued   map[uint64]bool
	prefetch   int
	tag        string
	canceled   bool
	qosErr     error
	settled    chan uint64
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		deliveries: make(chan amqp.Delivery, 16),
		acks:       map[uint64]int{},
		nacks:      map[uint64]int{},
		requeued:   map[uint64]bool{},
		settled:    make(chan uint64, 64),
	}
}

func (b *fakeBroker) record(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *fakeBroker) SetPrefetch(count int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prefetch = count
	return b.qosErr
}

func (b *fakeBroker) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tag = consumerTag
	return b.deliveries, nil
}

// CancelConsumer closes the delivery stream like amqp091 does
func (b *fakeBroker) CancelConsumer(consumerTag string) error {
	b.mu.Lock()
	b.canceled = true
	b.mu.Unlock()
	b.closeDeliveries()
	return nil
}

func (b *fakeBroker) closeDeliveries() {
	b.closeOnce.Do(func() { close(b.deliveries) })
}

func (b *fakeBroker) Ack(deliveryTag uint64) error {
	b.mu.Lock()
	b.acks[deliveryTag]++
	b.events = append(b.events, fmt.Sprintf("ack:%d", deliveryTag))
	b.mu.Unlock()
	b.settled <- deliveryTag
	return nil
}

func (b *fakeBroker) Nack(deliveryTag uint64, requeue bool) error {
	b.mu.Lock()
	b.nacks[deliveryTag]++
	b.requeued[deliveryTag] = requeue
	b.events = append(b.events, fmt.Sprintf("nack:%d", deliveryTag))
	b.mu.Unlock()
	b.settled <- deliveryTag
	return nil
}

func (b *fakeBroker) deliver(tag uint64, body string) {
	b.deliveries <- amqp.Delivery{DeliveryTag: tag, Body: []byte(body)}
}

func (b *fakeBroker) waitSettled(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-b.settled:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for settlement %d of %d", i+1, n)
		}
	}
}

func (b *fakeBroker) snapshot() (acks, nacks map[uint64]int, events []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acks = map[uint64]int{}
	nacks = map[uint64]int{}
	for k, v := range b.acks {
		acks[k] = v
	}
	for k, v := range b.nacks {
		nacks[k] = v
	}
	return acks, nacks, append([]string(nil), b.events...)
}

type funcRecorder func(ctx context.Context, url string, duration time.Duration) (string, error)

func (f funcRecorder) Record(ctx context.Context, url string, duration time.Duration) (string, error) {
	return f(ctx, url, duration)
}

type funcUploader func(ctx context.Context, path string) (string, error)

func (f funcUploader) Upload(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}

type funcCleaner func(ctx context.Context, path string) error

func (f funcCleaner) Clean(ctx context.Context, path string) error {
	return f(ctx, path)
}

// funcProcessor lets worker tests bypass the real pipeline
type funcProcessor func(ctx context.Context, msg *domain.JobMessage) domain.Result

func (f funcProcessor) Process(ctx context.Context, msg *domain.JobMessage) domain.Result {
	return f(ctx, msg)
}

type fakeLedger struct {
	mu      sync.Mutex
	entries []storage.Entry
	err     error
}

func (l *fakeLedger) RecordOutcome(ctx context.Context, entry *storage.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, *entry)
	return l.err
}

func (l *fakeLedger) list() []storage.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]storage.Entry(nil), l.entries...)
}

func startWorker(t *testing.T, w *Worker) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Start(context.Background())
	}()
	return errCh
}

func stopWorker(t *testing.T, w *Worker, errCh <-chan error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
