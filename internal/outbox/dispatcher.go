package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type deadLetterWriter interface {
	Write(context.Context, Message, string) error
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger overrides the dispatcher logger.
func WithLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithClaimTTL sets how long a claimed but unpublished row stays invisible to
// other dispatchers.
func WithClaimTTL(ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.claimTTL = ttl
	}
}

// Dispatcher drains the outbox table and delivers events to Kafka.
type Dispatcher struct {
	pool             *pgxpool.Pool
	producer         messageWriter
	dlq              deadLetterWriter
	pollInterval     time.Duration
	batchSize        int
	claimTTL         time.Duration
	logger           *zap.Logger
	shutdownComplete chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, pollInterval time.Duration, batchSize int, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		pool:             pool,
		producer:         producer,
		dlq:              NewDLQWriter(pool),
		pollInterval:     pollInterval,
		batchSize:        batchSize,
		claimTTL:         time.Minute,
		logger:           zap.NewNop(),
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the polling loop. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("outbox dispatcher error", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait waits until the dispatcher stops.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()

	messages, err := d.fetchAndClaim(ctx)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	delivered, failed := d.deliver(ctx, messages)
	deliveredCounter.Add(float64(len(delivered)))

	if len(failed) > 0 {
		failedCounter.Add(float64(len(failed)))
		if err := d.moveToDLQ(ctx, failed); err != nil {
			// Leave the rows claimed; they become visible again after the claim TTL.
			return fmt.Errorf("write dlq: %w", err)
		}
		for _, f := range failed {
			delivered = append(delivered, f.msg)
		}
	}

	return d.markPublished(ctx, delivered)
}

func (d *Dispatcher) fetchAndClaim(ctx context.Context) (messages []Message, err error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx,
		`SELECT event_id, aggregate_type, aggregate_id, event_type, topic, partition_key, payload
           FROM outbox
          WHERE published_at IS NULL
            AND (claimed_at IS NULL OR claimed_at < NOW() - make_interval(secs => $2))
          ORDER BY event_id
          LIMIT $1
          FOR UPDATE SKIP LOCKED`,
		d.batchSize, d.claimTTL.Seconds())
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, d.batchSize)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.EventID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.PartitionKey, &msg.Payload); err != nil {
			rows.Close()
			return nil, err
		}
		messages = append(messages, msg)
		ids = append(ids, msg.EventID)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		_ = tx.Rollback(ctx)
		return nil, nil
	}

	if _, err = tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return messages, nil
}

type failedMessage struct {
	msg    Message
	reason string
}

// deliver groups messages by topic and writes each group in event order.
func (d *Dispatcher) deliver(ctx context.Context, messages []Message) ([]Message, []failedMessage) {
	var topics []string
	batches := make(map[string][]Message)
	for _, msg := range messages {
		if _, ok := batches[msg.Topic]; !ok {
			topics = append(topics, msg.Topic)
		}
		batches[msg.Topic] = append(batches[msg.Topic], msg)
	}

	var (
		delivered []Message
		failed    []failedMessage
	)
	for _, topic := range topics {
		batch := batches[topic]
		records := make([]kafka.Message, 0, len(batch))
		for _, msg := range batch {
			records = append(records, toKafkaMessage(msg))
		}
		if err := d.producer.WriteMessages(ctx, topic, records...); err != nil {
			d.logger.Warn("outbox delivery failed", zap.String("topic", topic), zap.Int("events", len(batch)), zap.Error(err))
			for _, msg := range batch {
				failed = append(failed, failedMessage{msg: msg, reason: fmt.Sprintf("%v (topic=%s)", err, topic)})
			}
			continue
		}
		delivered = append(delivered, batch...)
	}
	return delivered, failed
}

func toKafkaMessage(msg Message) kafka.Message {
	return kafka.Message{
		Key:   []byte(msg.PartitionKey),
		Value: []byte(msg.Payload),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.EventType)},
			{Key: "aggregate_type", Value: []byte(msg.AggregateType)},
		},
		Time: time.Now().UTC(),
	}
}

func (d *Dispatcher) markPublished(ctx context.Context, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.EventID)
	}
	_, err := d.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids)
	return err
}

func (d *Dispatcher) moveToDLQ(ctx context.Context, failed []failedMessage) error {
	for _, f := range failed {
		if err := d.dlq.Write(ctx, f.msg, f.reason); err != nil {
			return err
		}
		dlqCounter.WithLabelValues(f.msg.Topic).Inc()
	}
	return nil
}
