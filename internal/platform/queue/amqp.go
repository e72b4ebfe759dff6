package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"stockr/internal/platform/repositories"
)

const publishConfirmTimeout = 10 * time.Second

// AMQPQueue carries jobs over RabbitMQ so the API server and worker
// processes can run separately. The broker gives at-least-once delivery;
// terminal-state guards on the jobs table absorb redeliveries.
type AMQPQueue struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queueName  string
	jobs       *repositories.JobRepository
	connClosed chan *amqp.Error
	closeOnce  sync.Once
	healthy    atomic.Bool
}

func NewAMQPQueue(url, queueName string, jobs *repositories.JobRepository) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	// Durable queue so enqueued jobs survive a broker restart.
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to activate publisher confirms: %w", err)
	}

	q := &AMQPQueue{
		conn:       conn,
		channel:    ch,
		queueName:  queueName,
		jobs:       jobs,
		connClosed: make(chan *amqp.Error, 1),
	}
	q.healthy.Store(true)
	q.conn.NotifyClose(q.connClosed)

	go func() {
		if err, ok := <-q.connClosed; ok {
			q.healthy.Store(false)
			log.Warn().Err(err).Msg("RabbitMQ connection closed")
		}
	}()

	log.Info().Str("queue", queueName).Msg("connected to RabbitMQ")
	return q, nil
}

func (q *AMQPQueue) IsHealthy() bool {
	return q.healthy.Load()
}

// Enqueue persists the PENDING job row, then publishes the message and
// blocks until the broker confirms it.
func (q *AMQPQueue) Enqueue(ctx context.Context, kind string, args interface{}) (string, error) {
	if !q.IsHealthy() {
		return "", fmt.Errorf("broker connection is closed")
	}

	msg, err := newJob(q.jobs, kind, args)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("serialize job message: %w", err)
	}

	deferred, err := q.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		"", // default exchange routes straight to the queue
		q.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.JobID,
			Body:         body,
		},
	)
	if err != nil {
		return "", fmt.Errorf("publish job: %w", err)
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return "", fmt.Errorf("RabbitMQ NACK received: job not persisted")
		}
	case <-time.After(publishConfirmTimeout):
		return "", fmt.Errorf("publisher confirm timeout")
	}

	log.Debug().Str("job_id", msg.JobID).Str("kind", kind).Msg("job enqueued")
	return msg.JobID, nil
}

// Consume pulls jobs off the queue and runs them on the given runner until
// the context is cancelled. Acks happen after the runner settles the job in
// a terminal state; malformed messages are dropped.
func (q *AMQPQueue) Consume(ctx context.Context, runner *Runner, prefetch int) error {
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := q.channel.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(q.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	log.Info().Str("queue", q.queueName).Int("prefetch", prefetch).Msg("worker is online and waiting for jobs")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			var msg Message
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal job message, dropping")
				d.Nack(false, false)
				continue
			}

			runner.Run(ctx, msg)

			if err := d.Ack(false); err != nil {
				log.Error().Err(err).Str("job_id", msg.JobID).Msg("failed to ack job")
			}
		}
	}
}

func (q *AMQPQueue) Close() {
	q.closeOnce.Do(func() {
		log.Info().Msg("shutting down RabbitMQ client")
		if q.channel != nil {
			q.channel.Close()
		}
		if q.conn != nil {
			q.conn.Close()
		}
	})
}
