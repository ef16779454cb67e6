package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/abkawan/bank-transfers/internal/models"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const (
	// queue for committed ledger events
	LedgerEventQueue = "ledger_events"
)

// handles RabbitMQ operations
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
	logger  *zap.SugaredLogger

	publishMu sync.Mutex
}

func NewRabbitMQ(uri string, logger *zap.SugaredLogger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	q, err := ch.QueueDeclare(
		LedgerEventQueue, // name
		true,             // durable
		false,            // delete when unused
		false,            // exclusive
		false,            // no-wait
		nil,              // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare a queue: %w", err)
	}

	return &RabbitMQ{
		conn:    conn,
		channel: ch,
		queue:   q,
		logger:  logger,
	}, nil
}

func (r *RabbitMQ) Close() error {
	if err := r.channel.Close(); err != nil {
		return err
	}
	return r.conn.Close()
}

// publishes a ledger event to the queue
func (r *RabbitMQ) PublishEvent(ctx context.Context, event *models.LedgerEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := encodeEvent(event)
	if err != nil {
		return err
	}

	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	err = r.channel.Publish(
		"",               // exchange
		LedgerEventQueue, // routing key
		false,            // mandatory
		false,            // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    event.ID,
			Type:         string(event.Type),
			Timestamp:    event.CreatedAt,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		})
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}
	return nil
}

// consumes ledger events from the queue
func (r *RabbitMQ) ConsumeEvents(ctx context.Context) (<-chan models.LedgerEvent, error) {
	msgs, err := r.channel.Consume(
		LedgerEventQueue, // queue
		"",               // consumer
		false,            // auto-ack
		false,            // exclusive
		false,            // no-local
		false,            // no-wait
		nil,              // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register a consumer: %w", err)
	}

	events := make(chan models.LedgerEvent)

	go func() {
		defer close(events)

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				event, err := decodeEvent(msg.Body)
				if err != nil {
					r.logger.Errorw("dropping malformed ledger event", "message_id", msg.MessageId, "error", err)
					msg.Reject(false)
					continue
				}

				select {
				case events <- event:
					msg.Ack(false)
				case <-ctx.Done():
					// unacked, the broker redelivers it
					msg.Nack(false, true)
					return
				}
			}
		}
	}()

	return events, nil
}

func encodeEvent(event *models.LedgerEvent) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ledger event: %w", err)
	}
	return body, nil
}

func decodeEvent(body []byte) (models.LedgerEvent, error) {
	var event models.LedgerEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return models.LedgerEvent{}, fmt.Errorf("failed to unmarshal ledger event: %w", err)
	}
	if event.ID == "" {
		return models.LedgerEvent{}, fmt.Errorf("ledger event without id")
	}
	return event, nil
}
