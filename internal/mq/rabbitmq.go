package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/auroraid/apiserver/config"
)

// RabbitMQBackend publishes and consumes on a single channel.
type RabbitMQBackend struct {
	conn            *amqp.Connection
	channel         *amqp.Channel
	queueDurable    bool
	queueAutoDelete bool
}

// NewRabbitMQBackend dials RabbitMQ and opens the channel used for both
// publishing and consuming.
func NewRabbitMQBackend(cfg config.RabbitMQConfig) (*RabbitMQBackend, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("RABBITMQ_URL is required for queued mail")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if cfg.PrefetchCount > 0 {
		if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("set rabbitmq prefetch: %w", err)
		}
	}

	return &RabbitMQBackend{
		conn:            conn,
		channel:         ch,
		queueDurable:    cfg.QueueDurable,
		queueAutoDelete: cfg.QueueAutoDelete,
	}, nil
}

// Publish declares queue if needed and sends data to it. It returns the
// generated message id.
func (r *RabbitMQBackend) Publish(ctx context.Context, queue string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(queue) == "" {
		return "", errors.New("rabbitmq queue is required")
	}
	if _, err := r.declareQueue(queue); err != nil {
		return "", err
	}

	headers := amqp.Table{}
	for key, value := range attrs {
		headers[key] = value
	}

	publishing := amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Headers:     headers,
		Body:        data,
	}
	if r.queueDurable {
		publishing.DeliveryMode = amqp.Persistent
	}
	if err := r.channel.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return "", err
	}
	return publishing.MessageId, nil
}

// Subscribe consumes until ctx is done. Failed messages are requeued.
func (r *RabbitMQBackend) Subscribe(ctx context.Context, queue string, handler Handler) error {
	if strings.TrimSpace(queue) == "" {
		return errors.New("rabbitmq queue is required")
	}
	if _, err := r.declareQueue(queue); err != nil {
		return err
	}

	consumerTag := "mailer-" + uuid.NewString()
	deliveries, err := r.channel.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = r.channel.Cancel(consumerTag, false)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			msg := Message{
				ID:         delivery.MessageId,
				Data:       delivery.Body,
				Attributes: headersToAttributes(delivery.Headers),
			}
			if err := handler(ctx, msg); err != nil {
				_ = delivery.Nack(false, !delivery.Redelivered)
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}

// Close closes the channel and the connection.
func (r *RabbitMQBackend) Close() error {
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func (r *RabbitMQBackend) declareQueue(name string) (amqp.Queue, error) {
	return r.channel.QueueDeclare(name, r.queueDurable, r.queueAutoDelete, false, false, nil)
}

func headersToAttributes(headers amqp.Table) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(headers))
	for key, value := range headers {
		switch typed := value.(type) {
		case string:
			attrs[key] = typed
		case []byte:
			attrs[key] = string(typed)
		default:
			attrs[key] = fmt.Sprint(value)
		}
	}
	return attrs
}
