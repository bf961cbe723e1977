// Package mq carries outbound mail jobs from the API server to the mailer
// worker over RabbitMQ or Google Cloud Pub/Sub.
package mq

import (
	"context"
	"fmt"

	"github.com/auroraid/apiserver/config"
)

// Message is a broker-agnostic delivery.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Returning an error nacks it for redelivery.
type Handler func(ctx context.Context, msg Message) error

// Backend is implemented by each broker.
type Backend interface {
	Publish(ctx context.Context, queue string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, queue string, handler Handler) error
	Close() error
}

// Open connects to the broker selected by cfg.Mail.QueueBackend.
func Open(ctx context.Context, cfg config.Config) (Backend, error) {
	switch cfg.Mail.QueueBackend {
	case config.QueueBackendRabbitMQ:
		return NewRabbitMQBackend(cfg.RabbitMQ)
	case config.QueueBackendPubSub:
		return NewPubSubBackend(ctx, cfg.PubSub)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Mail.QueueBackend)
	}
}
