package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/auroraid/apiserver/config"
)

// PubSubBackend maps each queue to a topic with one shared subscription.
type PubSubBackend struct {
	client             *pubsub.Client
	subscriptionSuffix string
}

// NewPubSubBackend constructs a Pub/Sub client for cfg.ProjectID.
func NewPubSubBackend(ctx context.Context, cfg config.PubSubConfig) (*PubSubBackend, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID is required for queued mail")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	suffix := cfg.SubscriptionSuffix
	if suffix == "" {
		suffix = "-sub"
	}
	return &PubSubBackend{client: client, subscriptionSuffix: suffix}, nil
}

// Publish sends data to the topic named queue and waits for the server id.
func (p *PubSubBackend) Publish(ctx context.Context, queue string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(queue) == "" {
		return "", errors.New("pubsub queue is required")
	}
	topic, err := p.ensureTopic(ctx, queue)
	if err != nil {
		return "", err
	}

	// Pub/Sub assigns its own id; ours travels as an attribute for log correlation.
	withID := make(map[string]string, len(attrs)+1)
	for key, value := range attrs {
		withID[key] = value
	}
	withID["job_id"] = uuid.NewString()

	result := topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: withID})
	if _, err := result.Get(ctx); err != nil {
		return "", err
	}
	return withID["job_id"], nil
}

// Subscribe receives until ctx is done. Failed messages are nacked.
func (p *PubSubBackend) Subscribe(ctx context.Context, queue string, handler Handler) error {
	if strings.TrimSpace(queue) == "" {
		return errors.New("pubsub queue is required")
	}
	topic, err := p.ensureTopic(ctx, queue)
	if err != nil {
		return err
	}
	sub, err := p.ensureSubscription(ctx, queue+p.subscriptionSuffix, topic)
	if err != nil {
		return err
	}

	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		id := msg.Attributes["job_id"]
		if id == "" {
			id = msg.ID
		}
		if err := handler(ctx, Message{ID: id, Data: msg.Data, Attributes: msg.Attributes}); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Close closes the Pub/Sub client.
func (p *PubSubBackend) Close() error {
	return p.client.Close()
}

func (p *PubSubBackend) ensureTopic(ctx context.Context, name string) (*pubsub.Topic, error) {
	topic := p.client.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return p.client.CreateTopic(ctx, name)
	}
	return topic, nil
}

func (p *PubSubBackend) ensureSubscription(ctx context.Context, name string, topic *pubsub.Topic) (*pubsub.Subscription, error) {
	sub := p.client.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return p.client.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{Topic: topic})
	}
	return sub, nil
}
