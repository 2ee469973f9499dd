package mq

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/taskforge/apiserver/config"
	"google.golang.org/api/option"
)

// PubSubBackend publishes events to a Google Cloud Pub/Sub topic.
type PubSubBackend struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubBackend constructs a Pub/Sub client and binds the event topic.
func NewPubSubBackend(ctx context.Context, cfg config.PubSubConfig) (*PubSubBackend, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("pubsub topic is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}

	return &PubSubBackend{
		client: client,
		topic:  client.Topic(cfg.Topic),
	}, nil
}

// Publish sends a message to the event topic and waits for the server id.
func (b *PubSubBackend) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	result := b.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	return result.Get(ctx)
}

// Close flushes the topic and closes the client.
func (b *PubSubBackend) Close() error {
	b.topic.Stop()
	return b.client.Close()
}
