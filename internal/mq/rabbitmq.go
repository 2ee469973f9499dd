package mq

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/taskforge/apiserver/config"
)

// RabbitBackend publishes events to a durable RabbitMQ queue.
type RabbitBackend struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewRabbitBackend dials RabbitMQ and declares the event queue.
func NewRabbitBackend(cfg config.RabbitConfig) (*RabbitBackend, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("rabbitmq topic is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if _, err := ch.QueueDeclare(cfg.Topic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &RabbitBackend{
		conn:  conn,
		ch:    ch,
		queue: cfg.Topic,
	}, nil
}

// Publish sends a persistent message to the event queue.
func (b *RabbitBackend) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	headers := amqp.Table{}
	for key, value := range attrs {
		headers[key] = value
	}

	id := uuid.NewString()
	err := b.ch.PublishWithContext(ctx, "", b.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Headers:      headers,
		Body:         data,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Close closes the channel and connection.
func (b *RabbitBackend) Close() error {
	chErr := b.ch.Close()
	connErr := b.conn.Close()
	if chErr != nil {
		return chErr
	}
	return connErr
}
