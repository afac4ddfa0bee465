// Package jobs publishes asynchronous work items to Pub/Sub.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/sortimate/api/internal/services"
)

// PubSubModerationPublisher publishes correction moderation jobs to a Pub/Sub topic.
type PubSubModerationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.ModerationPublisher = (*PubSubModerationPublisher)(nil)

// NewPubSubModerationPublisher constructs a Pub/Sub backed moderation job publisher.
func NewPubSubModerationPublisher(topic *pubsub.Topic) (*PubSubModerationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub moderation publisher: topic is required")
	}
	return &PubSubModerationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishModerationJob enqueues a moderation job message on the configured topic.
func (p *PubSubModerationPublisher) PublishModerationJob(ctx context.Context, message services.ModerationJobMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub moderation publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal moderation job: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "alertId", message.AlertID)
	setAttr(attrs, "binId", message.BinID)
	setAttr(attrs, "userId", message.UserID)
	setAttr(attrs, "type", "sensor_error")

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish moderation job: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
