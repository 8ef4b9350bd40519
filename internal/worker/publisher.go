// Package worker moves remote ingestion tasks through NSQ so that any API
// replica can pick them up.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"studyrag/features/ingest"
	"studyrag/internal/config"
)

// Producer is the subset of *nsq.Producer the publisher needs.
type Producer interface {
	Publish(topic string, body []byte) error
}

// Publisher implements ingest.Dispatcher over an NSQ topic.
type Publisher struct {
	producer Producer
	topic    string
}

func NewPublisher(p Producer) *Publisher {
	return &Publisher{producer: p, topic: config.TopicIngestRemote}
}

func (p *Publisher) Dispatch(_ context.Context, task ingest.Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := p.producer.Publish(p.topic, body); err != nil {
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}
	return nil
}
