package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"codearena/internal/common/mq"
	"codearena/internal/submit/model"
	appErr "codearena/pkg/errors"
)

// VerdictPublisher publishes verdict events for downstream consumers such as the arena.
type VerdictPublisher interface {
	PublishVerdict(ctx context.Context, event model.VerdictEvent) error
}

// MQVerdictPublisher publishes verdict events to a message queue.
type MQVerdictPublisher struct {
	queue mq.Producer
	topic string
}

func NewMQVerdictPublisher(queue mq.Producer, topic string) *MQVerdictPublisher {
	return &MQVerdictPublisher{queue: queue, topic: topic}
}

func (p *MQVerdictPublisher) PublishVerdict(ctx context.Context, event model.VerdictEvent) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("verdict publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("verdict topic is required")
	}
	if event.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal verdict event failed: %w", err)
	}
	message := mq.NewMessage(event.SubmissionID, payload)
	message.SetHeader("verdict", event.Verdict.String())
	if err := p.queue.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish verdict event failed")
	}
	return nil
}

// DecodeVerdictEvent parses a message produced by MQVerdictPublisher.
func DecodeVerdictEvent(msg *mq.Message) (model.VerdictEvent, error) {
	var event model.VerdictEvent
	if msg == nil {
		return event, appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return event, appErr.Wrapf(err, appErr.InvalidParams, "decode verdict event failed")
	}
	if event.SubmissionID == "" {
		return event, appErr.ValidationError("submission_id", "required")
	}
	return event, nil
}
