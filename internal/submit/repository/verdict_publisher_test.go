package repository_test

import (
	"context"
	"errors"
	"testing"

	"codearena/internal/common/mq"
	"codearena/internal/judge/verdict"
	"codearena/internal/submit/model"
	"codearena/internal/submit/repository"
)

type recordingProducer struct {
	topic string
	msg   *mq.Message
	err   error
}

func (p *recordingProducer) Publish(_ context.Context, topic string, message *mq.Message) error {
	p.topic = topic
	p.msg = message
	return p.err
}

func TestPublishVerdict(t *testing.T) {
	producer := &recordingProducer{}
	pub := repository.NewMQVerdictPublisher(producer, "submission.verdicts")

	event := model.VerdictEvent{SubmissionID: "s-1", UserID: 7, ProblemID: 3, Verdict: verdict.RuntimeError, FailedCase: "1"}
	if err := pub.PublishVerdict(context.Background(), event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if producer.topic != "submission.verdicts" {
		t.Fatalf("unexpected topic %q", producer.topic)
	}
	if producer.msg.ID != "s-1" {
		t.Fatalf("expected message keyed by submission, got %q", producer.msg.ID)
	}
	if h, _ := producer.msg.GetHeader("verdict"); h != "RTE" {
		t.Fatalf("expected verdict header, got %q", h)
	}

	decoded, err := repository.DecodeVerdictEvent(producer.msg)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded != event {
		t.Fatalf("expected %+v, got %+v", event, decoded)
	}
}

func TestPublishVerdictErrors(t *testing.T) {
	var nilPub *repository.MQVerdictPublisher
	if err := nilPub.PublishVerdict(context.Background(), model.VerdictEvent{SubmissionID: "x"}); err == nil {
		t.Fatalf("expected error for nil publisher")
	}

	pub := repository.NewMQVerdictPublisher(&recordingProducer{}, "")
	if err := pub.PublishVerdict(context.Background(), model.VerdictEvent{SubmissionID: "x"}); err == nil {
		t.Fatalf("expected error for empty topic")
	}

	broker := errors.New("broker down")
	pub = repository.NewMQVerdictPublisher(&recordingProducer{err: broker}, "t")
	if err := pub.PublishVerdict(context.Background(), model.VerdictEvent{SubmissionID: "x"}); !errors.Is(err, broker) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}

	if _, err := repository.DecodeVerdictEvent(mq.NewMessage("x", []byte("{"))); err == nil {
		t.Fatalf("expected decode error")
	}
}
