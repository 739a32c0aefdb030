package kafka

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Encoder turns one record payload into a Kafka key and value.
type Encoder func(v any) (key, value []byte, err error)

// Sink produces accepted payloads to one topic. Accept returns only after
// the broker acknowledged the write, so units calling it under their
// in-flight gate get bounded, awaited writes for free.
type Sink struct {
	client *kgo.Client
	topic  string
	encode Encoder
}

// NewSink creates a sink over an existing client. The client is shared; the
// sink does not close it.
func NewSink(client *kgo.Client, topic string, encode Encoder) *Sink {
	return &Sink{
		client: client,
		topic:  topic,
		encode: encode,
	}
}

func (s *Sink) Accept(ctx context.Context, v any) error {
	key, value, err := s.encode(v)
	if err != nil {
		return fmt.Errorf("kafka sink: encode: %w", err)
	}

	res := s.client.ProduceSync(ctx, &kgo.Record{
		Key:   key,
		Value: value,
		Topic: s.topic,
	})
	if err := res.FirstErr(); err != nil {
		return fmt.Errorf("kafka sink: produce to %s: %w", s.topic, err)
	}
	return nil
}
