// Package kafka adapts Kafka topics to petrel sources and sinks using
// franz-go. A Source implements pdag.Producer; a Sink implements
// store.Sink.
package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/petrel-stream/petrel/pdag"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// SourceOption is a function that configures a Source.
type SourceOption func(*Source)

// WithClientOptions appends extra franz-go client options.
var WithClientOptions = func(opts ...kgo.Opt) SourceOption {
	return func(s *Source) {
		s.clientOpts = append(s.clientOpts, opts...)
	}
}

// Source reads one topic as a record producer. Records carry the Kafka
// timestamp as event time and a KV{string key, value bytes} payload.
// Offsets advance in memory as records are polled and are committed only
// when Commit is called, after downstream flush.
type Source struct {
	client *kgo.Client
	topic  string

	clientOpts []kgo.Opt

	mu         sync.Mutex
	offsets    map[int32]kgo.EpochOffset
	needCommit bool
}

// NewSource creates a consumer-group source for topic.
func NewSource(brokers []string, group, topic string, opts ...SourceOption) (*Source, error) {
	s := &Source{
		topic:   topic,
		offsets: make(map[int32]kgo.EpochOffset),
	}
	for _, opt := range opts {
		opt(s)
	}

	clientOpts := append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
	}, s.clientOpts...)

	client, err := kgo.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("kafka source: %w", err)
	}
	s.client = client
	return s, nil
}

func (s *Source) Poll(ctx context.Context) ([]pdag.Record, error) {
	fetches := s.client.PollFetches(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errs := fetches.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("kafka source: fetch %s[%d]: %w",
			errs[0].Topic, errs[0].Partition, errs[0].Err)
	}

	var recs []pdag.Record
	s.mu.Lock()
	fetches.EachRecord(func(r *kgo.Record) {
		recs = append(recs, pdag.Record{
			Time: r.Timestamp,
			Data: pdag.KV{Key: string(r.Key), Value: r.Value},
		})
		s.offsets[r.Partition] = kgo.EpochOffset{
			Epoch:  r.LeaderEpoch,
			Offset: r.Offset + 1,
		}
		s.needCommit = true
	})
	s.mu.Unlock()

	return recs, nil
}

// Commit synchronously commits the offsets of everything polled so far.
func (s *Source) Commit(ctx context.Context) error {
	s.mu.Lock()
	if !s.needCommit {
		s.mu.Unlock()
		return nil
	}
	offsets := make(map[int32]kgo.EpochOffset, len(s.offsets))
	for p, o := range s.offsets {
		offsets[p] = o
	}
	s.mu.Unlock()

	errCh := make(chan error, 1)
	s.client.CommitOffsetsSync(ctx, map[string]map[int32]kgo.EpochOffset{
		s.topic: offsets,
	}, func(_ *kgo.Client, _ *kmsg.OffsetCommitRequest, resp *kmsg.OffsetCommitResponse, err error) {
		if err != nil {
			errCh <- err
			return
		}
		for _, t := range resp.Topics {
			for _, p := range t.Partitions {
				if err := kerr.ErrorForCode(p.ErrorCode); err != nil {
					errCh <- err
					return
				}
			}
		}
		errCh <- nil
	})

	if err := <-errCh; err != nil {
		return fmt.Errorf("kafka source: commit: %w", err)
	}

	s.mu.Lock()
	s.needCommit = false
	s.mu.Unlock()
	return nil
}

func (s *Source) Close() error {
	s.client.Close()
	return nil
}
