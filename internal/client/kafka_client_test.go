package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"auth-token-service/internal/config"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

type fakeAdmin struct {
	existing map[string]bool
	created  []kafka.TopicConfig
	checkErr error
}

func (f *fakeAdmin) TopicExists(_ context.Context, topic string) (bool, error) {
	if f.checkErr != nil {
		return false, f.checkErr
	}
	return f.existing[topic], nil
}

func (f *fakeAdmin) CreateTopic(_ context.Context, topic string, partitions, rf int) error {
	f.created = append(f.created, kafka.TopicConfig{Topic: topic, NumPartitions: partitions, ReplicationFactor: rf})
	f.existing[topic] = true
	return nil
}

func (f *fakeAdmin) HealthCheck(context.Context) error { return nil }

func testKafkaConfig() config.KafkaConfig {
	return config.KafkaConfig{Brokers: []string{"localhost:9092"}, Partitions: 10, ReplicationFactor: 3}
}

func TestEnsureTopicCreatesMissingTopic(t *testing.T) {
	admin := &fakeAdmin{existing: map[string]bool{"present": true}}
	p := NewKafkaProducerWithWriter(&fakeWriter{}, admin, testKafkaConfig(), nil)

	if err := p.EnsureTopic(context.Background(), "present"); err != nil {
		t.Fatalf("EnsureTopic(present): %v", err)
	}
	if len(admin.created) != 0 {
		t.Fatalf("existing topic was recreated: %+v", admin.created)
	}

	if err := p.EnsureTopic(context.Background(), "auth.cache"); err != nil {
		t.Fatalf("EnsureTopic(missing): %v", err)
	}
	if len(admin.created) != 1 {
		t.Fatalf("created = %+v", admin.created)
	}
	got := admin.created[0]
	if got.Topic != "auth.cache" || got.NumPartitions != 10 || got.ReplicationFactor != 3 {
		t.Fatalf("created topic config = %+v", got)
	}
}

func TestEnsureTopicPropagatesAdminErrors(t *testing.T) {
	admin := &fakeAdmin{existing: map[string]bool{}, checkErr: errors.New("broker down")}
	p := NewKafkaProducerWithWriter(&fakeWriter{}, admin, testKafkaConfig(), nil)
	if err := p.EnsureTopic(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestProduceMessageSetsTopicKeyAndHeaders(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaProducerWithWriter(w, &fakeAdmin{existing: map[string]bool{}}, testKafkaConfig(), nil)

	err := p.ProduceMessage(context.Background(), "auth.token.assign", []byte("acc-1"), []byte(`{"id":"acc-1"}`), map[string]string{"event_type": "assign_token"})
	if err != nil {
		t.Fatalf("ProduceMessage: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages", len(w.msgs))
	}
	msg := w.msgs[0]
	if msg.Topic != "auth.token.assign" || string(msg.Key) != "acc-1" || string(msg.Value) != `{"id":"acc-1"}` {
		t.Fatalf("unexpected message %+v", msg)
	}
	if len(msg.Headers) != 1 || msg.Headers[0].Key != "event_type" || string(msg.Headers[0].Value) != "assign_token" {
		t.Fatalf("headers = %+v", msg.Headers)
	}
}

func TestProduceMessageWrapsWriterError(t *testing.T) {
	cause := errors.New("leader not available")
	p := NewKafkaProducerWithWriter(&fakeWriter{err: cause}, &fakeAdmin{existing: map[string]bool{}}, testKafkaConfig(), nil)
	if err := p.ProduceMessage(context.Background(), "t", nil, nil, nil); !errors.Is(err, cause) {
		t.Fatalf("err = %v, want wrapped %v", err, cause)
	}
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	done      chan struct{}
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.msgs) > 0 {
		m := f.msgs[0]
		f.msgs = f.msgs[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	close(f.done)
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func TestConsumerRetriesFailedMessageBeforeCommitting(t *testing.T) {
	r := &fakeReader{
		msgs: []kafka.Message{{Offset: 1}, {Offset: 2}},
		done: make(chan struct{}),
	}
	c := NewKafkaConsumerWithReader(r, "auth.cache", nil)
	c.minBackoff = time.Millisecond

	attempts := map[int64]int{}
	handler := func(_ context.Context, m kafka.Message) error {
		attempts[m.Offset]++
		if m.Offset == 1 && attempts[m.Offset] < 3 {
			return errors.New("redis unavailable")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(ctx, handler) }()

	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain messages")
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Start returned %v", err)
	}

	if attempts[1] != 3 || attempts[2] != 1 {
		t.Fatalf("attempts = %v", attempts)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.committed) != 2 || r.committed[0] != 1 || r.committed[1] != 2 {
		t.Fatalf("committed = %v", r.committed)
	}
}

func TestConsumerSkipsPermanentFailures(t *testing.T) {
	r := &fakeReader{
		msgs: []kafka.Message{{Offset: 1}, {Offset: 2}},
		done: make(chan struct{}),
	}
	c := NewKafkaConsumerWithReader(r, "auth.assign_token", nil)
	c.minBackoff = time.Millisecond

	attempts := map[int64]int{}
	handler := func(_ context.Context, m kafka.Message) error {
		attempts[m.Offset]++
		if m.Offset == 1 {
			return Permanent(errors.New("statement rejected"))
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(ctx, handler) }()

	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer stuck on a permanent failure")
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Start returned %v", err)
	}

	if attempts[1] != 1 || attempts[2] != 1 {
		t.Fatalf("attempts = %v", attempts)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.committed) != 2 || r.committed[0] != 1 {
		t.Fatalf("committed = %v", r.committed)
	}
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) should stay nil")
	}
}
