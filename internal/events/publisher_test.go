package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"auth-token-service/internal/config"
	"auth-token-service/internal/models"
)

type sent struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type fakeProducer struct {
	mu        sync.Mutex
	ensured   map[string]int
	sent      []sent
	ensureErr error
	sendErr   error
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{ensured: map[string]int{}}
}

func (f *fakeProducer) EnsureTopic(_ context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured[topic]++
	return f.ensureErr
}

func (f *fakeProducer) ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without deadline")
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sent{topic: topic, key: string(key), value: value, headers: headers})
	return nil
}

func testTopics() config.TopicsConfig {
	return config.TopicsConfig{
		Cache:              "cache",
		InvalidateCache:    "invalidate",
		AssignToken:        "assign",
		UpdateToken:        "update",
		RevokeRefreshToken: "revoke",
		ReusedRefreshToken: "reused",
		Logout:             "logout",
	}
}

func TestPublishEnsuresTopicOnce(t *testing.T) {
	fp := newFakeProducer()
	p := NewPublisher(fp, testTopics(), time.Second, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !p.Invalidate(ctx, "otp:x", "") {
			t.Fatal("Invalidate failed")
		}
	}
	if fp.ensured["invalidate"] != 1 {
		t.Fatalf("EnsureTopic called %d times", fp.ensured["invalidate"])
	}
	if len(fp.sent) != 3 {
		t.Fatalf("sent %d messages", len(fp.sent))
	}
}

func TestPublishRandomKeyWhenEmpty(t *testing.T) {
	fp := newFakeProducer()
	p := NewPublisher(fp, testTopics(), time.Second, nil)

	p.Invalidate(context.Background(), "k", "")
	p.Invalidate(context.Background(), "k", "")
	if fp.sent[0].key == "" || fp.sent[0].key == fp.sent[1].key {
		t.Fatalf("expected distinct random keys, got %q and %q", fp.sent[0].key, fp.sent[1].key)
	}
}

func TestPublishFailuresAreSwallowedAndLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	fp := newFakeProducer()
	fp.sendErr = errors.New("broker down")
	p := NewPublisher(fp, testTopics(), time.Second, zap.New(core))

	if p.RevokeAllTokens(context.Background(), "acc-1") {
		t.Fatal("expected failure to be reported")
	}
	if logs.FilterMessage("Failed to publish event").Len() != 1 {
		t.Fatalf("expected one error log, got %v", logs.All())
	}
}

func TestEnsureTopicFailureRetriedNextTime(t *testing.T) {
	fp := newFakeProducer()
	fp.ensureErr = errors.New("no controller")
	p := NewPublisher(fp, testTopics(), time.Second, nil)

	if p.Logout(context.Background(), models.Logout{Email: "a@b.io"}, "acc") {
		t.Fatal("expected failure")
	}
	fp.ensureErr = nil
	if !p.Logout(context.Background(), models.Logout{Email: "a@b.io"}, "acc") {
		t.Fatal("expected success after topic became available")
	}
	if fp.ensured["logout"] != 2 {
		t.Fatalf("EnsureTopic called %d times", fp.ensured["logout"])
	}
}

func TestPublishSurvivesCancelledCaller(t *testing.T) {
	fp := newFakeProducer()
	p := NewPublisher(fp, testTopics(), time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if !p.RevokeAllTokens(ctx, "acc-1") {
		t.Fatal("revocation dropped for a cancelled caller")
	}
}

func TestEventPayloads(t *testing.T) {
	fp := newFakeProducer()
	p := NewPublisher(fp, testTopics(), time.Second, nil)
	ctx := context.Background()

	p.AssignToken(ctx, models.AssignToken{ID: "acc-1", Email: "a@b.io", Token: "enc", DeviceIP: "10.0.0.1"})
	p.UpdateToken(ctx, models.UpdateToken{ID: "acc-1", OldToken: "old", NewToken: "new"})
	p.RevokeRefreshToken(ctx, models.RevokeRefreshToken{ID: "acc-1", Token: "enc", DeviceIP: "10.0.0.1"})
	p.RevokeAllTokens(ctx, "acc-1")
	p.Cache(ctx, models.AccountKey("acc-1"), []byte(`{"id":"acc-1"}`), time.Hour, "acc-1")

	wantTopics := []string{"assign", "update", "revoke", "reused", "cache"}
	if len(fp.sent) != len(wantTopics) {
		t.Fatalf("sent %d messages", len(fp.sent))
	}
	for i, topic := range wantTopics {
		if fp.sent[i].topic != topic {
			t.Errorf("message %d topic = %s, want %s", i, fp.sent[i].topic, topic)
		}
		if fp.sent[i].key != "acc-1" {
			t.Errorf("message %d partition key = %q, want account id", i, fp.sent[i].key)
		}
		if fp.sent[i].headers[headerEventType] == "" {
			t.Errorf("message %d has no event type header", i)
		}
	}

	var env models.CacheEnvelope
	if err := json.Unmarshal(fp.sent[4].value, &env); err != nil {
		t.Fatal(err)
	}
	if env.Key != "account:acc-1" || env.TTLSeconds != 3600 || string(env.Data) != `{"id":"acc-1"}` {
		t.Fatalf("envelope = %+v", env)
	}
}
