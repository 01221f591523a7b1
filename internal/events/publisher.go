// Package events publishes domain events that downstream consumers apply to
// the account store and the read cache. Publication is best effort: failures
// are logged and never returned to the request path.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"auth-token-service/internal/config"
	"auth-token-service/internal/models"
)

// Producer is satisfied by client.KafkaProducer.
type Producer interface {
	EnsureTopic(ctx context.Context, topic string) error
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

const headerEventType = "event_type"

type Publisher struct {
	producer Producer
	topics   config.TopicsConfig
	timeout  time.Duration
	logger   *zap.Logger

	// topics already confirmed to exist
	ready sync.Map
}

func NewPublisher(producer Producer, topics config.TopicsConfig, timeout time.Duration, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{producer: producer, topics: topics, timeout: timeout, logger: logger}
}

// Publish JSON encodes payload and sends it to topic. An empty partitionKey
// is replaced by a random one. It reports whether the event was handed to
// the broker.
func (p *Publisher) Publish(ctx context.Context, topic string, payload interface{}, partitionKey string, headers map[string]string) bool {
	value, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("Failed to encode event", zap.String("topic", topic), zap.Error(err))
		return false
	}
	if partitionKey == "" {
		partitionKey = uuid.NewString()
	}

	// Detached so a client hanging up cannot drop a revocation.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if _, ok := p.ready.Load(topic); !ok {
		if err := p.producer.EnsureTopic(ctx, topic); err != nil {
			p.logger.Error("Failed to ensure topic", zap.String("topic", topic), zap.Error(err))
			return false
		}
		p.ready.Store(topic, struct{}{})
	}

	if err := p.producer.ProduceMessage(ctx, topic, []byte(partitionKey), value, headers); err != nil {
		p.logger.Error("Failed to publish event", zap.String("topic", topic), zap.Error(err))
		return false
	}
	return true
}

// Cache asks the applier to store data under key for ttl.
func (p *Publisher) Cache(ctx context.Context, key string, data []byte, ttl time.Duration, partitionKey string) bool {
	env := models.CacheEnvelope{Key: key, Data: data, TTLSeconds: int64(ttl / time.Second)}
	return p.Publish(ctx, p.topics.Cache, env, partitionKey, eventHeaders("cache"))
}

// CacheAuthToken stores the record for an auth token. record.Token must
// already be encrypted.
func (p *Publisher) CacheAuthToken(ctx context.Context, record models.AuthToken, ttl time.Duration) bool {
	data, err := json.Marshal(record)
	if err != nil {
		p.logger.Error("Failed to encode auth token record", zap.Error(err))
		return false
	}
	return p.Cache(ctx, models.AuthTokenKey(record.Email, record.Token), data, ttl, record.Email)
}

func (p *Publisher) Invalidate(ctx context.Context, key, partitionKey string) bool {
	return p.Publish(ctx, p.topics.InvalidateCache, models.InvalidateCache{Key: key}, partitionKey, eventHeaders("invalidate_cache"))
}

func (p *Publisher) AssignToken(ctx context.Context, ev models.AssignToken) bool {
	return p.Publish(ctx, p.topics.AssignToken, ev, ev.ID, eventHeaders("assign_token"))
}

func (p *Publisher) UpdateToken(ctx context.Context, ev models.UpdateToken) bool {
	return p.Publish(ctx, p.topics.UpdateToken, ev, ev.ID, eventHeaders("update_token"))
}

func (p *Publisher) RevokeRefreshToken(ctx context.Context, ev models.RevokeRefreshToken) bool {
	return p.Publish(ctx, p.topics.RevokeRefreshToken, ev, ev.ID, eventHeaders("revoke_refresh_token"))
}

// RevokeAllTokens emits the account scoped revocation used on reuse and logout-all.
func (p *Publisher) RevokeAllTokens(ctx context.Context, accountID string) bool {
	return p.Publish(ctx, p.topics.ReusedRefreshToken, models.ReusedToken{ID: accountID}, accountID, eventHeaders("reused_token"))
}

func (p *Publisher) Logout(ctx context.Context, ev models.Logout, partitionKey string) bool {
	return p.Publish(ctx, p.topics.Logout, ev, partitionKey, eventHeaders("logout"))
}

func eventHeaders(eventType string) map[string]string {
	return map[string]string{
		headerEventType: eventType,
		"event_id":      uuid.NewString(),
	}
}
