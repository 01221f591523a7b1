package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"auth-token-service/internal/config"
)

// Writer is the subset of kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TopicAdmin checks and creates topics on the cluster.
type TopicAdmin interface {
	TopicExists(ctx context.Context, topic string) (bool, error)
	CreateTopic(ctx context.Context, topic string, partitions, replicationFactor int) error
	HealthCheck(ctx context.Context) error
}

type KafkaProducer struct {
	writer Writer
	admin  TopicAdmin
	config config.KafkaConfig
	logger *zap.Logger
}

func NewKafkaProducer(cfg *config.Config, logger *zap.Logger) (*KafkaProducer, error) {
	kafkaConfig := cfg.Kafka
	if len(kafkaConfig.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(kafkaConfig.Brokers...),
		Balancer:               &kafka.Hash{},
		MaxAttempts:            3,
		BatchSize:              100,
		BatchBytes:             1048576, // 1MB
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           kafkaConfig.WriteTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
		Transport: &kafka.Transport{
			ClientID:    kafkaConfig.ClientID,
			DialTimeout: 5 * time.Second,
		},
	}

	admin := &brokerAdmin{
		brokers: kafkaConfig.Brokers,
		dialer: &kafka.Dialer{
			ClientID:  kafkaConfig.ClientID,
			Timeout:   5 * time.Second,
			DualStack: true,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := admin.HealthCheck(ctx); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to connect to Kafka brokers: %w", err)
	}

	logger.Info("Kafka producer initialized",
		zap.Strings("brokers", kafkaConfig.Brokers),
		zap.String("client_id", kafkaConfig.ClientID),
	)

	return NewKafkaProducerWithWriter(writer, admin, kafkaConfig, logger), nil
}

// NewKafkaProducerWithWriter allows injecting a test writer and admin.
func NewKafkaProducerWithWriter(w Writer, admin TopicAdmin, kc config.KafkaConfig, logger *zap.Logger) *KafkaProducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaProducer{writer: w, admin: admin, config: kc, logger: logger}
}

// EnsureTopic creates topic with the configured partition count and
// replication factor when it does not exist yet.
func (p *KafkaProducer) EnsureTopic(ctx context.Context, topic string) error {
	exists, err := p.admin.TopicExists(ctx, topic)
	if err != nil {
		return fmt.Errorf("failed to check topic %s: %w", topic, err)
	}
	if exists {
		return nil
	}

	p.logger.Info("Topic not found, creating",
		zap.String("topic", topic),
		zap.Int("partitions", p.config.Partitions),
		zap.Int("replication_factor", p.config.ReplicationFactor),
	)
	if err := p.admin.CreateTopic(ctx, topic, p.config.Partitions, p.config.ReplicationFactor); err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	return nil
}

func (p *KafkaProducer) ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}

	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{
			Key:   k,
			Value: []byte(v),
		})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	p.logger.Debug("Produced kafka message",
		zap.String("topic", topic),
		zap.ByteString("key", key),
		zap.Int("value_size", len(value)),
	)
	return nil
}

func (p *KafkaProducer) HealthCheck(ctx context.Context) error {
	return p.admin.HealthCheck(ctx)
}

func (p *KafkaProducer) Close() error {
	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			p.logger.Error("failed to close Kafka producer", zap.Error(err))
			return err
		}
		p.logger.Info("Kafka producer closed")
	}
	return nil
}

// brokerAdmin opens a connection per call and always closes it.
type brokerAdmin struct {
	brokers []string
	dialer  *kafka.Dialer
}

func (a *brokerAdmin) dial(ctx context.Context) (*kafka.Conn, error) {
	var lastErr error
	for _, broker := range a.brokers {
		conn, err := a.dialer.DialContext(ctx, "tcp", broker)
		if err == nil {
			if deadline, ok := ctx.Deadline(); ok {
				_ = conn.SetDeadline(deadline)
			}
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to dial kafka: %w", lastErr)
}

func (a *brokerAdmin) TopicExists(ctx context.Context, topic string) (bool, error) {
	conn, err := a.dial(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(topic)
	if err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			return false, nil
		}
		return false, err
	}
	return len(partitions) > 0, nil
}

func (a *brokerAdmin) CreateTopic(ctx context.Context, topic string, partitions, replicationFactor int) error {
	conn, err := a.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find kafka controller: %w", err)
	}

	ctrlConn, err := a.dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer ctrlConn.Close()

	err = ctrlConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: replicationFactor,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return err
	}
	return nil
}

func (a *brokerAdmin) HealthCheck(ctx context.Context) error {
	conn, err := a.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Brokers(); err != nil {
		return fmt.Errorf("failed to read Kafka brokers: %w", err)
	}
	return nil
}
