package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"auth-token-service/internal/audit"
	"auth-token-service/internal/bucketing"
	"auth-token-service/internal/client"
	"auth-token-service/internal/config"
	"auth-token-service/internal/consumer"
	"auth-token-service/internal/encryption"
	"auth-token-service/internal/events"
	"auth-token-service/internal/hashing"
	redisrepo "auth-token-service/internal/repository/redis"
	"auth-token-service/internal/repository/scylla"
	"auth-token-service/internal/service"
	"auth-token-service/internal/tls"
	"auth-token-service/internal/token"
	"auth-token-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager
	tokenManager      *token.Manager

	// Repositories
	accountRepository *scylla.ScyllaAccountRepository
	accountCache      *redisrepo.AccountCache
	secretCache       *redisrepo.SecretCache
	cacheWriter       *redisrepo.CacheWriter

	publisher      *events.Publisher
	auditRecorder  *audit.Recorder
	serviceFactory *service.ServiceFactory

	consumersMu sync.Mutex
	consumers   []*client.KafkaConsumer

	closeOnce sync.Once
}

// NewFactory loads configuration, initializes the global logger and opens
// every backing client. Redis, Scylla and Kafka are required; the audit
// sinks are skipped with a warning when they cannot be reached outside
// production.
func NewFactory(ctx context.Context) (*Factory, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	logger := util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{
		config: cfg,
		logger: logger,
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewManager(cfg.Server, logger)
	}

	if err := f.initializeClients(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := f.initializeManagers(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	f.initializeRepositories()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("elasticsearch_sink", f.esClient != nil),
		util.Bool("clickhouse_sink", f.clickhouseClient != nil),
	)

	return f, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	redisClient, err := client.NewRedisClient(f.config, f.logger)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	if err := f.redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	util.Info("Redis client initialized and healthy")

	scyllaClient, err := scylla.NewScyllaClient(f.config, f.logger)
	if err != nil {
		return fmt.Errorf("scylla: %w", err)
	}
	f.scyllaClient = scyllaClient
	if err := f.scyllaClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("scylla health check: %w", err)
	}
	util.Info("ScyllaDB client initialized and healthy")

	producer, err := client.NewKafkaProducer(f.config, f.logger)
	if err != nil {
		return fmt.Errorf("kafka: %w", err)
	}
	f.kafkaProducer = producer
	util.Info("Kafka producer initialized")

	// Audit sinks
	var sinkErrors []error

	if f.config.Elasticsearch.Enabled {
		if esClient, err := client.NewElasticsearchClient(f.config, f.logger); err != nil {
			sinkErrors = append(sinkErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = esClient
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	if f.config.Clickhouse.Enabled {
		if chClient, err := client.NewClickHouseClient(f.config, f.logger); err != nil {
			sinkErrors = append(sinkErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = chClient
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(sinkErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("audit sink initialization failed: %v", sinkErrors)
		}
		for _, err := range sinkErrors {
			util.Warn("Audit sink disabled", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption, bucketing and token managers
func (f *Factory) initializeManagers(ctx context.Context) error {
	f.hasher = hashing.NewHasher(f.config)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	var kmsClient encryption.KMSDecrypter
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		kmsClient = kms.NewFromConfig(awsCfg)
	}

	encryptionManager, err := encryption.NewEncryptionManager(ctx, f.config, kmsClient, f.logger)
	if err != nil {
		return err
	}
	f.encryptionManager = encryptionManager

	tokenManager, err := token.NewManager(f.config.Token, f.logger)
	if err != nil {
		return err
	}
	f.tokenManager = tokenManager

	util.Info("Managers initialized successfully",
		util.String("token_algorithm", f.config.Token.Algorithm),
		util.Int("account_buckets", f.config.Bucketing.AccountBuckets),
	)
	return nil
}

func (f *Factory) initializeRepositories() {
	timeout := f.config.Redis.OperationTimeout

	f.accountRepository = scylla.NewAccountRepository(f.scyllaClient, f.bucketingManager, f.logger)
	f.accountCache = redisrepo.NewAccountCache(f.redisClient, timeout, f.logger)
	f.secretCache = redisrepo.NewSecretCache(f.redisClient, timeout, f.logger)
	f.cacheWriter = redisrepo.NewCacheWriter(f.redisClient, timeout, f.logger)

	f.publisher = events.NewPublisher(f.kafkaProducer, f.config.Topics, f.config.Kafka.WriteTimeout, f.logger)

	var sinks []audit.Sink
	if f.clickhouseClient != nil {
		sinks = append(sinks, audit.NewClickHouseSink(f.clickhouseClient, f.config.Clickhouse.Table))
	}
	if f.esClient != nil {
		sinks = append(sinks, audit.NewElasticsearchSink(f.esClient, f.config.Elasticsearch.Index))
	}
	f.auditRecorder = audit.NewRecorder(f.bucketingManager, 0, f.logger, sinks...)
}

// ServiceFactory wires the request path services.
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(service.Dependencies{
			Config:    f.config.Token,
			Store:     f.accountRepository,
			Cache:     f.accountCache,
			Secrets:   f.secretCache,
			Tokens:    f.tokenManager,
			Encryptor: f.encryptionManager,
			Passwords: f.hasher,
			Publisher: f.publisher,
			Auditor:   f.auditRecorder,
		}, f.logger)
	}
	return f.serviceFactory
}

// ConsumerRoutes returns the topic handlers that apply published events to
// the account store and the read cache.
func (f *Factory) ConsumerRoutes() []consumer.Route {
	cacheApplier := consumer.NewCacheApplier(f.cacheWriter, f.logger)
	tokenApplier := consumer.NewTokenSetApplier(
		f.accountRepository,
		f.cacheWriter,
		f.config.Token.AccountCacheTTL,
		f.config.Token.RefreshTTL,
		f.logger,
	)
	return consumer.Routes(f.config.Topics, cacheApplier, tokenApplier)
}

// NewConsumer opens a group reader for topic. The factory closes it on shutdown.
func (f *Factory) NewConsumer(topic string) *client.KafkaConsumer {
	c := client.NewKafkaConsumer(f.config, topic, f.logger)
	f.consumersMu.Lock()
	f.consumers = append(f.consumers, c)
	f.consumersMu.Unlock()
	return c
}

// HealthCheck probes every client concurrently and returns the failures by name.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	type probe struct {
		name  string
		check func(context.Context) error
	}
	probes := []probe{
		{name: "redis", check: f.redisClient.HealthCheck},
		{name: "scylla", check: f.accountRepository.HealthCheck},
		{name: "kafka", check: f.kafkaProducer.HealthCheck},
	}
	if f.esClient != nil {
		probes = append(probes, probe{name: "elasticsearch", check: f.esClient.HealthCheck})
	}
	if f.clickhouseClient != nil {
		probes = append(probes, probe{name: "clickhouse", check: f.clickhouseClient.HealthCheck})
	}

	var mu sync.Mutex
	healthErrors := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range probes {
		g.Go(func() error {
			if err := p.check(gctx); err != nil {
				mu.Lock()
				healthErrors[p.name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return healthErrors
}

func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		f.consumersMu.Lock()
		for _, c := range f.consumers {
			_ = c.Close()
		}
		f.consumersMu.Unlock()

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Logger() *zap.Logger {
	return f.logger
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}
