package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is built once at startup and passed by pointer to every component.
// Nothing mutates it after LoadConfig returns.
type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Topics        TopicsConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Token         TokenConfig
	Encryption    EncryptionConfig
}

type ServerConfig struct {
	Port           int
	TLSPort        int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	EnableTLS      bool
	AutoCert       bool
	Domain         string
	CertFile       string
	KeyFile        string
	AutoCertDir    string
	Email          string
	AllowedOrigins []string
	APIPrefix      string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL              string
	Password         string
	DB               int
	PoolSize         int
	OperationTimeout time.Duration
	TLSCAFile        string
	TLSCertFile      string
	TLSKeyFile       string
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
	Timeout  time.Duration
	CAPath   string
	CertPath string
	KeyPath  string
}

type KafkaConfig struct {
	Brokers           []string
	ClientID          string
	ConsumerGroupID   string
	Partitions        int
	ReplicationFactor int
	WriteTimeout      time.Duration
}

// TopicsConfig names the topics every state change is published to.
type TopicsConfig struct {
	Cache              string
	InvalidateCache    string
	AssignToken        string
	UpdateToken        string
	RevokeRefreshToken string
	ReusedRefreshToken string
	Logout             string
}

type ElasticsearchConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
	Table    string
	CAFile   string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
	// WrappedDataKey is the base64 KMS ciphertext of the deterministic encryption key.
	WrappedDataKey string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
}

type BucketingConfig struct {
	AccountBuckets int
}

type TokenConfig struct {
	AccessSecret    string
	RefreshSecret   string
	Algorithm       string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	AuthTokenTTL    time.Duration
	AuthTokenBytes  int
	AccountCacheTTL time.Duration
	Issuer          string
	Audience        string
	Subject         string
	TokenType       string
	MaxDevices      int
}

type EncryptionConfig struct {
	// Key is the base64 encoded 32 byte master key used when KMS is disabled.
	Key string
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:           getEnvInt("SERVER_PORT", 8080),
			TLSPort:        getEnvInt("SERVER_TLS_PORT", 8443),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestTimeout: getEnvDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			EnableTLS:      getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:       getEnvBool("SERVER_AUTO_CERT", false),
			Domain:         getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:       getEnv("SERVER_CERT_FILE", ""),
			KeyFile:        getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:    getEnv("SERVER_AUTO_CERT_DIR", "./certs"),
			Email:          getEnv("SERVER_CERT_EMAIL", ""),
			AllowedOrigins: getEnvSlice("SERVER_ALLOWED_ORIGINS", []string{"*"}),
			APIPrefix:      getEnv("API_PREFIX", "/api/v1"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:              getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password:         getEnv("REDIS_PASSWORD", ""),
			DB:               getEnvInt("REDIS_DB", 0),
			PoolSize:         getEnvInt("REDIS_POOL_SIZE", 50),
			OperationTimeout: getEnvDuration("REDIS_OPERATION_TIMEOUT", 3*time.Second),
			TLSCAFile:        getEnv("REDIS_TLS_CA_FILE", "/app/certs/ca.crt"),
			TLSCertFile:      getEnv("REDIS_TLS_CERT_FILE", "/app/certs/redis.crt"),
			TLSKeyFile:       getEnv("REDIS_TLS_KEY_FILE", "/app/certs/redis.key"),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "accounts"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
			Timeout:  getEnvDuration("SCYLLA_TIMEOUT", 10*time.Second),
			CAPath:   getEnv("SCYLLA_CA_PATH", "/root/certs/ca.pem"),
			CertPath: getEnv("SCYLLA_CERT_PATH", "/root/certs/server.pem"),
			KeyPath:  getEnv("SCYLLA_KEY_PATH", "/root/certs/server.key"),
		},
		Kafka: KafkaConfig{
			Brokers:           getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			ClientID:          getEnv("KAFKA_CLIENT_ID", "auth-token-service"),
			ConsumerGroupID:   getEnv("KAFKA_CONSUMER_GROUP_ID", "auth-cache-applier"),
			Partitions:        getEnvInt("KAFKA_TOPIC_PARTITIONS", 10),
			ReplicationFactor: getEnvInt("KAFKA_TOPIC_REPLICATION_FACTOR", 3),
			WriteTimeout:      getEnvDuration("KAFKA_WRITE_TIMEOUT", 5*time.Second),
		},
		Topics: TopicsConfig{
			Cache:              getEnv("TOPIC_CACHE", "auth.cache"),
			InvalidateCache:    getEnv("TOPIC_INVALIDATE_CACHE", "auth.cache.invalidate"),
			AssignToken:        getEnv("TOPIC_ASSIGN_TOKEN", "auth.token.assign"),
			UpdateToken:        getEnv("TOPIC_UPDATE_TOKEN", "auth.token.update"),
			RevokeRefreshToken: getEnv("TOPIC_REVOKE_REFRESH_TOKEN", "auth.token.revoke"),
			ReusedRefreshToken: getEnv("TOPIC_REUSED_REFRESH_TOKEN", "auth.token.reused"),
			Logout:             getEnv("TOPIC_LOGOUT", "auth.logout"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:  getEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:      getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: getEnv("ELASTICSEARCH_USERNAME", ""),
			Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    getEnv("ELASTICSEARCH_SECURITY_INDEX", "auth-security-events"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "auth"),
			Table:    getEnv("CLICKHOUSE_SECURITY_TABLE", "security_events"),
			CAFile:   getEnv("CLICKHOUSE_CA_FILE", ""),
		},
		KMS: KMSConfig{
			Enabled:        getEnvBool("KMS_ENABLED", false),
			KeyID:          getEnv("KMS_KEY_ID", ""),
			Region:         getEnv("KMS_REGION", "us-east-1"),
			WrappedDataKey: getEnv("KMS_WRAPPED_DATA_KEY", ""),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 64*1024),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
		},
		Bucketing: BucketingConfig{
			AccountBuckets: getEnvInt("ACCOUNT_BUCKETS", 1024),
		},
		Token: TokenConfig{
			AccessSecret:    getEnv("ACCESS_TOKEN_SECRET", ""),
			RefreshSecret:   getEnv("REFRESH_TOKEN_SECRET", ""),
			Algorithm:       getEnv("TOKEN_ALGORITHM", "HS256"),
			AccessTTL:       getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTTL:      getEnvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
			AuthTokenTTL:    getEnvDuration("AUTH_TOKEN_TTL", 5*time.Minute),
			AuthTokenBytes:  getEnvInt("AUTH_TOKEN_BYTES", 32),
			AccountCacheTTL: getEnvDuration("ACCOUNT_CACHE_TTL", time.Hour),
			Issuer:          getEnv("TOKEN_ISSUER", "auth-token-service"),
			Audience:        getEnv("TOKEN_AUDIENCE", "clients"),
			Subject:         getEnv("TOKEN_SUBJECT", "account"),
			TokenType:       getEnv("TOKEN_TYPE", "Bearer"),
			MaxDevices:      getEnvInt("MAX_ACTIVE_DEVICES", 5),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run safely with.
func (c *Config) Validate() error {
	var errs []error

	if c.Token.AccessSecret == "" {
		errs = append(errs, errors.New("ACCESS_TOKEN_SECRET is required"))
	}
	if c.Token.RefreshSecret == "" {
		errs = append(errs, errors.New("REFRESH_TOKEN_SECRET is required"))
	}
	if c.Token.AccessSecret != "" && c.Token.AccessSecret == c.Token.RefreshSecret {
		errs = append(errs, errors.New("access and refresh token secrets must differ"))
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 || c.Token.AuthTokenTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.Token.AccessTTL >= c.Token.RefreshTTL {
		errs = append(errs, errors.New("access token TTL must be shorter than refresh token TTL"))
	}
	if c.Token.AuthTokenBytes < 16 {
		errs = append(errs, errors.New("AUTH_TOKEN_BYTES must be at least 16"))
	}
	if c.Token.MaxDevices <= 0 {
		errs = append(errs, errors.New("MAX_ACTIVE_DEVICES must be positive"))
	}
	if c.Kafka.Partitions <= 0 || c.Kafka.ReplicationFactor <= 0 {
		errs = append(errs, errors.New("kafka topic partitions and replication factor must be positive"))
	}
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required"))
	}
	if c.Bucketing.AccountBuckets <= 0 {
		errs = append(errs, errors.New("ACCOUNT_BUCKETS must be positive"))
	}

	if c.KMS.Enabled {
		if c.KMS.WrappedDataKey == "" {
			errs = append(errs, errors.New("KMS_WRAPPED_DATA_KEY is required when KMS is enabled"))
		}
	} else {
		key, err := base64.StdEncoding.DecodeString(c.Encryption.Key)
		if err != nil || len(key) != 32 {
			errs = append(errs, errors.New("ENCRYPTION_KEY must be a base64 encoded 32 byte key"))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("15m") or plain seconds ("900").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
