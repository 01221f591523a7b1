package config

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("ACCESS_TOKEN_SECRET", "access-secret")
	t.Setenv("REFRESH_TOKEN_SECRET", "refresh-secret")
	t.Setenv("ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(make([]byte, 32)))
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Token.MaxDevices != 5 || cfg.Token.AuthTokenTTL != 5*time.Minute {
		t.Fatalf("token defaults = %+v", cfg.Token)
	}
	if cfg.Kafka.Partitions != 10 || cfg.Kafka.ReplicationFactor != 3 {
		t.Fatalf("kafka defaults = %+v", cfg.Kafka)
	}
	if !cfg.IsDevelopment() || cfg.GetServerAddress() != ":8080" {
		t.Fatalf("server defaults: env=%s addr=%s", cfg.Environment, cfg.GetServerAddress())
	}
}

func TestLoadConfigParsesEnvironment(t *testing.T) {
	setRequired(t)
	t.Setenv("ACCESS_TOKEN_TTL", "600")
	t.Setenv("REFRESH_TOKEN_TTL", "48h")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("SERVER_ENABLE_TLS", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Token.AccessTTL != 10*time.Minute || cfg.Token.RefreshTTL != 48*time.Hour {
		t.Fatalf("ttls = %v / %v", cfg.Token.AccessTTL, cfg.Token.RefreshTTL)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Fatalf("brokers = %v", cfg.Kafka.Brokers)
	}
	if !cfg.Server.EnableTLS {
		t.Fatal("SERVER_ENABLE_TLS not applied")
	}
}

func TestValidateRejectsUnsafeConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "shared secret", env: map[string]string{"REFRESH_TOKEN_SECRET": "access-secret"}, want: "must differ"},
		{name: "access outlives refresh", env: map[string]string{"ACCESS_TOKEN_TTL": "48h", "REFRESH_TOKEN_TTL": "1h"}, want: "shorter"},
		{name: "short encryption key", env: map[string]string{"ENCRYPTION_KEY": base64.StdEncoding.EncodeToString(make([]byte, 16))}, want: "ENCRYPTION_KEY"},
		{name: "kms without data key", env: map[string]string{"KMS_ENABLED": "true"}, want: "KMS_WRAPPED_DATA_KEY"},
		{name: "small auth token", env: map[string]string{"AUTH_TOKEN_BYTES": "8"}, want: "AUTH_TOKEN_BYTES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
