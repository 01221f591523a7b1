package audit

import (
	"context"
	"fmt"
	"time"

	"auth-token-service/internal/models"
)

// Execer is satisfied by client.ClickHouseClient.
type Execer interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
}

type ClickHouseSink struct {
	db    Execer
	query string
}

func NewClickHouseSink(db Execer, table string) *ClickHouseSink {
	return &ClickHouseSink{
		db: db,
		query: fmt.Sprintf(`INSERT INTO %s
			(event_id, event_date, event_time, event_type, account_id, ip_address, details)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, table),
	}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

// Write stores ev under the partition date the recorder assigned to it.
func (s *ClickHouseSink) Write(ctx context.Context, ev models.SecurityEvent) error {
	day, err := time.Parse(time.DateOnly, ev.EventDate)
	if err != nil {
		day = ev.EventTime.UTC().Truncate(24 * time.Hour)
	}
	if err := s.db.Exec(ctx, s.query,
		ev.EventID, day, ev.EventTime, string(ev.EventType), ev.AccountID, ev.IPAddress, ev.Details,
	); err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}

// Indexer is satisfied by client.ESClient.
type Indexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

type ElasticsearchSink struct {
	es    Indexer
	index string
}

func NewElasticsearchSink(es Indexer, index string) *ElasticsearchSink {
	return &ElasticsearchSink{es: es, index: index}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Write(ctx context.Context, ev models.SecurityEvent) error {
	return s.es.IndexDocument(ctx, s.index, ev.EventID, ev)
}
