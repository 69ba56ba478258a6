package usagelog

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createTableDDL = `
CREATE TABLE IF NOT EXISTS usage_log (
	id           UUID,
	provider     String,
	model        String,
	tier         String,
	user_id      String,
	input_tokens UInt32,
	output_tokens UInt32,
	latency_ms   UInt32,
	status_code  UInt16,
	created_at   DateTime64(3)
) ENGINE = MergeTree
ORDER BY (created_at, provider)
`

const insertDML = `
INSERT INTO usage_log
	(id, provider, model, tier, user_id, input_tokens, output_tokens, latency_ms, status_code, created_at)
`

// ClickHouseSink records usage rows for offline analytics and billing.
// Configured when CLICKHOUSE_DSN is set; otherwise the gateway runs with
// only the slog sink.
type ClickHouseSink struct {
	conn driver.Conn
}

// NewClickHouseSink connects to dsn and ensures the usage_log table exists.
func NewClickHouseSink(ctx context.Context, dsn string) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("usagelog: parse clickhouse dsn: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("usagelog: open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("usagelog: ping clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, createTableDDL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("usagelog: create usage_log table: %w", err)
	}

	return &ClickHouseSink{conn: conn}, nil
}

func (s *ClickHouseSink) Write(ctx context.Context, batch []Entry) error {
	b, err := s.conn.PrepareBatch(ctx, insertDML)
	if err != nil {
		return fmt.Errorf("usagelog: prepare batch: %w", err)
	}
	for _, e := range batch {
		if err := b.Append(
			e.ID, e.Provider, e.Model, e.Tier, e.UserID,
			e.InputTokens, e.OutputTokens, e.LatencyMs, e.StatusCode, e.CreatedAt,
		); err != nil {
			return fmt.Errorf("usagelog: append row: %w", err)
		}
	}
	return b.Send()
}

func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
