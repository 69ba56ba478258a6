package usagelog

import (
	"context"
	"log/slog"
)

// SlogSink writes each Entry as a structured log line. Always active — the
// gateway must retain a usage trail even when no analytics sink is
// configured.
type SlogSink struct {
	log *slog.Logger
}

func NewSlogSink(log *slog.Logger) *SlogSink {
	return &SlogSink{log: log}
}

func (s *SlogSink) Write(ctx context.Context, batch []Entry) error {
	for _, e := range batch {
		s.log.InfoContext(ctx, "usage",
			slog.String("id", e.ID.String()),
			slog.String("provider", e.Provider),
			slog.String("model", e.Model),
			slog.String("tier", e.Tier),
			slog.String("user_id", e.UserID),
			slog.Uint64("input_tokens", uint64(e.InputTokens)),
			slog.Uint64("output_tokens", uint64(e.OutputTokens)),
			slog.Uint64("latency_ms", uint64(e.LatencyMs)),
			slog.Uint64("status", uint64(e.StatusCode)),
			slog.Time("created_at", e.CreatedAt.UTC()),
		)
	}
	return nil
}

func (s *SlogSink) Close() error { return nil }
