// Command mockupstream runs lightweight HTTP servers that simulate the two
// upstream wire formats the gateway's internal/upstream adapters speak: the
// OpenAI-compatible chat-completions API (internal/upstream's generic
// client) and the Gemini generateContent API (internal/upstream's google
// client). Point a provider record's endpoint_url at one of these during
// local development or load testing, no vendor credentials required.
//
// Each kind listens on its own port:
//
//	Generic (OpenAI-compatible)  :19001
//	Google (Gemini-shaped)       :19002
//
// Environment overrides (PORT_<KIND>):
//
//	PORT_GENERIC, PORT_GOOGLE
//
// Behaviour flags (via env):
//
//	MOCK_LATENCY_MS — artificial latency added to every response (default 0)
//	MOCK_ERROR_RATE — fraction [0,1] of requests that return HTTP 500 (default 0)
//	MOCK_WORDS      — words in the generated response text (default 10)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Config holds runtime configuration shared across both mock servers.
type Config struct {
	LatencyMS int
	ErrorRate float64
	Words     int
}

func loadConfig() Config {
	c := Config{Words: 10}

	if v := os.Getenv("MOCK_LATENCY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LatencyMS = n
		}
	}
	if v := os.Getenv("MOCK_ERROR_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.ErrorRate = f
		}
	}
	if v := os.Getenv("MOCK_WORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Words = n
		}
	}
	return c
}

func portFromEnv(key string, defaultPort int) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return strconv.Itoa(defaultPort)
}

func startServer(name, addr string, h http.Handler, log *slog.Logger) *http.Server {
	srv := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Info("mock upstream listening", slog.String("kind", name), slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("kind", name), slog.String("error", err.Error()))
		}
	}()
	return srv
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := loadConfig()

	log.Info("starting mock upstreams",
		slog.Int("latency_ms", cfg.LatencyMS),
		slog.Float64("error_rate", cfg.ErrorRate),
		slog.Int("words", cfg.Words),
	)

	servers := []*http.Server{
		startServer("generic", ":"+portFromEnv("PORT_GENERIC", 19001), newGenericHandler(cfg), log),
		startServer("google", ":"+portFromEnv("PORT_GOOGLE", 19002), newGoogleHandler(cfg), log),
	}

	fmt.Println("READY")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down mock upstreams")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func(s *http.Server) {
			defer wg.Done()
			_ = s.Shutdown(ctx)
		}(srv)
	}
	wg.Wait()
	log.Info("mock upstreams stopped")
}
