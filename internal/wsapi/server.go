// Package wsapi implements the gateway's WebSocket surface: a single
// upgrade route at /ws speaking a small JSON-over-text-frame protocol.
// Every connection must authenticate before any other frame is accepted;
// chat frames run through the same auth/rate-limit/router/metrics/usage
// path the REST handlers use, just without the HTTP request/response cycle.
package wsapi

import (
	"log/slog"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"

	"github.com/relaygate/gateway/internal/auth"
	"github.com/relaygate/gateway/internal/metrics"
	"github.com/relaygate/gateway/internal/ratelimit"
	gwrouter "github.com/relaygate/gateway/internal/router"
	"github.com/relaygate/gateway/internal/usagelog"
)

// Server wires the same building blocks internal/restapi uses into the
// WebSocket protocol.
type Server struct {
	Router  *gwrouter.Router
	Auth    *auth.Service
	Limiter ratelimit.Limiter
	Usage   *usagelog.Logger
	Metrics *metrics.Registry
	Log     *slog.Logger

	// CheckOrigin is passed straight through to the upgrader. Nil selects
	// the upgrader's default check, which rejects a request whose Origin
	// header is present and names a host other than the request's Host.
	CheckOrigin func(ctx *fasthttp.RequestCtx) bool
}

func (s *Server) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Handler returns the fasthttp handler for the /ws upgrade route.
func (s *Server) Handler() fasthttp.RequestHandler {
	upgrader := websocket.FastHTTPUpgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.CheckOrigin,
	}

	return func(ctx *fasthttp.RequestCtx) {
		err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			sess := &session{
				server: s,
				conn:   conn,
				ctx:    ctx,
			}
			sess.run()
		})
		if err != nil {
			s.logger().Warn("wsapi: upgrade failed", slog.String("error", err.Error()))
		}
	}
}
