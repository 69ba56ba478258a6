package wsapi

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/relaygate/gateway/internal/model"
	"github.com/relaygate/gateway/internal/ratelimit"
	"github.com/relaygate/gateway/internal/upstream"
	"github.com/relaygate/gateway/internal/usagelog"
	"github.com/relaygate/gateway/pkg/apierr"
)

// deltaChunkWords is how many words each streamed delta frame carries. The
// router's upstream clients return one complete response, not a token
// stream, so streaming mode here re-chunks the final text rather than
// passing through a live upstream stream.
const deltaChunkWords = 3

// session owns one upgraded connection. Writes are serialized through
// writeMu since *websocket.Conn, like gorilla's, does not allow concurrent
// writers.
type session struct {
	server *Server
	conn   *websocket.Conn
	ctx    *fasthttp.RequestCtx

	writeMu sync.Mutex

	authenticated bool
	apiKey        string
	user          *model.UserRecord
	tier          *model.TierLimits
}

func (sess *session) run() {
	defer sess.conn.Close()

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}

		var in inboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			sess.writeError("", apierr.BadRequest, "malformed frame: "+err.Error())
			continue
		}

		switch in.Type {
		case typeAuth:
			sess.handleAuth(in)
		case typePing:
			sess.handlePing(in)
		case typeChat:
			sess.handleChat(in)
		default:
			sess.writeError(in.RequestID, apierr.BadRequest, "unknown frame type: "+in.Type)
		}
	}
}

func (sess *session) handleAuth(in inboundMessage) {
	if in.APIKey == "" {
		sess.writeError(in.RequestID, apierr.Unauthenticated, "apiKey is required")
		return
	}

	user, tier, err := sess.server.Auth.Validate(sess.ctx, in.APIKey)
	if err != nil {
		sess.writeError(in.RequestID, apierr.Unauthenticated, "authentication failed")
		return
	}

	sess.authenticated = true
	sess.apiKey = in.APIKey
	sess.user = user
	sess.tier = tier

	sess.write(authOKMessage{Type: typeAuthOK, Tier: user.Tier, Role: user.Role})
}

func (sess *session) handlePing(in inboundMessage) {
	if !sess.authenticated {
		sess.writeError(in.RequestID, apierr.Unauthenticated, "auth frame required before ping")
		return
	}
	sess.write(pongMessage{Type: typePong})
}

func (sess *session) handleChat(in inboundMessage) {
	if !sess.authenticated {
		sess.writeError(in.RequestID, apierr.Unauthenticated, "auth frame required before chat")
		return
	}
	if in.Model == "" {
		sess.writeError(in.RequestID, apierr.BadRequest, "model is required")
		return
	}
	if len(in.Messages) == 0 {
		sess.writeError(in.RequestID, apierr.BadRequest, "messages must not be empty")
		return
	}

	requestID := in.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	if sess.server.Limiter != nil {
		decision, lerr := sess.server.Limiter.Allow(sess.ctx, sess.apiKey, ratelimit.Limits{
			RPS: sess.tier.RPS, RPM: sess.tier.RPM, RPD: sess.tier.RPD,
		})
		if lerr == nil && !decision.Allowed {
			if sess.server.Metrics != nil {
				sess.server.Metrics.RecordRateLimit("denied")
			}
			sess.writeError(requestID, apierr.RateLimited, "rate limit exceeded ("+decision.Exceeded+")")
			return
		}
		if sess.server.Metrics != nil {
			sess.server.Metrics.RecordRateLimit("allowed")
		}
	}

	messages := make([]upstream.Message, len(in.Messages))
	for i, m := range in.Messages {
		messages[i] = upstream.Message{Role: m.Role, Content: m.Content}
	}

	sess.write(chatStartMessage{Type: typeChatStart, RequestID: requestID})

	start := time.Now()
	res, err := sess.server.Router.Handle(sess.ctx, messages, in.Model, sess.apiKey)
	if err != nil {
		apiErr := asAPIError(err)
		if sess.server.Metrics != nil {
			sess.server.Metrics.RecordError("unknown", string(apiErr.Kind))
		}
		sess.writeError(requestID, apiErr.Kind, apiErr.Message)
		return
	}

	inputTokens := estimatePromptTokens(messages)
	if sess.server.Metrics != nil {
		sess.server.Metrics.ObserveGatewayRequest(res.ProviderID, in.Model, time.Since(start))
		sess.server.Metrics.RecordRequest(res.ProviderID, fasthttp.StatusOK, res.LatencyMs)
		sess.server.Metrics.AddTokens(res.ProviderID, in.Model, inputTokens, res.TokensGenerated)
	}
	if sess.server.Usage != nil {
		sess.server.Usage.Log(usagelog.Entry{
			ID:           uuid.New(),
			Provider:     res.ProviderID,
			Model:        in.Model,
			Tier:         sess.user.Tier,
			UserID:       sess.user.UserID,
			InputTokens:  uint32(inputTokens),
			OutputTokens: uint32(res.TokensGenerated),
			LatencyMs:    uint32(res.LatencyMs),
			StatusCode:   200,
			CreatedAt:    time.Now(),
		})
	}

	if in.Stream {
		sess.streamResponse(requestID, res.Response)
		return
	}

	sess.write(chatCompleteMessage{
		Type:      typeChatComplete,
		RequestID: requestID,
		Model:     in.Model,
		Content:   res.Response,
		Usage:     chatUsage{InputTokens: inputTokens, OutputTokens: res.TokensGenerated},
	})
}

// streamResponse re-chunks a completed response into word-group deltas,
// terminated by a frame carrying finish_reason "stop".
func (sess *session) streamResponse(requestID, text string) {
	words := strings.Fields(text)
	if len(words) == 0 {
		sess.write(chatDeltaMessage{Type: typeChatDelta, RequestID: requestID, FinishReason: "stop"})
		return
	}

	for i := 0; i < len(words); i += deltaChunkWords {
		end := i + deltaChunkWords
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[i:end], " ") + " "
		sess.write(chatDeltaMessage{Type: typeChatDelta, RequestID: requestID, Delta: chunk})
	}

	sess.write(chatDeltaMessage{Type: typeChatDelta, RequestID: requestID, FinishReason: "stop"})
}

func (sess *session) writeError(requestID string, kind apierr.Kind, message string) {
	sess.write(errorMessage{Type: typeError, Code: string(kind), Message: message, RequestID: requestID})
}

func (sess *session) write(v any) {
	body, err := json.Marshal(v)
	if err != nil {
		sess.server.logger().Error("wsapi: failed to marshal frame", slog.String("error", err.Error()))
		return
	}

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	if err := sess.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		sess.server.logger().Debug("wsapi: write failed", slog.String("error", err.Error()))
	}
}

func asAPIError(err error) *apierr.Error {
	if ae, ok := err.(*apierr.Error); ok {
		return ae
	}
	return apierr.Wrap(apierr.Internal, "unexpected error", err)
}

func estimatePromptTokens(messages []upstream.Message) int {
	var n int
	for _, m := range messages {
		n += (len(m.Content) + 3) / 4
	}
	return n
}
