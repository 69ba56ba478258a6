package apierr

import (
	"encoding/json"
	"fmt"

	"github.com/valyala/fasthttp"
)

// geminiStatus maps a Kind to Google's gRPC-style status string, as used in
// the Gemini REST error envelope.
func geminiStatus(k Kind) string {
	switch k {
	case BadRequest:
		return "INVALID_ARGUMENT"
	case Unauthenticated:
		return "UNAUTHENTICATED"
	case Forbidden:
		return "PERMISSION_DENIED"
	case ModelUnavailable, AllDisabled:
		return "NOT_FOUND"
	case RateLimited, QuotaExceeded:
		return "RESOURCE_EXHAUSTED"
	case UpstreamErrorKind, AllAttemptsFailed:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

// WriteGemini renders err in the `/gemini/v2/.../generateContent` error
// shape: {error:{code,message,status}}.
func WriteGemini(ctx *fasthttp.RequestCtx, err *Error) {
	if err.RetryAfter > 0 {
		ctx.Response.Header.Set("Retry-After", fmt.Sprintf("%d", err.RetryAfter))
	}
	status := err.Kind.HTTPStatus()
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}{
		Error: struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		}{Code: status, Message: err.Message, Status: geminiStatus(err.Kind)},
	})
	ctx.SetBody(body)
}
