package apierr

import (
	"encoding/json"
	"fmt"

	"github.com/valyala/fasthttp"
)

// anthropicErrorType maps a Kind to Anthropic's error.type vocabulary
// (https://docs.anthropic.com/en/api/errors).
func anthropicErrorType(k Kind) string {
	switch k {
	case BadRequest:
		return "invalid_request_error"
	case Unauthenticated:
		return "authentication_error"
	case Forbidden:
		return "permission_error"
	case ModelUnavailable, AllDisabled:
		return "not_found_error"
	case RateLimited, QuotaExceeded:
		return "rate_limit_error"
	case UpstreamErrorKind, AllAttemptsFailed:
		return "api_error"
	default:
		return "api_error"
	}
}

// WriteAnthropic renders err in the `/anthropic/v3/messages` error shape.
func WriteAnthropic(ctx *fasthttp.RequestCtx, err *Error) {
	if err.RetryAfter > 0 {
		ctx.Response.Header.Set("Retry-After", fmt.Sprintf("%d", err.RetryAfter))
	}
	ctx.SetStatusCode(err.Kind.HTTPStatus())
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(struct {
		Type  string `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}{
		Type: "error",
		Error: struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{Type: anthropicErrorType(err.Kind), Message: err.Message},
	})
	ctx.SetBody(body)
}
