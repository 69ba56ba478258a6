// Package apierr provides the gateway's internal error-kind enum and one
// JSON-envelope writer per vendor shape hit by the REST surface, so every
// route maps the same internal error onto its vendor's convention without
// losing the RateLimited / ModelUnavailable / AllAttemptsFailed /
// generic-500 distinctions.
package apierr

import (
	"encoding/json"
	"fmt"

	"github.com/valyala/fasthttp"
)

// Kind enumerates the gateway's internal error kinds.
type Kind string

const (
	BadRequest        Kind = "bad_request"
	Unauthenticated   Kind = "unauthenticated"
	Forbidden         Kind = "forbidden"
	RateLimited       Kind = "rate_limited"
	QuotaExceeded     Kind = "quota_exceeded"
	AllDisabled       Kind = "all_disabled"
	ModelUnavailable  Kind = "model_unavailable"
	UpstreamErrorKind Kind = "upstream_error"
	AllAttemptsFailed Kind = "all_attempts_failed"
	StateStoreErrKind Kind = "state_store_error"
	Conflict          Kind = "conflict"
	Internal          Kind = "internal"
)

// HTTPStatus maps a Kind to its HTTP status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case BadRequest:
		return fasthttp.StatusBadRequest
	case Unauthenticated:
		return fasthttp.StatusUnauthorized
	case Forbidden:
		return fasthttp.StatusForbidden
	case ModelUnavailable, AllDisabled:
		return fasthttp.StatusNotFound
	case Conflict:
		return fasthttp.StatusConflict
	case RateLimited, QuotaExceeded:
		return fasthttp.StatusTooManyRequests
	case UpstreamErrorKind:
		return fasthttp.StatusBadGateway
	case AllAttemptsFailed:
		return fasthttp.StatusServiceUnavailable
	default:
		return fasthttp.StatusInternalServerError
	}
}

// Error is the gateway's internal error type. It carries enough information
// for any vendor-shaped writer to render an appropriate body.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter int // seconds; 0 means "omit the header"
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithRetryAfter sets the Retry-After hint, in seconds, and returns e.
func (e *Error) WithRetryAfter(seconds int) *Error {
	e.RetryAfter = seconds
	return e
}

// ErrorType constants, OpenAI's vocabulary — reused as the fallback/default
// vendor shape since most routes (OpenAI, Azure, Groq, OpenRouter) mirror it.
const (
	TypeProviderError     = "provider_error"
	TypeRateLimitError    = "rate_limit_error"
	TypeInvalidRequest    = "invalid_request_error"
	TypeAuthenticationErr = "authentication_error"
	TypeServerError       = "server_error"
)

// Code constants.
const (
	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodeInvalidAPIKey     = "invalid_api_key"
	CodeInternalError     = "internal_error"
	CodeProviderError     = "provider_error"
	CodeRequestTimeout    = "request_timeout"
	CodeNotImplemented    = "not_implemented"
	CodeInvalidRequest    = "invalid_request"
	CodeModelNotFound     = "model_not_found"
	CodeQuotaExceeded     = "quota_exceeded"
	CodeDuplicateUser     = "duplicate_user"
)

// APIError is the structured error returned to clients in the OpenAI shape.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given
// HTTP status, OpenAI-shaped envelope (also used by Azure/Groq/OpenRouter).
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// typeAndCodeFor maps a Kind onto the OpenAI error-type/code vocabulary.
func typeAndCodeFor(k Kind) (errType, code string) {
	switch k {
	case BadRequest:
		return TypeInvalidRequest, CodeInvalidRequest
	case Unauthenticated, Forbidden:
		return TypeAuthenticationErr, CodeInvalidAPIKey
	case RateLimited:
		return TypeRateLimitError, CodeRateLimitExceeded
	case QuotaExceeded:
		return TypeRateLimitError, CodeQuotaExceeded
	case ModelUnavailable, AllDisabled:
		return TypeInvalidRequest, CodeModelNotFound
	case UpstreamErrorKind:
		return TypeProviderError, CodeProviderError
	case AllAttemptsFailed:
		return TypeProviderError, CodeProviderError
	default:
		return TypeServerError, CodeInternalError
	}
}

// WriteOpenAI renders err in the OpenAI envelope shape. Azure, Groq, and
// OpenRouter routes share this shape verbatim.
func WriteOpenAI(ctx *fasthttp.RequestCtx, err *Error) {
	errType, code := typeAndCodeFor(err.Kind)
	if err.RetryAfter > 0 {
		ctx.Response.Header.Set("Retry-After", fmt.Sprintf("%d", err.RetryAfter))
	}
	Write(ctx, err.Kind.HTTPStatus(), err.Message, errType, code)
}

// WriteProviderError maps a provider HTTP status to the appropriate gateway
// status in the OpenAI shape (kept for callers handling a raw vendor status
// rather than an *Error).
func WriteProviderError(ctx *fasthttp.RequestCtx, providerStatus int, msg string) {
	switch {
	case providerStatus == fasthttp.StatusTooManyRequests:
		ctx.Response.Header.Set("Retry-After", "60")
		Write(ctx, fasthttp.StatusTooManyRequests, msg, TypeRateLimitError, CodeRateLimitExceeded)
	default:
		Write(ctx, fasthttp.StatusBadGateway, msg, TypeProviderError, CodeProviderError)
	}
}

// anthropicEnvelope mirrors Anthropic's {"type":"error","error":{"type":...,"message":...}} shape.
type anthropicEnvelope struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func anthropicTypeFor(k Kind) string {
	switch k {
	case BadRequest:
		return "invalid_request_error"
	case Unauthenticated, Forbidden:
		return "authentication_error"
	case RateLimited, QuotaExceeded:
		return "rate_limit_error"
	case ModelUnavailable, AllDisabled:
		return "not_found_error"
	case UpstreamErrorKind, AllAttemptsFailed:
		return "api_error"
	default:
		return "api_error"
	}
}

// WriteAnthropic renders err in Anthropic's error envelope shape.
func WriteAnthropic(ctx *fasthttp.RequestCtx, err *Error) {
	if err.RetryAfter > 0 {
		ctx.Response.Header.Set("Retry-After", fmt.Sprintf("%d", err.RetryAfter))
	}
	ctx.SetStatusCode(err.Kind.HTTPStatus())
	ctx.SetContentType("application/json")
	env := anthropicEnvelope{Type: "error"}
	env.Error.Type = anthropicTypeFor(err.Kind)
	env.Error.Message = err.Message
	body, _ := json.Marshal(env)
	ctx.SetBody(body)
}

// geminiEnvelope mirrors Gemini's {"error":{"code":...,"message":...,"status":...}} shape.
type geminiEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func geminiStatusFor(k Kind) string {
	switch k {
	case BadRequest:
		return "INVALID_ARGUMENT"
	case Unauthenticated:
		return "UNAUTHENTICATED"
	case Forbidden:
		return "PERMISSION_DENIED"
	case RateLimited, QuotaExceeded:
		return "RESOURCE_EXHAUSTED"
	case ModelUnavailable, AllDisabled:
		return "NOT_FOUND"
	case UpstreamErrorKind, AllAttemptsFailed:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

// WriteGemini renders err in Gemini's error envelope shape.
func WriteGemini(ctx *fasthttp.RequestCtx, err *Error) {
	if err.RetryAfter > 0 {
		ctx.Response.Header.Set("Retry-After", fmt.Sprintf("%d", err.RetryAfter))
	}
	status := err.Kind.HTTPStatus()
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	env := geminiEnvelope{}
	env.Error.Code = status
	env.Error.Message = err.Message
	env.Error.Status = geminiStatusFor(err.Kind)
	body, _ := json.Marshal(env)
	ctx.SetBody(body)
}

// ollamaEnvelope mirrors Ollama's flat {"error":"..."} shape.
type ollamaEnvelope struct {
	Error string `json:"error"`
}

// WriteOllama renders err in Ollama's flat error envelope shape.
func WriteOllama(ctx *fasthttp.RequestCtx, err *Error) {
	if err.RetryAfter > 0 {
		ctx.Response.Header.Set("Retry-After", fmt.Sprintf("%d", err.RetryAfter))
	}
	ctx.SetStatusCode(err.Kind.HTTPStatus())
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(ollamaEnvelope{Error: err.Message})
	ctx.SetBody(body)
}

// WriteTimeout writes a 504 timeout error.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusGatewayTimeout, "provider request timed out", TypeProviderError, CodeRequestTimeout)
}

// WriteRateLimit writes a 429 rate limit error.
func WriteRateLimit(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Retry-After", "60")
	Write(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded", TypeRateLimitError, CodeRateLimitExceeded)
}
