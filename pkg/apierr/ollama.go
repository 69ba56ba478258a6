package apierr

import (
	"encoding/json"
	"fmt"

	"github.com/valyala/fasthttp"
)

// WriteOllama renders err in Ollama's flat error shape: {error:"message"}.
func WriteOllama(ctx *fasthttp.RequestCtx, err *Error) {
	if err.RetryAfter > 0 {
		ctx.Response.Header.Set("Retry-After", fmt.Sprintf("%d", err.RetryAfter))
	}
	ctx.SetStatusCode(err.Kind.HTTPStatus())
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: err.Message})
	ctx.SetBody(body)
}
