package restapi

import (
	"github.com/valyala/fasthttp"

	"github.com/relaygate/gateway/pkg/apierr"
)

// handleModels serves GET /api/v1/models: the catalog document verbatim, no
// auth required.
func (s *Server) handleModels(ctx *fasthttp.RequestCtx) {
	catalog, err := s.Registry.LoadCatalog(ctx)
	if err != nil {
		apierr.WriteOpenAI(ctx, apierr.Wrap(apierr.StateStoreErrKind, "failed to load model catalog", err))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, catalog)
}
