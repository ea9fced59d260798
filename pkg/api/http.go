package api

import (
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"marketchat/pkg/api/auth"
	apirouter "marketchat/pkg/api/router"
	adminRoutes "marketchat/pkg/api/routes/admin"
	backendRoutes "marketchat/pkg/api/routes/backend"
	"marketchat/pkg/api/routes/common"
	frontendRoutes "marketchat/pkg/api/routes/frontend"
	"marketchat/pkg/router"
)

// wrapHTTPHandler wraps an http.Handler to work with fasthttp.
func wrapHTTPHandler(h http.Handler) fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(h)
}

// RegisterRoutes wires all API routes onto the provided router.
func RegisterRoutes(r *router.Router, svc *common.Services) {
	fe := frontendRoutes.New(svc)
	be := backendRoutes.New(svc)
	ad := adminRoutes.New(svc)

	r.GET("/healthz", healthz)
	r.GET("/readyz", readyz(svc))

	// client auth
	r.POST("/v1/_sign", be.Sign)

	// conversations
	r.POST("/v1/conversations", fe.CreateConversation)
	r.GET("/v1/conversations", fe.ListConversations)
	r.GET("/v1/conversations/{id}", fe.GetConversation)
	r.PUT("/v1/conversations/{id}/agent", be.AssignAgent)
	r.POST("/v1/conversations/{id}/close", be.CloseConversation)

	// messages and read state
	r.POST("/v1/conversations/{id}/messages", fe.SendMessage)
	r.GET("/v1/conversations/{id}/messages", fe.ListMessages)
	r.POST("/v1/conversations/{id}/read", fe.MarkRead)
	r.GET("/v1/unread", fe.UnreadCount)

	// realtime
	r.GET("/v1/channels/{channel}/authorize", fe.AuthorizeChannel)
	r.GET("/v1/channels/{channel}/stream", fe.StreamChannel)

	// directory sync
	r.PUT("/v1/directory/users/{id}", be.PutUser)
	r.PUT("/v1/directory/companies/{id}", be.PutCompany)
	r.PUT("/v1/directory/agents/{id}", be.PutAgent)
	r.GET("/v1/directory/agents/{id}/conversations", be.AgentConversations)
	r.PUT("/v1/directory/products/{id}", be.PutProduct)
	r.DELETE("/v1/directory/products/{id}", be.DeleteProduct)

	r.POST("/v1/payments/{paymentId}/status", be.PaymentStatus)

	// admin
	r.GET("/admin/health", ad.Health)
	r.GET("/admin/stats", ad.Stats)
	r.POST("/admin/jobs/sweep", ad.Sweep)
	r.GET("/admin/debug/prometheus", wrapHTTPHandler(promhttp.Handler()))
	r.GET("/admin/debug/pprof/{name...}", pprofHandler)

	r.NotFound(func(ctx *fasthttp.RequestCtx) {
		apirouter.WriteJSONError(ctx, fasthttp.StatusNotFound, "not found")
	})
}

// Handler builds the full request pipeline: gate, then routes.
func Handler(svc *common.Services, gate *auth.Gate) fasthttp.RequestHandler {
	r := router.New()
	RegisterRoutes(r, svc)
	return gate.Wrap(r.Handler)
}

func healthz(ctx *fasthttp.RequestCtx) {
	apirouter.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
}

func readyz(svc *common.Services) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if svc.Store == nil || !svc.Store.Ready() {
			apirouter.WriteJSONError(ctx, fasthttp.StatusServiceUnavailable, "store not ready")
			return
		}
		apirouter.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ready", "version": svc.Version})
	}
}

var (
	pprofIndex   = wrapHTTPHandler(http.HandlerFunc(pprof.Index))
	pprofCmdline = wrapHTTPHandler(http.HandlerFunc(pprof.Cmdline))
	pprofProfile = wrapHTTPHandler(http.HandlerFunc(pprof.Profile))
	pprofSymbol  = wrapHTTPHandler(http.HandlerFunc(pprof.Symbol))
	pprofTrace   = wrapHTTPHandler(http.HandlerFunc(pprof.Trace))
)

// pprofHandler serves net/http/pprof under /admin/debug/pprof/.
func pprofHandler(ctx *fasthttp.RequestCtx) {
	switch name := apirouter.PathParam(ctx, "name"); name {
	case "", "index":
		pprofIndex(ctx)
	case "cmdline":
		pprofCmdline(ctx)
	case "profile":
		pprofProfile(ctx)
	case "symbol":
		pprofSymbol(ctx)
	case "trace":
		pprofTrace(ctx)
	default:
		wrapHTTPHandler(pprof.Handler(name))(ctx)
	}
}
