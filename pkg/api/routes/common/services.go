package common

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"

	"marketchat/pkg/api/auth"
	"marketchat/pkg/api/router"
	"marketchat/pkg/directory"
	"marketchat/pkg/gateway"
	"marketchat/pkg/messages"
	"marketchat/pkg/outbox"
	"marketchat/pkg/readstate"
	"marketchat/pkg/registry"
	"marketchat/pkg/store"
	"marketchat/pkg/telemetry"
)

// Services is everything a route handler may call into.
type Services struct {
	Store     *store.Store
	Directory *directory.PebbleDirectory
	Registry  *registry.Registry
	Messages  *messages.Store
	Reads     *readstate.Tracker
	Gateway   *gateway.Gateway
	Hub       *gateway.Hub
	Queue     *outbox.Queue

	// Sweep runs one outbox redelivery pass on demand.
	Sweep   func(ctx context.Context) (int, error)
	Version string
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
	// Stop ends open streams on shutdown.
	Stop <-chan struct{}
}

// Request is the per-call state handed to handlers after setup.
type Request struct {
	User  string
	Ctx   context.Context
	Trace *telemetry.Trace
}

// SetupUserHandler resolves the acting user and starts a trace. On false
// the response is already written.
func SetupUserHandler(ctx *fasthttp.RequestCtx, op string) (*Request, bool) {
	tr := telemetry.Track(op)
	user, ok := auth.ResolveUser(ctx)
	if !ok {
		tr.Finish()
		router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "user identity required")
		return nil, false
	}
	return &Request{User: user, Ctx: context.Background(), Trace: tr}, true
}

// SetupServiceHandler starts a trace for calls that act on behalf of the
// platform rather than a user.
func SetupServiceHandler(ctx *fasthttp.RequestCtx, op string) *Request {
	return &Request{Ctx: context.Background(), Trace: telemetry.Track(op)}
}

// RequireRole writes 403 unless the gate attached role.
func RequireRole(ctx *fasthttp.RequestCtx, role auth.Role) bool {
	if string(ctx.Request.Header.Peek("X-Role-Name")) != role.String() {
		router.WriteJSONError(ctx, fasthttp.StatusForbidden, role.String()+" api key required")
		return false
	}
	return true
}
