package auth

import (
	"strings"

	"github.com/valyala/fasthttp"

	"marketchat/pkg/api/router"
	"marketchat/pkg/api/utils"
	"marketchat/pkg/logger"
)

// Gate is the request middleware: CORS, IP whitelist, API key roles,
// route restrictions per role, per-key rate limits and signed user
// identity.
type Gate struct {
	cfg      SecConfig
	limiters *limiterPool
}

func NewGate(cfg SecConfig) *Gate {
	return &Gate{cfg: cfg, limiters: newLimiterPool(cfg.RPS, cfg.Burst)}
}

// Close stops the limiter cleanup loop.
func (g *Gate) Close() { g.limiters.Shutdown() }

// Wrap returns next guarded by the gate.
func (g *Gate) Wrap(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	signed := RequireSignedUser(next)
	return func(ctx *fasthttp.RequestCtx) {
		logger.LogRequestFast(ctx)

		origin := utils.GetHeader(ctx, "Origin")
		if origin != "" && originAllowed(origin, g.cfg.AllowedOrigins) {
			h := &ctx.Response.Header
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			h.Set("Access-Control-Max-Age", "600")
			h.Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-API-Key,X-User-ID,X-User-Signature")
			h.Set("Access-Control-Expose-Headers", "X-Role-Name")
		}
		if string(ctx.Method()) == fasthttp.MethodOptions {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}

		if len(g.cfg.IPWhitelist) > 0 {
			ip := utils.ClientIP(ctx)
			if !ipWhitelisted(ip, g.cfg.IPWhitelist) {
				logger.Warn("request_blocked", "reason", "ip_not_whitelisted", "ip", ip, "path", utils.GetPath(ctx))
				router.WriteJSONError(ctx, fasthttp.StatusForbidden, "forbidden")
				return
			}
		}

		if publicAllowedPath(ctx) {
			ctx.Request.Header.Set("X-Role-Name", RoleUnauth.String())
			next(ctx)
			return
		}

		role, key := g.role(ctx)
		if role == RoleUnauth {
			logger.Warn("request_unauthorized", "path", utils.GetPath(ctx), "remote", ctx.RemoteAddr().String())
			router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "unauthorized")
			return
		}
		// never trust a caller-supplied role header
		ctx.Request.Header.Set("X-Role-Name", role.String())

		if msg, ok := routeAllowed(role, utils.GetPath(ctx)); !ok {
			logger.Warn("request_forbidden", "role", role.String(), "path", utils.GetPath(ctx))
			router.WriteJSONError(ctx, fasthttp.StatusForbidden, msg)
			return
		}

		if !g.limiters.Allow(key) {
			logger.Warn("rate_limited", "role", role.String(), "path", utils.GetPath(ctx))
			router.WriteJSONError(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		// frontend callers always act as a signed user
		if role == RoleFrontend || utils.HasUserSignature(ctx) {
			signed(ctx)
			return
		}
		next(ctx)
	}
}

func (g *Gate) role(ctx *fasthttp.RequestCtx) (Role, string) {
	key := utils.ExtractAPIKey(ctx)
	if key == "" {
		return RoleUnauth, ""
	}
	if _, ok := g.cfg.AdminKeys[key]; ok {
		return RoleAdmin, key
	}
	if _, ok := g.cfg.BackendKeys[key]; ok {
		return RoleBackend, key
	}
	if _, ok := g.cfg.FrontendKeys[key]; ok {
		return RoleFrontend, key
	}
	return RoleUnauth, key
}

var frontendPrefixes = []string{"/v1/conversations", "/v1/unread", "/v1/channels"}

func routeAllowed(role Role, path string) (string, bool) {
	admin := strings.HasPrefix(path, "/admin")
	switch role {
	case RoleAdmin:
		if !admin {
			return "admin api keys may only access /admin routes", false
		}
	case RoleBackend:
		if admin {
			return "backend api keys cannot access admin routes", false
		}
	case RoleFrontend:
		for _, p := range frontendPrefixes {
			if strings.HasPrefix(path, p) {
				return "", true
			}
		}
		return "forbidden", false
	}
	return "", true
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func ipWhitelisted(ip string, list []string) bool {
	for _, w := range list {
		if ip == w {
			return true
		}
	}
	return false
}

func publicAllowedPath(ctx *fasthttp.RequestCtx) bool {
	path := utils.GetPath(ctx)
	return (path == "/healthz" || path == "/readyz") && string(ctx.Method()) == fasthttp.MethodGet
}
