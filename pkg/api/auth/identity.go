package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/valyala/fasthttp"

	"marketchat/pkg/api/router"
	"marketchat/pkg/api/utils"
	"marketchat/pkg/config"
	"marketchat/pkg/logger"
	"marketchat/pkg/store/keys"
	"marketchat/pkg/telemetry"
)

// caller role
type Role int

const (
	RoleUnauth Role = iota
	RoleFrontend
	RoleBackend
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleFrontend:
		return "frontend"
	case RoleBackend:
		return "backend"
	case RoleAdmin:
		return "admin"
	}
	return "unauth"
}

// SecConfig is the request-gate configuration.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	IPWhitelist    []string
	BackendKeys    map[string]struct{}
	FrontendKeys   map[string]struct{}
	AdminKeys      map[string]struct{}
}

// NewSecConfig builds the gate configuration from loaded config.
func NewSecConfig(c *config.Config) SecConfig {
	rc := config.NewRuntime(c)
	return SecConfig{
		AllowedOrigins: c.Security.CORS.AllowedOrigins,
		RPS:            c.Security.RateLimit.RPS,
		Burst:          c.Security.RateLimit.Burst,
		IPWhitelist:    c.Security.IPWhitelist,
		BackendKeys:    rc.BackendKeys,
		FrontendKeys:   rc.FrontendKeys,
		AdminKeys:      rc.AdminKeys,
	}
}

const userValueKey = "user"

// CreateHMACSignature signs a user id with key.
func CreateHMACSignature(userID, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMACSignature checks signature against every configured signing key.
func VerifyHMACSignature(userID, signature string) bool {
	for k := range config.GetSigningKeys() {
		if hmac.Equal([]byte(CreateHMACSignature(userID, k)), []byte(signature)) {
			return true
		}
	}
	return false
}

// RequireSignedUser verifies X-User-ID against X-User-Signature and
// attaches the verified id to the request.
func RequireSignedUser(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		tr := telemetry.Track("auth.require_signed_user")
		defer tr.Finish()

		userID := utils.GetUserID(ctx)
		sig := utils.GetUserSignature(ctx)
		if sig == "" || userID == "" {
			logger.Warn("missing_signature_headers", "path", utils.GetPath(ctx), "remote", ctx.RemoteAddr().String())
			router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "missing signature headers")
			return
		}
		if len(config.GetSigningKeys()) == 0 {
			logger.Error("no_signing_keys_configured")
			router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, "server misconfigured: no signing secrets available")
			return
		}
		tr.Mark("verify_signature")
		if !VerifyHMACSignature(userID, sig) {
			logger.Warn("invalid_signature", "user", userID, "remote", ctx.RemoteAddr().String(), "path", utils.GetPath(ctx))
			router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "invalid signature")
			return
		}
		logger.Debug("signature_verified", "user", userID, "path", utils.GetPath(ctx))
		ctx.SetUserValue(userValueKey, userID)
		next(ctx)
	}
}

// ResolveUser returns the acting user id. Signed requests carry a verified
// id; backend callers may name the user in X-User-ID directly.
func ResolveUser(ctx *fasthttp.RequestCtx) (string, bool) {
	if v, ok := ctx.UserValue(userValueKey).(string); ok && v != "" {
		return v, true
	}
	if utils.GetApiRole(ctx) == RoleBackend.String() {
		id := utils.GetUserID(ctx)
		if keys.ValidateID(id) == nil {
			return id, true
		}
	}
	return "", false
}
