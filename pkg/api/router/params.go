package router

import (
	"fmt"

	"github.com/valyala/fasthttp"

	"marketchat/pkg/api/utils"
	"marketchat/pkg/models"
)

func PathParam(ctx *fasthttp.RequestCtx, param string) string {
	if v := ctx.UserValue(param); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

// ValidatePathParam writes 400 when the parameter is empty.
func ValidatePathParam(ctx *fasthttp.RequestCtx, name string) (string, bool) {
	v := PathParam(ctx, name)
	if v == "" {
		WriteJSONError(ctx, fasthttp.StatusBadRequest, name+" missing")
		return "", false
	}
	return v, true
}

// ParsePaginationRequest reads ?after=&limit=. Bounds are applied by the
// message store.
func ParsePaginationRequest(ctx *fasthttp.RequestCtx) models.PaginationRequest {
	return models.PaginationRequest{
		After: utils.GetQuery(ctx, "after"),
		Limit: utils.GetQueryInt(ctx, "limit", 0),
	}
}
