package router

import (
	"encoding/json"
	"errors"

	"github.com/valyala/fasthttp"

	"marketchat/pkg/apperr"
	"marketchat/pkg/logger"
)

// WriteJSON writes a JSON response with the given status.
func WriteJSON(ctx *fasthttp.RequestCtx, status int, data any) {
	ctx.SetStatusCode(status)
	ctx.Response.Header.Set("Content-Type", "application/json")
	if err := json.NewEncoder(ctx).Encode(data); err != nil {
		logger.Error("response_encode_failed", "path", string(ctx.Path()), "error", err)
	}
}

// WriteJSONError writes {"error": message}.
func WriteJSONError(ctx *fasthttp.RequestCtx, status int, message string) {
	WriteJSON(ctx, status, ErrorBody{Error: message})
}

type ErrorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// WriteError maps err onto a status code. Errors outside the taxonomy are
// logged and answered with a generic 500.
func WriteError(ctx *fasthttp.RequestCtx, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		logger.Error("request_failed", "method", string(ctx.Method()), "path", string(ctx.Path()), "error", err)
		WriteJSONError(ctx, fasthttp.StatusInternalServerError, "internal error")
		return
	}
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		logger.Error("request_failed", "method", string(ctx.Method()), "path", string(ctx.Path()), "error", err)
	}
	WriteJSON(ctx, status, ErrorBody{Error: e.Message, Field: e.Field, Kind: string(e.Kind)})
}
