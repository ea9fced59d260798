package admin

import (
	"github.com/valyala/fasthttp"

	"marketchat/pkg/api/router"
	"marketchat/pkg/api/routes/common"
	"marketchat/pkg/logger"
)

// Sweep runs one outbox redelivery pass now instead of waiting for the
// schedule.
func (h *Handlers) Sweep(ctx *fasthttp.RequestCtx) {
	if h.svc.Sweep == nil {
		router.WriteJSONError(ctx, fasthttp.StatusServiceUnavailable, "sweeper not configured")
		return
	}
	req := common.SetupServiceHandler(ctx, "admin_sweep")
	defer req.Trace.Finish()

	n, err := h.svc.Sweep(req.Ctx)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	logger.AuditInfo("admin_sweep", "requeued", n, "remote", ctx.RemoteAddr().String())
	router.WriteJSON(ctx, fasthttp.StatusOK, struct {
		Requeued int `json:"requeued"`
	}{Requeued: n})
}
