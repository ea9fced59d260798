package admin

import (
	"github.com/dustin/go-humanize"
	"github.com/valyala/fasthttp"

	"marketchat/pkg/api/router"
	"marketchat/pkg/api/routes/common"
	"marketchat/pkg/logger"
	"marketchat/pkg/store"
	"marketchat/pkg/store/keys"
)

type Handlers struct {
	svc *common.Services
}

func New(svc *common.Services) *Handlers {
	return &Handlers{svc: svc}
}

func (h *Handlers) Health(ctx *fasthttp.RequestCtx) {
	router.WriteJSON(ctx, fasthttp.StatusOK, healthResponse{
		Status:  "ok",
		Service: "marketchat",
		Version: h.svc.Version,
	})
}

// Stats reports storage, disk and delivery queue figures.
func (h *Handlers) Stats(ctx *fasthttp.RequestCtx) {
	req := common.SetupServiceHandler(ctx, "admin_stats")
	defer req.Trace.Finish()

	out := statsResponse{Store: h.svc.Store.Metrics()}
	out.StoreHuman = humanize.IBytes(out.Store.DiskSpaceUsage)

	req.Trace.Mark("count_outbox")
	pending, err := h.svc.Store.CountPrefix(keys.OutboxPrefix)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	out.Outbox = outboxStats{
		Pending:  pending,
		Queued:   h.svc.Queue.Len(),
		Capacity: h.svc.Queue.Cap(),
		Dropped:  h.svc.Queue.Dropped(),
	}
	out.Hub = hubStats{Dropped: h.svc.Hub.Dropped()}

	req.Trace.Mark("statfs")
	disk, err := diskUsage(h.svc.Store.Path())
	if err != nil {
		logger.Warn("disk_stats_failed", "path", h.svc.Store.Path(), "error", err)
	} else {
		disk.FreeHuman = humanize.IBytes(disk.Free)
		disk.TotalHuman = humanize.IBytes(disk.Total)
		out.Disk = &disk
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, out)
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version,omitempty"`
}

type statsResponse struct {
	Store      store.Stats `json:"store"`
	StoreHuman string      `json:"store_size"`
	Outbox     outboxStats `json:"outbox"`
	Hub        hubStats    `json:"hub"`
	Disk       *diskStats  `json:"disk,omitempty"`
}

type outboxStats struct {
	Pending  int    `json:"pending"`
	Queued   int    `json:"queued"`
	Capacity int    `json:"capacity"`
	Dropped  uint64 `json:"dropped"`
}

type hubStats struct {
	Dropped uint64 `json:"dropped"`
}

type diskStats struct {
	Total      uint64 `json:"total"`
	Free       uint64 `json:"free"`
	TotalHuman string `json:"total_human"`
	FreeHuman  string `json:"free_human"`
}
