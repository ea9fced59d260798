package frontend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"marketchat/pkg/api/router"
	"marketchat/pkg/api/routes/common"
	"marketchat/pkg/gateway"
	"marketchat/pkg/logger"
	"marketchat/pkg/telemetry"
)

const defaultHeartbeat = 25 * time.Second

// AuthorizeChannel answers whether the caller may subscribe to a channel.
// Realtime providers call this before admitting a socket.
func (h *Handlers) AuthorizeChannel(ctx *fasthttp.RequestCtx) {
	req, ok := common.SetupUserHandler(ctx, "authorize_channel")
	if !ok {
		return
	}
	defer req.Trace.Finish()

	channel, ok := router.ValidatePathParam(ctx, "channel")
	if !ok {
		return
	}
	allowed, err := h.svc.Gateway.CanSubscribe(req.Ctx, req.User, channel)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	status := fasthttp.StatusOK
	if !allowed {
		status = fasthttp.StatusForbidden
	}
	router.WriteJSON(ctx, status, channelResponse{Channel: channel, Allowed: allowed})
}

// StreamChannel serves a channel as server-sent events until the client
// goes away or the server stops.
func (h *Handlers) StreamChannel(ctx *fasthttp.RequestCtx) {
	req, ok := common.SetupUserHandler(ctx, "stream_channel")
	if !ok {
		return
	}
	channel, ok := router.ValidatePathParam(ctx, "channel")
	if !ok {
		req.Trace.Finish()
		return
	}
	allowed, err := h.svc.Gateway.CanSubscribe(req.Ctx, req.User, channel)
	req.Trace.Finish()
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	if !allowed {
		router.WriteJSON(ctx, fasthttp.StatusForbidden, channelResponse{Channel: channel})
		return
	}

	sub := h.svc.Hub.Subscribe(channel)
	user := req.User
	gw := h.svc.Gateway
	opts := streamOptions{
		heartbeat: h.svc.Heartbeat,
		stop:      h.svc.Stop,
		admit: func() (bool, error) {
			return gw.CanSubscribe(context.Background(), user, channel)
		},
	}

	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")
	ctx.SetStatusCode(fasthttp.StatusOK)
	logger.Info("stream_opened", "user", user, "channel", channel)

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer logger.Info("stream_closed", "user", user, "channel", channel)
		if revoked := pumpEvents(w, sub, opts); revoked {
			logger.Info("stream_revoked", "user", user, "channel", channel)
		}
	})
}

type streamOptions struct {
	heartbeat time.Duration
	stop      <-chan struct{}
	// admit re-checks access before each event is written.
	admit func() (bool, error)
}

// pumpEvents writes sub's events to w as server-sent events until the
// subscription ends, stop closes, a write fails or admit denies access.
// It closes sub and reports whether access was revoked.
func pumpEvents(w *bufio.Writer, sub *gateway.Subscription, opts streamOptions) bool {
	defer sub.Close()
	heartbeat := opts.heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	if _, err := w.WriteString("retry: 3000\n\n"); err != nil || w.Flush() != nil {
		return false
	}
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return false
			}
			if opts.admit != nil {
				allowed, err := opts.admit()
				if err != nil || !allowed {
					_, _ = fmt.Fprintf(w, "event: revoked\ndata: {\"channel\":%q}\n\n", sub.Channel)
					_ = w.Flush()
					return true
				}
			}
			if err := writeEvent(w, ev); err != nil {
				return false
			}
			telemetry.StreamEvents.Inc()
		case <-ticker.C:
			if _, err := w.WriteString(": ping\n\n"); err != nil || w.Flush() != nil {
				return false
			}
		case <-sub.Done():
			return false
		case <-opts.stop:
			return false
		}
	}
}

func writeEvent(w *bufio.Writer, ev gateway.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	return w.Flush()
}
