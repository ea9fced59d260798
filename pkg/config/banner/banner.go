package banner

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"marketchat/pkg/config"
)

const banner = `
 _ __ ___   __ _ _ __| | _____| |_ ___| |__   __ _| |_
| '_ ` + "`" + ` _ \ / _` + "`" + ` | '__| |/ / _ \ __/ __| '_ \ / _` + "`" + ` | __|
| | | | | | (_| | |  |   <  __/ || (__| | | | (_| | |_
|_| |_| |_|\__,_|_|  |_|\_\___|\__\___|_| |_|\__,_|\__|
`

// Print writes the startup banner and a short production checklist.
func Print(w io.Writer, eff config.EffectiveConfigResult, version string) {
	cfg := eff.Config
	fmt.Fprint(w, banner)
	fmt.Fprintln(w, "== Config =====================================================")
	fmt.Fprintf(w, "Listen:   %s\n", eff.Addr)
	fmt.Fprintf(w, "DB Path:  %s\n", eff.DBPath)
	if version != "" {
		fmt.Fprintf(w, "Version:  %s\n", version)
	}
	fmt.Fprintf(w, "Config:   %s\n", strings.Join(eff.Sources, " + "))
	if cfg == nil {
		return
	}

	fmt.Fprintln(w, "\n== Production? =================================================")
	keyLine := func(name string, n int, why string) {
		if n > 0 {
			fmt.Fprintf(w, "- %s API keys: OK (%d)\n", name, n)
		} else {
			fmt.Fprintf(w, "- %s API keys: MISSING (%s)\n", name, why)
		}
	}
	keyLine("Backend", len(cfg.Security.APIKeys.Backend), "required for directory sync and signing")
	keyLine("Frontend", len(cfg.Security.APIKeys.Frontend), "required for client access")
	keyLine("Admin", len(cfg.Security.APIKeys.Admin), "required for admin tooling")

	switch cfg.Delivery.Broker {
	case "redis":
		fmt.Fprintf(w, "- Delivery: redis %s (%d workers, queue %s)\n", cfg.Delivery.Redis.Addr, cfg.Delivery.Workers, humanize.Comma(int64(cfg.Delivery.QueueCapacity)))
	default:
		fmt.Fprintf(w, "- Delivery: in-process (%d workers, queue %s)\n", cfg.Delivery.Workers, humanize.Comma(int64(cfg.Delivery.QueueCapacity)))
	}
	if cfg.Routing.RouteToAgent {
		fmt.Fprintln(w, "- Routing: buyer messages go to the assigned agent")
	} else {
		fmt.Fprintln(w, "- Routing: buyer messages go to the seller")
	}
	fmt.Fprintf(w, "- Message body limit: %s\n", humanize.IBytes(uint64(cfg.Messages.MaxBodyBytes)))
	if cfg.Sweeper.Enabled {
		fmt.Fprintf(w, "- Outbox sweeper: enabled (cron=%s, min_age=%s)\n", cfg.Sweeper.Cron, cfg.Sweeper.MinAge)
	} else {
		fmt.Fprintln(w, "- Outbox sweeper: disabled (undelivered events wait for restart)")
	}
	if cfg.Server.TLS.CertFile != "" {
		fmt.Fprintln(w, "- TLS: enabled")
	} else {
		fmt.Fprintln(w, "- TLS: disabled")
	}
	fmt.Fprintln(w)
}
