package app

import (
	"os"

	"github.com/valyala/fasthttp"

	"marketchat/pkg/api"
	"marketchat/pkg/config/banner"
	"marketchat/pkg/logger"
)

const readBufferSize = 64 * 1024

func (a *App) printBanner() {
	banner.Print(os.Stdout, a.eff, a.version)
}

// startHTTP builds and starts the fasthttp server, returning a channel that
// delivers its terminal error.
func (a *App) startHTTP() <-chan error {
	cfg := a.eff.Config
	a.srv = &fasthttp.Server{
		Name:               "marketchat",
		Handler:            api.Handler(a.services(), a.gate),
		ReadBufferSize:     readBufferSize,
		MaxRequestBodySize: int(cfg.Server.MaxBodySize.Int64()),
		ReduceMemoryUsage:  true,
		ReadTimeout:        cfg.Server.ReadTimeout.Duration(),
		// SSE clients reconnect when the write timeout ends a stream
		WriteTimeout: cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:  cfg.Server.IdleTimeout.Duration(),
	}
	a.printBanner()

	errCh := make(chan error, 1)
	go func() {
		addr := a.eff.Addr
		tls := cfg.Server.TLS
		logger.Info("http_listening", "addr", addr, "tls", tls.CertFile != "")
		if tls.CertFile != "" {
			errCh <- a.srv.ListenAndServeTLS(addr, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.srv.ListenAndServe(addr)
	}()
	return errCh
}
