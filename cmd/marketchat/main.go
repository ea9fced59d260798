package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"marketchat/internal/app"
	"marketchat/pkg/config"
	"marketchat/pkg/logger"
	"marketchat/pkg/state/shutdown"
)

// set build metadata
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	flags, err := config.ParseConfigFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if flags.Version {
		fmt.Printf("marketchat %s (%s) built %s\n", version, commit, buildDate)
		return
	}

	if err := config.LoadDotEnv(flags.EnvFile); err != nil {
		shutdown.Abort("failed to load env file", err)
	}

	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		shutdown.Abort("failed to load config file", err)
	}
	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists)
	if err != nil {
		shutdown.Abort("failed to build effective config", err)
	}
	if err := config.ValidateConfig(eff); err != nil {
		shutdown.Abort("invalid configuration", err)
	}
	if flags.Validate {
		fmt.Println("configuration ok")
		return
	}

	logger.Init(eff.Config.Logging.Level, "")
	defer logger.Sync()
	logger.Info("effective_config_loaded", "sources", eff.Sources, "addr", eff.Addr, "db_path", eff.DBPath)
	logger.Info("system_logical_cores", "logical_cores", runtime.NumCPU())

	verStr := version
	if commit != "none" {
		verStr += " (" + commit + ")"
	}
	a, err := app.New(eff, verStr)
	if err != nil {
		shutdown.Abort("failed to initialize app", err)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	runErr := a.Run(ctx)

	// bounded so teardown cannot hang forever
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown_failed", "error", err)
	}
	if runErr != nil {
		shutdown.Abort("app run failed", runErr)
	}
}
