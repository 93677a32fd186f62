package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/exposafe/diagnosis-server/api/claimhandler"
	"github.com/exposafe/diagnosis-server/api/outbreakhandler"
	"github.com/exposafe/diagnosis-server/api/serviceshandler"
	"github.com/exposafe/diagnosis-server/api/uploadhandler"
	"github.com/exposafe/diagnosis-server/cmd/flags"
	"github.com/exposafe/diagnosis-server/httpserver"
	"github.com/exposafe/diagnosis-server/store"
	"github.com/exposafe/diagnosis-server/tokenauth"
)

var appFlags = append([]cli.Flag{
	flags.KeyClaimTokensFlag,
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "submission-server",
		Usage: "Issue one-time codes and accept encrypted diagnosis key uploads",
		Flags: appFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)
			cfg := flags.ServiceConfig(cCtx)

			auth, err := tokenauth.New(cCtx.String(flags.KeyClaimTokensFlag.Name))
			if err != nil {
				logger.Error("Invalid key claim token configuration", "err", err)
				return err
			}

			logger.Info("Connecting to database")
			db, err := store.Open(cCtx.String(flags.DatabaseDSNFlag.Name), cfg)
			if err != nil {
				logger.Error("Failed to open store", "err", err)
				return err
			}

			srvCfg := flags.ConfigureServer(cCtx, logger)
			server, err := httpserver.New(srvCfg,
				claimhandler.NewHandler(db, auth, cfg, logger),
				uploadhandler.NewHandler(db, cfg, logger),
				outbreakhandler.NewHandler(db, auth, logger),
				serviceshandler.NewHandler(cCtx.String(flags.BranchFlag.Name), cCtx.String(flags.RevisionFlag.Name), logger),
			)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting submission server", "listenAddr", srvCfg.ListenAddr)
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
