package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/exposafe/diagnosis-server/api/retrievehandler"
	"github.com/exposafe/diagnosis-server/api/serviceshandler"
	"github.com/exposafe/diagnosis-server/cmd/flags"
	"github.com/exposafe/diagnosis-server/expiry"
	"github.com/exposafe/diagnosis-server/hmacauth"
	"github.com/exposafe/diagnosis-server/httpserver"
	"github.com/exposafe/diagnosis-server/signing"
	"github.com/exposafe/diagnosis-server/store"
)

var appFlags = append([]cli.Flag{
	flags.RetrieveHmacKeyFlag,
	flags.EcdsaKeyFlag,
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "retrieval-server",
		Usage: "Serve signed diagnosis key exports and expire stale data",
		Flags: appFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)
			cfg := flags.ServiceConfig(cCtx)

			auth, err := hmacauth.New(cCtx.String(flags.RetrieveHmacKeyFlag.Name))
			if err != nil {
				logger.Error("Invalid retrieval HMAC key", "err", err)
				return err
			}

			signer, err := signing.NewSigner(cCtx.String(flags.EcdsaKeyFlag.Name))
			if err != nil {
				logger.Error("Invalid export signing key", "err", err)
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
				retrievehandler.NewHandler(db, auth, signer, cfg, logger),
				serviceshandler.NewHandler(cCtx.String(flags.BranchFlag.Name), cCtx.String(flags.RevisionFlag.Name), logger),
			)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			expiryCtx, stopExpiry := context.WithCancel(context.Background())
			defer stopExpiry()
			worker := expiry.New(db, cfg.ExpirationInterval, logger)
			go worker.Run(expiryCtx)

			logger.Info("Starting retrieval server", "listenAddr", srvCfg.ListenAddr)
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received")

			stopExpiry()
			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
