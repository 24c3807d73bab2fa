package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/qessign/internal/app"
	"github.com/vocdoni/gofirma/qessign/internal/logging"
	"github.com/vocdoni/gofirma/qessign/internal/version"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the signing web service",
		Long: `Start the signing web service.

Routes:
  GET  /                 document preview with the Sign button
  POST /sign/start       starts an attempt and redirects to the provider
  GET  /sign/callback    provider redirect target
  GET  /download/{ref}   signed result
  GET  /restart          drops the current attempt
  GET  /healthz          liveness
  GET  /metrics          Prometheus metrics

Environment variables:
  QESSIGN_CLIENT_ID       Provider client id
  QESSIGN_CLIENT_SECRET   Provider client secret
  QESSIGN_CLIENT_CERT     mTLS client certificate (PEM)
  QESSIGN_CLIENT_KEY      mTLS client key (PEM)
  QESSIGN_LISTEN          Listen address
  QESSIGN_PUBLIC_URL      Externally visible base URL
  QESSIGN_SESSION_BACKEND memory, bolt or redis`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting qessign", zap.String("version", version.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("failed to close session store", zap.Error(err))
		}
	}()
	return a.Run(ctx)
}
