package main

import (
	"os"
	"os/signal"
	"syscall"

	"sitelens/internal"
	"sitelens/internal/config"
	"sitelens/internal/logging"
)

func main() {
	cfg := config.GetConfig()
	logger := logging.NewLogger(cfg)

	app, err := internal.NewApp(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to start")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("shutting down")
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Error("shutdown failed")
		}
	}()

	if err := app.Listen(); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}
