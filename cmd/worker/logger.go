package main

import (
	"github.com/septivank/machine-telemetry-worker/internal/config"
	"github.com/septivank/machine-telemetry-worker/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
