package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"pixelforge/pkg/asynqx"
	"pixelforge/pkg/config"
	"pixelforge/pkg/db"
	"pixelforge/pkg/inference"
	"pixelforge/pkg/logger"
	"pixelforge/pkg/minio"
	"pixelforge/pkg/profiling"
	"pixelforge/pkg/redis"
	"pixelforge/pkg/storage"
	"pixelforge/services/notifier"
	"pixelforge/services/subscription"
	"pixelforge/services/worker"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		minio.Client,
		storage.Module,
		inference.Module,
		notifier.Module,
		subscription.Module,
		asynqx.Server,
		worker.Module,
		profiling.Module,
		fx.Provide(provideSnowflakeNode),
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
