package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"pixelforge/pkg/asynqx"
	"pixelforge/pkg/config"
	"pixelforge/pkg/db"
	"pixelforge/pkg/health"
	"pixelforge/pkg/logger"
	"pixelforge/pkg/minio"
	"pixelforge/pkg/profiling"
	"pixelforge/pkg/redis"
	"pixelforge/pkg/server"
	"pixelforge/pkg/storage"
	"pixelforge/services/broadcaster"
	"pixelforge/services/generation"
	"pixelforge/services/httpapi"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		minio.Client,
		storage.Module,
		asynqx.Client,
		generation.Module,
		broadcaster.Module,
		health.Module,
		server.Module,
		httpapi.Module,
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
