package bootstrap

import (
	"context"
	"time"

	"chrome-agent/internal/console"
	"chrome-agent/internal/entity"
	"chrome-agent/internal/ports"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func runConsole(lc fx.Lifecycle, consoleInterface *console.Interface, session ports.SessionManager, notifier ports.Notifier, logger *zap.Logger, _ *sdktrace.TracerProvider) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting Chrome Agent console...")

			if err := session.Initialize(ctx); err != nil {
				logger.Error("Failed to launch browser", zap.Error(err))

				return err
			}

			notifier.Notify(entity.LifecycleEvent{Kind: entity.EventInitialized, Timestamp: time.Now()})
			logger.Info("Browser launched successfully")

			go func() {
				if err := consoleInterface.Start(); err != nil {
					logger.Error("Console interface error", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down Chrome Agent...")

			if err := consoleInterface.Stop(); err != nil {
				logger.Error("Failed to stop console", zap.Error(err))
			}

			if err := session.Close(ctx); err != nil {
				logger.Error("Failed to close browser", zap.Error(err))
			}

			notifier.Notify(entity.LifecycleEvent{Kind: entity.EventClosed, Timestamp: time.Now()})

			return nil
		},
	})
}
