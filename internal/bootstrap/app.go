package bootstrap

import (
	"time"

	"chrome-agent/internal/browser"
	"chrome-agent/internal/config"
	"chrome-agent/internal/console"
	"chrome-agent/internal/notify"
	"chrome-agent/internal/ports"
	"chrome-agent/internal/usecase"

	"go.uber.org/fx"
)

func NewApp() *fx.App {
	return fx.New(
		fx.Provide(
			config.GetConfig,
			newLogger,
			newTraceProvider,

			fx.Annotate(browser.NewSession, fx.As(new(ports.SessionManager))),
			fx.Annotate(notify.NewNotifier, fx.As(new(ports.Notifier))),

			usecase.NewService,

			console.NewInterface,
		),

		fx.Invoke(
			runConsole,
		),

		fx.StartTimeout(30*time.Second),
	)
}
