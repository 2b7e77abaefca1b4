package usecase

import (
	"chrome-agent/internal/config"
	"chrome-agent/internal/ports"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service bundles the executor with the session it drives, the surface the
// console (or any in-process request layer) works against.
type Service struct {
	Executor ports.PlanExecutor
	Session  ports.SessionManager
}

type Params struct {
	fx.In

	Config   *config.Config
	Logger   *zap.Logger
	Session  ports.SessionManager
	Notifier ports.Notifier
}

func NewService(params Params) *Service {
	executor := NewExecutor(ExecutorParams{
		Config:   params.Config,
		Logger:   params.Logger,
		Session:  params.Session,
		Notifier: params.Notifier,
	})

	return &Service{
		Executor: executor,
		Session:  params.Session,
	}
}
