package notify

import (
	"chrome-agent/internal/entity"
	"chrome-agent/pkg/logg"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const notifierName = "Notifier"

// LogNotifier is the default lifecycle sink: events land in the structured
// log and are never acknowledged. Delivery must not block the executor, so
// everything here is synchronous zap calls only.
type LogNotifier struct {
	logger *zap.Logger
}

type Params struct {
	fx.In

	Logger *zap.Logger
}

func NewNotifier(params Params) *LogNotifier {
	return &LogNotifier{
		logger: params.Logger.With(zap.String(logg.Layer, notifierName)),
	}
}

func (n *LogNotifier) Notify(event entity.LifecycleEvent) {
	fields := []zap.Field{
		zap.String("event", string(event.Kind)),
		zap.Time("timestamp", event.Timestamp),
	}

	if event.PlanID != uuid.Nil {
		fields = append(fields, zap.String(logg.PlanID, event.PlanID.String()))
	}

	if event.Result != nil {
		fields = append(fields,
			zap.String(logg.StepID, event.StepID.String()),
			zap.Bool("success", event.Result.Success),
			zap.Float64("progress", event.Progress),
		)
	}

	n.logger.Info("Lifecycle event", fields...)
}
