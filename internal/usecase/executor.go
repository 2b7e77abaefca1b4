package usecase

import (
	"context"
	"fmt"
	"time"

	"chrome-agent/internal/config"
	"chrome-agent/internal/entity"
	"chrome-agent/internal/ports"
	"chrome-agent/pkg/apperr"
	"chrome-agent/pkg/logg"
	"chrome-agent/pkg/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	executorName   = "PlanExecutor"
	executorTracer = "usecase.executor"
)

// actionHandler runs one interaction primitive for a step and returns its
// opaque data payload.
type actionHandler func(ctx context.Context, pc ports.PlanContext, step entity.Step) (map[string]any, error)

// Executor walks a plan's steps in order, routing each to its primitive via
// the handler table and applying the critical/optional failure policy.
type Executor struct {
	config   *config.Config
	logger   *zap.Logger
	tracer   trace.Tracer
	session  ports.SessionManager
	notifier ports.Notifier
	handlers map[entity.ActionType]actionHandler
}

type ExecutorParams struct {
	fx.In

	Config   *config.Config
	Logger   *zap.Logger
	Session  ports.SessionManager
	Notifier ports.Notifier
}

func NewExecutor(params ExecutorParams) *Executor {
	e := &Executor{
		config:   params.Config,
		logger:   params.Logger.With(zap.String(logg.Layer, executorName)),
		tracer:   otel.Tracer(executorTracer),
		session:  params.Session,
		notifier: params.Notifier,
	}

	// One handler per action kind; an action missing here is a malformed
	// instruction, not a dispatch gap.
	e.handlers = map[entity.ActionType]actionHandler{
		entity.ActionTypeNavigate: func(ctx context.Context, pc ports.PlanContext, step entity.Step) (map[string]any, error) {
			return pc.Navigate(ctx, step.Params.URL)
		},
		entity.ActionTypeClick: func(ctx context.Context, pc ports.PlanContext, step entity.Step) (map[string]any, error) {
			return pc.Click(ctx, step.Selectors)
		},
		entity.ActionTypeType: func(ctx context.Context, pc ports.PlanContext, step entity.Step) (map[string]any, error) {
			return pc.Type(ctx, step.Selectors, step.Params.Text)
		},
		entity.ActionTypeSelect: func(ctx context.Context, pc ports.PlanContext, step entity.Step) (map[string]any, error) {
			return pc.Select(ctx, step.Selectors, step.Params.Value)
		},
		entity.ActionTypeScroll: func(ctx context.Context, pc ports.PlanContext, step entity.Step) (map[string]any, error) {
			return pc.Scroll(ctx, step.Params.X, step.Params.Y)
		},
		entity.ActionTypePress: func(ctx context.Context, pc ports.PlanContext, step entity.Step) (map[string]any, error) {
			return pc.Press(ctx, step.Params.Key)
		},
		entity.ActionTypeExtract: func(ctx context.Context, pc ports.PlanContext, step entity.Step) (map[string]any, error) {
			return pc.Extract(ctx, step.Selectors)
		},
		entity.ActionTypeScreenshot: func(ctx context.Context, pc ports.PlanContext, step entity.Step) (map[string]any, error) {
			uri, err := pc.Screenshot(ctx)
			if err != nil {
				return nil, err
			}

			return map[string]any{"screenshot": uri}, nil
		},
	}

	return e
}

// ExecutePlan runs the plan to completion or to its first critical failure.
// Partial failure still yields a structured result; only launch-time and
// context-creation failures return an error in place of one.
func (e *Executor) ExecutePlan(ctx context.Context, plan *entity.Plan) (result *entity.ExecutionResult, err error) {
	const op = "ExecutePlan"

	if plan == nil {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeInvalidArgument, "plan_is_nil")
	}

	logger := e.logger.With(zap.String(logg.Operation, op), zap.String(logg.PlanID, plan.ID.String()))

	ctx, span := tracing.StartSpan(ctx, e.tracer, logger, op,
		attribute.String("plan_id", plan.ID.String()),
		attribute.Int("total_steps", len(plan.Steps)))
	defer func() {
		span.End(err)
	}()

	if !e.session.IsReady() {
		return nil, apperr.Wrap(op, apperr.CodePlanExecution,
			fmt.Errorf("browser session is not ready"), map[string]any{
				apperr.MetaReason: "browser_not_ready",
				apperr.MetaPlanID: plan.ID.String(),
			})
	}

	pc, err := e.session.CreatePage(ctx, plan.ID)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodePlanExecution, err, map[string]any{
			apperr.MetaReason: "context_creation_failed",
			apperr.MetaPlanID: plan.ID.String(),
		})
	}

	defer func() {
		if closeErr := pc.Close(context.WithoutCancel(ctx)); closeErr != nil {
			logger.Warn("Failed to close plan context", zap.Error(closeErr))
		}
	}()

	started := time.Now()
	results := make([]entity.StepResult, 0, len(plan.Steps))
	halted := false

	logger.Info("Executing plan", zap.Int("total_steps", len(plan.Steps)))

	for i, step := range plan.Steps {
		// Between steps is the coarsest cancellation boundary; a step
		// already dispatched runs to its own completion.
		if ctx.Err() != nil {
			logger.Warn("Plan cancelled between steps", zap.Int("completed", i))

			halted = true

			break
		}

		stepResult := e.executeStep(ctx, pc, step)
		results = append(results, stepResult)

		e.notifyStep(plan, step, stepResult, float64(len(results))/float64(len(plan.Steps)))

		if !stepResult.Success && !step.Optional {
			logger.Warn("Critical step failed, halting plan",
				zap.String(logg.StepID, step.ID.String()),
				zap.String("error", stepResult.Error))

			halted = true

			break
		}
	}

	result = aggregate(plan, results, pc, e.session.BrowserInfo(), started, halted)

	logger.Info("Plan finished",
		zap.Bool("success", result.Success),
		zap.Int("successful_steps", result.SuccessfulSteps),
		zap.Int("failed_steps", result.FailedSteps))

	return result, nil
}

// executeStep runs one step through its primitive and optional wait,
// capturing duration and any error into the StepResult. Panics escaping a
// primitive are wrapped, never propagated.
func (e *Executor) executeStep(ctx context.Context, pc ports.PlanContext, step entity.Step) entity.StepResult {
	const op = "executeStep"
	logger := e.logger.With(
		zap.String(logg.Operation, op),
		zap.String(logg.StepID, step.ID.String()),
		zap.String(logg.Action, string(step.Action)),
	)

	ctx, span := tracing.StartSpan(ctx, e.tracer, logger, op,
		attribute.String("step_id", step.ID.String()),
		attribute.String("action", string(step.Action)))

	started := time.Now()

	result := entity.StepResult{
		StepID:    step.ID,
		Action:    step.Action,
		Timestamp: started,
	}

	data, err := e.runPrimitive(ctx, pc, step)

	if err == nil && step.Wait != nil {
		if waited, waitErr := pc.Wait(ctx, step.Wait); waitErr != nil {
			logger.Warn("Wait condition failed", zap.Error(waitErr))
		} else if data != nil {
			data["waited"] = waited.String()
		}
	}

	result.Duration = time.Since(started)
	result.Data = data

	if err != nil {
		result.Error = err.Error()
		logger.Warn("Step failed", zap.Error(err), zap.Duration(logg.Duration, result.Duration))
	} else {
		result.Success = true
		logger.Info("Step succeeded", zap.Duration(logg.Duration, result.Duration))
	}

	if uri, ok := screenshotFromData(data); ok {
		result.Screenshots = append(result.Screenshots, uri)
	}

	span.End(err)

	return result
}

// runPrimitive dispatches through the handler table with a panic guard so a
// misbehaving primitive degrades into a failed step.
func (e *Executor) runPrimitive(ctx context.Context, pc ports.PlanContext, step entity.Step) (data map[string]any, err error) {
	const op = "runPrimitive"

	defer func() {
		if r := recover(); r != nil {
			err = apperr.Wrap(op, apperr.CodePlanExecution,
				fmt.Errorf("primitive panicked: %v", r), map[string]any{
					apperr.MetaReason: "primitive_panic",
					apperr.MetaStepID: step.ID.String(),
					apperr.MetaAction: string(step.Action),
				})
		}
	}()

	handler, ok := e.handlers[step.Action]
	if !ok {
		return nil, apperr.ParamError(op, "action", fmt.Errorf("unknown action kind: %s", step.Action))
	}

	return handler(ctx, pc, step)
}

func (e *Executor) notifyStep(plan *entity.Plan, step entity.Step, result entity.StepResult, progress float64) {
	if e.notifier == nil {
		return
	}

	e.notifier.Notify(entity.LifecycleEvent{
		Kind:      entity.EventStepCompleted,
		PlanID:    plan.ID,
		StepID:    step.ID,
		Result:    &result,
		Progress:  progress,
		Timestamp: time.Now(),
	})
}

func screenshotFromData(data map[string]any) (string, bool) {
	if data == nil {
		return "", false
	}

	uri, ok := data["screenshot"].(string)

	return uri, ok && uri != ""
}
