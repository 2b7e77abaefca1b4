package ports

import (
	"context"
	"time"

	"chrome-agent/internal/entity"

	"github.com/google/uuid"
)

// SessionManager owns the browser process and hands out isolated per-plan
// page contexts.
type SessionManager interface {
	Initialize(ctx context.Context) error
	CreatePage(ctx context.Context, planID uuid.UUID) (PlanContext, error)
	BrowserInfo() *entity.BrowserInfo
	IsReady() bool
	Close(ctx context.Context) error
}

// PlanContext is the per-plan execution surface: one live page, its selector
// cache and its accumulated state. Owned exclusively by the executing plan;
// steps within it run strictly sequentially.
type PlanContext interface {
	Navigate(ctx context.Context, url string) (map[string]any, error)
	Click(ctx context.Context, selectors []entity.SelectorCandidate) (map[string]any, error)
	Type(ctx context.Context, selectors []entity.SelectorCandidate, text string) (map[string]any, error)
	Select(ctx context.Context, selectors []entity.SelectorCandidate, value string) (map[string]any, error)
	Scroll(ctx context.Context, x, y *int) (map[string]any, error)
	Press(ctx context.Context, key string) (map[string]any, error)
	Extract(ctx context.Context, selectors []entity.SelectorCandidate) (map[string]any, error)
	Screenshot(ctx context.Context) (string, error)

	Wait(ctx context.Context, cond *entity.WaitCondition) (time.Duration, error)

	CurrentURL() string
	Screenshots() []string
	Viewport() entity.Viewport
	Close(ctx context.Context) error
}

// PlanExecutor runs fully-formed plans against the browser.
type PlanExecutor interface {
	ExecutePlan(ctx context.Context, plan *entity.Plan) (*entity.ExecutionResult, error)
}

// Notifier receives lifecycle events fire-and-forget; implementations must
// never block plan execution and are never acknowledged.
type Notifier interface {
	Notify(event entity.LifecycleEvent)
}
