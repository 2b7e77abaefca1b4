package browser

import (
	"context"
	"fmt"
	"time"

	"chrome-agent/internal/entity"
	"chrome-agent/pkg/apperr"
	"chrome-agent/pkg/logg"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

const (
	waiterName = "WaitEvaluator"

	defaultWaitTimeout = 10 * time.Second
)

// waiter evaluates post-step wait conditions. A wait can delay the next
// step but never fails the plan; anything that goes wrong is logged and
// tolerated.
type waiter struct {
	page   playwright.Page
	logger *zap.Logger
}

func newWaiter(page playwright.Page, logger *zap.Logger) *waiter {
	return &waiter{
		page:   page,
		logger: logger.With(zap.String(logg.Layer, waiterName)),
	}
}

// await resolves the condition and returns elapsed time plus the page URL
// observed afterwards. lastURL is the context's last-known URL, used to
// detect navigations that already happened.
func (w *waiter) await(ctx context.Context, cond *entity.WaitCondition, lastURL string) (time.Duration, string, error) {
	const op = "await"

	if cond == nil {
		return 0, lastURL, nil
	}

	started := time.Now()
	logger := w.logger.With(zap.String(logg.Operation, op), zap.String("wait_kind", string(cond.Kind)))

	switch cond.Kind {
	case entity.WaitKindDelay:
		sleepFor(ctx, cond.Duration)

		return time.Since(started), lastURL, nil

	case entity.WaitKindElement:
		w.awaitElement(cond, logger)

		return time.Since(started), lastURL, nil

	case entity.WaitKindNavigation:
		url := w.awaitNavigation(ctx, cond, lastURL, logger)

		return time.Since(started), url, nil

	case entity.WaitKindNetworkIdle:
		w.awaitNetworkIdle(cond, logger)

		return time.Since(started), w.page.URL(), nil

	default:
		return time.Since(started), lastURL, apperr.WrapErrorWithReason(op, apperr.CodeInvalidArgument, "unknown_wait_kind")
	}
}

// awaitElement blocks until the target is attached and visible or the
// timeout elapses. Timeouts are tolerated; pages may stay partially
// rendered indefinitely without blocking the plan.
func (w *waiter) awaitElement(cond *entity.WaitCondition, logger *zap.Logger) {
	_, err := w.page.WaitForSelector(cond.Selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(waitTimeoutMs(cond)),
	})
	if err != nil {
		logger.Warn("Element wait timed out",
			zap.String(logg.Selector, cond.Selector),
			zap.Error(err))
	}
}

// awaitNavigation first checks whether the URL already moved past lastURL;
// if so the navigation happened and there is nothing to wait for. Otherwise
// it races the load event against one deadline and re-reads the URL
// afterwards no matter which side won: the load event is advisory, the URL
// is what counts.
func (w *waiter) awaitNavigation(ctx context.Context, cond *entity.WaitCondition, lastURL string, logger *zap.Logger) string {
	if current := w.page.URL(); current != lastURL {
		return current
	}

	waitCtx, cancel := context.WithTimeout(ctx, waitTimeout(cond))
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- w.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State:   playwright.LoadStateLoad,
			Timeout: playwright.Float(waitTimeoutMs(cond)),
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Warn("Load event wait failed", zap.Error(err))
		}
	case <-waitCtx.Done():
		logger.Warn("Navigation wait hit deadline", zap.Error(waitCtx.Err()))
	}

	return w.page.URL()
}

func (w *waiter) awaitNetworkIdle(cond *entity.WaitCondition, logger *zap.Logger) {
	err := w.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(waitTimeoutMs(cond)),
	})
	if err != nil {
		logger.Warn("Network idle wait timed out", zap.Error(err))
	}
}

func waitTimeout(cond *entity.WaitCondition) time.Duration {
	if cond.Timeout > 0 {
		return cond.Timeout
	}

	return defaultWaitTimeout
}

func waitTimeoutMs(cond *entity.WaitCondition) float64 {
	return float64(waitTimeout(cond).Milliseconds())
}

// validateWait rejects malformed conditions before any page access.
func validateWait(cond *entity.WaitCondition) error {
	const op = "validateWait"

	if cond == nil {
		return nil
	}

	switch cond.Kind {
	case entity.WaitKindDelay:
		if cond.Duration <= 0 {
			return apperr.ParamError(op, "duration", fmt.Errorf("delay wait needs a positive duration"))
		}
	case entity.WaitKindElement:
		if cond.Selector == "" {
			return apperr.ParamError(op, "selector", fmt.Errorf("element wait needs a selector"))
		}
	case entity.WaitKindNavigation, entity.WaitKindNetworkIdle:
	default:
		return apperr.ParamError(op, "kind", fmt.Errorf("unknown wait kind: %s", cond.Kind))
	}

	return nil
}
