package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"chrome-agent/internal/entity"
	"chrome-agent/pkg/apperr"
	"chrome-agent/pkg/logg"
	"chrome-agent/pkg/tracing"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	contextName   = "ExecutionContext"
	contextTracer = "browser.context"

	navigateAttempts = 3
	navigateBackoff  = 2 * time.Second
	clickAttempts    = 3
	clickBackoff     = 500 * time.Millisecond

	readinessTimeout    = 3 * time.Second
	interactablePolls   = 10
	interactableBackoff = 200 * time.Millisecond
	typingDelayMs       = 40
)

// ExecutionContext is the per-plan execution surface: one page, one selector
// cache, one waiter, exclusively owned by the executing plan.
type ExecutionContext struct {
	planID         uuid.UUID
	logger         *zap.Logger
	tracer         trace.Tracer
	browserContext playwright.BrowserContext
	page           playwright.Page
	resolver       *resolver
	waiter         *waiter
	viewport       entity.Viewport
	onClose        func()
	stopSweep      chan struct{}

	mu          sync.Mutex
	lastURL     string
	screenshots []string
	closed      bool
}

type executionContextParams struct {
	planID         uuid.UUID
	logger         *zap.Logger
	browserContext playwright.BrowserContext
	page           playwright.Page
	viewport       entity.Viewport
	cacheTTL       time.Duration
	sweepInterval  time.Duration
	onClose        func()
}

func newExecutionContext(params executionContextParams) *ExecutionContext {
	logger := params.logger.With(
		zap.String(logg.Layer, contextName),
		zap.String(logg.PlanID, params.planID.String()),
	)

	ec := &ExecutionContext{
		planID:         params.planID,
		logger:         logger,
		tracer:         otel.Tracer(contextTracer),
		browserContext: params.browserContext,
		page:           params.page,
		resolver:       newResolver(params.page, newSelectorCache(params.cacheTTL), logger),
		waiter:         newWaiter(params.page, logger),
		viewport:       params.viewport,
		onClose:        params.onClose,
		stopSweep:      make(chan struct{}),
	}

	go ec.resolver.runSweeper(params.sweepInterval, ec.stopSweep)

	return ec
}

func (ec *ExecutionContext) guard(op string) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	if ec.closed {
		return apperr.WrapErrorWithReason(op, apperr.CodeBrowserNotReady, "context_closed")
	}

	return nil
}

// Navigate loads the URL with bounded retries and linear backoff, waiting
// for DOM content per attempt. The context URL is taken from the live page
// afterwards so redirects land in the recorded state.
func (ec *ExecutionContext) Navigate(ctx context.Context, url string) (data map[string]any, err error) {
	const op = "Navigate"
	logger := ec.logger.With(zap.String(logg.Operation, op), zap.String(logg.URL, url))

	ctx, step := tracing.StartSpan(ctx, ec.tracer, logger, op, attribute.String("url", url))
	defer func() {
		step.End(err)
	}()

	if err = ec.guard(op); err != nil {
		return nil, err
	}

	if url == "" {
		return nil, apperr.ParamError(op, "url", fmt.Errorf("url cannot be empty"))
	}

	policy := newRetryPolicy(navigateAttempts, linearBackoff(navigateBackoff))

	err = policy.do(ctx, func(attempt int) error {
		step.AddEvent(fmt.Sprintf("navigation attempt %d", attempt))

		_, gotoErr := ec.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		})
		if gotoErr != nil {
			logger.Warn("Navigation attempt failed", zap.Int(logg.Attempt, attempt), zap.Error(gotoErr))
		}

		return gotoErr
	})
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeNavigation, err, map[string]any{
			apperr.MetaReason:   "goto_failed",
			apperr.MetaStage:    apperr.StageNavigation,
			apperr.MetaURL:      url,
			apperr.MetaAttempts: navigateAttempts,
		})
	}

	// Bounded secondary readiness wait; late subresources are advisory.
	_ = ec.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateLoad,
		Timeout: playwright.Float(float64(readinessTimeout.Milliseconds())),
	})

	finalURL := ec.page.URL()
	ec.setLastURL(finalURL)
	step.AddEvent("navigation completed")

	return map[string]any{
		"url":           finalURL,
		"requested_url": url,
	}, nil
}

// Click resolves the target, moves the pointer along a human-like path to
// its center and clicks with bounded retries.
func (ec *ExecutionContext) Click(ctx context.Context, selectors []entity.SelectorCandidate) (data map[string]any, err error) {
	const op = "Click"
	logger := ec.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, ec.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	if err = ec.guard(op); err != nil {
		return nil, err
	}

	if len(selectors) == 0 {
		return nil, apperr.ParamError(op, "selectors", fmt.Errorf("click needs at least one selector candidate"))
	}

	match, err := ec.resolver.resolve(ctx, selectors)
	if err != nil {
		return nil, err
	}

	step.AddEvent("element resolved", attribute.String("candidate", match.candidate.Value))

	if scrollErr := match.handle.ScrollIntoViewIfNeeded(); scrollErr != nil {
		logger.Warn("Scroll into view failed", zap.Error(scrollErr))
	}

	if box, boxErr := match.handle.BoundingBox(); boxErr == nil && box != nil {
		ec.movePointer(ctx, box.X+box.Width/2, box.Y+box.Height/2)
	}

	ec.awaitInteractable(ctx, match.handle, logger)

	policy := newRetryPolicy(clickAttempts, fixedBackoff(clickBackoff))

	err = policy.do(ctx, func(attempt int) error {
		step.AddEvent(fmt.Sprintf("click attempt %d", attempt))

		return match.handle.Click()
	})
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason:   "click_failed",
			apperr.MetaStage:    apperr.StageInteraction,
			apperr.MetaSelector: match.candidate.Value,
			apperr.MetaAttempts: clickAttempts,
		})
	}

	ec.setLastURL(ec.page.URL())

	return map[string]any{
		"selector_kind":  string(match.candidate.Kind),
		"selector_value": match.candidate.Value,
		"fallback":       match.fallback,
	}, nil
}

// movePointer approximates a human trajectory: segmented mouse movement to
// the target plus a short randomized dwell before the click.
func (ec *ExecutionContext) movePointer(ctx context.Context, x, y float64) {
	steps := 12 + rand.Intn(14)

	if err := ec.page.Mouse().Move(x, y, playwright.MouseMoveOptions{
		Steps: playwright.Int(steps),
	}); err != nil {
		ec.logger.Debug("Pointer move failed", zap.Error(err))
	}

	sleepFor(ctx, time.Duration(50+rand.Intn(100))*time.Millisecond)
}

// awaitInteractable polls for a visible and enabled element. Best effort;
// the click attempts are the real arbiter.
func (ec *ExecutionContext) awaitInteractable(ctx context.Context, handle playwright.ElementHandle, logger *zap.Logger) {
	for i := 0; i < interactablePolls; i++ {
		visible, vErr := handle.IsVisible()
		enabled, eErr := handle.IsEnabled()

		if vErr == nil && eErr == nil && visible && enabled {
			return
		}

		sleepFor(ctx, interactableBackoff)
	}

	logger.Warn("Element never reported interactable, clicking anyway")
}

// Type enters text through a chain of strategies in decreasing fidelity and
// verifies the resulting value contains the text. The strategy that worked
// is reported but not contractual; the verification outcome is.
func (ec *ExecutionContext) Type(ctx context.Context, selectors []entity.SelectorCandidate, text string) (data map[string]any, err error) {
	const op = "Type"
	logger := ec.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, ec.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	if err = ec.guard(op); err != nil {
		return nil, err
	}

	if len(selectors) == 0 {
		return nil, apperr.ParamError(op, "selectors", fmt.Errorf("type needs at least one selector candidate"))
	}

	if text == "" {
		return nil, apperr.ParamError(op, "text", fmt.Errorf("text cannot be empty"))
	}

	match, err := ec.resolver.resolve(ctx, selectors)
	if err != nil {
		return nil, err
	}

	if scrollErr := match.handle.ScrollIntoViewIfNeeded(); scrollErr != nil {
		logger.Warn("Scroll into view failed", zap.Error(scrollErr))
	}

	ec.awaitInteractable(ctx, match.handle, logger)

	if focusErr := match.handle.Focus(); focusErr != nil {
		logger.Warn("Focus failed, clicking instead", zap.Error(focusErr))

		if clickErr := match.handle.Click(); clickErr != nil {
			logger.Warn("Focus fallback click failed", zap.Error(clickErr))
		}
	}

	ec.clearField(match.handle, logger)

	usedStrategy := ""

	for _, strategy := range ec.typeStrategies() {
		step.AddEvent("typing via " + strategy.name)

		if typeErr := strategy.fn(match.handle, text); typeErr == nil {
			usedStrategy = strategy.name

			break
		} else {
			logger.Warn("Typing strategy failed", zap.String("strategy", strategy.name), zap.Error(typeErr))
		}
	}

	if usedStrategy == "" {
		return nil, apperr.Wrap(op, apperr.CodeInternal, fmt.Errorf("every typing strategy failed"), map[string]any{
			apperr.MetaReason:   "type_failed",
			apperr.MetaStage:    apperr.StageInteraction,
			apperr.MetaSelector: match.candidate.Value,
		})
	}

	verified := ec.verifyTyped(match.handle, text)
	if !verified {
		logger.Warn("Typed value verification failed", zap.String("strategy", usedStrategy))
	}

	return map[string]any{
		"typed":          true,
		"verified":       verified,
		"strategy":       usedStrategy,
		"selector_kind":  string(match.candidate.Kind),
		"selector_value": match.candidate.Value,
	}, nil
}

type typeStrategy struct {
	name string
	fn   func(handle playwright.ElementHandle, text string) error
}

// typeStrategies in decreasing preference: simulated per-character typing,
// per-character key events, direct value assignment with synthetic events.
func (ec *ExecutionContext) typeStrategies() []typeStrategy {
	return []typeStrategy{
		{
			name: "simulated_typing",
			fn: func(handle playwright.ElementHandle, text string) error {
				return handle.Type(text, playwright.ElementHandleTypeOptions{
					Delay: playwright.Float(typingDelayMs),
				})
			},
		},
		{
			name: "key_events",
			fn: func(handle playwright.ElementHandle, text string) error {
				return ec.page.Keyboard().Type(text, playwright.KeyboardTypeOptions{
					Delay: playwright.Float(typingDelayMs),
				})
			},
		},
		{
			name: "direct_value",
			fn: func(handle playwright.ElementHandle, text string) error {
				_, evalErr := handle.Evaluate(setValueScript(), text)

				return evalErr
			},
		},
	}
}

// clearField empties the target, preferring the platform select-all path,
// falling back to a direct reset with synthetic events.
func (ec *ExecutionContext) clearField(handle playwright.ElementHandle, logger *zap.Logger) {
	keyboard := ec.page.Keyboard()

	if err := keyboard.Press("ControlOrMeta+a"); err == nil {
		if err := keyboard.Press("Backspace"); err == nil {
			return
		}
	}

	if _, err := handle.Evaluate(clearValueScript()); err != nil {
		logger.Warn("Field clear failed", zap.Error(err))
	}
}

func (ec *ExecutionContext) verifyTyped(handle playwright.ElementHandle, text string) bool {
	result, err := handle.Evaluate(readValueScript())
	if err != nil {
		return false
	}

	value, ok := result.(string)

	return ok && strings.Contains(value, text)
}

// Select sets the value through the native selection mechanism.
func (ec *ExecutionContext) Select(ctx context.Context, selectors []entity.SelectorCandidate, value string) (data map[string]any, err error) {
	const op = "Select"
	logger := ec.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, ec.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	if err = ec.guard(op); err != nil {
		return nil, err
	}

	if len(selectors) == 0 {
		return nil, apperr.ParamError(op, "selectors", fmt.Errorf("select needs at least one selector candidate"))
	}

	if value == "" {
		return nil, apperr.ParamError(op, "value", fmt.Errorf("value cannot be empty"))
	}

	match, err := ec.resolver.resolve(ctx, selectors)
	if err != nil {
		return nil, err
	}

	selected, err := match.handle.SelectOption(playwright.SelectOptionValues{
		Values: playwright.StringSlice(value),
	})
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason:   "select_failed",
			apperr.MetaStage:    apperr.StageInteraction,
			apperr.MetaSelector: match.candidate.Value,
		})
	}

	return map[string]any{
		"value":          value,
		"selected":       selected,
		"selector_value": match.candidate.Value,
	}, nil
}

// Scroll moves by the given offset, or to the document bottom when no
// coordinates are provided.
func (ec *ExecutionContext) Scroll(ctx context.Context, x, y *int) (data map[string]any, err error) {
	const op = "Scroll"
	logger := ec.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, ec.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	if err = ec.guard(op); err != nil {
		return nil, err
	}

	script := scrollScript(x, y)
	step.AddEvent("scrolling page")

	if _, err = ec.page.Evaluate(script); err != nil {
		return nil, apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "scroll_failed",
			apperr.MetaStage:  apperr.StageInteraction,
		})
	}

	return map[string]any{"script": script}, nil
}

func scrollScript(x, y *int) string {
	if x != nil || y != nil {
		dx, dy := 0, 0

		if x != nil {
			dx = *x
		}

		if y != nil {
			dy = *y
		}

		return fmt.Sprintf("window.scrollBy(%d, %d)", dx, dy)
	}

	return "window.scrollTo(0, document.body.scrollHeight)"
}

// Press dispatches one named key press.
func (ec *ExecutionContext) Press(ctx context.Context, key string) (data map[string]any, err error) {
	const op = "Press"
	logger := ec.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, ec.tracer, logger, op, attribute.String("key", key))
	defer func() {
		step.End(err)
	}()

	if err = ec.guard(op); err != nil {
		return nil, err
	}

	if key == "" {
		return nil, apperr.ParamError(op, "key", fmt.Errorf("key cannot be empty"))
	}

	if err = ec.page.Keyboard().Press(key); err != nil {
		return nil, apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "press_failed",
			apperr.MetaStage:  apperr.StageInteraction,
		})
	}

	ec.setLastURL(ec.page.URL())

	return map[string]any{"key": key}, nil
}

// Extract returns the element's trimmed text, inner markup, attribute map,
// tag name, class and id.
func (ec *ExecutionContext) Extract(ctx context.Context, selectors []entity.SelectorCandidate) (data map[string]any, err error) {
	const op = "Extract"
	logger := ec.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, ec.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	if err = ec.guard(op); err != nil {
		return nil, err
	}

	if len(selectors) == 0 {
		return nil, apperr.ParamError(op, "selectors", fmt.Errorf("extract needs at least one selector candidate"))
	}

	match, err := ec.resolver.resolve(ctx, selectors)
	if err != nil {
		return nil, err
	}

	result, err := match.handle.Evaluate(extractScript())
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason:   "extract_failed",
			apperr.MetaSelector: match.candidate.Value,
		})
	}

	element := parseExtractedElement(result)

	return map[string]any{
		"text":       element.Text,
		"html":       element.HTML,
		"attributes": element.Attributes,
		"tag_name":   element.TagName,
		"class":      element.Class,
		"id":         element.ID,
	}, nil
}

func parseExtractedElement(result any) entity.ExtractedElement {
	element := entity.ExtractedElement{
		Attributes: make(map[string]string),
	}

	raw, ok := result.(map[string]any)
	if !ok {
		return element
	}

	element.Text = strings.TrimSpace(stringField(raw, "text"))
	element.HTML = stringField(raw, "html")
	element.TagName = stringField(raw, "tag_name")
	element.Class = stringField(raw, "class")
	element.ID = stringField(raw, "id")

	if attrs, ok := raw["attributes"].(map[string]any); ok {
		for k, v := range attrs {
			if str, ok := v.(string); ok {
				element.Attributes[k] = str
			}
		}
	}

	return element
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}

	return ""
}

// Screenshot captures the full page and returns it as an embedded data URI.
// Nothing is persisted by this layer.
func (ec *ExecutionContext) Screenshot(ctx context.Context) (uri string, err error) {
	const op = "Screenshot"
	logger := ec.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, ec.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	if err = ec.guard(op); err != nil {
		return "", err
	}

	raw, err := ec.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Type:     playwright.ScreenshotTypePng,
	})
	if err != nil {
		return "", apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "screenshot_failed",
			apperr.MetaStage:  apperr.StageScreenshot,
		})
	}

	uri = "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)

	ec.mu.Lock()
	ec.screenshots = append(ec.screenshots, uri)
	ec.mu.Unlock()

	return uri, nil
}

// Wait evaluates the step's wait condition. Waits delay the next step but
// never fail the plan.
func (ec *ExecutionContext) Wait(ctx context.Context, cond *entity.WaitCondition) (elapsed time.Duration, err error) {
	const op = "Wait"

	if err = ec.guard(op); err != nil {
		return 0, err
	}

	if err = validateWait(cond); err != nil {
		return 0, err
	}

	elapsed, url, err := ec.waiter.await(ctx, cond, ec.CurrentURL())
	if err != nil {
		return elapsed, err
	}

	ec.setLastURL(url)

	return elapsed, nil
}

func (ec *ExecutionContext) CurrentURL() string {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	return ec.lastURL
}

func (ec *ExecutionContext) setLastURL(url string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	ec.lastURL = url
}

func (ec *ExecutionContext) Screenshots() []string {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	out := make([]string, len(ec.screenshots))
	copy(out, ec.screenshots)

	return out
}

func (ec *ExecutionContext) Viewport() entity.Viewport {
	return ec.viewport
}

// Close releases the page, its browser context and the cache sweeper, and
// unregisters the plan from the session.
func (ec *ExecutionContext) Close(ctx context.Context) error {
	const op = "Close"

	ec.mu.Lock()

	if ec.closed {
		ec.mu.Unlock()

		return nil
	}

	ec.closed = true
	ec.mu.Unlock()

	close(ec.stopSweep)

	if ec.page != nil {
		if err := ec.page.Close(); err != nil {
			ec.logger.Warn("Failed to close page", zap.Error(err))
		}
	}

	if ec.browserContext != nil {
		if err := ec.browserContext.Close(); err != nil {
			ec.logger.Warn("Failed to close browser context", zap.Error(err))
		}
	}

	if ec.onClose != nil {
		ec.onClose()
	}

	ec.logger.Info("Execution context closed", zap.String(logg.Operation, op))

	return nil
}
