package browser

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"chrome-agent/internal/config"
	"chrome-agent/internal/entity"
	"chrome-agent/internal/ports"
	"chrome-agent/pkg/apperr"
	"chrome-agent/pkg/logg"
	"chrome-agent/pkg/tracing"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	sessionName   = "BrowserSession"
	browserTracer = "browser.session"
)

// Session owns the browser process and the registry of per-plan pages.
type Session struct {
	config *config.Config
	logger *zap.Logger
	tracer trace.Tracer

	mu         sync.Mutex
	playwright *playwright.Playwright
	browser    playwright.Browser
	pages      map[uuid.UUID]*ExecutionContext
	ready      bool
	closed     bool
}

type Params struct {
	fx.In

	Config *config.Config
	Logger *zap.Logger
}

func NewSession(params Params) *Session {
	return &Session{
		config: params.Config,
		logger: params.Logger.With(zap.String(logg.Layer, sessionName)),
		tracer: otel.Tracer(browserTracer),
		pages:  make(map[uuid.UUID]*ExecutionContext),
	}
}

// Initialize launches the browser process. Launch failures surface as
// browser-launch errors and are not retried here; the caller decides.
func (s *Session) Initialize(ctx context.Context) (err error) {
	const op = "Initialize"
	logger := s.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return apperr.WrapErrorWithReason(op, apperr.CodeBrowserNotReady, "session_closed")
	}

	if s.ready {
		return nil
	}

	logger.Info("Launching browser...")
	step.AddEvent("installing playwright")

	if err = playwright.Install(); err != nil {
		return apperr.Wrap(op, apperr.CodeBrowserLaunch, err, map[string]any{
			apperr.MetaReason: "playwright_install_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	step.AddEvent("starting playwright")

	pw, err := playwright.Run()
	if err != nil {
		return apperr.Wrap(op, apperr.CodeBrowserLaunch, err, map[string]any{
			apperr.MetaReason: "playwright_start_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}
	s.playwright = pw

	browserOptions := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(s.config.BrowserConfig.Headless),
		SlowMo:   playwright.Float(float64(s.config.BrowserConfig.SlowMo)),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}

	if path := s.config.BrowserConfig.ResolveExecutablePath(); path != "" {
		browserOptions.ExecutablePath = playwright.String(path)
	}

	step.AddEvent("launching chromium")

	browser, err := s.playwright.Chromium.Launch(browserOptions)
	if err != nil {
		return apperr.Wrap(op, apperr.CodeBrowserLaunch, err, map[string]any{
			apperr.MetaReason: "browser_launch_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}
	s.browser = browser

	s.ready = true
	logger.Info("Browser launched successfully", zap.String("version", browser.Version()))

	return nil
}

// CreatePage opens an isolated page scoped to one plan and registers it
// under the plan id. Capacity is a hard limit, not a queue.
func (s *Session) CreatePage(ctx context.Context, planID uuid.UUID) (pc ports.PlanContext, err error) {
	const op = "CreatePage"
	logger := s.logger.With(zap.String(logg.Operation, op), zap.String(logg.PlanID, planID.String()))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op, attribute.String("plan_id", planID.String()))
	defer func() {
		step.End(err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready || s.closed {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeBrowserNotReady, "browser_not_ready")
	}

	if _, exists := s.pages[planID]; exists {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeInvalidArgument, "plan_page_exists")
	}

	if len(s.pages) >= s.config.BrowserConfig.MaxPages {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeBrowserNotReady, "max_pages_reached")
	}

	cfg := s.config.BrowserConfig

	contextOptions := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  cfg.ViewportWidth,
			Height: cfg.ViewportHeight,
		},
		UserAgent:         playwright.String(cfg.UserAgent),
		Locale:            playwright.String(cfg.Locale),
		TimezoneId:        playwright.String(cfg.TimezoneID),
		JavaScriptEnabled: playwright.Bool(true),
		AcceptDownloads:   playwright.Bool(true),
	}

	browserContext, err := s.browser.NewContext(contextOptions)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeBrowserLaunch, err, map[string]any{
			apperr.MetaReason: "context_create_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	page, err := browserContext.NewPage()
	if err != nil {
		_ = browserContext.Close()

		return nil, apperr.Wrap(op, apperr.CodeBrowserLaunch, err, map[string]any{
			apperr.MetaReason: "page_create_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	page.SetDefaultTimeout(float64(cfg.Timeout.Milliseconds()))
	page.SetDefaultNavigationTimeout(float64(cfg.Timeout.Milliseconds()))

	if err := page.SetExtraHTTPHeaders(map[string]string{
		"Accept-Language": fmt.Sprintf("%s,en;q=0.9", cfg.Locale),
	}); err != nil {
		logger.Warn("Failed to set accept-language", zap.Error(err))
	}

	if !cfg.Stealth {
		if err := page.AddInitScript(playwright.Script{Content: playwright.String(stealthScript())}); err != nil {
			logger.Warn("Failed to inject masking script", zap.Error(err))
		}
	}

	step.AddEvent("page created")

	ec := newExecutionContext(executionContextParams{
		planID:         planID,
		logger:         s.logger,
		browserContext: browserContext,
		page:           page,
		viewport:       entity.Viewport{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight},
		cacheTTL:       cfg.CacheTTL,
		sweepInterval:  cfg.CacheSweep,
		onClose: func() {
			s.unregister(planID)
		},
	})

	s.pages[planID] = ec
	logger.Info("Page registered", zap.Int("open_pages", len(s.pages)))

	return ec, nil
}

func (s *Session) unregister(planID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pages, planID)
}

// BrowserInfo never errors; it returns nil while uninitialized so health
// probes can poll it freely.
func (s *Session) BrowserInfo() *entity.BrowserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready || s.browser == nil {
		return nil
	}

	return &entity.BrowserInfo{
		Version:   s.browser.Version(),
		UserAgent: s.config.BrowserConfig.UserAgent,
		PID:       os.Getpid(),
	}
}

func (s *Session) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ready && !s.closed
}

// Close tears down every open page, then the browser process. Operations
// issued afterwards fail fast with browser-not-ready.
func (s *Session) Close(ctx context.Context) (err error) {
	const op = "Close"
	logger := s.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return nil
	}

	s.closed = true
	s.ready = false

	open := make([]*ExecutionContext, 0, len(s.pages))
	for _, ec := range s.pages {
		open = append(open, ec)
	}
	s.pages = make(map[uuid.UUID]*ExecutionContext)
	s.mu.Unlock()

	logger.Info("Closing browser session", zap.Int("open_pages", len(open)))

	g, gctx := errgroup.WithContext(ctx)
	for _, ec := range open {
		g.Go(func() error {
			if err := ec.Close(gctx); err != nil {
				logger.Warn("Failed to close page", zap.Error(err))
			}

			return nil
		})
	}
	_ = g.Wait()

	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			logger.Warn("Failed to close browser", zap.Error(err))
		}
	}

	if s.playwright != nil {
		if err := s.playwright.Stop(); err != nil {
			return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
				apperr.MetaReason: "playwright_stop_failed",
			})
		}
	}

	logger.Info("Browser closed")

	return nil
}

// sleepFor is a context-aware delay used by waits and dwell pauses.
func sleepFor(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
