package console

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chrome-agent/internal/config"
	"chrome-agent/internal/entity"
	"chrome-agent/internal/usecase"
	"chrome-agent/pkg/logg"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Interface is the operator console: the in-process stand-in for the
// request layer that hands plans to the executor.
type Interface struct {
	config   *config.Config
	logger   *zap.Logger
	usecase  *usecase.Service
	ctx      context.Context
	cancel   context.CancelFunc
	sigChan  chan os.Signal
	stopping bool
}

type Params struct {
	fx.In

	Config  *config.Config
	Logger  *zap.Logger
	Usecase *usecase.Service
}

func NewInterface(params Params) *Interface {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)

	return &Interface{
		config:  params.Config,
		logger:  params.Logger.With(zap.String(logg.Layer, "Console")),
		usecase: params.Usecase,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: sigChan,
	}
}

func (i *Interface) Start() error {
	i.printBanner()
	i.printHelp()

	signal.Notify(i.sigChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-i.sigChan

		fmt.Println("\nShutting down...")
		i.cancel()
	}()

	scanner := bufio.NewScanner(os.Stdin)

	for !i.stopping {
		fmt.Print("> ")

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		select {
		case <-i.ctx.Done():
			return nil
		default:
		}

		i.handleCommand(line)
	}

	return scanner.Err()
}

func (i *Interface) Stop() error {
	i.stopping = true
	i.cancel()

	return nil
}

func (i *Interface) handleCommand(line string) {
	parts := strings.SplitN(line, " ", 2)
	command := strings.ToLower(parts[0])

	switch command {
	case "run":
		if len(parts) < 2 {
			fmt.Println("Usage: run <plan.json>")

			return
		}

		i.runPlan(strings.TrimSpace(parts[1]))
	case "info":
		i.printInfo()
	case "help":
		i.printHelp()
	case "exit", "quit":
		i.stopping = true
		i.cancel()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		i.printHelp()
	}
}

func (i *Interface) runPlan(path string) {
	plan, err := loadPlan(path)
	if err != nil {
		fmt.Printf("❌ Failed to load plan: %v\n", err)

		return
	}

	fmt.Printf("▶ Running plan %s (%d steps)\n", plan.ID, len(plan.Steps))

	result, err := i.usecase.Executor.ExecutePlan(i.ctx, plan)
	if err != nil {
		i.logger.Error("Plan execution failed", zap.Error(err))
		fmt.Printf("❌ Execution failed: %v\n", err)

		return
	}

	i.printResult(result)
}

// loadPlan decodes a plan file, assigning ids the planner left empty.
func loadPlan(path string) (*entity.Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	var plan entity.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("decode plan file: %w", err)
	}

	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}

	for idx := range plan.Steps {
		if plan.Steps[idx].ID == uuid.Nil {
			plan.Steps[idx].ID = uuid.New()
		}
	}

	return &plan, nil
}

func (i *Interface) printResult(result *entity.ExecutionResult) {
	status := "✅"
	if !result.Success {
		status = "❌"
	}

	fmt.Printf("%s Plan %s finished in %s\n", status, result.PlanID, result.Duration.Round(time.Millisecond))
	fmt.Printf("   steps: %d total, %d successful, %d failed\n",
		result.TotalSteps, result.SuccessfulSteps, result.FailedSteps)

	if result.FinalURL != "" {
		fmt.Printf("   final URL: %s\n", result.FinalURL)
	}

	for idx, step := range result.StepResults {
		mark := "✓"
		if !step.Success {
			mark = "✗"
		}

		fmt.Printf("   %d. %s %s (%s)", idx+1, mark, step.Action, step.Duration.Round(time.Millisecond))

		if step.Error != "" {
			fmt.Printf(" - %s", step.Error)
		}

		fmt.Println()
	}
}

func (i *Interface) printInfo() {
	info := i.usecase.Session.BrowserInfo()
	if info == nil {
		fmt.Println("Browser is not initialized")

		return
	}

	fmt.Printf("Browser version: %s\nUser agent: %s\nPID: %d\n", info.Version, info.UserAgent, info.PID)
}

func (i *Interface) printBanner() {
	fmt.Println("╔══════════════════════════════╗")
	fmt.Println("║   Chrome Agent plan runner   ║")
	fmt.Println("╚══════════════════════════════╝")
}

func (i *Interface) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  run <plan.json>  execute a plan file")
	fmt.Println("  info             show browser info")
	fmt.Println("  help             show this help")
	fmt.Println("  exit             quit")
}
