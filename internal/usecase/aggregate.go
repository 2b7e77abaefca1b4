package usecase

import (
	"time"

	"chrome-agent/internal/entity"
	"chrome-agent/internal/ports"
)

// aggregate folds the recorded step results into the plan-level result.
// Counts always satisfy successful + failed == len(results) <= total steps;
// results are fewer than total when a critical failure halted the plan.
func aggregate(plan *entity.Plan, results []entity.StepResult, pc ports.PlanContext, info *entity.BrowserInfo, started time.Time, halted bool) *entity.ExecutionResult {
	successful := 0
	failed := 0

	for _, r := range results {
		if r.Success {
			successful++
		} else {
			failed++
		}
	}

	result := &entity.ExecutionResult{
		PlanID:          plan.ID,
		Success:         !halted,
		Duration:        time.Since(started),
		StepResults:     results,
		TotalSteps:      len(plan.Steps),
		SuccessfulSteps: successful,
		FailedSteps:     failed,
		FinalURL:        pc.CurrentURL(),
		Screenshots:     collectScreenshots(results, pc),
		Metadata: entity.ExecutionMetadata{
			Viewport: pc.Viewport(),
		},
	}

	if info != nil {
		result.Metadata.BrowserVersion = info.Version
		result.Metadata.UserAgent = info.UserAgent
	}

	return result
}

// collectScreenshots concatenates per-step captures in execution order,
// then anything the context accumulated outside recorded steps.
func collectScreenshots(results []entity.StepResult, pc ports.PlanContext) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)

	for _, r := range results {
		for _, uri := range r.Screenshots {
			if _, dup := seen[uri]; dup {
				continue
			}

			seen[uri] = struct{}{}
			out = append(out, uri)
		}
	}

	for _, uri := range pc.Screenshots() {
		if _, dup := seen[uri]; dup {
			continue
		}

		seen[uri] = struct{}{}
		out = append(out, uri)
	}

	return out
}
