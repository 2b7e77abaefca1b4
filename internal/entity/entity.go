package entity

import (
	"time"

	"github.com/google/uuid"
)

// Plan is an ordered sequence of steps produced by an external planner.
// Immutable once handed to the executor.
type Plan struct {
	ID    uuid.UUID `json:"id"`
	Steps []Step    `json:"steps"`
}

type Step struct {
	ID          uuid.UUID           `json:"id"`
	Action      ActionType          `json:"action"`
	Description string              `json:"description"`
	Selectors   []SelectorCandidate `json:"selectors,omitempty"`
	Params      ActionParams        `json:"params"`
	Wait        *WaitCondition      `json:"wait,omitempty"`
	Optional    bool                `json:"optional"`
}

type ActionType string

const (
	ActionTypeNavigate   ActionType = "navigate"
	ActionTypeClick      ActionType = "click"
	ActionTypeType       ActionType = "type"
	ActionTypeSelect     ActionType = "select"
	ActionTypeScroll     ActionType = "scroll"
	ActionTypePress      ActionType = "press"
	ActionTypeExtract    ActionType = "extract"
	ActionTypeScreenshot ActionType = "screenshot"
)

// ActionParams carries the per-action parameters. Which fields are required
// depends on the action kind; the primitives validate before touching the page.
type ActionParams struct {
	URL   string `json:"url,omitempty"`
	Text  string `json:"text,omitempty"`
	Value string `json:"value,omitempty"`
	Key   string `json:"key,omitempty"`
	X     *int   `json:"x,omitempty"`
	Y     *int   `json:"y,omitempty"`
}

type SelectorKind string

const (
	SelectorKindCSS       SelectorKind = "css"
	SelectorKindXPath     SelectorKind = "xpath"
	SelectorKindText      SelectorKind = "text"
	SelectorKindID        SelectorKind = "id"
	SelectorKindClass     SelectorKind = "class"
	SelectorKindName      SelectorKind = "name"
	SelectorKindTestID    SelectorKind = "test-id"
	SelectorKindAriaLabel SelectorKind = "aria-label"
)

// SelectorCandidate is one scored strategy for locating an element. Scores
// come from the planner; the engine only orders and tries them.
type SelectorCandidate struct {
	Kind        SelectorKind `json:"kind"`
	Value       string       `json:"value"`
	Score       float64      `json:"score"`
	Description string       `json:"description,omitempty"`
}

type WaitKind string

const (
	WaitKindDelay       WaitKind = "delay"
	WaitKindElement     WaitKind = "element"
	WaitKindNavigation  WaitKind = "navigation"
	WaitKindNetworkIdle WaitKind = "network-idle"
)

type WaitCondition struct {
	Kind     WaitKind      `json:"kind"`
	Selector string        `json:"selector,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

type StepResult struct {
	StepID      uuid.UUID      `json:"step_id"`
	Action      ActionType     `json:"action"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Duration    time.Duration  `json:"duration"`
	Timestamp   time.Time      `json:"timestamp"`
	Screenshots []string       `json:"screenshots,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

type ExecutionResult struct {
	PlanID          uuid.UUID         `json:"plan_id"`
	Success         bool              `json:"success"`
	Duration        time.Duration     `json:"duration"`
	StepResults     []StepResult      `json:"step_results"`
	TotalSteps      int               `json:"total_steps"`
	SuccessfulSteps int               `json:"successful_steps"`
	FailedSteps     int               `json:"failed_steps"`
	FinalURL        string            `json:"final_url"`
	Screenshots     []string          `json:"screenshots,omitempty"`
	Metadata        ExecutionMetadata `json:"metadata"`
}

type ExecutionMetadata struct {
	BrowserVersion string   `json:"browser_version,omitempty"`
	UserAgent      string   `json:"user_agent,omitempty"`
	Viewport       Viewport `json:"viewport"`
}

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type BrowserInfo struct {
	Version   string `json:"version"`
	UserAgent string `json:"user_agent"`
	PID       int    `json:"pid"`
}

// ExtractedElement is the payload of an extract action.
type ExtractedElement struct {
	Text       string            `json:"text"`
	HTML       string            `json:"html"`
	Attributes map[string]string `json:"attributes"`
	TagName    string            `json:"tag_name"`
	Class      string            `json:"class,omitempty"`
	ID         string            `json:"id,omitempty"`
}

type LifecycleEventKind string

const (
	EventInitialized   LifecycleEventKind = "initialized"
	EventStepCompleted LifecycleEventKind = "step-completed"
	EventClosed        LifecycleEventKind = "closed"
)

// LifecycleEvent is delivered fire-and-forget to the notification sink.
type LifecycleEvent struct {
	Kind      LifecycleEventKind `json:"kind"`
	PlanID    uuid.UUID          `json:"plan_id,omitempty"`
	StepID    uuid.UUID          `json:"step_id,omitempty"`
	Result    *StepResult        `json:"result,omitempty"`
	Progress  float64            `json:"progress,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}
