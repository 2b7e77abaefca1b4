package logg

const (
	Layer     = "layer"
	Operation = "operation"
	PlanID    = "plan_id"
	StepID    = "step_id"
	Action    = "action"
	Selector  = "selector"
	URL       = "url"
	Attempt   = "attempt"
	Duration  = "duration"
)
