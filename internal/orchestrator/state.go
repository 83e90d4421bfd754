package orchestrator

// State is one node of the control loop's transition graph.
type State string

const (
	StateIngest  State = "INGEST"
	StatePlan    State = "PLAN"
	StateEdit    State = "EDIT"
	StateTest    State = "TEST"
	StateIterate State = "ITERATE"
	StateDone    State = "DONE"
	StateAbort   State = "ABORT"
)

func (s State) Terminal() bool { return s == StateDone || s == StateAbort }

// nextState evaluates the transition predicates for the current state in
// order; the first satisfied rule wins. handlerErr is non-nil when the state
// handler raised (policy violation, fatal internal error) and always routes
// to ABORT.
func (o *Orchestrator) nextState(handlerErr error) State {
	if handlerErr != nil {
		return StateAbort
	}
	switch o.ctx.State {
	case StateIngest:
		return StatePlan
	case StatePlan:
		if o.globalAbort() {
			return StateAbort
		}
		return StateEdit
	case StateEdit:
		if o.globalAbort() {
			return StateAbort
		}
		if o.queryOnly() {
			return StateDone
		}
		if o.ctx.diffApplied {
			return StateTest
		}
		// Patch validation or application rejected the diff.
		return StateIterate
	case StateTest:
		if o.globalAbort() {
			return StateAbort
		}
		if o.ctx.testsPassing {
			return StateDone
		}
		if o.ctx.RetryCount < o.task.Limits.MaxRetries {
			return StateIterate
		}
		return StateAbort
	case StateIterate:
		if o.ctx.RetryCount >= o.task.Limits.MaxRetries {
			return StateAbort
		}
		return StateEdit
	default:
		return StateAbort
	}
}

// globalAbort is evaluated at the top of each loop turn and inside every
// transition rule that names it.
func (o *Orchestrator) globalAbort() bool {
	return o.elapsed() >= o.task.Limits.MaxDuration ||
		o.ctx.TokenUsage > o.task.Limits.MaxTokens ||
		o.ctx.RetryCount >= o.task.Limits.MaxRetries
}

func (o *Orchestrator) queryOnly() bool {
	v, _ := o.ctx.Artifacts["query_only"].(bool)
	return v
}
