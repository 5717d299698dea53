package pipeline

import (
	"encoding/json"
	"fmt"
)

// Pipeline is an ordered queue of pending actions plus an append-only
// history of completed actions and their results. Normal dispatch pops
// from the front; AddImmediateAction prepends; AddAction appends with
// value-equality dedup against pending. The completed and results lists
// always have equal length.
type Pipeline struct {
	pending   []Action
	completed []Action
	results   []ActionResult
}

// New returns an empty pipeline with no pending or completed actions.
func New() *Pipeline {
	return &Pipeline{}
}

// AddAction appends an action unless an equal action is already pending.
// Completed actions are not consulted, so a target can legitimately run
// again in a later pipeline. Returns the pipeline for chaining.
func (p *Pipeline) AddAction(a Action) *Pipeline {
	for _, existing := range p.pending {
		if existing.Equal(a) {
			return p
		}
	}
	p.pending = append(p.pending, a)
	return p
}

// AddImmediateAction prepends an action so it is the next one dispatched.
func (p *Pipeline) AddImmediateAction(a Action) *Pipeline {
	p.pending = append([]Action{a}, p.pending...)
	return p
}

// PopNextAction removes and returns the front pending action, or nil when
// the queue is empty.
func (p *Pipeline) PopNextAction() Action {
	if len(p.pending) == 0 {
		return nil
	}
	next := p.pending[0]
	p.pending = p.pending[1:]
	return next
}

// CompleteAction records a popped action and its observed result.
func (p *Pipeline) CompleteAction(a Action, result ActionResult) {
	p.completed = append(p.completed, a)
	p.results = append(p.results, result)
}

// Cancel drains every pending action into the completed history with
// result ResultCanceled. A currently executing action is unaffected;
// cancellation targets pending work only.
func (p *Pipeline) Cancel() {
	for a := p.PopNextAction(); a != nil; a = p.PopNextAction() {
		p.CompleteAction(a, ResultCanceled)
	}
}

// PendingCount returns the number of actions waiting to run.
func (p *Pipeline) PendingCount() int { return len(p.pending) }

// Pending returns a copy of the pending queue in dispatch order.
func (p *Pipeline) Pending() []Action {
	out := make([]Action, len(p.pending))
	copy(out, p.pending)
	return out
}

// Completed returns a copy of the completed history in completion order.
func (p *Pipeline) Completed() []Action {
	out := make([]Action, len(p.completed))
	copy(out, p.completed)
	return out
}

// Results returns a copy of the per-action results, index-aligned with
// Completed.
func (p *Pipeline) Results() []ActionResult {
	out := make([]ActionResult, len(p.results))
	copy(out, p.results)
	return out
}

// pipelineJSON is the persisted form of a pipeline: tagged action
// envelopes plus the aligned result list.
type pipelineJSON struct {
	Pending   []envelope     `json:"pending"`
	Completed []envelope     `json:"completed"`
	Results   []ActionResult `json:"results"`
}

// MarshalJSON serializes the pipeline end to end, including action result
// slots and start bookkeeping, so it can be persisted and resumed.
func (p *Pipeline) MarshalJSON() ([]byte, error) {
	out := pipelineJSON{
		Pending:   make([]envelope, 0, len(p.pending)),
		Completed: make([]envelope, 0, len(p.completed)),
		Results:   p.Results(),
	}
	for _, a := range p.pending {
		env, err := marshalAction(a)
		if err != nil {
			return nil, err
		}
		out.Pending = append(out.Pending, env)
	}
	for _, a := range p.completed {
		env, err := marshalAction(a)
		if err != nil {
			return nil, err
		}
		out.Completed = append(out.Completed, env)
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a persisted pipeline.
func (p *Pipeline) UnmarshalJSON(data []byte) error {
	var in pipelineJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("unmarshal pipeline: %w", err)
	}
	if len(in.Completed) != len(in.Results) {
		return fmt.Errorf("pipeline snapshot corrupt: %d completed actions, %d results", len(in.Completed), len(in.Results))
	}
	p.pending = nil
	p.completed = nil
	p.results = in.Results
	for _, env := range in.Pending {
		a, err := unmarshalAction(env)
		if err != nil {
			return err
		}
		p.pending = append(p.pending, a)
	}
	for _, env := range in.Completed {
		a, err := unmarshalAction(env)
		if err != nil {
			return err
		}
		p.completed = append(p.completed, a)
	}
	return nil
}
