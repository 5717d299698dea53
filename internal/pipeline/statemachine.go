package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/resilient-vitality/conveyor/internal/logging"
	"github.com/resilient-vitality/conveyor/internal/runtime"
)

const (
	// StartWait is the polling delay after an action is dispatched.
	StartWait = 10 * time.Second
	// MaxWait clamps the adaptive backoff so polling never stalls out.
	MaxWait = 5 * time.Minute
)

// StateMachine drives one pipeline forward, at most one action in flight.
// Each Tick polls the current action; when the action completes, its
// result is recorded, follow-up work is injected, and the next action is
// dispatched. The recommended wait between ticks grows by half while an
// action is pending and resets on dispatch.
type StateMachine struct {
	pipeline *Pipeline
	current  Action
	wait     time.Duration
}

// NewStateMachine builds a machine over a pipeline. The first action is
// popped into the current slot but not started; the first Tick starts it.
func NewStateMachine(p *Pipeline) *StateMachine {
	return &StateMachine{
		pipeline: p,
		current:  p.PopNextAction(),
		wait:     StartWait,
	}
}

// RecommendedWait is the delay the scheduler should observe before the
// next Tick.
func (m *StateMachine) RecommendedWait() time.Duration { return m.wait }

// Terminal reports whether the machine has no more work.
func (m *StateMachine) Terminal() bool { return m.current == nil }

// Pipeline exposes the machine's pipeline for inspection and persistence.
func (m *StateMachine) Pipeline() *Pipeline { return m.pipeline }

// TickResult describes what one cycle of the machine did.
type TickResult struct {
	// Terminal is set when the machine has drained its pipeline.
	Terminal bool
	// Advanced is set when the machine changed state: an action was
	// started or completed. The scheduler persists a snapshot after every
	// advanced tick.
	Advanced bool
}

// Tick performs one cycle of the state machine. Errors from substrate
// calls propagate unchanged; the caller decides whether to retry. A start
// error leaves the action unstarted so the next Tick attempts it again.
func (m *StateMachine) Tick(ctx context.Context, rt *runtime.Context) (TickResult, error) {
	if m.current == nil {
		return TickResult{Terminal: true}, nil
	}

	// A freshly dispatched (or freshly restored) action that has not been
	// started yet gets its start call first. Actions restored from a
	// snapshot with the started flag set resume straight to polling.
	if !m.current.started() {
		if err := m.current.Start(ctx, rt); err != nil {
			return TickResult{}, err
		}
		m.current.markStarted()
		m.wait = StartWait
		logging.WithComponent("statemachine").Info("action started",
			slog.String("kind", string(m.current.Kind())))
		return TickResult{Advanced: true}, nil
	}

	done, err := m.current.IsDone(ctx, rt)
	if err != nil {
		return TickResult{}, err
	}
	if !done {
		m.wait = m.wait * 3 / 2
		if m.wait > MaxWait {
			m.wait = MaxWait
		}
		return TickResult{}, nil
	}

	// Record the finished action first so cancelled followers always land
	// behind the failure that caused them.
	result := m.current.Result()
	finished := m.current
	m.pipeline.CompleteAction(finished, result)

	if result == ResultFailed || result == ResultCanceled {
		logging.WithComponent("statemachine").Info("action failed, cancelling pipeline",
			slog.String("kind", string(finished.Kind())))
		m.pipeline.Cancel()
	}
	// Follow-up work is injected after the cancel drains the queue, so a
	// failed deploy still sends its failure notification.
	if work := finished.NewWork(rt); len(work) > 0 {
		// Prepending in reverse keeps the returned order intact.
		for i := len(work) - 1; i >= 0; i-- {
			m.pipeline.AddImmediateAction(work[i])
		}
	}
	m.current = m.pipeline.PopNextAction()
	if m.current != nil {
		m.wait = StartWait
		if err := m.current.Start(ctx, rt); err != nil {
			return TickResult{Advanced: true}, err
		}
		m.current.markStarted()
		logging.WithComponent("statemachine").Info("action started",
			slog.String("kind", string(m.current.Kind())))
	}

	return TickResult{Terminal: m.current == nil, Advanced: true}, nil
}

// Snapshot returns a pipeline equivalent to the machine's full state: the
// in-flight action, if any, sits at the front of pending with its started
// flag intact. Restoring the snapshot resumes polling without re-starting.
func (m *StateMachine) Snapshot() *Pipeline {
	snap := &Pipeline{
		completed: m.pipeline.Completed(),
		results:   m.pipeline.Results(),
	}
	if m.current != nil {
		snap.pending = append(snap.pending, m.current)
	}
	snap.pending = append(snap.pending, m.pipeline.Pending()...)
	return snap
}

// Restore rebuilds a machine from a persisted pipeline snapshot. The
// front pending action becomes current; if its started flag is set the
// next Tick goes straight to polling.
func Restore(p *Pipeline) *StateMachine {
	return NewStateMachine(p)
}
