// Package pipeline implements the ordered work queue at the heart of
// Conveyor and the state machine that drives it. A pipeline holds pending
// actions plus an append-only history of completed actions and their
// results; actions command external substrates through the runtime context
// and are polled to completion.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/resilient-vitality/conveyor/internal/app"
	"github.com/resilient-vitality/conveyor/internal/runtime"
)

// ActionResult is the observed outcome of one completed action.
type ActionResult string

const (
	// ResultSuccess means the job went to plan and following actions can
	// run.
	ResultSuccess ActionResult = "success"
	// ResultFailed means the job failed and the rest of the pipeline must
	// be cancelled.
	ResultFailed ActionResult = "failed"
	// ResultFailedAllow means the job failed but the pipeline may continue.
	// Used for best-effort actions such as notifications.
	ResultFailedAllow ActionResult = "failed_allow"
	// ResultCanceled means the action never ran because an earlier action
	// failed. Assigned by Pipeline.Cancel, never returned by actions.
	ResultCanceled ActionResult = "canceled"
)

// Kind tags an action variant for serialization.
type Kind string

const (
	KindBuild     Kind = "build"
	KindDeploy    Kind = "deploy"
	KindTeardown  Kind = "teardown"
	KindApproval  Kind = "approval"
	KindAppUpdate Kind = "app_update"
	KindNotify    Kind = "notify"
)

// Action is one discrete unit of work driven by an external substrate.
// The contract mirrors a polled future: Start kicks the job off in the
// external system, IsDone polls it and caches the substrate result as a
// side effect, Result projects the cached result once IsDone has reported
// true, and NewWork optionally yields follow-up actions to run before the
// rest of the pipeline.
//
// The sum is closed: only the variants in this package implement Action.
type Action interface {
	// Kind identifies the variant for serialization.
	Kind() Kind

	// Start commands the external substrate to begin. It must be
	// idempotent with respect to substrate work; substrates guard with
	// deterministic naming.
	Start(ctx context.Context, rt *runtime.Context) error

	// IsDone polls the substrate. It returns true once the job reached a
	// terminal substrate state, caching that state into the action's
	// result slot; false while the job is still pending.
	IsDone(ctx context.Context, rt *runtime.Context) (bool, error)

	// Result projects the cached substrate result into an ActionResult.
	// Only valid after IsDone has returned true.
	Result() ActionResult

	// NewWork returns follow-up actions to be prepended to the pending
	// queue before the next action is dispatched, or nil.
	NewWork(rt *runtime.Context) []Action

	// Equal compares two actions by variant and identity fields. Result
	// slots and start bookkeeping are excluded, so a pending and a
	// completed action for the same target compare equal.
	Equal(other Action) bool

	started() bool
	markStarted()
}

// actionState carries per-action bookkeeping shared by every variant. The
// started flag survives serialization so a restored pipeline never
// re-starts an action that already ran.
type actionState struct {
	Started bool `json:"started,omitempty"`
}

func (s *actionState) started() bool { return s.Started }
func (s *actionState) markStarted()  { s.Started = true }

// envelope wraps an action with its kind tag for persistence.
type envelope struct {
	Kind   Kind            `json:"kind"`
	Action json.RawMessage `json:"action"`
}

func marshalAction(a Action) (envelope, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return envelope{}, fmt.Errorf("marshal %s action: %w", a.Kind(), err)
	}
	return envelope{Kind: a.Kind(), Action: raw}, nil
}

func unmarshalAction(env envelope) (Action, error) {
	var a Action
	switch env.Kind {
	case KindBuild:
		a = &Build{}
	case KindDeploy:
		a = &Deploy{}
	case KindTeardown:
		a = &Teardown{}
	case KindApproval:
		a = &Approval{}
	case KindAppUpdate:
		a = &AppUpdate{}
	case KindNotify:
		a = &Notify{}
	default:
		return nil, fmt.Errorf("unknown action kind %q", env.Kind)
	}
	if err := json.Unmarshal(env.Action, a); err != nil {
		return nil, fmt.Errorf("unmarshal %s action: %w", env.Kind, err)
	}
	return a, nil
}

// applicationFor resolves the owning application of an action through the
// runtime's application store.
func applicationFor(ctx context.Context, rt *runtime.Context, repo string) (*app.Application, error) {
	application, err := rt.Apps.ApplicationByRepo(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("look up application for %s: %w", repo, err)
	}
	if application == nil {
		return nil, fmt.Errorf("no application registered for repo %s", repo)
	}
	return application, nil
}
