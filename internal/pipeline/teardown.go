package pipeline

import (
	"context"

	"github.com/resilient-vitality/conveyor/internal/app"
	"github.com/resilient-vitality/conveyor/internal/runtime"
)

// Teardown commands the teardown substrate to delete the stack for a stage
// that is no longer required, most commonly the ephemeral stage of a
// closed pull request.
type Teardown struct {
	actionState
	Stage  app.Stage               `json:"stage"`
	Repo   string                  `json:"repo"`
	Status *runtime.TeardownStatus `json:"result,omitempty"`
}

// NewTeardown creates a teardown action for a stage.
func NewTeardown(stage app.Stage, repo string) *Teardown {
	return &Teardown{Stage: stage, Repo: repo}
}

func (t *Teardown) Kind() Kind { return KindTeardown }

func (t *Teardown) spec() runtime.TeardownSpec {
	return runtime.TeardownSpec{Stage: t.Stage, Repo: t.Repo}
}

// Start kicks off the stack deletion.
func (t *Teardown) Start(ctx context.Context, rt *runtime.Context) error {
	application, err := applicationFor(ctx, rt, t.Repo)
	if err != nil {
		return err
	}
	return rt.Teardown.StartTeardown(ctx, application, t.spec())
}

// IsDone polls the deletion, caching the final status once known.
func (t *Teardown) IsDone(ctx context.Context, rt *runtime.Context) (bool, error) {
	application, err := applicationFor(ctx, rt, t.Repo)
	if err != nil {
		return false, err
	}
	status, err := rt.Teardown.CheckTeardown(ctx, application, t.spec())
	if err != nil {
		return false, err
	}
	if status == runtime.TeardownPending {
		return false, nil
	}
	t.Status = &status
	return true, nil
}

func (t *Teardown) Result() ActionResult {
	if t.Status != nil && *t.Status == runtime.TeardownComplete {
		return ResultSuccess
	}
	return ResultFailed
}

func (t *Teardown) NewWork(rt *runtime.Context) []Action { return nil }

func (t *Teardown) Equal(other Action) bool {
	o, ok := other.(*Teardown)
	if !ok {
		return false
	}
	return t.Stage.Equal(o.Stage) && t.Repo == o.Repo
}
