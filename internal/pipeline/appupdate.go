package pipeline

import (
	"context"
	"fmt"

	"github.com/resilient-vitality/conveyor/internal/runtime"
)

// AppUpdate re-reads an application's configuration from its repository
// and persists the refreshed application. Enqueued when a merge lands
// changes to .conveyor.yaml.
type AppUpdate struct {
	actionState
	Repo string `json:"repo"`
	Done bool   `json:"result,omitempty"`
}

// NewAppUpdate creates an app-update action for a repository.
func NewAppUpdate(repo string) *AppUpdate {
	return &AppUpdate{Repo: repo}
}

func (u *AppUpdate) Kind() Kind { return KindAppUpdate }

// Start loads the configuration from the repository and saves the result.
// The work is synchronous; errors propagate so the scheduler retries.
func (u *AppUpdate) Start(ctx context.Context, rt *runtime.Context) error {
	application, err := rt.Loader.LoadApplicationFromRepo(ctx, u.Repo)
	if err != nil {
		return fmt.Errorf("load application from %s: %w", u.Repo, err)
	}
	if err := rt.Apps.SaveApplication(ctx, u.Repo, application); err != nil {
		return fmt.Errorf("save application for %s: %w", u.Repo, err)
	}
	u.Done = true
	return nil
}

func (u *AppUpdate) IsDone(ctx context.Context, rt *runtime.Context) (bool, error) {
	return u.Done, nil
}

func (u *AppUpdate) Result() ActionResult {
	if u.Done {
		return ResultSuccess
	}
	return ResultFailed
}

func (u *AppUpdate) NewWork(rt *runtime.Context) []Action { return nil }

func (u *AppUpdate) Equal(other Action) bool {
	o, ok := other.(*AppUpdate)
	if !ok {
		return false
	}
	return u.Repo == o.Repo
}
