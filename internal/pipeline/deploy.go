package pipeline

import (
	"context"
	"fmt"

	"github.com/resilient-vitality/conveyor/internal/app"
	"github.com/resilient-vitality/conveyor/internal/runtime"
)

// Deploy commands the infrastructure substrate to create or update the
// stack for one stage of an application from previously built artifacts.
type Deploy struct {
	actionState
	Stage          app.Stage             `json:"stage"`
	Repo           string                `json:"repo"`
	Sha            string                `json:"sha"`
	ArtifactBucket string                `json:"artifact_bucket"`
	ArtifactFolder string                `json:"artifact_folder"`
	Status         *runtime.DeployStatus `json:"result,omitempty"`
}

// NewDeploy creates a deploy action for a stage from the artifacts at the
// given location.
func NewDeploy(stage app.Stage, repo, sha, artifactBucket, artifactFolder string) *Deploy {
	return &Deploy{
		Stage:          stage,
		Repo:           repo,
		Sha:            sha,
		ArtifactBucket: artifactBucket,
		ArtifactFolder: artifactFolder,
	}
}

func (d *Deploy) Kind() Kind { return KindDeploy }

func (d *Deploy) spec() runtime.DeploySpec {
	return runtime.DeploySpec{
		Stage:          d.Stage,
		Repo:           d.Repo,
		Sha:            d.Sha,
		ArtifactBucket: d.ArtifactBucket,
		ArtifactFolder: d.ArtifactFolder,
	}
}

// Start kicks off the stack create or update.
func (d *Deploy) Start(ctx context.Context, rt *runtime.Context) error {
	application, err := applicationFor(ctx, rt, d.Repo)
	if err != nil {
		return err
	}
	return rt.Infrastructure.StartDeployment(ctx, application, d.spec())
}

// IsDone polls the stack state, caching the final status once known.
func (d *Deploy) IsDone(ctx context.Context, rt *runtime.Context) (bool, error) {
	application, err := applicationFor(ctx, rt, d.Repo)
	if err != nil {
		return false, err
	}
	status, err := rt.Infrastructure.CheckDeployment(ctx, application, d.spec())
	if err != nil {
		return false, err
	}
	if status == runtime.DeployPending {
		return false, nil
	}
	d.Status = &status
	return true, nil
}

func (d *Deploy) Result() ActionResult {
	if d.Status != nil && *d.Status == runtime.DeployComplete {
		return ResultSuccess
	}
	return ResultFailed
}

// NewWork notifies the stage's approval group of the deploy outcome. The
// notification is best-effort and runs before the next pipeline action.
func (d *Deploy) NewWork(rt *runtime.Context) []Action {
	if d.Stage.ApprovalGroup == nil {
		return nil
	}
	outcome := "failed"
	if d.Result() == ResultSuccess {
		outcome = "complete"
	}
	message := fmt.Sprintf("deploy of %s to %s %s (sha %s)", d.Repo, d.Stage.Name, outcome, d.Sha)
	return []Action{NewNotify(*d.Stage.ApprovalGroup, message)}
}

func (d *Deploy) Equal(other Action) bool {
	o, ok := other.(*Deploy)
	if !ok {
		return false
	}
	return d.Stage.Equal(o.Stage) && d.Repo == o.Repo && d.Sha == o.Sha &&
		d.ArtifactBucket == o.ArtifactBucket && d.ArtifactFolder == o.ArtifactFolder
}
