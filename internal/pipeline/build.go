package pipeline

import (
	"context"

	"github.com/resilient-vitality/conveyor/internal/runtime"
)

// Build commands the build substrate to compile a repository at a specific
// sha and store the artifacts at the recorded location. Builds are stage
// agnostic; one build may feed several deploys later in the pipeline.
type Build struct {
	actionState
	Sha            string               `json:"sha"`
	Repo           string               `json:"repo"`
	ArtifactBucket string               `json:"artifact_bucket"`
	ArtifactFolder string               `json:"artifact_folder"`
	Status         *runtime.BuildStatus `json:"result,omitempty"`
}

// NewBuild creates a build action for a sha in a repo, with the artifact
// coordinates the build writes to.
func NewBuild(sha, repo, artifactBucket, artifactFolder string) *Build {
	return &Build{
		Sha:            sha,
		Repo:           repo,
		ArtifactBucket: artifactBucket,
		ArtifactFolder: artifactFolder,
	}
}

func (b *Build) Kind() Kind { return KindBuild }

func (b *Build) spec() runtime.BuildSpec {
	return runtime.BuildSpec{
		Repo:           b.Repo,
		Sha:            b.Sha,
		ArtifactBucket: b.ArtifactBucket,
		ArtifactFolder: b.ArtifactFolder,
	}
}

// Start kicks off the build in the external build service.
func (b *Build) Start(ctx context.Context, rt *runtime.Context) error {
	application, err := applicationFor(ctx, rt, b.Repo)
	if err != nil {
		return err
	}
	return rt.Builder.StartBuild(ctx, application, b.spec())
}

// IsDone polls the build service, caching the final status once known.
func (b *Build) IsDone(ctx context.Context, rt *runtime.Context) (bool, error) {
	application, err := applicationFor(ctx, rt, b.Repo)
	if err != nil {
		return false, err
	}
	status, err := rt.Builder.CheckBuild(ctx, application, b.spec())
	if err != nil {
		return false, err
	}
	if status.State == runtime.BuildPending {
		return false, nil
	}
	b.Status = &status
	return true, nil
}

func (b *Build) Result() ActionResult {
	if b.Status != nil && b.Status.State == runtime.BuildSucceeded {
		return ResultSuccess
	}
	return ResultFailed
}

func (b *Build) NewWork(rt *runtime.Context) []Action { return nil }

func (b *Build) Equal(other Action) bool {
	o, ok := other.(*Build)
	if !ok {
		return false
	}
	return b.Sha == o.Sha && b.Repo == o.Repo &&
		b.ArtifactBucket == o.ArtifactBucket && b.ArtifactFolder == o.ArtifactFolder
}
