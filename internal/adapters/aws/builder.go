package aws

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	cbtypes "github.com/aws/aws-sdk-go-v2/service/codebuild/types"

	"github.com/resilient-vitality/conveyor/internal/app"
	"github.com/resilient-vitality/conveyor/internal/runtime"
)

// codeBuildAPI is the slice of the CodeBuild client the builder uses.
type codeBuildAPI interface {
	StartBuild(ctx context.Context, params *codebuild.StartBuildInput, optFns ...func(*codebuild.Options)) (*codebuild.StartBuildOutput, error)
	BatchGetBuilds(ctx context.Context, params *codebuild.BatchGetBuildsInput, optFns ...func(*codebuild.Options)) (*codebuild.BatchGetBuildsOutput, error)
	ListBuildsForProject(ctx context.Context, params *codebuild.ListBuildsForProjectInput, optFns ...func(*codebuild.Options)) (*codebuild.ListBuildsForProjectOutput, error)
}

// Builder runs builds on a shared CodeBuild project. The project's
// buildspec reads the repo, sha, and artifact coordinates from environment
// variables.
type Builder struct {
	client  codeBuildAPI
	project string

	mu     sync.Mutex
	builds map[string]string // repo|sha -> build id
}

// NewBuilder creates a builder over a CodeBuild project
func NewBuilder(client codeBuildAPI, project string) *Builder {
	return &Builder{
		client:  client,
		project: project,
		builds:  make(map[string]string),
	}
}

func buildKey(build runtime.BuildSpec) string {
	return build.Repo + "|" + build.Sha
}

// StartBuild kicks off a CodeBuild run for the sha
func (b *Builder) StartBuild(ctx context.Context, application *app.Application, build runtime.BuildSpec) error {
	out, err := b.client.StartBuild(ctx, &codebuild.StartBuildInput{
		ProjectName:   aws.String(b.project),
		SourceVersion: aws.String(build.Sha),
		EnvironmentVariablesOverride: []cbtypes.EnvironmentVariable{
			{Name: aws.String("REPO_URL"), Value: aws.String(build.Repo)},
			{Name: aws.String("ARTIFACT_BUCKET"), Value: aws.String(build.ArtifactBucket)},
			{Name: aws.String("ARTIFACT_FOLDER"), Value: aws.String(build.ArtifactFolder)},
		},
	})
	if err != nil {
		return classify(err)
	}

	b.mu.Lock()
	b.builds[buildKey(build)] = aws.ToString(out.Build.Id)
	b.mu.Unlock()
	return nil
}

// CheckBuild polls the build. When the build id is not in memory (the
// server restarted mid-build) the project's recent builds are searched for
// the sha before concluding anything.
func (b *Builder) CheckBuild(ctx context.Context, application *app.Application, build runtime.BuildSpec) (runtime.BuildStatus, error) {
	id, err := b.buildID(ctx, build)
	if err != nil {
		return runtime.BuildStatus{}, err
	}
	if id == "" {
		return runtime.BuildStatus{State: runtime.BuildPending}, nil
	}

	out, err := b.client.BatchGetBuilds(ctx, &codebuild.BatchGetBuildsInput{Ids: []string{id}})
	if err != nil {
		return runtime.BuildStatus{}, classify(err)
	}
	if len(out.Builds) == 0 {
		return runtime.BuildStatus{}, runtime.Otherf("build %s not found", id)
	}

	run := out.Builds[0]
	status := runtime.BuildStatus{}
	if run.Logs != nil {
		status.Logs = aws.ToString(run.Logs.DeepLink)
	}

	switch run.BuildStatus {
	case cbtypes.StatusTypeSucceeded:
		status.State = runtime.BuildSucceeded
	case cbtypes.StatusTypeInProgress:
		status.State = runtime.BuildPending
	default:
		status.State = runtime.BuildFailed
		status.Error = string(run.BuildStatus)
	}
	return status, nil
}

// buildID returns the id for a build spec, recovering it from CodeBuild's
// recent history when the in-memory map was lost.
func (b *Builder) buildID(ctx context.Context, build runtime.BuildSpec) (string, error) {
	key := buildKey(build)
	b.mu.Lock()
	id, ok := b.builds[key]
	b.mu.Unlock()
	if ok {
		return id, nil
	}

	listed, err := b.client.ListBuildsForProject(ctx, &codebuild.ListBuildsForProjectInput{
		ProjectName: aws.String(b.project),
		SortOrder:   cbtypes.SortOrderTypeDescending,
	})
	if err != nil {
		return "", classify(err)
	}
	if len(listed.Ids) == 0 {
		return "", nil
	}

	out, err := b.client.BatchGetBuilds(ctx, &codebuild.BatchGetBuildsInput{Ids: listed.Ids})
	if err != nil {
		return "", classify(err)
	}
	for _, run := range out.Builds {
		if aws.ToString(run.SourceVersion) == build.Sha {
			id = aws.ToString(run.Id)
			b.mu.Lock()
			b.builds[key] = id
			b.mu.Unlock()
			return id, nil
		}
	}
	return "", nil
}
