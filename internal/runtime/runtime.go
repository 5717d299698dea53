// Package runtime defines the capability bundle handed to every pipeline
// action and the substrate interfaces it is built from. A substrate is an
// external system that actually executes work (a build service, a cloud
// provider, a chat service for approvals); Conveyor only commands and
// observes it through start/check pairs.
package runtime

import (
	"context"

	"github.com/resilient-vitality/conveyor/internal/app"
)

// BuildSpec identifies one build job to the build substrate.
type BuildSpec struct {
	Repo           string
	Sha            string
	ArtifactBucket string
	ArtifactFolder string
}

// DeploySpec identifies one stack create-or-update to the deploy substrate.
type DeploySpec struct {
	Stage          app.Stage
	Repo           string
	Sha            string
	ArtifactBucket string
	ArtifactFolder string
}

// TeardownSpec identifies one stack deletion to the teardown substrate.
type TeardownSpec struct {
	Stage app.Stage
	Repo  string
}

// ApprovalRequest identifies one human approval to the approval substrate.
type ApprovalRequest struct {
	Group     app.ApprovalGroup
	StageName string
	Sha       string
	AppName   string
}

// Notification is a best-effort message delivered to an approval group's
// channel.
type Notification struct {
	Group   app.ApprovalGroup
	Message string
}

// ArtifactProvider yields the storage locations that builds write to and
// deploys read from.
type ArtifactProvider interface {
	// Bucket returns the bucket name artifacts for the application live in.
	Bucket(ctx context.Context, application *app.Application) (string, error)
	// Folder returns the path inside the bucket for a given git ref.
	Folder(ctx context.Context, application *app.Application, gitRef string) (string, error)
}

// Builder starts builds on an external build service and polls them.
// Builds are stage agnostic; the same artifacts may serve several stage
// deployments later in the pipeline.
type Builder interface {
	StartBuild(ctx context.Context, application *app.Application, build BuildSpec) error
	// CheckBuild polls the build. An implementation that cannot determine
	// the outcome returns BuildPending, not an error.
	CheckBuild(ctx context.Context, application *app.Application, build BuildSpec) (BuildStatus, error)
}

// Infrastructure creates or updates infrastructure stacks. Starting a
// deployment must create the stack when it does not exist and update it
// when it does; the stack for application {org, app} stage {name} is named
// "{org}-{app}-{name}".
type Infrastructure interface {
	StartDeployment(ctx context.Context, application *app.Application, deploy DeploySpec) error
	CheckDeployment(ctx context.Context, application *app.Application, deploy DeploySpec) (DeployStatus, error)
}

// Teardown deletes infrastructure stacks that are no longer needed. It
// relies on the same stack naming convention as Infrastructure.
type Teardown interface {
	StartTeardown(ctx context.Context, application *app.Application, teardown TeardownSpec) error
	CheckTeardown(ctx context.Context, application *app.Application, teardown TeardownSpec) (TeardownStatus, error)
}

// Approver asks humans for permission to continue a pipeline and polls for
// their answer.
type Approver interface {
	StartApproval(ctx context.Context, req ApprovalRequest) error
	CheckApproval(ctx context.Context, req ApprovalRequest) (ApprovalStatus, error)
}

// Notifier delivers best-effort status messages. Failures to notify never
// fail a pipeline.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ApplicationStore resolves repositories to applications and persists
// application mutations (fabricated PR stages, config refreshes). The
// store serializes writes per repository.
type ApplicationStore interface {
	// ApplicationByRepo returns the application registered for the clone
	// URL, or nil when the repository is unknown.
	ApplicationByRepo(ctx context.Context, repo string) (*app.Application, error)
	SaveApplication(ctx context.Context, repo string, application *app.Application) error
}

// ApplicationLoader re-reads an application's configuration from its
// repository. Used by the app-update action.
type ApplicationLoader interface {
	LoadApplicationFromRepo(ctx context.Context, repo string) (*app.Application, error)
}

// Context is the capability bundle injected into every action. It is
// read-only from an action's perspective except for Apps, which hands back
// mutable application state so trigger matching can append fabricated
// stages.
type Context struct {
	Artifacts      ArtifactProvider
	Builder        Builder
	Infrastructure Infrastructure
	Teardown       Teardown
	Approver       Approver
	Notifier       Notifier
	Apps           ApplicationStore
	Loader         ApplicationLoader
}
