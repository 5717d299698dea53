// Package aws implements the build, deploy, teardown, and artifact
// substrates on AWS: CodeBuild runs builds, CloudFormation owns stacks,
// and S3 holds artifacts. The stack for application {org, app} stage
// {name} is named "{org}-{app}-{name}".
package aws

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"

	"github.com/resilient-vitality/conveyor/internal/app"
	"github.com/resilient-vitality/conveyor/internal/runtime"
)

// Substrate bundles the AWS-backed substrate implementations.
type Substrate struct {
	Artifacts *ArtifactProvider
	Builder   *Builder
	Infra     *Infrastructure
	Teardown  *Teardown
}

// New loads the ambient AWS configuration and wires up all substrates.
func New(ctx context.Context, region, artifactBucket, codeBuildProject string) (*Substrate, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", runtime.ErrCredentials, err)
	}

	cfn := cloudformation.NewFromConfig(cfg)
	cb := codebuild.NewFromConfig(cfg)

	return &Substrate{
		Artifacts: NewArtifactProvider(artifactBucket),
		Builder:   NewBuilder(cb, codeBuildProject),
		Infra:     NewInfrastructure(cfn),
		Teardown:  NewTeardown(cfn),
	}, nil
}

// StackName returns the CloudFormation stack name for a stage.
func StackName(application *app.Application, stageName string) string {
	return fmt.Sprintf("%s-%s-%s", application.Org, application.App, stageName)
}

// classify maps AWS API failures onto the substrate error taxonomy.
func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ExpiredToken"),
		strings.Contains(msg, "InvalidClientTokenId"),
		strings.Contains(msg, "AccessDenied"),
		strings.Contains(msg, "UnauthorizedOperation"),
		strings.Contains(msg, "no EC2 IMDS role found"):
		return fmt.Errorf("%w: %v", runtime.ErrCredentials, err)
	default:
		return runtime.Otherf("aws request failed: %v", err)
	}
}
