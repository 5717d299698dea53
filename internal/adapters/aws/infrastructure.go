package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/resilient-vitality/conveyor/internal/app"
	"github.com/resilient-vitality/conveyor/internal/runtime"
)

// cloudFormationAPI is the slice of the CloudFormation client the deploy
// and teardown substrates use.
type cloudFormationAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
}

// Infrastructure deploys stages as CloudFormation stacks from the packaged
// template the build left in the artifact folder.
type Infrastructure struct {
	client cloudFormationAPI
}

// NewInfrastructure creates the deploy substrate
func NewInfrastructure(client cloudFormationAPI) *Infrastructure {
	return &Infrastructure{client: client}
}

// templateURL locates the packaged template inside the artifact folder.
func templateURL(bucket, folder string) string {
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s/template.yaml", bucket, strings.TrimSuffix(folder, "/"))
}

var deployCapabilities = []cfntypes.Capability{
	cfntypes.CapabilityCapabilityIam,
	cfntypes.CapabilityCapabilityNamedIam,
	cfntypes.CapabilityCapabilityAutoExpand,
}

// StartDeployment creates the stack when it does not exist and updates it
// when it does. An update with nothing to change counts as started; the
// poll will see the stack already settled.
func (i *Infrastructure) StartDeployment(ctx context.Context, application *app.Application, deploy runtime.DeploySpec) error {
	name := StackName(application, deploy.Stage.Name)
	url := templateURL(deploy.ArtifactBucket, deploy.ArtifactFolder)

	exists, err := i.stackExists(ctx, name)
	if err != nil {
		return err
	}

	if !exists {
		_, err = i.client.CreateStack(ctx, &cloudformation.CreateStackInput{
			StackName:    aws.String(name),
			TemplateURL:  aws.String(url),
			Capabilities: deployCapabilities,
		})
		if err != nil {
			return classify(err)
		}
		return nil
	}

	_, err = i.client.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(name),
		TemplateURL:  aws.String(url),
		Capabilities: deployCapabilities,
	})
	if err != nil {
		if strings.Contains(err.Error(), "No updates are to be performed") {
			return nil
		}
		return classify(err)
	}
	return nil
}

// CheckDeployment polls the stack status
func (i *Infrastructure) CheckDeployment(ctx context.Context, application *app.Application, deploy runtime.DeploySpec) (runtime.DeployStatus, error) {
	name := StackName(application, deploy.Stage.Name)
	status, found, err := describeStackStatus(ctx, i.client, name)
	if err != nil {
		return "", err
	}
	if !found {
		return "", runtime.Otherf("stack %s disappeared during deployment", name)
	}

	switch {
	case strings.HasSuffix(string(status), "_IN_PROGRESS"):
		return runtime.DeployPending, nil
	case status == cfntypes.StackStatusCreateComplete,
		status == cfntypes.StackStatusUpdateComplete:
		return runtime.DeployComplete, nil
	default:
		return runtime.DeployFailed, nil
	}
}

// stackExists reports whether a stack with the name exists
func (i *Infrastructure) stackExists(ctx context.Context, name string) (bool, error) {
	_, found, err := describeStackStatus(ctx, i.client, name)
	return found, err
}

// describeStackStatus looks a stack up by name. A missing stack is not an
// error; CloudFormation reports it as a ValidationError.
func describeStackStatus(ctx context.Context, client cloudFormationAPI, name string) (cfntypes.StackStatus, bool, error) {
	out, err := client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(name),
	})
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return "", false, nil
		}
		return "", false, classify(err)
	}
	if len(out.Stacks) == 0 {
		return "", false, nil
	}
	return out.Stacks[0].StackStatus, true, nil
}
