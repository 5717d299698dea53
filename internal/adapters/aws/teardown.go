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

// Teardown deletes the CloudFormation stack backing a retired stage.
type Teardown struct {
	client cloudFormationAPI
}

// NewTeardown creates the teardown substrate
func NewTeardown(client cloudFormationAPI) *Teardown {
	return &Teardown{client: client}
}

// StartTeardown kicks off the stack deletion. Deleting an already absent
// stack succeeds; the poll reports it complete. A stack under termination
// protection cannot be deleted and says so.
func (t *Teardown) StartTeardown(ctx context.Context, application *app.Application, teardown runtime.TeardownSpec) error {
	name := StackName(application, teardown.Stage.Name)

	out, err := t.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(name),
	})
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return nil
		}
		return classify(err)
	}
	if len(out.Stacks) > 0 && aws.ToBool(out.Stacks[0].EnableTerminationProtection) {
		return fmt.Errorf("%w: stack %s has termination protection enabled", runtime.ErrCannotDelete, name)
	}

	if _, err := t.client.DeleteStack(ctx, &cloudformation.DeleteStackInput{StackName: aws.String(name)}); err != nil {
		return classify(err)
	}
	return nil
}

// CheckTeardown polls the deletion. A stack that no longer exists is the
// success case.
func (t *Teardown) CheckTeardown(ctx context.Context, application *app.Application, teardown runtime.TeardownSpec) (runtime.TeardownStatus, error) {
	name := StackName(application, teardown.Stage.Name)
	status, found, err := describeStackStatus(ctx, t.client, name)
	if err != nil {
		return "", err
	}
	if !found || status == cfntypes.StackStatusDeleteComplete {
		return runtime.TeardownComplete, nil
	}

	switch status {
	case cfntypes.StackStatusDeleteInProgress:
		return runtime.TeardownPending, nil
	case cfntypes.StackStatusDeleteFailed:
		return runtime.TeardownFailed, nil
	default:
		// Deletion has not taken effect yet.
		return runtime.TeardownPending, nil
	}
}
