package pipeline

import (
	"context"

	"github.com/resilient-vitality/conveyor/internal/app"
	"github.com/resilient-vitality/conveyor/internal/runtime"
)

// Approval asks a group of humans for permission before the pipeline
// continues. It sits in front of the deploy it guards; rejection fails the
// pipeline and cancels everything behind it.
type Approval struct {
	actionState
	Group     app.ApprovalGroup       `json:"approval_group"`
	StageName string                  `json:"stage_name"`
	Sha       string                  `json:"sha"`
	AppName   string                  `json:"app_name"`
	Status    *runtime.ApprovalStatus `json:"result,omitempty"`
}

// NewApproval creates an approval action guarding a stage deployment.
func NewApproval(group app.ApprovalGroup, stageName, sha, appName string) *Approval {
	return &Approval{
		Group:     group,
		StageName: stageName,
		Sha:       sha,
		AppName:   appName,
	}
}

func (a *Approval) Kind() Kind { return KindApproval }

func (a *Approval) request() runtime.ApprovalRequest {
	return runtime.ApprovalRequest{
		Group:     a.Group,
		StageName: a.StageName,
		Sha:       a.Sha,
		AppName:   a.AppName,
	}
}

// Start sends the approval request to the group.
func (a *Approval) Start(ctx context.Context, rt *runtime.Context) error {
	return rt.Approver.StartApproval(ctx, a.request())
}

// IsDone polls for an answer, caching it once somebody has decided.
func (a *Approval) IsDone(ctx context.Context, rt *runtime.Context) (bool, error) {
	status, err := rt.Approver.CheckApproval(ctx, a.request())
	if err != nil {
		return false, err
	}
	if !status.Terminal() {
		return false, nil
	}
	a.Status = &status
	return true, nil
}

func (a *Approval) Result() ActionResult {
	if a.Status == nil {
		return ResultFailed
	}
	switch a.Status.State {
	case runtime.ApprovalApproved, runtime.ApprovalNotNeeded:
		return ResultSuccess
	default:
		return ResultFailed
	}
}

func (a *Approval) NewWork(rt *runtime.Context) []Action { return nil }

func (a *Approval) Equal(other Action) bool {
	o, ok := other.(*Approval)
	if !ok {
		return false
	}
	return a.Group.Equal(o.Group) && a.StageName == o.StageName &&
		a.Sha == o.Sha && a.AppName == o.AppName
}
