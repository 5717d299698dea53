package pipeline

import (
	"context"

	"github.com/resilient-vitality/conveyor/internal/app"
	"github.com/resilient-vitality/conveyor/internal/runtime"
)

// Notify delivers a best-effort status message to an approval group's
// channel. Delivery failures produce ResultFailedAllow so the pipeline
// continues.
type Notify struct {
	actionState
	Group     app.ApprovalGroup `json:"approval_group"`
	Message   string            `json:"message"`
	Delivered *bool             `json:"result,omitempty"`
}

// NewNotify creates a notification action.
func NewNotify(group app.ApprovalGroup, message string) *Notify {
	return &Notify{Group: group, Message: message}
}

func (n *Notify) Kind() Kind { return KindNotify }

// Start delivers the message. Failures are recorded, not propagated; a
// notification must never stall a pipeline on retries.
func (n *Notify) Start(ctx context.Context, rt *runtime.Context) error {
	err := rt.Notifier.Notify(ctx, runtime.Notification{Group: n.Group, Message: n.Message})
	delivered := err == nil
	n.Delivered = &delivered
	return nil
}

func (n *Notify) IsDone(ctx context.Context, rt *runtime.Context) (bool, error) {
	return n.Delivered != nil, nil
}

func (n *Notify) Result() ActionResult {
	if n.Delivered != nil && *n.Delivered {
		return ResultSuccess
	}
	return ResultFailedAllow
}

func (n *Notify) NewWork(rt *runtime.Context) []Action { return nil }

func (n *Notify) Equal(other Action) bool {
	o, ok := other.(*Notify)
	if !ok {
		return false
	}
	return n.Group.Equal(o.Group) && n.Message == o.Message
}
