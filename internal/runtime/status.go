package runtime

// Status types reported by substrates. They describe the state of the job
// in the external system, never the health of the call that checked it; a
// check that cannot determine the outcome reports the pending value, and a
// check that itself failed returns an error instead.

// BuildState is the progress of a build in the build substrate.
type BuildState string

const (
	// BuildPending means the final result is not yet known.
	BuildPending BuildState = "pending"
	// BuildSucceeded means the build completed and artifacts were stored.
	BuildSucceeded BuildState = "succeeded"
	// BuildFailed means the build completed unsuccessfully.
	BuildFailed BuildState = "failed"
)

// BuildStatus is the state of a build plus a link to its logs.
type BuildStatus struct {
	State BuildState `json:"state"`
	// Logs is a URL that can be followed to view build output.
	Logs string `json:"logs,omitempty"`
	// Error carries additional failure detail when State is BuildFailed.
	Error string `json:"error,omitempty"`
}

// DeployStatus is the progress of a stack create or update.
type DeployStatus string

const (
	DeployPending  DeployStatus = "pending"
	DeployComplete DeployStatus = "complete"
	DeployFailed   DeployStatus = "failed"
)

// TeardownStatus is the progress of a stack deletion.
type TeardownStatus string

const (
	TeardownPending  TeardownStatus = "pending"
	TeardownComplete TeardownStatus = "complete"
	TeardownFailed   TeardownStatus = "failed"
)

// ApprovalState is the progress of a human approval request.
type ApprovalState string

const (
	// ApprovalUnasked means the request has not been sent yet.
	ApprovalUnasked ApprovalState = "unasked"
	// ApprovalPending means the participants were asked but nobody has
	// responded.
	ApprovalPending ApprovalState = "pending"
	// ApprovalNotNeeded means the stage required no approval.
	ApprovalNotNeeded ApprovalState = "not_needed"
	// ApprovalApproved means somebody approved the deployment.
	ApprovalApproved ApprovalState = "approved"
	// ApprovalRejected means somebody explicitly denied the deployment.
	ApprovalRejected ApprovalState = "rejected"
)

// ApprovalStatus is the state of an approval plus who decided it.
type ApprovalStatus struct {
	State ApprovalState `json:"state"`
	// By is the handle of the responder for approved and rejected states.
	By string `json:"by,omitempty"`
}

// Terminal reports whether the approval has reached a final state.
func (s ApprovalStatus) Terminal() bool {
	switch s.State {
	case ApprovalApproved, ApprovalRejected, ApprovalNotNeeded:
		return true
	}
	return false
}
