// Package vcs defines the normalized events that version-control providers
// emit against a repository. Webhook interpreters translate provider
// payloads into these events; the trigger matcher consumes them.
package vcs

// Event is one semantic version-control event. It is a closed sum:
// Merge, TagPush, PullRequestCreate, PullRequestUpdate and
// PullRequestComplete are the only variants.
type Event interface {
	isEvent()
}

// Merge indicates that a branch was merged into another.
type Merge struct {
	// ToBranch is the branch that was merged into.
	ToBranch string `json:"to_branch"`
	// FromBranch is the branch that was merged from.
	FromBranch string `json:"from_branch"`
	// Sha is the new head of the target branch.
	Sha string `json:"sha"`
}

// TagPush indicates that a tag was pushed.
type TagPush struct {
	Tag string `json:"tag"`
	Sha string `json:"sha"`
}

// PullRequestCreate indicates that a pull request was opened or reopened.
type PullRequestCreate struct {
	SourceBranch string `json:"source_branch"`
	Number       int    `json:"pr_number"`
	Sha          string `json:"sha"`
}

// PullRequestUpdate indicates that new commits were pushed to an existing
// pull request.
type PullRequestUpdate struct {
	SourceBranch string `json:"source_branch"`
	Number       int    `json:"pr_number"`
	Sha          string `json:"sha"`
}

// PullRequestComplete indicates that a pull request was closed. Merged
// reports whether it was merged into its target branch.
type PullRequestComplete struct {
	Number int  `json:"pr_number"`
	Merged bool `json:"merged"`
}

func (Merge) isEvent()               {}
func (TagPush) isEvent()             {}
func (PullRequestCreate) isEvent()   {}
func (PullRequestUpdate) isEvent()   {}
func (PullRequestComplete) isEvent() {}
