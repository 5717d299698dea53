package app

// Trigger is a user-declared rule that maps a version-control event onto
// pipeline actions. Exactly one of the variant fields is set; which one
// decides the kind of event the trigger responds to.
type Trigger struct {
	Pr    *PrTrigger    `yaml:"pr,omitempty" json:"pr,omitempty"`
	Merge *MergeTrigger `yaml:"merge,omitempty" json:"merge,omitempty"`
	Tag   *TagTrigger   `yaml:"tag,omitempty" json:"tag,omitempty"`
}

// PrTrigger reacts to pull request lifecycle events. A PR always triggers
// a build; it deploys to an ephemeral pr-{N} stage only when Deploy is set.
type PrTrigger struct {
	Deploy bool `yaml:"deploy" json:"deploy"`
}

// MergeTrigger reacts to merges into branches matching To, optionally
// filtered by the branch merged from. Stages lists the stage names to
// deploy to, in order.
type MergeTrigger struct {
	// To is a regular expression matched against the branch merged into.
	To string `yaml:"to" json:"to"`
	// From is an optional regular expression matched against the branch
	// merged from. Empty means any branch.
	From string `yaml:"from,omitempty" json:"from,omitempty"`
	// Stages is the ordered list of stage names to deploy.
	Stages []string `yaml:"deploy" json:"deploy"`
}

// TagTrigger reacts to tag pushes matching Pattern. The literal pattern
// "semver" selects a built-in semantic version regex.
type TagTrigger struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	// Stages is the ordered list of stage names to deploy.
	Stages []string `yaml:"deploy" json:"deploy"`
}
