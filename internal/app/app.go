// Package app defines the core model for applications managed by Conveyor:
// cloud accounts, deployable stages, approval groups, and the triggers that
// map version-control events onto pipelines.
package app

import (
	"fmt"
)

// DefaultAccountName is the account name that marks an account as the
// default candidate for fabricated stages.
const DefaultAccountName = "default"

// Account is a cloud provider account that stages deploy into.
// Accounts are immutable after application load.
type Account struct {
	// Name is the user-facing name of the account, e.g. "default" or "prod".
	Name string `yaml:"name" json:"name"`
	// ID is the numeric account identifier with the cloud provider.
	ID int `yaml:"id" json:"id"`
	// Regions is the ordered list of regions the account deploys to.
	Regions []string `yaml:"regions" json:"regions"`
}

// IsDefault reports whether the account is the default candidate.
func (a Account) IsDefault() bool {
	return a.Name == DefaultAccountName
}

// IsNamed reports whether the account carries the given name.
func (a Account) IsNamed(name string) bool {
	return a.Name == name
}

// Equal compares two accounts by value, including region order.
func (a Account) Equal(other Account) bool {
	if a.Name != other.Name || a.ID != other.ID || len(a.Regions) != len(other.Regions) {
		return false
	}
	for i := range a.Regions {
		if a.Regions[i] != other.Regions[i] {
			return false
		}
	}
	return true
}

// ApprovalKindSlack is the only approval group kind currently supported.
const ApprovalKindSlack = "slack"

// ApprovalGroup is a group of humans asked to approve a deployment.
// The kind selects the service used to reach them; only Slack is
// implemented today.
type ApprovalGroup struct {
	Kind string `yaml:"type" json:"type"`
	// People is the ordered list of handles that receive the request.
	People []string `yaml:"people" json:"people"`
}

// Equal compares two approval groups by value, including people order.
func (g ApprovalGroup) Equal(other ApprovalGroup) bool {
	if g.Kind != other.Kind || len(g.People) != len(other.People) {
		return false
	}
	for i := range g.People {
		if g.People[i] != other.People[i] {
			return false
		}
	}
	return true
}

// Stage is a deployable environment of an application. It is either
// user-declared in .conveyor.yaml ("dev", "prod") or fabricated on demand
// for a pull request, in which case it is named "pr-{N}" and inherits the
// application's default account with no approval group.
type Stage struct {
	Name          string         `yaml:"name" json:"name"`
	Account       Account        `yaml:"account" json:"account"`
	ApprovalGroup *ApprovalGroup `yaml:"approval_group,omitempty" json:"approval_group,omitempty"`
}

// IsForPR reports whether the stage is the fabricated stage for the given
// pull request number.
func (s Stage) IsForPR(number int) bool {
	return s.Name == fmt.Sprintf("pr-%d", number)
}

// Equal compares two stages by value.
func (s Stage) Equal(other Stage) bool {
	if s.Name != other.Name || !s.Account.Equal(other.Account) {
		return false
	}
	if (s.ApprovalGroup == nil) != (other.ApprovalGroup == nil) {
		return false
	}
	if s.ApprovalGroup != nil && !s.ApprovalGroup.Equal(*other.ApprovalGroup) {
		return false
	}
	return true
}

// Application is one source-controlled application managed by Conveyor.
// The application is mutable: matching a PR-create event may append a
// fabricated stage. Hosts must serialize concurrent mutation per
// application; the model provides no locking of its own.
type Application struct {
	Org            string          `yaml:"org" json:"org"`
	App            string          `yaml:"app" json:"app"`
	Accounts       []Account       `yaml:"accounts" json:"accounts"`
	Stages         []Stage         `yaml:"stages" json:"stages"`
	Triggers       []Trigger       `yaml:"triggers" json:"triggers"`
	ApprovalGroups []ApprovalGroup `yaml:"approval_groups,omitempty" json:"approval_groups,omitempty"`

	// DefaultAccountIndex indexes Accounts when a default account exists.
	// It is derived at load time and always indexes a valid entry.
	DefaultAccountIndex *int `yaml:"-" json:"default_account_index,omitempty"`
}

// FullName returns the org-qualified application name, e.g. "acme/storefront".
func (a *Application) FullName() string {
	return a.Org + "/" + a.App
}

// DefaultAccount returns the default account for the application if one
// is configured.
func (a *Application) DefaultAccount() (Account, bool) {
	if a.DefaultAccountIndex == nil {
		return Account{}, false
	}
	return a.Accounts[*a.DefaultAccountIndex], true
}

// AddStage appends a stage to the application.
func (a *Application) AddStage(s Stage) {
	a.Stages = append(a.Stages, s)
}

// StageByName returns the stage with the given name if the application
// declares one.
func (a *Application) StageByName(name string) (Stage, bool) {
	for _, s := range a.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// StageForPR returns the fabricated stage for the given pull request
// number if one exists on the application.
func (a *Application) StageForPR(number int) (Stage, bool) {
	for _, s := range a.Stages {
		if s.IsForPR(number) {
			return s, true
		}
	}
	return Stage{}, false
}

// FabricateStageForPR builds the ephemeral stage for a pull request. The
// stage inherits the application's default account and carries no approval
// group. The stage is not added to the application; callers decide whether
// to keep it.
func FabricateStageForPR(a *Application, number int) (Stage, error) {
	account, ok := a.DefaultAccount()
	if !ok {
		return Stage{}, fmt.Errorf("application %s has no default account to fabricate stage for pr %d", a.FullName(), number)
	}
	return Stage{
		Name:    fmt.Sprintf("pr-%d", number),
		Account: account,
	}, nil
}
