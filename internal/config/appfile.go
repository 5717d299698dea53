package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/resilient-vitality/conveyor/internal/app"
)

// AppFile is the .conveyor.yaml document a repository carries. Stages
// reference accounts and approval groups by name; ParseAppFile resolves
// the references into the application model.
type AppFile struct {
	Org            string                       `yaml:"org"`
	App            string                       `yaml:"app"`
	Accounts       []app.Account                `yaml:"accounts"`
	ApprovalGroups map[string]app.ApprovalGroup `yaml:"approvals"`
	Stages         []AppFileStage               `yaml:"stages"`
	Triggers       []app.Trigger                `yaml:"triggers"`
}

// AppFileStage is one stage entry of .conveyor.yaml. An omitted account
// means the account named "default".
type AppFileStage struct {
	Name      string `yaml:"name"`
	Account   string `yaml:"account,omitempty"`
	Approvers string `yaml:"approvers,omitempty"`
}

// ParseAppFile parses .conveyor.yaml bytes into an application, resolving
// stage account and approver references. A dangling reference is a
// configuration error.
func ParseAppFile(data []byte) (*app.Application, error) {
	var file AppFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse application file: %w", err)
	}
	return file.ToApplication()
}

// ToApplication resolves the file's references into the application model
// and derives the default account index.
func (f *AppFile) ToApplication() (*app.Application, error) {
	if f.Org == "" || f.App == "" {
		return nil, fmt.Errorf("application file must set both org and app")
	}
	if len(f.Accounts) == 0 {
		return nil, fmt.Errorf("application %s/%s declares no accounts", f.Org, f.App)
	}

	application := &app.Application{
		Org:      f.Org,
		App:      f.App,
		Accounts: f.Accounts,
		Triggers: f.Triggers,
	}

	for _, stage := range f.Stages {
		accountName := stage.Account
		if accountName == "" {
			accountName = "default"
		}
		account, ok := accountByName(f.Accounts, accountName)
		if !ok {
			return nil, fmt.Errorf("stage %q references unknown account %q", stage.Name, accountName)
		}
		resolved := app.Stage{Name: stage.Name, Account: account}
		if stage.Approvers != "" {
			group, ok := f.ApprovalGroups[stage.Approvers]
			if !ok {
				return nil, fmt.Errorf("stage %q references unknown approval group %q", stage.Name, stage.Approvers)
			}
			resolved.ApprovalGroup = &group
		}
		application.AddStage(resolved)
	}

	for _, group := range f.ApprovalGroups {
		if group.Kind != app.ApprovalKindSlack {
			return nil, fmt.Errorf("unsupported approval group type %q", group.Kind)
		}
		application.ApprovalGroups = append(application.ApprovalGroups, group)
	}

	for i, account := range f.Accounts {
		if account.IsDefault() {
			idx := i
			application.DefaultAccountIndex = &idx
			break
		}
	}

	return application, nil
}

func accountByName(accounts []app.Account, name string) (app.Account, bool) {
	for _, a := range accounts {
		if a.IsNamed(name) {
			return a, true
		}
	}
	return app.Account{}, false
}

// DefaultAppYAML is the starter .conveyor.yaml written by `conveyor init`.
const DefaultAppYAML = `org: my-org
app: my-app
accounts:
  - name: default
    id: 123456789012
    regions:
      - us-east-1
approvals:
  release:
    type: slack
    people:
      - "@your-handle"
stages:
  - name: dev
    account: default
  - name: prod
    account: default
    approvers: release
triggers:
  - pr:
      deploy: true
  - merge:
      to: master
      deploy:
        - dev
        - prod
  - tag:
      pattern: semver
      deploy:
        - prod
`
