package config

import (
	"strings"
	"testing"

	"github.com/resilient-vitality/conveyor/internal/app"
)

const sampleAppYAML = `
org: acme
app: storefront
accounts:
  - name: default
    id: 123456789012
    regions:
      - us-east-1
  - name: prod
    id: 210987654321
    regions:
      - us-east-1
      - eu-west-1
approvals:
  release:
    type: slack
    people:
      - "@alex"
      - "@sam"
stages:
  - name: dev
    account: default
  - name: prod
    account: prod
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

func TestParseAppFile(t *testing.T) {
	application, err := ParseAppFile([]byte(sampleAppYAML))
	if err != nil {
		t.Fatalf("ParseAppFile: %v", err)
	}

	if application.FullName() != "acme/storefront" {
		t.Errorf("full name = %q", application.FullName())
	}
	if len(application.Stages) != 2 {
		t.Fatalf("stages = %d, want 2", len(application.Stages))
	}

	dev, ok := application.StageByName("dev")
	if !ok || dev.Account.ID != 123456789012 || dev.ApprovalGroup != nil {
		t.Errorf("dev stage = %+v", dev)
	}

	prod, ok := application.StageByName("prod")
	if !ok {
		t.Fatal("prod stage missing")
	}
	if prod.Account.ID != 210987654321 || len(prod.Account.Regions) != 2 {
		t.Errorf("prod account = %+v", prod.Account)
	}
	if prod.ApprovalGroup == nil || prod.ApprovalGroup.Kind != app.ApprovalKindSlack || len(prod.ApprovalGroup.People) != 2 {
		t.Errorf("prod approvers = %+v", prod.ApprovalGroup)
	}

	account, ok := application.DefaultAccount()
	if !ok || account.Name != "default" {
		t.Errorf("default account = %+v ok=%v", account, ok)
	}

	if len(application.Triggers) != 3 {
		t.Fatalf("triggers = %d, want 3", len(application.Triggers))
	}
	if application.Triggers[0].Pr == nil || !application.Triggers[0].Pr.Deploy {
		t.Errorf("triggers[0] = %+v, want deploying pr trigger", application.Triggers[0])
	}
	if m := application.Triggers[1].Merge; m == nil || m.To != "master" || len(m.Stages) != 2 {
		t.Errorf("triggers[1] = %+v", application.Triggers[1])
	}
	if tag := application.Triggers[2].Tag; tag == nil || tag.Pattern != "semver" {
		t.Errorf("triggers[2] = %+v", application.Triggers[2])
	}
}

func TestParseAppFileOmittedAccountMeansDefault(t *testing.T) {
	noAccount := strings.Replace(sampleAppYAML, "  - name: dev\n    account: default\n", "  - name: dev\n", 1)

	application, err := ParseAppFile([]byte(noAccount))
	if err != nil {
		t.Fatalf("ParseAppFile: %v", err)
	}
	dev, ok := application.StageByName("dev")
	if !ok || dev.Account.Name != "default" || dev.Account.ID != 123456789012 {
		t.Errorf("stage without an account entry = %+v, want the default account", dev)
	}
}

func TestParseAppFileDanglingReferences(t *testing.T) {
	badAccount := strings.Replace(sampleAppYAML, "account: prod", "account: staging", 1)
	if _, err := ParseAppFile([]byte(badAccount)); err == nil || !strings.Contains(err.Error(), "staging") {
		t.Errorf("dangling account reference: err = %v", err)
	}

	badGroup := strings.Replace(sampleAppYAML, "approvers: release", "approvers: managers", 1)
	if _, err := ParseAppFile([]byte(badGroup)); err == nil || !strings.Contains(err.Error(), "managers") {
		t.Errorf("dangling approver reference: err = %v", err)
	}
}

func TestParseAppFileRejectsUnknownApproverKind(t *testing.T) {
	bad := strings.Replace(sampleAppYAML, "type: slack", "type: pagerduty", 1)
	if _, err := ParseAppFile([]byte(bad)); err == nil || !strings.Contains(err.Error(), "pagerduty") {
		t.Errorf("unknown approver kind: err = %v", err)
	}
}

func TestParseAppFileWithoutDefaultAccount(t *testing.T) {
	noDefault := strings.Replace(sampleAppYAML, "name: default", "name: primary", 1)
	noDefault = strings.Replace(noDefault, "account: default", "account: primary", 1)

	application, err := ParseAppFile([]byte(noDefault))
	if err != nil {
		t.Fatalf("ParseAppFile: %v", err)
	}
	if _, ok := application.DefaultAccount(); ok {
		t.Error("no account named default, yet a default was derived")
	}
}

func TestDefaultAppYAMLParses(t *testing.T) {
	application, err := ParseAppFile([]byte(DefaultAppYAML))
	if err != nil {
		t.Fatalf("the init template must parse: %v", err)
	}
	if _, ok := application.DefaultAccount(); !ok {
		t.Error("the init template must carry a default account")
	}
}
