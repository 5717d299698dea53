package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/resilient-vitality/conveyor/internal/app"
	"github.com/resilient-vitality/conveyor/internal/runtime"
)

const (
	testSha  = "cda888fd29a23fdb2d905e4ab6cf50230ce4c37b"
	testRepo = "https://github.com/acme/storefront.git"
)

func testStage(name string) app.Stage {
	return app.Stage{
		Name:    name,
		Account: app.Account{Name: "default", ID: 123456789012, Regions: []string{"us-east-1"}},
	}
}

func TestPipelineAllowsOneBuild(t *testing.T) {
	p := New()
	p.AddAction(NewBuild(testSha, testRepo, "artifacts", "acme/storefront/"+testSha))
	p.AddAction(NewBuild(testSha, testRepo, "artifacts", "acme/storefront/"+testSha))

	if p.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1 after duplicate add", p.PendingCount())
	}
	if p.PopNextAction() == nil {
		t.Fatal("expected one action")
	}
	if p.PopNextAction() != nil {
		t.Fatal("expected queue drained")
	}
}

func TestPipelineDedupIgnoresResultSlot(t *testing.T) {
	done := NewBuild(testSha, testRepo, "artifacts", "f")
	done.Status = &runtime.BuildStatus{State: runtime.BuildSucceeded}
	done.Started = true

	p := New()
	p.AddAction(done)
	p.AddAction(NewBuild(testSha, testRepo, "artifacts", "f"))

	if p.PendingCount() != 1 {
		t.Errorf("pending = %d, want 1; result slots must not affect equality", p.PendingCount())
	}
}

func TestPipelineImmediateActionIsNext(t *testing.T) {
	p := New()
	p.AddAction(NewBuild(testSha, testRepo, "b", "f"))
	urgent := NewTeardown(testStage("pr-2"), testRepo)
	p.AddImmediateAction(urgent)

	next := p.PopNextAction()
	if !urgent.Equal(next) {
		t.Errorf("pop after AddImmediateAction = %v, want the prepended action", next)
	}
}

func TestPipelineCancel(t *testing.T) {
	p := New()
	p.AddAction(NewBuild(testSha, testRepo, "b", "f"))
	p.AddAction(NewDeploy(testStage("dev"), testRepo, testSha, "b", "f"))
	p.Cancel()

	if p.PopNextAction() != nil {
		t.Error("pop after cancel must return nil")
	}
	completed, results := p.Completed(), p.Results()
	if len(completed) != 2 || len(results) != 2 {
		t.Fatalf("completed/results = %d/%d, want 2/2", len(completed), len(results))
	}
	for i, r := range results {
		if r != ResultCanceled {
			t.Errorf("results[%d] = %v, want canceled", i, r)
		}
	}
}

func TestPipelineCompletedResultsStayAligned(t *testing.T) {
	p := New()
	b := NewBuild(testSha, testRepo, "b", "f")
	p.AddAction(b)
	p.AddAction(NewDeploy(testStage("dev"), testRepo, testSha, "b", "f"))

	a := p.PopNextAction()
	p.CompleteAction(a, ResultSuccess)
	p.Cancel()

	if len(p.Completed()) != len(p.Results()) {
		t.Fatalf("completed and results diverged: %d vs %d", len(p.Completed()), len(p.Results()))
	}
}

func TestPipelineSerializationRoundTrip(t *testing.T) {
	stage := testStage("prod")
	group := app.ApprovalGroup{Kind: app.ApprovalKindSlack, People: []string{"@alex", "@sam"}}
	stage.ApprovalGroup = &group

	p := New()
	build := NewBuild(testSha, testRepo, "artifacts", "acme/storefront/"+testSha)
	build.Started = true
	build.Status = &runtime.BuildStatus{State: runtime.BuildSucceeded, Logs: "https://logs.example/1"}
	p.AddAction(build)
	p.AddAction(NewApproval(group, "prod", testSha, "acme/storefront"))
	p.AddAction(NewDeploy(stage, testRepo, testSha, "artifacts", "acme/storefront/"+testSha))
	p.CompleteAction(NewTeardown(testStage("pr-2"), testRepo), ResultSuccess)

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var restored Pipeline
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if restored.PendingCount() != 3 {
		t.Fatalf("restored pending = %d, want 3", restored.PendingCount())
	}
	got := restored.PopNextAction()
	rb, ok := got.(*Build)
	if !ok {
		t.Fatalf("restored front action is %T, want *Build", got)
	}
	if !rb.started() {
		t.Error("started flag lost in round trip")
	}
	if rb.Status == nil || rb.Status.State != runtime.BuildSucceeded || rb.Status.Logs != "https://logs.example/1" {
		t.Errorf("build result slot lost in round trip: %+v", rb.Status)
	}
	if !build.Equal(rb) {
		t.Error("restored build does not compare equal to original")
	}

	if len(restored.Completed()) != 1 || restored.Results()[0] != ResultSuccess {
		t.Errorf("completed history lost in round trip")
	}
}

func TestPipelineSnapshotRejectsMisalignedHistory(t *testing.T) {
	corrupt := []byte(`{"pending":[],"completed":[{"kind":"build","action":{"sha":"x","repo":"y","artifact_bucket":"b","artifact_folder":"f"}}],"results":[]}`)
	var p Pipeline
	if err := json.Unmarshal(corrupt, &p); err == nil {
		t.Error("expected error for misaligned completed/results")
	}
}

func TestActionEqualityAcrossKinds(t *testing.T) {
	stage := testStage("dev")
	if NewBuild(testSha, testRepo, "b", "f").Equal(NewTeardown(stage, testRepo)) {
		t.Error("different variants must not compare equal")
	}
	if !NewTeardown(stage, testRepo).Equal(NewTeardown(testStage("dev"), testRepo)) {
		t.Error("same teardown target must compare equal")
	}
	if NewNotify(app.ApprovalGroup{Kind: app.ApprovalKindSlack}, "a").Equal(NewNotify(app.ApprovalGroup{Kind: app.ApprovalKindSlack}, "b")) {
		t.Error("notifications with different messages must differ")
	}
}
