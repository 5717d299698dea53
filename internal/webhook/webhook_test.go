package webhook

import (
	"context"
	"testing"

	"github.com/resilient-vitality/conveyor/internal/app"
	"github.com/resilient-vitality/conveyor/internal/pipeline"
	"github.com/resilient-vitality/conveyor/internal/vcs"
)

// fakeIntermediary is a pre-parsed payload for the fake interpreter.
type fakeIntermediary struct {
	repo   string
	events []vcs.Event
}

type fakeInterpreter struct {
	intermediaries []fakeIntermediary
}

func (f *fakeInterpreter) ParseToIntermediary(req *Request) []fakeIntermediary {
	return f.intermediaries
}

func (f *fakeInterpreter) Repo(i fakeIntermediary) string { return i.repo }

func (f *fakeInterpreter) Events(i fakeIntermediary) []vcs.Event { return i.events }

type fakeAppStore struct {
	apps  map[string]*app.Application
	saved map[string]*app.Application
}

func (s *fakeAppStore) ApplicationByRepo(ctx context.Context, repo string) (*app.Application, error) {
	return s.apps[repo], nil
}

func (s *fakeAppStore) SaveApplication(ctx context.Context, repo string, application *app.Application) error {
	if s.saved == nil {
		s.saved = map[string]*app.Application{}
	}
	s.saved[repo] = application
	return nil
}

func TestInterpretEventsResolvesApplications(t *testing.T) {
	application := testApp(t)
	store := &fakeAppStore{apps: map[string]*app.Application{testRepo: application}}
	in := &fakeInterpreter{intermediaries: []fakeIntermediary{
		{repo: testRepo, events: []vcs.Event{
			vcs.PullRequestComplete{Number: 2, Merged: true},
			vcs.Merge{ToBranch: "master", FromBranch: "feature/x", Sha: testSha},
		}},
	}}

	events, err := InterpretEvents(context.Background(), in, store, &Request{})
	if err != nil {
		t.Fatalf("InterpretEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 (merged close fans out)", len(events))
	}
	for i, ev := range events {
		if ev.App != application {
			t.Errorf("events[%d] resolved wrong application", i)
		}
		if ev.Repo != testRepo {
			t.Errorf("events[%d].Repo = %q", i, ev.Repo)
		}
	}
}

func TestInterpretEventsDropsUnknownRepos(t *testing.T) {
	store := &fakeAppStore{apps: map[string]*app.Application{}}
	in := &fakeInterpreter{intermediaries: []fakeIntermediary{
		{repo: "https://github.com/acme/unregistered.git", events: []vcs.Event{
			vcs.TagPush{Tag: "1.0.0", Sha: testSha},
		}},
	}}

	events, err := InterpretEvents(context.Background(), in, store, &Request{})
	if err != nil {
		t.Fatalf("InterpretEvents: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events for unregistered repo = %d, want 0", len(events))
	}
}

func TestHandleWebhookEventProducesPipelines(t *testing.T) {
	application := testApp(t)
	store := &fakeAppStore{apps: map[string]*app.Application{testRepo: application}}
	in := &fakeInterpreter{intermediaries: []fakeIntermediary{
		{repo: testRepo, events: []vcs.Event{
			vcs.Merge{ToBranch: "master", FromBranch: "feature/x", Sha: testSha},
		}},
	}}

	triggered, err := HandleWebhookEvent(context.Background(), in, store, fakeArtifacts{}, &Request{})
	if err != nil {
		t.Fatalf("HandleWebhookEvent: %v", err)
	}
	if len(triggered) != 1 {
		t.Fatalf("triggered = %d, want 1", len(triggered))
	}
	if triggered[0].Repo != testRepo || triggered[0].App != application {
		t.Error("triggered pipeline carries the wrong repo or application")
	}
	if kinds := pendingKinds(triggered[0].Pipeline); kinds[0] != pipeline.KindAppUpdate || kinds[1] != pipeline.KindBuild {
		t.Errorf("pipeline starts with %v, want the application refresh then the build", kinds[:2])
	}
}

func TestHandleWebhookEventSkipsNonTriggeringEvents(t *testing.T) {
	application := testApp(t)
	store := &fakeAppStore{apps: map[string]*app.Application{testRepo: application}}
	in := &fakeInterpreter{intermediaries: []fakeIntermediary{
		{repo: testRepo, events: []vcs.Event{
			vcs.Merge{ToBranch: "develop", FromBranch: "feature/x", Sha: testSha},
		}},
	}}

	triggered, err := HandleWebhookEvent(context.Background(), in, store, fakeArtifacts{}, &Request{})
	if err != nil {
		t.Fatalf("HandleWebhookEvent: %v", err)
	}
	if len(triggered) != 0 {
		t.Errorf("triggered = %d, want 0", len(triggered))
	}
}
