package gitlab

import (
	"fmt"
	"testing"

	"github.com/resilient-vitality/conveyor/internal/vcs"
	"github.com/resilient-vitality/conveyor/internal/webhook"
)

const testRepo = "https://gitlab.example.com/acme/storefront.git"

func mergeRequestBody(action, extra string) []byte {
	return []byte(fmt.Sprintf(`{
		"object_kind": "merge_request",
		"project": {"git_http_url": %q},
		"object_attributes": {
			"iid": 7,
			"action": %q,
			"source_branch": "feature/checkout",
			"target_branch": "master",
			"last_commit": {"id": "da1560886d4f094c3e6c9ef40349f7d38b5d27d7"}%s
		}
	}`, testRepo, action, extra))
}

func request(event, token string, body []byte) *webhook.Request {
	return &webhook.Request{
		Headers: map[string]string{
			"X-Gitlab-Event": event,
			"X-Gitlab-Token": token,
		},
		Body: body,
	}
}

func TestVerifyToken(t *testing.T) {
	if !VerifyToken("s3cret", "s3cret") {
		t.Error("expected matching token to verify")
	}
	if VerifyToken("wrong", "s3cret") {
		t.Error("expected mismatched token to fail")
	}
	if !VerifyToken("anything", "") {
		t.Error("expected empty secret to skip verification")
	}
}

func TestParseMergeRequestOpen(t *testing.T) {
	in := NewInterpreter("s3cret")
	got := in.ParseToIntermediary(request("Merge Request Hook", "s3cret", mergeRequestBody("open", "")))
	if len(got) != 1 {
		t.Fatalf("expected 1 intermediary, got %d", len(got))
	}
	if in.Repo(got[0]) != testRepo {
		t.Errorf("unexpected repo %q", in.Repo(got[0]))
	}
	events := in.Events(got[0])
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	create, ok := events[0].(vcs.PullRequestCreate)
	if !ok {
		t.Fatalf("expected PullRequestCreate, got %T", events[0])
	}
	if create.Number != 7 || create.SourceBranch != "feature/checkout" {
		t.Errorf("unexpected event %+v", create)
	}
	if create.Sha != "da1560886d4f094c3e6c9ef40349f7d38b5d27d7" {
		t.Errorf("unexpected sha %q", create.Sha)
	}
}

func TestParseMergeRequestUpdate(t *testing.T) {
	in := NewInterpreter("")
	got := in.ParseToIntermediary(request("Merge Request Hook", "", mergeRequestBody("update", "")))
	if len(got) != 1 {
		t.Fatalf("expected 1 intermediary, got %d", len(got))
	}
	if _, ok := in.Events(got[0])[0].(vcs.PullRequestUpdate); !ok {
		t.Fatalf("expected PullRequestUpdate, got %T", in.Events(got[0])[0])
	}
}

func TestParseMergeRequestMergedFansOut(t *testing.T) {
	in := NewInterpreter("")
	body := mergeRequestBody("merge", `,
			"merge_commit_sha": "f95f852bd8fca8fcc58a9a2d6c842781e32a215e"`)
	got := in.ParseToIntermediary(request("Merge Request Hook", "", body))
	if len(got) != 1 {
		t.Fatalf("expected 1 intermediary, got %d", len(got))
	}
	events := in.Events(got[0])
	if len(events) != 2 {
		t.Fatalf("expected complete and merge events, got %d", len(events))
	}
	complete, ok := events[0].(vcs.PullRequestComplete)
	if !ok || !complete.Merged {
		t.Fatalf("expected merged PullRequestComplete, got %+v", events[0])
	}
	merge, ok := events[1].(vcs.Merge)
	if !ok {
		t.Fatalf("expected Merge, got %T", events[1])
	}
	if merge.ToBranch != "master" || merge.FromBranch != "feature/checkout" {
		t.Errorf("unexpected branches %+v", merge)
	}
	if merge.Sha != "f95f852bd8fca8fcc58a9a2d6c842781e32a215e" {
		t.Errorf("unexpected sha %q", merge.Sha)
	}
}

func TestParseMergeRequestClosedUnmerged(t *testing.T) {
	in := NewInterpreter("")
	got := in.ParseToIntermediary(request("Merge Request Hook", "", mergeRequestBody("close", "")))
	events := in.Events(got[0])
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	complete, ok := events[0].(vcs.PullRequestComplete)
	if !ok || complete.Merged {
		t.Fatalf("expected unmerged PullRequestComplete, got %+v", events[0])
	}
}

func TestParseTagPush(t *testing.T) {
	in := NewInterpreter("")
	body := []byte(fmt.Sprintf(`{
		"object_kind": "tag_push",
		"ref": "refs/tags/1.2.0",
		"after": "82b3d5ae55f7080f1e6022629cdb57bfae7cccc7",
		"checkout_sha": "82b3d5ae55f7080f1e6022629cdb57bfae7cccc7",
		"project": {"git_http_url": %q}
	}`, testRepo))
	got := in.ParseToIntermediary(request("Tag Push Hook", "", body))
	if len(got) != 1 {
		t.Fatalf("expected 1 intermediary, got %d", len(got))
	}
	tag, ok := in.Events(got[0])[0].(vcs.TagPush)
	if !ok {
		t.Fatalf("expected TagPush, got %T", in.Events(got[0])[0])
	}
	if tag.Tag != "1.2.0" || tag.Sha != "82b3d5ae55f7080f1e6022629cdb57bfae7cccc7" {
		t.Errorf("unexpected event %+v", tag)
	}
}

func TestParseTagDeleteIgnored(t *testing.T) {
	in := NewInterpreter("")
	body := []byte(fmt.Sprintf(`{
		"object_kind": "tag_push",
		"ref": "refs/tags/1.2.0",
		"after": "0000000000000000000000000000000000000000",
		"project": {"git_http_url": %q}
	}`, testRepo))
	if got := in.ParseToIntermediary(request("Tag Push Hook", "", body)); len(got) != 0 {
		t.Fatalf("expected tag deletion to be ignored, got %d intermediaries", len(got))
	}
}

func TestBadTokenRejected(t *testing.T) {
	in := NewInterpreter("s3cret")
	if got := in.ParseToIntermediary(request("Merge Request Hook", "wrong", mergeRequestBody("open", ""))); len(got) != 0 {
		t.Fatalf("expected bad token to produce nothing, got %d", len(got))
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	in := NewInterpreter("")
	if got := in.ParseToIntermediary(request("Pipeline Hook", "", []byte(`{}`))); len(got) != 0 {
		t.Fatalf("expected unknown event to produce nothing, got %d", len(got))
	}
}
