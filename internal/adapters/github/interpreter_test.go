package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/resilient-vitality/conveyor/internal/vcs"
	"github.com/resilient-vitality/conveyor/internal/webhook"
)

const (
	testSecret = "it's a secret to everybody"
	testRepo   = "https://github.com/Codertocat/Hello-World.git"
	testSha    = "ec26c3e57ca3a959ca5aad62de7213c562f8c821"
)

func prPayload(action string, merged bool) string {
	return fmt.Sprintf(`{
		"action": %q,
		"number": 2,
		"pull_request": {
			"merged": %v,
			"merge_commit_sha": "f95f852bd8fca8fcc58a9a2d6c842781e32a215e",
			"head": {"ref": "changes", "sha": %q},
			"base": {"ref": "master"}
		},
		"repository": {"clone_url": %q}
	}`, action, merged, testSha, testRepo)
}

func sign(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func request(event, body, secret string) *webhook.Request {
	return &webhook.Request{
		Headers: map[string]string{
			"X-Github-Event":      event,
			"X-Hub-Signature-256": sign(body, secret),
		},
		Body: []byte(body),
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := prPayload("opened", false)
	if !VerifyWebhookSignature([]byte(body), sign(body, testSecret), testSecret) {
		t.Error("valid signature rejected")
	}
	if VerifyWebhookSignature([]byte(body), sign(body, "wrong"), testSecret) {
		t.Error("forged signature accepted")
	}
	if VerifyWebhookSignature([]byte(body), "bogus", testSecret) {
		t.Error("unprefixed signature accepted")
	}
	if !VerifyWebhookSignature([]byte(body), "", "") {
		t.Error("empty secret must skip verification")
	}
}

func TestParsePullRequestOpened(t *testing.T) {
	in := NewInterpreter(testSecret)
	got := in.ParseToIntermediary(request("pull_request", prPayload("opened", false), testSecret))
	if len(got) != 1 {
		t.Fatalf("intermediaries = %d, want 1", len(got))
	}
	if in.Repo(got[0]) != testRepo {
		t.Errorf("repo = %q", in.Repo(got[0]))
	}

	events := in.Events(got[0])
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	create, ok := events[0].(vcs.PullRequestCreate)
	if !ok {
		t.Fatalf("event is %T, want PullRequestCreate", events[0])
	}
	if create.Number != 2 || create.Sha != testSha || create.SourceBranch != "changes" {
		t.Errorf("create = %+v", create)
	}
}

func TestParsePullRequestSynchronize(t *testing.T) {
	in := NewInterpreter(testSecret)
	got := in.ParseToIntermediary(request("pull_request", prPayload("synchronize", false), testSecret))
	if len(got) != 1 {
		t.Fatalf("intermediaries = %d, want 1", len(got))
	}
	update, ok := in.Events(got[0])[0].(vcs.PullRequestUpdate)
	if !ok || update.Number != 2 || update.Sha != testSha {
		t.Errorf("update = %+v ok=%v", update, ok)
	}
}

func TestParsePullRequestClosedUnmerged(t *testing.T) {
	in := NewInterpreter(testSecret)
	got := in.ParseToIntermediary(request("pull_request", prPayload("closed", false), testSecret))
	events := in.Events(got[0])
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 for an unmerged close", len(events))
	}
	complete, ok := events[0].(vcs.PullRequestComplete)
	if !ok || complete.Merged || complete.Number != 2 {
		t.Errorf("complete = %+v ok=%v", complete, ok)
	}
}

func TestParsePullRequestClosedMergedFansOut(t *testing.T) {
	in := NewInterpreter(testSecret)
	got := in.ParseToIntermediary(request("pull_request", prPayload("closed", true), testSecret))
	events := in.Events(got[0])
	if len(events) != 2 {
		t.Fatalf("events = %d, want complete plus merge", len(events))
	}
	complete, ok := events[0].(vcs.PullRequestComplete)
	if !ok || !complete.Merged {
		t.Errorf("events[0] = %+v", events[0])
	}
	merge, ok := events[1].(vcs.Merge)
	if !ok {
		t.Fatalf("events[1] is %T, want Merge", events[1])
	}
	if merge.ToBranch != "master" || merge.FromBranch != "changes" || merge.Sha != "f95f852bd8fca8fcc58a9a2d6c842781e32a215e" {
		t.Errorf("merge = %+v", merge)
	}
}

func TestParseReleasePublished(t *testing.T) {
	body := fmt.Sprintf(`{
		"action": "published",
		"release": {"tag_name": "1.2.3"},
		"repository": {"clone_url": %q}
	}`, testRepo)

	in := NewInterpreter(testSecret)
	got := in.ParseToIntermediary(request("release", body, testSecret))
	if len(got) != 1 {
		t.Fatalf("intermediaries = %d, want 1", len(got))
	}
	tag, ok := in.Events(got[0])[0].(vcs.TagPush)
	if !ok {
		t.Fatalf("event is %T, want TagPush", in.Events(got[0])[0])
	}
	if tag.Tag != "1.2.3" || tag.Sha != "1.2.3" {
		t.Errorf("tag = %+v, want the tag name standing in for the ref", tag)
	}
}

func TestParseReleaseDraftIgnored(t *testing.T) {
	body := fmt.Sprintf(`{"action": "created", "release": {"tag_name": "1.2.3"}, "repository": {"clone_url": %q}}`, testRepo)
	in := NewInterpreter(testSecret)
	if got := in.ParseToIntermediary(request("release", body, testSecret)); len(got) != 0 {
		t.Errorf("non-published release produced %d intermediaries", len(got))
	}
}

func TestParseRejectsBadSignature(t *testing.T) {
	in := NewInterpreter(testSecret)
	req := request("pull_request", prPayload("opened", false), "wrong secret")
	if got := in.ParseToIntermediary(req); len(got) != 0 {
		t.Errorf("forged delivery produced %d intermediaries", len(got))
	}
}

func TestParseIgnoresUnknownEvents(t *testing.T) {
	in := NewInterpreter(testSecret)
	req := request("star", `{"action": "created"}`, testSecret)
	if got := in.ParseToIntermediary(req); len(got) != 0 {
		t.Errorf("unknown event produced %d intermediaries", len(got))
	}
}

func TestParseIgnoresUninterestingActions(t *testing.T) {
	in := NewInterpreter(testSecret)
	req := request("pull_request", prPayload("labeled", false), testSecret)
	if got := in.ParseToIntermediary(req); len(got) != 0 {
		t.Errorf("labeled action produced %d intermediaries", len(got))
	}
}
