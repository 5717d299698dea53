// Package github interprets GitHub webhooks into version-control events
// and loads .conveyor.yaml application files from repositories.
package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/resilient-vitality/conveyor/internal/logging"
	"github.com/resilient-vitality/conveyor/internal/vcs"
	"github.com/resilient-vitality/conveyor/internal/webhook"
)

// Intermediary is one parsed GitHub delivery: the repository it is about
// and the semantic events it carries.
type Intermediary struct {
	repo   string
	events []vcs.Event
}

// Interpreter parses GitHub webhook deliveries. It implements the
// provider-agnostic webhook interpreter contract.
type Interpreter struct {
	webhookSecret string
}

// NewInterpreter creates an interpreter that verifies deliveries against
// the shared webhook secret.
func NewInterpreter(webhookSecret string) *Interpreter {
	return &Interpreter{webhookSecret: webhookSecret}
}

// VerifyWebhookSignature verifies a GitHub webhook signature against a secret.
// Returns true if signature is valid, false otherwise.
func VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	if secret == "" {
		// No secret configured, skip verification (development mode)
		return true
	}

	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}

	expectedSig := signature[7:] // Remove "sha256=" prefix

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	actualSig := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expectedSig), []byte(actualSig))
}

// ParseToIntermediary authenticates and parses one delivery. Failures
// collapse to an empty list; GitHub retries are driven by status codes,
// not bodies, and a forged delivery deserves no detail.
func (in *Interpreter) ParseToIntermediary(req *webhook.Request) []Intermediary {
	log := logging.WithComponent("github")

	if !VerifyWebhookSignature(req.Body, req.Headers["X-Hub-Signature-256"], in.webhookSecret) {
		log.Warn("webhook signature verification failed")
		return nil
	}

	eventType := req.Headers["X-Github-Event"]
	log.Debug("GitHub webhook", slog.String("event", eventType))

	switch eventType {
	case "pull_request":
		return parsePullRequest(req.Body)
	case "release":
		return parseRelease(req.Body)
	default:
		return nil
	}
}

// Repo returns the clone URL the intermediary is about
func (in *Interpreter) Repo(i Intermediary) string { return i.repo }

// Events returns the semantic events the intermediary carries
func (in *Interpreter) Events(i Intermediary) []vcs.Event { return i.events }

type repository struct {
	CloneURL string `json:"clone_url"`
}

type pullRequestPayload struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Merged         bool   `json:"merged"`
		MergeCommitSha string `json:"merge_commit_sha"`
		Head           struct {
			Ref string `json:"ref"`
			Sha string `json:"sha"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
	} `json:"pull_request"`
	Repository repository `json:"repository"`
}

func parsePullRequest(body []byte) []Intermediary {
	var payload pullRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logging.WithComponent("github").Warn("malformed pull_request payload", slog.Any("error", err))
		return nil
	}

	pr := payload.PullRequest
	var events []vcs.Event
	switch payload.Action {
	case "opened", "reopened":
		events = append(events, vcs.PullRequestCreate{
			SourceBranch: pr.Head.Ref,
			Number:       payload.Number,
			Sha:          pr.Head.Sha,
		})
	case "synchronize":
		events = append(events, vcs.PullRequestUpdate{
			SourceBranch: pr.Head.Ref,
			Number:       payload.Number,
			Sha:          pr.Head.Sha,
		})
	case "closed":
		// A merged close is two things at once: the PR finishing and the
		// target branch advancing.
		events = append(events, vcs.PullRequestComplete{
			Number: payload.Number,
			Merged: pr.Merged,
		})
		if pr.Merged {
			events = append(events, vcs.Merge{
				ToBranch:   pr.Base.Ref,
				FromBranch: pr.Head.Ref,
				Sha:        pr.MergeCommitSha,
			})
		}
	default:
		return nil
	}

	return []Intermediary{{repo: payload.Repository.CloneURL, events: events}}
}

type releasePayload struct {
	Action  string `json:"action"`
	Release struct {
		TagName string `json:"tag_name"`
	} `json:"release"`
	Repository repository `json:"repository"`
}

func parseRelease(body []byte) []Intermediary {
	var payload releasePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logging.WithComponent("github").Warn("malformed release payload", slog.Any("error", err))
		return nil
	}
	if payload.Action != "published" {
		return nil
	}

	// The release payload carries no commit sha; the tag itself is the git
	// ref builds and artifact folders key on.
	return []Intermediary{{
		repo: payload.Repository.CloneURL,
		events: []vcs.Event{vcs.TagPush{
			Tag: payload.Release.TagName,
			Sha: payload.Release.TagName,
		}},
	}}
}
