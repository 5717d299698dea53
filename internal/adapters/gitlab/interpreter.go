// Package gitlab interprets GitLab webhooks into version-control events.
// GitLab authenticates deliveries with a shared token header rather than
// an HMAC signature.
package gitlab

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/resilient-vitality/conveyor/internal/logging"
	"github.com/resilient-vitality/conveyor/internal/vcs"
	"github.com/resilient-vitality/conveyor/internal/webhook"
)

// Intermediary is one parsed GitLab delivery: the repository it is about
// and the semantic events it carries.
type Intermediary struct {
	repo   string
	events []vcs.Event
}

// Interpreter parses GitLab webhook deliveries. It implements the
// provider-agnostic webhook interpreter contract.
type Interpreter struct {
	webhookSecret string
}

// NewInterpreter creates an interpreter that verifies deliveries against
// the shared webhook token.
func NewInterpreter(webhookSecret string) *Interpreter {
	return &Interpreter{webhookSecret: webhookSecret}
}

// VerifyToken verifies the X-Gitlab-Token header against the configured
// secret. GitLab sends the token verbatim, so a constant-time comparison
// is all that is needed.
func VerifyToken(token, secret string) bool {
	if secret == "" {
		// No secret configured, skip verification (development mode)
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

// ParseToIntermediary authenticates and parses one delivery. Failures
// collapse to an empty list, same as the GitHub interpreter.
func (in *Interpreter) ParseToIntermediary(req *webhook.Request) []Intermediary {
	log := logging.WithComponent("gitlab")

	if !VerifyToken(req.Headers["X-Gitlab-Token"], in.webhookSecret) {
		log.Warn("webhook token verification failed")
		return nil
	}

	eventType := req.Headers["X-Gitlab-Event"]
	log.Debug("GitLab webhook", slog.String("event", eventType))

	switch eventType {
	case "Merge Request Hook":
		return parseMergeRequest(req.Body)
	case "Tag Push Hook":
		return parseTagPush(req.Body)
	default:
		return nil
	}
}

// Repo returns the clone URL the intermediary is about
func (in *Interpreter) Repo(i Intermediary) string { return i.repo }

// Events returns the semantic events the intermediary carries
func (in *Interpreter) Events(i Intermediary) []vcs.Event { return i.events }

type project struct {
	GitHTTPURL string `json:"git_http_url"`
}

type mergeRequestPayload struct {
	Project          project `json:"project"`
	ObjectAttributes struct {
		IID            int    `json:"iid"`
		Action         string `json:"action"`
		SourceBranch   string `json:"source_branch"`
		TargetBranch   string `json:"target_branch"`
		MergeCommitSha string `json:"merge_commit_sha"`
		LastCommit     struct {
			ID string `json:"id"`
		} `json:"last_commit"`
	} `json:"object_attributes"`
}

func parseMergeRequest(body []byte) []Intermediary {
	var payload mergeRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logging.WithComponent("gitlab").Warn("malformed merge request payload", slog.Any("error", err))
		return nil
	}

	attrs := payload.ObjectAttributes
	var events []vcs.Event
	switch attrs.Action {
	case "open", "reopen":
		events = append(events, vcs.PullRequestCreate{
			SourceBranch: attrs.SourceBranch,
			Number:       attrs.IID,
			Sha:          attrs.LastCommit.ID,
		})
	case "update":
		events = append(events, vcs.PullRequestUpdate{
			SourceBranch: attrs.SourceBranch,
			Number:       attrs.IID,
			Sha:          attrs.LastCommit.ID,
		})
	case "merge":
		// GitLab reports the merge as its own action, not as a flavor of
		// close, but it still means both the MR finishing and the target
		// branch advancing.
		events = append(events,
			vcs.PullRequestComplete{Number: attrs.IID, Merged: true},
			vcs.Merge{
				ToBranch:   attrs.TargetBranch,
				FromBranch: attrs.SourceBranch,
				Sha:        attrs.MergeCommitSha,
			})
	case "close":
		events = append(events, vcs.PullRequestComplete{Number: attrs.IID, Merged: false})
	default:
		return nil
	}

	return []Intermediary{{repo: payload.Project.GitHTTPURL, events: events}}
}

type tagPushPayload struct {
	Ref         string  `json:"ref"`
	After       string  `json:"after"`
	CheckoutSha string  `json:"checkout_sha"`
	Project     project `json:"project"`
}

// zeroSha is the "after" value GitLab sends when a tag is deleted.
const zeroSha = "0000000000000000000000000000000000000000"

func parseTagPush(body []byte) []Intermediary {
	var payload tagPushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logging.WithComponent("gitlab").Warn("malformed tag push payload", slog.Any("error", err))
		return nil
	}

	tag := strings.TrimPrefix(payload.Ref, "refs/tags/")
	if tag == payload.Ref || payload.After == zeroSha {
		return nil
	}

	sha := payload.CheckoutSha
	if sha == "" {
		sha = payload.After
	}
	return []Intermediary{{
		repo:   payload.Project.GitHTTPURL,
		events: []vcs.Event{vcs.TagPush{Tag: tag, Sha: sha}},
	}}
}
