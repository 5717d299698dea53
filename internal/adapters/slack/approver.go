// Package slack implements the approval and notification substrates on the
// Slack Web API. An approval is a channel message the allowed people answer
// with a thumbs-up or thumbs-down reaction.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/slack-go/slack"

	"github.com/resilient-vitality/conveyor/internal/logging"
	"github.com/resilient-vitality/conveyor/internal/runtime"
)

const (
	approveReaction = "+1"
	rejectReaction  = "-1"
)

// Approver asks for deployment approval in a Slack channel and polls the
// message's reactions for an answer. Safe for concurrent use.
type Approver struct {
	client  *slack.Client
	channel string

	mu    sync.Mutex
	asked map[string]string // request key -> message timestamp
}

// NewApprover creates an approver posting into the given channel
func NewApprover(client *slack.Client, channel string) *Approver {
	return &Approver{
		client:  client,
		channel: channel,
		asked:   make(map[string]string),
	}
}

func requestKey(req runtime.ApprovalRequest) string {
	return req.AppName + "|" + req.StageName + "|" + req.Sha
}

// requestText is the exact message posted for a request. It doubles as the
// needle for finding the message again after a restart.
func requestText(req runtime.ApprovalRequest) string {
	return fmt.Sprintf(
		"%s requests approval to deploy `%s` to *%s*.\n%s: react with :%s: to approve or :%s: to reject.",
		req.AppName, req.Sha, req.StageName,
		strings.Join(req.Group.People, " "), approveReaction, rejectReaction,
	)
}

// StartApproval posts the approval request message. Asking again for the
// same request is a no-op, so a retried start never double-posts. A request
// with no people needs no message at all.
func (a *Approver) StartApproval(ctx context.Context, req runtime.ApprovalRequest) error {
	if len(req.Group.People) == 0 {
		return nil
	}

	key := requestKey(req)
	a.mu.Lock()
	_, alreadyAsked := a.asked[key]
	a.mu.Unlock()
	if alreadyAsked {
		return nil
	}

	_, ts, err := a.client.PostMessageContext(ctx, a.channel, slack.MsgOptionText(requestText(req), false))
	if err != nil {
		return classify(err)
	}

	a.mu.Lock()
	a.asked[key] = ts
	a.mu.Unlock()

	logging.WithComponent("slack").Info("approval requested",
		slog.String("app", req.AppName), slog.String("stage", req.StageName))
	return nil
}

// CheckApproval polls the reactions on the approval message. Only reactions
// from the allowed people count; a rejection wins over an approval.
func (a *Approver) CheckApproval(ctx context.Context, req runtime.ApprovalRequest) (runtime.ApprovalStatus, error) {
	if len(req.Group.People) == 0 {
		return runtime.ApprovalStatus{State: runtime.ApprovalNotNeeded}, nil
	}

	a.mu.Lock()
	ts, ok := a.asked[requestKey(req)]
	a.mu.Unlock()
	if !ok {
		// The ask may predate a restart. Look for our own message in the
		// channel before declaring the request unasked; the started flag on
		// a restored approval suppresses a re-post.
		recovered, err := a.findRequestMessage(ctx, req)
		if err != nil {
			return runtime.ApprovalStatus{}, err
		}
		if recovered == "" {
			return runtime.ApprovalStatus{State: runtime.ApprovalUnasked}, nil
		}
		ts = recovered
		a.mu.Lock()
		a.asked[requestKey(req)] = ts
		a.mu.Unlock()
	}

	reactions, err := a.client.GetReactionsContext(ctx, slack.NewRefToMessage(a.channel, ts), slack.NewGetReactionsParameters())
	if err != nil {
		return runtime.ApprovalStatus{}, classify(err)
	}

	allowed := make(map[string]bool, len(req.Group.People))
	for _, person := range req.Group.People {
		allowed[strings.TrimPrefix(person, "@")] = true
	}

	decision := runtime.ApprovalStatus{State: runtime.ApprovalPending}
	for _, reaction := range reactions {
		if reaction.Name != approveReaction && reaction.Name != rejectReaction {
			continue
		}
		for _, userID := range reaction.Users {
			handle, err := a.handleFor(ctx, userID)
			if err != nil {
				return runtime.ApprovalStatus{}, err
			}
			if !allowed[handle] {
				continue
			}
			if reaction.Name == rejectReaction {
				return runtime.ApprovalStatus{State: runtime.ApprovalRejected, By: "@" + handle}, nil
			}
			decision = runtime.ApprovalStatus{State: runtime.ApprovalApproved, By: "@" + handle}
		}
	}
	return decision, nil
}

// recoverHistoryLimit bounds the channel scan for a lost approval message.
const recoverHistoryLimit = 200

// findRequestMessage scans recent channel history for the request's exact
// message text and returns its timestamp, or "" when no message matches.
func (a *Approver) findRequestMessage(ctx context.Context, req runtime.ApprovalRequest) (string, error) {
	history, err := a.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: a.channel,
		Limit:     recoverHistoryLimit,
	})
	if err != nil {
		return "", classify(err)
	}

	text := requestText(req)
	for _, msg := range history.Messages {
		if msg.Text == text {
			logging.WithComponent("slack").Info("recovered approval message",
				slog.String("app", req.AppName), slog.String("stage", req.StageName))
			return msg.Timestamp, nil
		}
	}
	return "", nil
}

// handleFor resolves a Slack user id to the handle people are listed by
func (a *Approver) handleFor(ctx context.Context, userID string) (string, error) {
	user, err := a.client.GetUserInfoContext(ctx, userID)
	if err != nil {
		return "", classify(err)
	}
	return user.Name, nil
}

// classify maps Slack auth failures onto the credentials sentinel so the
// scheduler can tell a misconfigured token from a transient API error.
func classify(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "invalid_auth") || strings.Contains(msg, "not_authed") || strings.Contains(msg, "token_revoked") {
		return fmt.Errorf("%w: %v", runtime.ErrCredentials, err)
	}
	return err
}
