package slack

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/resilient-vitality/conveyor/internal/runtime"
)

// Notifier delivers pipeline status messages to the channel, mentioning
// the group's people.
type Notifier struct {
	client  *slack.Client
	channel string
}

// NewNotifier creates a notifier posting into the given channel
func NewNotifier(client *slack.Client, channel string) *Notifier {
	return &Notifier{client: client, channel: channel}
}

// Notify posts the message. Delivery failures surface as errors; whether
// they fail anything is the caller's call.
func (n *Notifier) Notify(ctx context.Context, notification runtime.Notification) error {
	text := notification.Message
	if len(notification.Group.People) > 0 {
		text = fmt.Sprintf("%s: %s", strings.Join(notification.Group.People, " "), text)
	}
	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return classify(err)
	}
	return nil
}
