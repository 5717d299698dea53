// Package webhook defines the provider-agnostic contract for interpreting
// version-control webhooks and the trigger matcher that converts the
// resulting events into pipelines.
package webhook

import (
	"context"
	"log/slog"

	"github.com/resilient-vitality/conveyor/internal/app"
	"github.com/resilient-vitality/conveyor/internal/logging"
	"github.com/resilient-vitality/conveyor/internal/runtime"
	"github.com/resilient-vitality/conveyor/internal/vcs"
)

// Request is the subset of an inbound HTTP request a webhook interpreter
// sees: opaque body bytes and a flat header map. Authentication is the
// interpreter's responsibility.
type Request struct {
	Headers map[string]string
	Body    []byte
}

// Event pairs a normalized version-control event with the application it
// targets. App is a mutable handle: trigger matching may append fabricated
// PR stages to it.
type Event struct {
	Event vcs.Event
	App   *app.Application
	Repo  string
}

// Interpreter converts provider webhook payloads into normalized events.
// I is the provider-specific intermediate representation. Parsing and
// authentication failures collapse to an empty intermediary list rather
// than erroring; a webhook endpoint has nobody to report to.
type Interpreter[I any] interface {
	// ParseToIntermediary authenticates and parses a raw request into
	// zero or more intermediaries.
	ParseToIntermediary(req *Request) []I
	// Repo returns the clone URL of the repository the intermediary is
	// about.
	Repo(i I) string
	// Events extracts the semantic events. One intermediary may carry
	// several: a merged PR close is both a completion and a merge.
	Events(i I) []vcs.Event
}

// InterpretEvents runs an interpreter over a request and resolves each
// intermediary's repository to a registered application. Events for
// unknown repositories are dropped with a log line.
func InterpretEvents[I any](ctx context.Context, in Interpreter[I], apps runtime.ApplicationStore, req *Request) ([]Event, error) {
	log := logging.WithComponent("webhook")

	var out []Event
	for _, intermediary := range in.ParseToIntermediary(req) {
		repo := in.Repo(intermediary)
		application, err := apps.ApplicationByRepo(ctx, repo)
		if err != nil {
			return nil, err
		}
		if application == nil {
			log.Debug("event for unregistered repo, skipping", slog.String("repo", repo))
			continue
		}
		for _, event := range in.Events(intermediary) {
			out = append(out, Event{Event: event, App: application, Repo: repo})
		}
	}
	return out, nil
}
