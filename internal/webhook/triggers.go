package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/resilient-vitality/conveyor/internal/app"
	"github.com/resilient-vitality/conveyor/internal/logging"
	"github.com/resilient-vitality/conveyor/internal/pipeline"
	"github.com/resilient-vitality/conveyor/internal/runtime"
	"github.com/resilient-vitality/conveyor/internal/vcs"
)

// SemverPattern is substituted for the literal trigger pattern "semver".
const SemverPattern = `(0|(?:[1-9]\d*))(?:\.(0|(?:[1-9]\d*))(?:\.(0|(?:[1-9]\d*)))?(?:\-([\w][\w\.\-_]*))?)?`

// EventToPipeline evaluates an application's triggers against a single
// event and produces a pipeline, or nil when no trigger matches. Triggers
// are folded left to right, each contributing to the same accumulating
// pipeline. PR-create events with a deploying PR trigger mutate the
// application by appending the fabricated stage.
func EventToPipeline(ctx context.Context, ev *Event, artifacts runtime.ArtifactProvider) (*pipeline.Pipeline, error) {
	var result *pipeline.Pipeline
	var err error

	for _, trigger := range ev.App.Triggers {
		switch {
		case trigger.Pr != nil:
			result, err = handlePrTrigger(ctx, result, trigger.Pr, ev, artifacts)
		case trigger.Merge != nil:
			result, err = handleMergeTrigger(ctx, result, trigger.Merge, ev, artifacts)
		case trigger.Tag != nil:
			result, err = handleTagTrigger(ctx, result, trigger.Tag, ev, artifacts)
		}
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// addBuildAndDeployStages enqueues one deduplicated build for the sha
// followed by, per stage in order, an approval (when the stage requires
// one) and a deploy. Returns the pipeline, creating it when nil.
func addBuildAndDeployStages(ctx context.Context, p *pipeline.Pipeline, ev *Event, sha string, stages []app.Stage, artifacts runtime.ArtifactProvider) (*pipeline.Pipeline, error) {
	bucket, err := artifacts.Bucket(ctx, ev.App)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact bucket for %s: %w", ev.App.FullName(), err)
	}
	folder, err := artifacts.Folder(ctx, ev.App, sha)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact folder for %s: %w", ev.App.FullName(), err)
	}

	if p == nil {
		p = pipeline.New()
	}
	p.AddAction(pipeline.NewBuild(sha, ev.Repo, bucket, folder))

	for _, stage := range stages {
		if stage.ApprovalGroup != nil {
			p.AddAction(pipeline.NewApproval(*stage.ApprovalGroup, stage.Name, sha, ev.App.FullName()))
		}
		p.AddAction(pipeline.NewDeploy(stage, ev.Repo, sha, bucket, folder))
	}
	return p, nil
}

// resolveStages maps stage names to the application's stage objects,
// preserving the trigger-declared order. Names without a matching stage
// are silently dropped.
func resolveStages(application *app.Application, names []string) []app.Stage {
	var stages []app.Stage
	for _, name := range names {
		if stage, ok := application.StageByName(name); ok {
			stages = append(stages, stage)
		} else {
			logging.WithComponent("triggers").Debug("trigger names unknown stage, dropping",
				slog.String("app", application.FullName()), slog.String("stage", name))
		}
	}
	return stages
}

func handlePrTrigger(ctx context.Context, p *pipeline.Pipeline, trigger *app.PrTrigger, ev *Event, artifacts runtime.ArtifactProvider) (*pipeline.Pipeline, error) {
	switch event := ev.Event.(type) {
	case vcs.PullRequestCreate:
		// A new PR always builds. When the trigger deploys, fabricate the
		// ephemeral stage and remember it on the application.
		var stages []app.Stage
		if trigger.Deploy {
			stage, err := app.FabricateStageForPR(ev.App, event.Number)
			if err != nil {
				return nil, err
			}
			ev.App.AddStage(stage)
			stages = []app.Stage{stage}
		}
		return addBuildAndDeployStages(ctx, p, ev, event.Sha, stages, artifacts)

	case vcs.PullRequestUpdate:
		// Re-deploy the existing PR stage if one was fabricated at create
		// time; otherwise just build.
		var stages []app.Stage
		if stage, ok := ev.App.StageForPR(event.Number); ok {
			stages = []app.Stage{stage}
		}
		return addBuildAndDeployStages(ctx, p, ev, event.Sha, stages, artifacts)

	case vcs.PullRequestComplete:
		// Tear the ephemeral stage down. No final build. The fabricated
		// stage stays on the application; the substrate owns housekeeping.
		if stage, ok := ev.App.StageForPR(event.Number); ok {
			if p == nil {
				p = pipeline.New()
			}
			p.AddAction(pipeline.NewTeardown(stage, ev.Repo))
		}
		return p, nil
	}
	return p, nil
}

func handleMergeTrigger(ctx context.Context, p *pipeline.Pipeline, trigger *app.MergeTrigger, ev *Event, artifacts runtime.ArtifactProvider) (*pipeline.Pipeline, error) {
	event, ok := ev.Event.(vcs.Merge)
	if !ok {
		return p, nil
	}

	toRe, err := regexp.Compile(trigger.To)
	if err != nil {
		return nil, fmt.Errorf("compile merge trigger to-pattern %q: %w", trigger.To, err)
	}
	if !toRe.MatchString(event.ToBranch) {
		return p, nil
	}

	from := trigger.From
	if from == "" {
		from = ".*"
	}
	fromRe, err := regexp.Compile(from)
	if err != nil {
		return nil, fmt.Errorf("compile merge trigger from-pattern %q: %w", from, err)
	}
	if !fromRe.MatchString(event.FromBranch) {
		return p, nil
	}

	// The merge may have landed changes to .conveyor.yaml, so the stored
	// application refreshes before anything else runs.
	if p == nil {
		p = pipeline.New()
	}
	p.AddAction(pipeline.NewAppUpdate(ev.Repo))

	stages := resolveStages(ev.App, trigger.Stages)
	return addBuildAndDeployStages(ctx, p, ev, event.Sha, stages, artifacts)
}

func handleTagTrigger(ctx context.Context, p *pipeline.Pipeline, trigger *app.TagTrigger, ev *Event, artifacts runtime.ArtifactProvider) (*pipeline.Pipeline, error) {
	event, ok := ev.Event.(vcs.TagPush)
	if !ok {
		return p, nil
	}

	pattern := trigger.Pattern
	if pattern == "semver" {
		pattern = SemverPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile tag trigger pattern %q: %w", trigger.Pattern, err)
	}
	if !re.MatchString(event.Tag) {
		return p, nil
	}

	stages := resolveStages(ev.App, trigger.Stages)
	return addBuildAndDeployStages(ctx, p, ev, event.Sha, stages, artifacts)
}

// Triggered is one pipeline produced from a webhook, with the application
// whose (possibly mutated) state must be persisted alongside it.
type Triggered struct {
	Repo     string
	App      *app.Application
	Pipeline *pipeline.Pipeline
}

// HandleWebhookEvent is the full translation: interpret the request,
// evaluate each event's triggers, and collect the produced pipelines.
func HandleWebhookEvent[I any](ctx context.Context, in Interpreter[I], apps runtime.ApplicationStore, artifacts runtime.ArtifactProvider, req *Request) ([]Triggered, error) {
	events, err := InterpretEvents(ctx, in, apps, req)
	if err != nil {
		return nil, err
	}

	var out []Triggered
	for i := range events {
		ev := &events[i]
		p, err := EventToPipeline(ctx, ev, artifacts)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		out = append(out, Triggered{Repo: ev.Repo, App: ev.App, Pipeline: p})
	}
	return out, nil
}
