package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	slackapi "github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"github.com/resilient-vitality/conveyor/internal/adapters/aws"
	"github.com/resilient-vitality/conveyor/internal/adapters/github"
	"github.com/resilient-vitality/conveyor/internal/adapters/gitlab"
	"github.com/resilient-vitality/conveyor/internal/adapters/slack"
	"github.com/resilient-vitality/conveyor/internal/config"
	"github.com/resilient-vitality/conveyor/internal/gateway"
	"github.com/resilient-vitality/conveyor/internal/logging"
	"github.com/resilient-vitality/conveyor/internal/runtime"
	"github.com/resilient-vitality/conveyor/internal/scheduler"
	"github.com/resilient-vitality/conveyor/internal/store"
	"github.com/resilient-vitality/conveyor/internal/webhook"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Conveyor server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := logging.Init(cfg.Logging); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "path to config file")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	substrate, err := aws.New(ctx, cfg.AWS.Region, cfg.AWS.ArtifactBucket, cfg.AWS.CodeBuildProject)
	if err != nil {
		return err
	}

	slackClient := slackapi.New(cfg.Slack.Token)
	loader := github.NewLoader(cfg.GitHub.Token)

	rt := &runtime.Context{
		Artifacts:      substrate.Artifacts,
		Builder:        substrate.Builder,
		Infrastructure: substrate.Infra,
		Teardown:       substrate.Teardown,
		Approver:       slack.NewApprover(slackClient, cfg.Slack.Channel),
		Notifier:       slack.NewNotifier(slackClient, cfg.Slack.Channel),
		Apps:           st,
		Loader:         loader,
	}

	registerApplications(ctx, cfg, st, loader)

	host := scheduler.NewHost(st, rt, scheduler.Options{
		MaxRetries:      cfg.Scheduler.MaxRetries,
		ArchiveSchedule: cfg.Scheduler.ArchiveSchedule,
	})

	ghInterpreter := github.NewInterpreter(cfg.GitHub.WebhookSecret)
	translators := map[string]gateway.Translator{
		"github": gateway.TranslatorFunc(func(ctx context.Context, req *webhook.Request) ([]webhook.Triggered, error) {
			return webhook.HandleWebhookEvent(ctx, ghInterpreter, st, substrate.Artifacts, req)
		}),
	}
	if cfg.GitLab != nil {
		glInterpreter := gitlab.NewInterpreter(cfg.GitLab.WebhookSecret)
		translators["gitlab"] = gateway.TranslatorFunc(func(ctx context.Context, req *webhook.Request) ([]webhook.Triggered, error) {
			return webhook.HandleWebhookEvent(ctx, glInterpreter, st, substrate.Artifacts, req)
		})
	}
	srv := gateway.NewServer(cfg.Gateway, translators, st, host)
	host.SetOnEvent(func(ev scheduler.Event) { srv.Broadcast(ev) })

	if err := host.Restore(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- host.Run(ctx)
	}()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// registerApplications loads the .conveyor.yaml of every configured repo
// that the store does not know yet. A repo that cannot be loaded is logged
// and skipped; it registers itself on its first webhook-triggered refresh.
func registerApplications(ctx context.Context, cfg *config.Config, st *store.Store, loader *github.Loader) {
	log := logging.WithComponent("serve")
	for _, ref := range cfg.Applications {
		existing, err := st.ApplicationByRepo(ctx, ref.Repo)
		if err != nil {
			log.Error("failed to look up application", slog.String("repo", ref.Repo), slog.Any("error", err))
			continue
		}
		if existing != nil {
			continue
		}
		application, err := loader.LoadApplicationFromRepo(ctx, ref.Repo)
		if err != nil {
			log.Warn("failed to load application file", slog.String("repo", ref.Repo), slog.Any("error", err))
			continue
		}
		if err := st.SaveApplication(ctx, ref.Repo, application); err != nil {
			log.Error("failed to register application", slog.String("repo", ref.Repo), slog.Any("error", err))
			continue
		}
		log.Info("registered application", slog.String("repo", ref.Repo), slog.String("app", application.FullName()))
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [org] [app]",
		Short: "Write a starter .conveyor.yaml into the current directory",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(github.AppFileName); err == nil {
				return fmt.Errorf("%s already exists", github.AppFileName)
			}
			content := config.DefaultAppYAML
			if len(args) == 2 {
				content = strings.Replace(content, "org: my-org", "org: "+args[0], 1)
				content = strings.Replace(content, "app: my-app", "app: "+args[1], 1)
			}
			if err := os.WriteFile(github.AppFileName, []byte(content), 0644); err != nil {
				return err
			}
			fmt.Printf("🔧 Wrote %s - edit the accounts, stages, and triggers to match your application\n", github.AppFileName)
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the .conveyor.yaml in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(github.AppFileName)
			if err != nil {
				return err
			}
			application, err := config.ParseAppFile(data)
			if err != nil {
				return err
			}
			fmt.Printf("✅ %s: %d account(s), %d stage(s), %d trigger(s)\n",
				application.FullName(), len(application.Accounts), len(application.Stages), len(application.Triggers))
			if _, ok := application.DefaultAccount(); !ok {
				fmt.Println("⚠️  no account named \"default\": pull request stages cannot be fabricated")
			}
			return nil
		},
	}
}
