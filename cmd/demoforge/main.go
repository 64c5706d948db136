package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	ciadapter "github.com/demoforge/demoforge/internal/adapter/driven/ciplatform"
	githubadapter "github.com/demoforge/demoforge/internal/adapter/driven/github"
	sqliteadapter "github.com/demoforge/demoforge/internal/adapter/driven/sqlite"
	"github.com/demoforge/demoforge/internal/application"
	"github.com/demoforge/demoforge/internal/config"
	"github.com/demoforge/demoforge/internal/domain/model"
	"github.com/demoforge/demoforge/internal/retry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		provisionPath   = flag.String("provision", "", "path to a scenario JSON file to provision synchronously, then exit")
		userEmail       = flag.String("user", "", "user email for -provision, -store-credential and -list-sessions")
		storeCredential = flag.Bool("store-credential", false, "store a credential read from stdin, then exit")
		platformName    = flag.String("platform", "", "platform for -store-credential: source-forge or ci-platform")
		credentialName  = flag.String("name", "", "display name for -store-credential")
		listSessions    = flag.Bool("list-sessions", false, "print the user's sessions, then exit")
	)
	flag.Parse()

	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"db_path", cfg.DBPath,
		"cleanup_interval", cfg.CleanupInterval,
		"ci_base_url", cfg.CIBaseURL,
		"repo_owner", cfg.RepoOwner,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire adapters.
	vault, err := sqliteadapter.NewCredentialRepo(db, cfg.SecretKey)
	if err != nil {
		return err
	}
	sessionStore := sqliteadapter.NewSessionRepo(db)
	resourceStore := sqliteadapter.NewResourceRepo(db)

	sourceFactory := githubadapter.Factory()
	ciFactory := ciadapter.Factory(cfg.CIBaseURL, cfg.CIAccount)

	retryOpts := retry.Options{MaxAttempts: cfg.MaxRetryAttempts, Base: cfg.RetryBackoffBase}

	// One-shot operator entry points.
	switch {
	case *storeCredential:
		return runStoreCredential(ctx, vault, *userEmail, *platformName, *credentialName)
	case *listSessions:
		return runListSessions(ctx, sessionStore, *userEmail)
	case *provisionPath != "":
		if !cfg.HasProvisioningTargets() {
			return fmt.Errorf("-provision requires DEMOFORGE_CI_BASE_URL and DEMOFORGE_REPO_OWNER")
		}
		pipeline := application.NewPipeline(vault, sessionStore, resourceStore, sourceFactory, ciFactory,
			application.PipelineConfig{
				RepoOwner:         cfg.RepoOwner,
				DefaultExpiryDays: cfg.SessionExpiryDays,
				Retry:             retryOpts,
				Poll: retry.PollConfig{
					InitialInterval: cfg.PollInitialInterval,
					MaxInterval:     cfg.PollMaxInterval,
					Timeout:         cfg.PollTimeout,
				},
			})
		return runProvision(ctx, pipeline, *provisionPath, *userEmail)
	}

	// 6. Create and start the cleanup scheduler.
	cleanupSvc := application.NewCleanupService(
		vault,
		sessionStore,
		resourceStore,
		sourceFactory,
		ciFactory,
		cfg.CleanupInterval,
		retryOpts,
	)
	go cleanupSvc.Start(ctx)

	slog.Info("demoforge started", "cleanup_interval", cfg.CleanupInterval)

	// 7. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutdown complete")
	return nil
}

// runProvision executes one scenario synchronously and prints the result summary.
func runProvision(ctx context.Context, pipeline *application.Pipeline, path, email string) error {
	if email == "" {
		return fmt.Errorf("-provision requires -user")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read scenario file: %w", err)
	}

	var scenario model.Scenario
	if err := json.Unmarshal(data, &scenario); err != nil {
		return fmt.Errorf("parse scenario file %s: %w", path, err)
	}

	result, err := pipeline.Provision(ctx, email, scenario)
	if err != nil {
		return err
	}

	slog.Info("provisioning complete",
		"session", result.SessionID,
		"repositories", result.Repositories,
		"components", result.Components,
		"environments", result.Environments,
		"applications", result.Applications,
		"flags", result.Flags,
		"flags_configured", result.FlagsConfigured,
		"secret_failures", result.SecretFailures,
	)
	return nil
}

// runStoreCredential reads the secret from stdin (keeps it out of argv and
// shell history) and stores it. Storing a new credential automatically
// demotes older ones to fallback.
func runStoreCredential(ctx context.Context, vault *sqliteadapter.CredentialRepo, email, platformName, name string) error {
	if email == "" || platformName == "" {
		return fmt.Errorf("-store-credential requires -user and -platform")
	}

	var platform model.Platform
	switch platformName {
	case string(model.PlatformSourceForge):
		platform = model.PlatformSourceForge
	case string(model.PlatformCI):
		platform = model.PlatformCI
	default:
		return fmt.Errorf("unknown platform %q: expected %s or %s",
			platformName, model.PlatformSourceForge, model.PlatformCI)
	}

	fmt.Fprint(os.Stderr, "secret: ")
	reader := bufio.NewReader(os.Stdin)
	secret, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read secret from stdin: %w", err)
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return fmt.Errorf("empty secret")
	}

	if err := vault.Store(ctx, email, name, platform, secret); err != nil {
		return err
	}
	slog.Info("credential stored", "user", email, "platform", platform)
	return nil
}

// runListSessions prints the user's sessions newest first.
func runListSessions(ctx context.Context, store *sqliteadapter.SessionRepo, email string) error {
	if email == "" {
		return fmt.Errorf("-list-sessions requires -user")
	}

	sessions, err := store.ListByUser(ctx, email)
	if err != nil {
		return err
	}

	for _, s := range sessions {
		expires := "never"
		if s.ExpiresAt != nil {
			expires = s.ExpiresAt.Format("2006-01-02 15:04:05 MST")
		}
		fmt.Printf("%s  %-8s  scenario=%s  created=%s  expires=%s\n",
			s.ID, s.Status, s.ScenarioID,
			s.CreatedAt.Format("2006-01-02 15:04:05 MST"), expires)
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions")
	}
	return nil
}
