package retry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/demoforge/demoforge/internal/domain/model"
)

// RepositoryLister is the slice of the ci-platform client the poller needs.
type RepositoryLister interface {
	ListRepositories(ctx context.Context) ([]model.CIRepository, error)
}

// PollConfig controls the convergence polling schedule: the interval doubles
// from InitialInterval up to MaxInterval, under a wall-clock Timeout.
type PollConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Timeout         time.Duration
}

// DefaultPollConfig matches the configured defaults for convergence polling.
var DefaultPollConfig = PollConfig{
	InitialInterval: 2 * time.Second,
	MaxInterval:     30 * time.Second,
	Timeout:         5 * time.Minute,
}

// ConvergenceError reports that the wall-clock budget elapsed before the
// ci-platform observed every target repository.
type ConvergenceError struct {
	Missing []string
	Elapsed time.Duration
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("repositories not observed after %s: %s",
		e.Elapsed.Round(time.Second), strings.Join(e.Missing, ", "))
}

// AwaitRepositories polls the ci-platform repository listing until every
// target repository URL appears or the wall-clock timeout elapses.
// Repository creation on the source-forge propagates to the ci-platform
// asynchronously; dependent steps must not start before convergence.
// Trailing ".git" suffixes are normalized away before comparison. Listing
// errors are logged and treated as a failed observation, not a fatal error:
// the budget is the only thing that ends polling early.
func AwaitRepositories(ctx context.Context, lister RepositoryLister, targets []string, cfg PollConfig) error {
	if len(targets) == 0 {
		return nil
	}

	missing := make(map[string]string, len(targets)) // normalized -> original
	for _, t := range targets {
		missing[normalizeRepoURL(t)] = t
	}

	start := time.Now()
	deadline := start.Add(cfg.Timeout)
	interval := cfg.InitialInterval

	for attempt := 1; ; attempt++ {
		repos, err := lister.ListRepositories(ctx)
		if err != nil {
			slog.Warn("repository listing failed during convergence poll",
				"attempt", attempt, "error", err)
		} else {
			for _, repo := range repos {
				delete(missing, normalizeRepoURL(repo.URL))
			}
			if len(missing) == 0 {
				slog.Info("repository convergence reached",
					"targets", len(targets),
					"attempts", attempt,
					"elapsed", time.Since(start).Round(time.Millisecond),
				)
				return nil
			}
			slog.Debug("convergence poll incomplete",
				"attempt", attempt, "missing", len(missing), "next_interval", interval)
		}

		if !time.Now().Add(interval).Before(deadline) {
			// Sleeping again would overshoot the budget.
			return &ConvergenceError{Missing: missingNames(missing), Elapsed: time.Since(start)}
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		interval *= 2
		if interval > cfg.MaxInterval {
			interval = cfg.MaxInterval
		}
	}
}

// normalizeRepoURL strips the details that differ between how the two
// platforms render the same repository: trailing slashes and ".git".
func normalizeRepoURL(u string) string {
	u = strings.TrimSpace(u)
	u = strings.TrimSuffix(u, "/")
	u = strings.TrimSuffix(u, ".git")
	return strings.ToLower(u)
}

func missingNames(missing map[string]string) []string {
	names := make([]string, 0, len(missing))
	for _, original := range missing {
		names = append(names, original)
	}
	sort.Strings(names)
	return names
}
