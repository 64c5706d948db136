package application

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/demoforge/demoforge/internal/domain/model"
	"github.com/demoforge/demoforge/internal/domain/port/driven"
	"github.com/demoforge/demoforge/internal/retry"
)

// CleanupStats summarizes one cleanup cycle.
type CleanupStats struct {
	// Marked is the number of resources transitioned to delete_pending (or
	// requeued from failed) by the Mark stage.
	Marked int64
	// Deleted counts resources whose platform deletion succeeded, including
	// already-gone resources treated as success.
	Deleted int
	// SkippedShared counts shared resources marked deleted without any
	// platform call.
	SkippedShared int
	// NoCredential counts resources left pending because their owner has no
	// usable credential for the platform.
	NoCredential int
	// CredentialsExhausted counts resources marked failed because the
	// platform rejected every stored credential.
	CredentialsExhausted int
	// Failed counts resources marked failed for any other reason.
	Failed int
	// SessionsFinalized counts sessions flipped to deleted because all their
	// resources reached a terminal state.
	SessionsFinalized int64
}

// CleanupService runs the two-stage cleanup cycle on a fixed interval:
// Mark flips resources of expired sessions to delete_pending, Process
// attempts platform deletion for everything pending, walking the owner's
// credentials newest-first until one works. A process-local guard keeps
// cycles from overlapping; the service is single-instance per database.
type CleanupService struct {
	vault         driven.CredentialVault
	sessions      driven.SessionStore
	resources     driven.ResourceStore
	sourceFactory driven.SourceHostFactory
	ciFactory     driven.CIPlatformFactory
	interval      time.Duration
	retry         retry.Options

	running atomic.Bool
}

// NewCleanupService creates a CleanupService with all required dependencies.
func NewCleanupService(
	vault driven.CredentialVault,
	sessions driven.SessionStore,
	resources driven.ResourceStore,
	sourceFactory driven.SourceHostFactory,
	ciFactory driven.CIPlatformFactory,
	interval time.Duration,
	retryOpts retry.Options,
) *CleanupService {
	if interval <= 0 {
		interval = time.Hour
	}
	if retryOpts.MaxAttempts == 0 {
		retryOpts = retry.DefaultOptions
	}

	return &CleanupService{
		vault:         vault,
		sessions:      sessions,
		resources:     resources,
		sourceFactory: sourceFactory,
		ciFactory:     ciFactory,
		interval:      interval,
		retry:         retryOpts,
	}
}

// Start runs an immediate cycle, then repeats on the configured interval
// until the context is cancelled. Blocking; run it in its own goroutine.
func (s *CleanupService) Start(ctx context.Context) {
	slog.Info("cleanup scheduler started", "interval", s.interval)

	s.cycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup scheduler stopped")
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// RunNow triggers one cycle outside the schedule. Returns
// ErrCleanupInProgress if a cycle is already in flight.
func (s *CleanupService) RunNow(ctx context.Context) (CleanupStats, error) {
	return s.runCycle(ctx)
}

func (s *CleanupService) cycle(ctx context.Context) {
	stats, err := s.runCycle(ctx)
	if err != nil {
		if !errors.Is(err, ErrCleanupInProgress) {
			slog.Error("cleanup cycle failed", "error", err)
		}
		return
	}
	slog.Info("cleanup cycle complete",
		"marked", stats.Marked,
		"deleted", stats.Deleted,
		"skipped_shared", stats.SkippedShared,
		"no_credential", stats.NoCredential,
		"credentials_exhausted", stats.CredentialsExhausted,
		"failed", stats.Failed,
		"sessions_finalized", stats.SessionsFinalized,
	)
}

func (s *CleanupService) runCycle(ctx context.Context) (CleanupStats, error) {
	if !s.running.CompareAndSwap(false, true) {
		return CleanupStats{}, ErrCleanupInProgress
	}
	defer s.running.Store(false)

	var stats CleanupStats

	marked, err := s.resources.MarkExpired(ctx, time.Now().UTC())
	if err != nil {
		return stats, err
	}
	stats.Marked = marked

	pending, err := s.resources.ListDeletePending(ctx)
	if err != nil {
		return stats, err
	}

	// Decrypted credential lists are cached per owner+platform for the
	// duration of the cycle.
	credCache := make(map[string][]model.Credential)

	for _, res := range pending {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		s.processResource(ctx, res, credCache, &stats)
	}

	finalized, err := s.sessions.FinalizeDeleted(ctx)
	if err != nil {
		return stats, err
	}
	stats.SessionsFinalized = finalized

	return stats, nil
}

// processResource attempts deletion of one pending resource. Outcomes are
// recorded in the ledger and in stats; a failure never aborts the cycle.
func (s *CleanupService) processResource(ctx context.Context, res model.PendingResource, credCache map[string][]model.Credential, stats *CleanupStats) {
	logger := slog.With(
		"resource_id", res.ID,
		"kind", res.Kind,
		"name", res.Name,
		"owner", res.OwnerEmail,
	)

	deleter, err := deleterFor(res.Resource)
	if err != nil {
		logger.Error("resource not deletable", "error", err)
		s.setStatus(ctx, res.ID, model.ResourceStatusFailed, logger)
		stats.Failed++
		return
	}

	if deleter.Shared() {
		logger.Info("shared resource, skipping platform deletion")
		s.setStatus(ctx, res.ID, model.ResourceStatusDeleted, logger)
		stats.SkippedShared++
		return
	}

	creds, err := s.credentials(ctx, res, credCache)
	if err != nil {
		if errors.Is(err, driven.ErrNoCredential) || errors.Is(err, driven.ErrNoUsableCredential) {
			// Stays delete_pending; a later credential submission lets the
			// next cycle pick it up.
			logger.Warn("no usable credential, deferring deletion", "platform", res.Platform)
			stats.NoCredential++
			return
		}
		logger.Error("credential lookup failed", "error", err)
		stats.NoCredential++
		return
	}

	for _, cred := range creds {
		clients := deletionClients{
			source: s.sourceFactory(cred.Secret),
			ci:     s.ciFactory(cred.Secret),
		}

		err := retry.Do(ctx, "delete "+string(res.Kind)+" "+res.Name, func() error {
			return deleter.Delete(ctx, clients)
		}, driven.IsRetryable, s.retry)

		switch {
		case err == nil, driven.IsNotFound(err):
			if driven.IsNotFound(err) {
				logger.Info("resource already gone, treating as deleted")
			} else {
				logger.Info("resource deleted", "credential_id", cred.ID)
			}
			if touchErr := s.vault.TouchLastUsed(ctx, cred.ID); touchErr != nil {
				logger.Warn("failed to update credential last_used", "error", touchErr)
			}
			s.setStatus(ctx, res.ID, model.ResourceStatusDeleted, logger)
			stats.Deleted++
			return

		case driven.IsUnauthorized(err):
			logger.Warn("credential rejected, deactivating and falling back",
				"credential_id", cred.ID, "error", err)
			if markErr := s.vault.MarkInactive(ctx, cred.ID); markErr != nil {
				logger.Error("failed to deactivate credential", "credential_id", cred.ID, "error", markErr)
			}
			continue

		default:
			logger.Error("deletion failed", "credential_id", cred.ID, "error", err)
			s.setStatus(ctx, res.ID, model.ResourceStatusFailed, logger)
			stats.Failed++
			return
		}
	}

	// Every credential came back unauthorized. Recorded apart from other
	// failures: the remedy is a new credential, not a platform fix.
	logger.Error("all credentials exhausted for resource")
	s.setStatus(ctx, res.ID, model.ResourceStatusFailed, logger)
	stats.CredentialsExhausted++
}

func (s *CleanupService) credentials(ctx context.Context, res model.PendingResource, cache map[string][]model.Credential) ([]model.Credential, error) {
	key := res.OwnerEmail + "|" + string(res.Platform)
	if creds, ok := cache[key]; ok {
		if creds == nil {
			return nil, driven.ErrNoCredential
		}
		return creds, nil
	}

	creds, err := s.vault.AllActive(ctx, res.OwnerEmail, res.Platform)
	if err != nil {
		if errors.Is(err, driven.ErrNoCredential) || errors.Is(err, driven.ErrNoUsableCredential) {
			cache[key] = nil
		}
		return nil, err
	}
	cache[key] = creds
	return creds, nil
}

func (s *CleanupService) setStatus(ctx context.Context, id string, status model.ResourceStatus, logger *slog.Logger) {
	if err := s.resources.SetStatus(ctx, id, status); err != nil {
		logger.Error("failed to update resource status", "status", status, "error", err)
	}
}
