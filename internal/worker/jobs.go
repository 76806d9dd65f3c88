package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/cache"
)

// SLASweeper flags tickets whose deadlines have passed.
type SLASweeper interface {
	SweepSLA(ctx context.Context) (int64, error)
}

// AuditPruner deletes audit entries older than a cutoff.
type AuditPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Invalidator purges cached views by prefix.
type Invalidator interface {
	InvalidatePrefixes(ctx context.Context, prefixes ...string) cache.InvalidationResult
}

// SLASweepJob recomputes the violated flag of open tickets.
func SLASweepJob(sweeper SLASweeper) Job {
	return func(ctx context.Context) error {
		_, err := sweeper.SweepSLA(ctx)
		return err
	}
}

// AuditRetentionJob removes audit entries older than retention and, when
// anything was removed, drops every cached audit view so pruned entries stop
// being served. A nil invalidator skips the purge.
func AuditRetentionJob(pruner AuditPruner, invalidator Invalidator, retention time.Duration, now func() time.Time, logger *zap.Logger) Job {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) error {
		cutoff := now().Add(-retention)
		deleted, err := pruner.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		logger.Info("audit retention sweep", zap.Time("cutoff", cutoff), zap.Int64("deleted", deleted))
		if deleted > 0 && invalidator != nil {
			invalidator.InvalidatePrefixes(ctx, cache.Prefix(cache.NamespaceTicketAudit))
		}
		return nil
	}
}
