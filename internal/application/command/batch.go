package command

import (
	"context"
	"time"

	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BATCH RUNNER
// Walks all users in fixed-size chunks with a pause between chunks so the
// store's throughput ceiling is respected. Single-threaded on purpose.
// ══════════════════════════════════════════════════════════════════════════════

// BatchConfig contains chunking parameters.
type BatchConfig struct {
	BatchSize int
	Delay     time.Duration
}

// DefaultBatchConfig returns default configuration.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize: 100,
		Delay:     time.Second,
	}
}

// UserError is a per-user failure collected during a batch.
type UserError struct {
	UserID string
	Err    error
}

// AbortReason names why a batch stopped early.
type AbortReason string

const (
	AbortNone              AbortReason = ""
	AbortResourceExhausted AbortReason = "resource_exhausted"
	AbortCanceled          AbortReason = "canceled"
)

// BatchRunner runs a per-user function over a list of ids.
type BatchRunner struct {
	config BatchConfig
	sleep  func(ctx context.Context, d time.Duration) error
	log    *logger.Logger
}

// NewBatchRunner creates a new BatchRunner.
func NewBatchRunner(config BatchConfig, log *logger.Logger) *BatchRunner {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchConfig().BatchSize
	}
	if config.Delay < 0 {
		config.Delay = 0
	}
	if log == nil {
		log = logger.Default()
	}
	return &BatchRunner{config: config, sleep: sleepCtx, log: log}
}

// BatchOutcome is what the runner reports back.
type BatchOutcome struct {
	Processed   int
	Batches     int
	Errors      []UserError
	AbortReason AbortReason
}

// Aborted reports whether the batch stopped before the last user.
func (o BatchOutcome) Aborted() bool { return o.AbortReason != AbortNone }

// Run calls fn for every id. A per-user error is recorded and the batch
// goes on, except resource exhaustion, which stops the whole run.
func (r *BatchRunner) Run(ctx context.Context, ids []string, fn func(ctx context.Context, userID string) error) BatchOutcome {
	var out BatchOutcome

	for start := 0; start < len(ids); start += r.config.BatchSize {
		if start > 0 && r.config.Delay > 0 {
			if err := r.sleep(ctx, r.config.Delay); err != nil {
				out.AbortReason = AbortCanceled
				return out
			}
		}
		if ctx.Err() != nil {
			out.AbortReason = AbortCanceled
			return out
		}

		end := min(start+r.config.BatchSize, len(ids))
		out.Batches++

		for _, userID := range ids[start:end] {
			err := fn(ctx, userID)
			out.Processed++
			if err == nil {
				continue
			}

			out.Errors = append(out.Errors, UserError{UserID: userID, Err: err})
			if shared.IsResourceExhausted(err) {
				r.log.Error("store exhausted, aborting batch",
					logger.UserID(userID), logger.Int("processed", out.Processed), logger.Err(err))
				out.AbortReason = AbortResourceExhausted
				return out
			}
			r.log.Warn("user failed in batch", logger.UserID(userID), logger.Err(err))
		}

		r.log.Debug("batch chunk done", logger.Int("batch", out.Batches), logger.Int("processed", out.Processed))
	}

	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
