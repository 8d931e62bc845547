package offline

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	errMissingStore     = errors.New("offline: store is required")
	errMissingSubmitter = errors.New("offline: submitter is required")
)

// ReplayResult summarises one replay pass.
type ReplayResult struct {
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// Replayer drains the queue against a Submitter. Concurrent calls run one after another.
type Replayer struct {
	store     *Store
	submitter Submitter
	logger    *zap.Logger
	mu        sync.Mutex
}

// NewReplayer validates its collaborators and returns a Replayer.
func NewReplayer(store *Store, submitter Submitter, logger *zap.Logger) (*Replayer, error) {
	if store == nil {
		return nil, errMissingStore
	}
	if submitter == nil {
		return nil, errMissingSubmitter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replayer{store: store, submitter: submitter, logger: logger}, nil
}

// Replay submits every queued entry in storage order. Accepted entries are removed, failed
// entries stay queued, and one failure never stops the pass.
func (r *Replayer) Replay(ctx context.Context) (ReplayResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending, err := r.store.List(ctx)
	if err != nil {
		return ReplayResult{}, err
	}
	var result ReplayResult
	for _, entry := range pending {
		if err := ctx.Err(); err != nil {
			result.Remaining = len(pending) - result.Synced
			return result, err
		}
		submitted, err := r.submitter.Submit(ctx, entry)
		if err != nil {
			result.Failed++
			r.logger.Warn("offline replay entry failed",
				zap.String("temp_id", entry.TempID),
				zap.Int("attempts", entry.Attempts+1),
				zap.Error(err))
			if markErr := r.store.MarkFailed(ctx, entry.TempID, err); markErr != nil {
				r.logger.Error("offline replay bookkeeping failed", zap.String("temp_id", entry.TempID), zap.Error(markErr))
			}
			continue
		}
		// The server already holds the record; a failed removal resubmits the same key next time.
		if err := r.store.Remove(ctx, entry.TempID); err != nil {
			r.logger.Error("offline replay removal failed", zap.String("temp_id", entry.TempID), zap.Error(err))
		}
		result.Synced++
		r.logger.Info("offline submission synced",
			zap.String("temp_id", entry.TempID),
			zap.Int64("application_id", submitted.ID),
			zap.Bool("duplicate", submitted.Duplicate))
	}
	result.Remaining = len(pending) - result.Synced
	return result, nil
}
