// Package sync implements the Edge->Cloud synchronization worker
// (C9): a periodic push of locally staged resource rows over mTLS,
// cursor advancement restricted to contiguous accepted versions, and
// execution of CloudCommand callbacks Cloud piggybacks on the
// response. Retries preserve the cursor exactly where it was, the
// same request-level-deadline-then-retry-from-cursor shape the
// teacher's ingress proxy uses for its upstream dials.
package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/posedge/edge/pkg/log"
	"github.com/posedge/edge/pkg/metrics"
	"github.com/posedge/edge/pkg/storage"
	"github.com/posedge/edge/pkg/types"
)

// Source produces the resource rows a Worker pushes to Cloud. One
// Source per resource name (orders, audit entries, catalog changes,
// ...); the orders package, audit package, etc. each implement it
// against their own storage.
type Source interface {
	// ResourceName identifies this source in SyncCursor/CloudSyncBatch.
	ResourceName() string
	// PendingSince returns every item with version > cursor, in
	// ascending version order, capped at limit items.
	PendingSince(cursor uint64, limit int) ([]types.SyncItem, error)
}

// CommandExecutor runs one CloudCommand pushed back by Cloud and
// reports the outcome for the next sync cycle.
type CommandExecutor func(ctx context.Context, cmd types.CloudCommand) types.CloudCommandResult

// Worker periodically pushes every registered Source's pending items
// to Cloud and advances each source's cursor on acceptance.
type Worker struct {
	edgeID   string
	backing  storage.Store
	client   *Client
	sources  []Source
	execute  CommandExecutor
	batchCap int

	resultsMu      stdsync.Mutex
	pendingResults []types.CloudCommandResult
}

// NewWorker wires a sync Worker to its Cloud client and cursor store.
// batchCap bounds how many items one push attempts at a time.
func NewWorker(edgeID string, backing storage.Store, client *Client, execute CommandExecutor, batchCap int) *Worker {
	if batchCap <= 0 {
		batchCap = 200
	}
	return &Worker{edgeID: edgeID, backing: backing, client: client, execute: execute, batchCap: batchCap}
}

// Register adds a Source this worker pushes on every cycle.
func (w *Worker) Register(src Source) {
	w.sources = append(w.sources, src)
}

// RunOnce executes one sync cycle across every registered source.
// Intended to be wrapped in a supervisor.Task with Kind Periodic.
func (w *Worker) RunOnce(ctx context.Context) error {
	for _, src := range w.sources {
		if err := w.syncResource(ctx, src); err != nil {
			log.Logger.Error().Err(err).Str("resource", src.ResourceName()).Msg("sync cycle failed for resource")
		}
	}
	return nil
}

func (w *Worker) syncResource(ctx context.Context, src Source) error {
	resource := src.ResourceName()
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SyncBatchDuration, resource)

	cursor, err := w.backing.GetCursor(w.edgeID, resource)
	if err != nil {
		return fmt.Errorf("sync: load cursor for %s: %w", resource, err)
	}
	var fromVersion uint64
	if cursor != nil {
		fromVersion = cursor.Version
	}

	items, err := src.PendingSince(fromVersion, w.batchCap)
	if err != nil {
		return fmt.Errorf("sync: list pending %s: %w", resource, err)
	}
	metrics.SyncCursorLag.WithLabelValues(resource).Set(float64(len(items)))
	if len(items) == 0 {
		return nil
	}

	w.resultsMu.Lock()
	results := w.pendingResults
	w.pendingResults = nil
	w.resultsMu.Unlock()

	batch := types.CloudSyncBatch{EdgeID: w.edgeID, Items: items, CommandResults: results}
	resp, err := w.client.Push(ctx, batch)
	if err != nil {
		w.resultsMu.Lock()
		w.pendingResults = append(results, w.pendingResults...)
		w.resultsMu.Unlock()
		metrics.SyncBatchesTotal.WithLabelValues(resource, "error").Inc()
		// The cursor is untouched: a retried push reads PendingSince
		// from the same watermark and resends the same items.
		return fmt.Errorf("sync: push %s: %w", resource, err)
	}

	accepted := advanceCursor(items, resp.Accepted)
	if accepted > fromVersion {
		if err := w.backing.SaveCursor(types.SyncCursor{
			EdgeID: w.edgeID, ResourceName: resource, Version: accepted, UpdatedAt: time.Now(),
		}); err != nil {
			return fmt.Errorf("sync: save cursor for %s: %w", resource, err)
		}
	}

	if len(resp.Errors) > 0 {
		metrics.SyncBatchesTotal.WithLabelValues(resource, "partial").Inc()
		for _, itemErr := range resp.Errors {
			log.Logger.Warn().Str("resource", resource).Str("resource_id", itemErr.ResourceID).Str("message", itemErr.Message).Msg("cloud rejected sync item")
		}
	} else {
		metrics.SyncBatchesTotal.WithLabelValues(resource, "ok").Inc()
	}

	w.runPendingCommands(ctx, resp.PendingCommands)
	return nil
}

// advanceCursor computes the highest version that can be safely
// adopted as the new cursor: the run of accepted items starting from
// the lowest version in the batch, stopping at the first gap or
// rejection so a partially-accepted batch never skips a version the
// cursor's caller believes is durably synced.
func advanceCursor(items []types.SyncItem, accepted []string) uint64 {
	acceptedSet := make(map[string]bool, len(accepted))
	for _, id := range accepted {
		acceptedSet[id] = true
	}

	var high uint64
	for _, item := range items {
		if !acceptedSet[item.ResourceID] {
			break
		}
		if item.Version > high {
			high = item.Version
		}
	}
	return high
}

// runPendingCommands executes every CloudCommand in this cycle's
// response and queues the results to ride along on the next push,
// rather than opening a second connection to report them immediately.
func (w *Worker) runPendingCommands(ctx context.Context, commands []types.CloudCommand) {
	if w.execute == nil || len(commands) == 0 {
		return
	}
	results := make([]types.CloudCommandResult, 0, len(commands))
	for _, cmd := range commands {
		results = append(results, w.execute(ctx, cmd))
	}

	w.resultsMu.Lock()
	w.pendingResults = append(w.pendingResults, results...)
	w.resultsMu.Unlock()
}
