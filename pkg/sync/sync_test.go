package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/posedge/edge/pkg/storage"
	"github.com/posedge/edge/pkg/types"
)

type fakeSource struct {
	name  string
	items []types.SyncItem
}

func (f *fakeSource) ResourceName() string { return f.name }

func (f *fakeSource) PendingSince(cursor uint64, limit int) ([]types.SyncItem, error) {
	var out []types.SyncItem
	for _, item := range f.items {
		if item.Version > cursor {
			out = append(out, item)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func newTestBacking(t *testing.T) storage.Store {
	t.Helper()
	backing, err := storage.NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("open bolt store: %v", err)
	}
	t.Cleanup(func() { backing.Close() })
	return backing
}

func TestAdvanceCursorStopsAtFirstGap(t *testing.T) {
	items := []types.SyncItem{
		{ResourceID: "a", Version: 1},
		{ResourceID: "b", Version: 2},
		{ResourceID: "c", Version: 3},
	}
	// "b" rejected: cursor must stop at "a"'s version, even though "c"
	// (a later item) was accepted.
	accepted := []string{"a", "c"}

	got := advanceCursor(items, accepted)
	if got != 1 {
		t.Errorf("expected cursor to advance only to version 1, got %d", got)
	}
}

func TestAdvanceCursorAllAccepted(t *testing.T) {
	items := []types.SyncItem{
		{ResourceID: "a", Version: 1},
		{ResourceID: "b", Version: 2},
	}
	got := advanceCursor(items, []string{"a", "b"})
	if got != 2 {
		t.Errorf("expected cursor to advance to version 2, got %d", got)
	}
}

func TestAdvanceCursorNoneAccepted(t *testing.T) {
	items := []types.SyncItem{{ResourceID: "a", Version: 1}}
	got := advanceCursor(items, nil)
	if got != 0 {
		t.Errorf("expected cursor to stay at 0, got %d", got)
	}
}

func TestWorkerSyncResourceAdvancesCursorOnAcceptance(t *testing.T) {
	backing := newTestBacking(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch types.CloudSyncBatch
		json.NewDecoder(r.Body).Decode(&batch)
		resp := types.CloudSyncResponse{}
		for _, item := range batch.Items {
			resp.Accepted = append(resp.Accepted, item.ResourceID)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", nil, time.Second)
	src := &fakeSource{name: "orders", items: []types.SyncItem{
		{Resource: "orders", ResourceID: "order-1", Version: 1},
		{Resource: "orders", ResourceID: "order-2", Version: 2},
	}}

	w := NewWorker("edge-1", backing, client, nil, 0)
	w.Register(src)

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	cursor, err := backing.GetCursor("edge-1", "orders")
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if cursor == nil || cursor.Version != 2 {
		t.Fatalf("expected cursor to advance to version 2, got %+v", cursor)
	}
}

func TestWorkerSyncResourceLeavesCursorOnPushFailure(t *testing.T) {
	backing := newTestBacking(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", nil, time.Second)
	src := &fakeSource{name: "orders", items: []types.SyncItem{
		{Resource: "orders", ResourceID: "order-1", Version: 1},
	}}

	w := NewWorker("edge-1", backing, client, nil, 0)
	w.Register(src)

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce itself should not return an error, the failure is logged per-source: %v", err)
	}

	cursor, err := backing.GetCursor("edge-1", "orders")
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if cursor != nil {
		t.Errorf("expected no cursor to have been saved after a push failure, got %+v", cursor)
	}
}

func TestWorkerRunPendingCommandsQueuesResultsForNextPush(t *testing.T) {
	backing := newTestBacking(t)

	var pushCount atomic.Int32
	var secondBatchResults []types.CloudCommandResult

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := pushCount.Add(1)
		var batch types.CloudSyncBatch
		json.NewDecoder(r.Body).Decode(&batch)

		resp := types.CloudSyncResponse{}
		for _, item := range batch.Items {
			resp.Accepted = append(resp.Accepted, item.ResourceID)
		}
		if n == 1 {
			resp.PendingCommands = []types.CloudCommand{{CommandID: "cmd-1", Type: types.CloudCmdGetStatus}}
		} else {
			secondBatchResults = batch.CommandResults
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", nil, time.Second)
	src := &fakeSource{name: "orders", items: []types.SyncItem{
		{Resource: "orders", ResourceID: "order-1", Version: 1},
		{Resource: "orders", ResourceID: "order-2", Version: 2},
	}}

	executor := func(ctx context.Context, cmd types.CloudCommand) types.CloudCommandResult {
		return types.CloudCommandResult{CommandID: cmd.CommandID, OK: true, Result: "done"}
	}

	w := NewWorker("edge-1", backing, client, executor, 1)
	w.Register(src)

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if pushCount.Load() < 2 {
		t.Fatalf("expected at least two pushes, got %d", pushCount.Load())
	}
	if len(secondBatchResults) != 1 || secondBatchResults[0].CommandID != "cmd-1" {
		t.Fatalf("expected the command result to ride on the next push, got %+v", secondBatchResults)
	}
}
