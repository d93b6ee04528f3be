package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/posedge/edge/pkg/types"
)

func TestClientPushRoundTrip(t *testing.T) {
	var gotBinding string
	var gotBatch types.CloudSyncBatch

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBinding = r.Header.Get(signedBindingHeader)
		if err := json.NewDecoder(r.Body).Decode(&gotBatch); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		resp := types.CloudSyncResponse{Accepted: []string{"item-1"}}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "binding-token", nil, 2*time.Second)
	batch := types.CloudSyncBatch{
		EdgeID: "edge-1",
		Items:  []types.SyncItem{{Resource: "orders", ResourceID: "item-1", Version: 1}},
	}

	resp, err := c.Push(context.Background(), batch)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(resp.Accepted) != 1 || resp.Accepted[0] != "item-1" {
		t.Errorf("expected accepted [item-1], got %v", resp.Accepted)
	}
	if gotBinding != "binding-token" {
		t.Errorf("expected signed binding header to be forwarded, got %q", gotBinding)
	}
	if gotBatch.EdgeID != "edge-1" {
		t.Errorf("expected server to see edge_id edge-1, got %q", gotBatch.EdgeID)
	}
}

func TestClientPushReturnsErrorOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil, 2*time.Second)
	_, err := c.Push(context.Background(), types.CloudSyncBatch{EdgeID: "edge-1"})
	if err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}

func TestClientPushPropagatesContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer func() {
		close(block)
		srv.Close()
	}()

	c := NewClient(srv.URL, "", nil, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Push(ctx, types.CloudSyncBatch{EdgeID: "edge-1"})
	if err == nil {
		t.Fatal("expected an error from a cancelled context")
	}
}
