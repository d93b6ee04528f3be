package activation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/posedge/edge/pkg/security"
	"github.com/posedge/edge/pkg/storage"
	"github.com/posedge/edge/pkg/types"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	key := security.DeriveKeyFromEdgeID("test-edge")
	if err := security.SetEdgeMasterKey(key); err != nil {
		t.Fatalf("set edge master key: %v", err)
	}

	tmpDir, err := os.MkdirTemp("", "posedge-activation-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := storage.NewBoltStore(tmpDir)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleResponse() types.ActivationResponse {
	return types.ActivationResponse{
		TenantID:        "tenant-1",
		EntityID:        "entity-1",
		EntityCertPEM:   []byte("entity-cert"),
		EntityKeyPEM:    []byte("entity-key"),
		TenantCACertPEM: []byte("tenant-ca-cert"),
		RootCACertPEM:   []byte("root-ca-cert"),
		Binding: types.SignedBinding{
			TenantID:   "tenant-1",
			EntityID:   "entity-1",
			EntityType: types.EntityTypeServer,
		},
	}
}

func TestClientActivateRoundTrip(t *testing.T) {
	var gotReq types.ActivationRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/server/activate" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(sampleResponse()); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	resp, err := c.Activate(context.Background(), types.ActivationRequest{
		ActivationKey: "key-1",
		HardwareID:    "hw-1",
	})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if resp.TenantID != "tenant-1" || resp.EntityID != "entity-1" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if gotReq.ActivationKey != "key-1" || gotReq.HardwareID != "hw-1" {
		t.Errorf("server did not see the request fields: %+v", gotReq)
	}
}

func TestClientActivateRejectsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid activation key"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	_, err := c.Activate(context.Background(), types.ActivationRequest{ActivationKey: "bad"})
	if err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}

func TestPersistAndLoadCredentialRoundTrip(t *testing.T) {
	store := newTestStore(t)
	resp := sampleResponse()

	if err := Persist(store, resp); err != nil {
		t.Fatalf("persist: %v", err)
	}

	if !IsActivated(store) {
		t.Fatal("expected IsActivated to report true after Persist")
	}

	certPEM, keyPEM, tenantID, entityID, err := LoadCredential(store)
	if err != nil {
		t.Fatalf("load credential: %v", err)
	}
	if string(certPEM) != "entity-cert" {
		t.Errorf("cert pem = %q, want entity-cert", certPEM)
	}
	if string(keyPEM) != "entity-key" {
		t.Errorf("key pem = %q, want entity-key (decrypted)", keyPEM)
	}
	if tenantID != "tenant-1" || entityID != "entity-1" {
		t.Errorf("tenant/entity id = %q/%q, want tenant-1/entity-1", tenantID, entityID)
	}

	rootCA, err := store.GetCA(string(security.LevelRoot))
	if err != nil {
		t.Fatalf("get root CA: %v", err)
	}
	if string(rootCA) != "root-ca-cert" {
		t.Errorf("root CA = %q, want root-ca-cert", rootCA)
	}

	bindingRaw, err := store.GetSignedBinding()
	if err != nil {
		t.Fatalf("get signed binding: %v", err)
	}
	var binding types.SignedBinding
	if err := json.Unmarshal(bindingRaw, &binding); err != nil {
		t.Fatalf("unmarshal binding: %v", err)
	}
	if binding.EntityID != "entity-1" {
		t.Errorf("binding entity id = %q, want entity-1", binding.EntityID)
	}
}

func TestIsActivatedFalseBeforePersist(t *testing.T) {
	store := newTestStore(t)
	if IsActivated(store) {
		t.Fatal("expected IsActivated to report false before any Persist")
	}
}
