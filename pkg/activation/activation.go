// Package activation drives the one-time exchange of an activation key
// for a hardware-bound Entity Cert: it calls Cloud's
// /api/server/activate endpoint and persists everything the response
// carries into the Edge's storage, the same request/persist shape
// pkg/sync uses for its ongoing push cycle.
package activation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/posedge/edge/pkg/security"
	"github.com/posedge/edge/pkg/storage"
	"github.com/posedge/edge/pkg/types"
)

// Client talks to Cloud's activation endpoints over plain HTTPS: at
// this point the Edge has no Entity Cert yet, so unlike pkg/sync's
// Client there is no mTLS to configure, only the platform's normal
// certificate verification against baseURL.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Client against Cloud's auth server base URL.
func NewClient(baseURL string, requestTimeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Activate exchanges req for a signed Entity Cert and binding. It does
// not persist anything; call Persist with the result once the caller
// is ready to commit it to storage.
func (c *Client) Activate(ctx context.Context, req types.ActivationRequest) (types.ActivationResponse, error) {
	return c.post(ctx, "/api/server/activate", req)
}

// Deactivate tells Cloud this entity is giving up its credential.
// Cloud is the source of truth for the credential's validity from this
// point on; the caller is responsible for deciding whether to also
// remove the local copy (pkg/security.RemoveCerts), since an Edge can
// be deactivated while its till terminals are still mid-shift.
func (c *Client) Deactivate(ctx context.Context, entityID string) error {
	_, err := c.post(ctx, "/api/server/deactivate", map[string]string{"entity_id": entityID})
	return err
}

func (c *Client) post(ctx context.Context, path string, body any) (types.ActivationResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return types.ActivationResponse{}, fmt.Errorf("activation: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return types.ActivationResponse{}, fmt.Errorf("activation: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.ActivationResponse{}, fmt.Errorf("activation: request to %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return types.ActivationResponse{}, fmt.Errorf("activation: cloud returned %d from %s: %s", resp.StatusCode, path, string(data))
	}

	var out types.ActivationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		return types.ActivationResponse{}, fmt.Errorf("activation: decode response from %s: %w", path, err)
	}
	return out, nil
}

// credentialData is the JSON shape persisted by storage.Store's
// entity_credential bucket: the entity's cert plus its key, encrypted
// at rest the same way pkg/security encrypts CA keys.
type credentialData struct {
	TenantID        string `json:"tenant_id"`
	EntityID        string `json:"entity_id"`
	EntityCertPEM   []byte `json:"entity_cert_pem"`
	EncryptedKeyPEM []byte `json:"encrypted_key_pem"`
}

// Persist commits an ActivationResponse to store: root CA, tenant CA,
// the entity's own cert/key, and the signed binding. security.SetEdgeMasterKey
// must already have been called, since the entity key is encrypted
// with the package-level edge master key the same way CA keys are.
func Persist(store storage.Store, resp types.ActivationResponse) error {
	if err := store.SaveCA(string(security.LevelRoot), resp.RootCACertPEM); err != nil {
		return fmt.Errorf("activation: save root CA: %w", err)
	}
	if err := store.SaveCA(string(security.LevelTenant), resp.TenantCACertPEM); err != nil {
		return fmt.Errorf("activation: save tenant CA: %w", err)
	}

	encryptedKeyPEM, err := security.Encrypt(resp.EntityKeyPEM)
	if err != nil {
		return fmt.Errorf("activation: encrypt entity key: %w", err)
	}
	cred := credentialData{
		TenantID:        resp.TenantID,
		EntityID:        resp.EntityID,
		EntityCertPEM:   resp.EntityCertPEM,
		EncryptedKeyPEM: encryptedKeyPEM,
	}
	credRaw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("activation: marshal entity credential: %w", err)
	}
	if err := store.SaveEntityCredential(credRaw); err != nil {
		return fmt.Errorf("activation: save entity credential: %w", err)
	}

	bindingRaw, err := json.Marshal(resp.Binding)
	if err != nil {
		return fmt.Errorf("activation: marshal signed binding: %w", err)
	}
	if err := store.SaveSignedBinding(bindingRaw); err != nil {
		return fmt.Errorf("activation: save signed binding: %w", err)
	}
	return nil
}

// IsActivated reports whether an entity credential has already been
// persisted, the check cmd/edge runs at startup to decide between
// resuming normal operation and demanding activation (exit code 69).
func IsActivated(store storage.Store) bool {
	_, err := store.GetEntityCredential()
	return err == nil
}

// LoadCredential reads back the entity cert and decrypted key
// persisted by Persist.
func LoadCredential(store storage.Store) (entityCertPEM, entityKeyPEM []byte, tenantID, entityID string, err error) {
	raw, err := store.GetEntityCredential()
	if err != nil {
		return nil, nil, "", "", fmt.Errorf("activation: load entity credential: %w", err)
	}
	var cred credentialData
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, nil, "", "", fmt.Errorf("activation: unmarshal entity credential: %w", err)
	}
	keyPEM, err := security.Decrypt(cred.EncryptedKeyPEM)
	if err != nil {
		return nil, nil, "", "", fmt.Errorf("activation: decrypt entity key: %w", err)
	}
	return cred.EntityCertPEM, keyPEM, cred.TenantID, cred.EntityID, nil
}
