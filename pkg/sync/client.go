package sync

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/posedge/edge/pkg/types"
)

// signedBindingHeader carries the Edge's SignedBinding (pkg/security)
// so Cloud can verify this Edge's tenant and subscription state
// without a separate round trip.
const signedBindingHeader = "X-Signed-Binding"

// Client pushes sync batches to Cloud's /api/edge/sync endpoint over
// mTLS (the entity certificate is configured into tlsConfig by the
// caller, same as the teacher's ingress proxy wires tls.Config).
type Client struct {
	baseURL       string
	signedBinding string
	httpClient    *http.Client
}

// NewClient builds a Client. tlsConfig should already carry the
// Edge's entity certificate and require TLS 1.3; requestTimeout
// bounds each individual push, independent of any caller-supplied
// context deadline (whichever is shorter wins).
func NewClient(baseURL, signedBinding string, tlsConfig *tls.Config, requestTimeout time.Duration) *Client {
	if tlsConfig != nil {
		tlsConfig.MinVersion = tls.VersionTLS13
	}
	return &Client{
		baseURL:       baseURL,
		signedBinding: signedBinding,
		httpClient: &http.Client{
			Timeout:   requestTimeout,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
	}
}

// Push sends one CloudSyncBatch and returns Cloud's response. On a
// context deadline or transport error the caller is expected to retry
// on its next cycle from the same (unadvanced) cursor.
func (c *Client) Push(ctx context.Context, batch types.CloudSyncBatch) (types.CloudSyncResponse, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return types.CloudSyncResponse{}, fmt.Errorf("sync: marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/edge/sync", bytes.NewReader(body))
	if err != nil {
		return types.CloudSyncResponse{}, fmt.Errorf("sync: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.signedBinding != "" {
		req.Header.Set(signedBindingHeader, c.signedBinding)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.CloudSyncResponse{}, fmt.Errorf("sync: push request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return types.CloudSyncResponse{}, fmt.Errorf("sync: cloud returned %d: %s", resp.StatusCode, string(data))
	}

	var out types.CloudSyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return types.CloudSyncResponse{}, fmt.Errorf("sync: decode response: %w", err)
	}
	return out, nil
}
