package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mikenoired/synapse-sub000/internal/common"
	"github.com/mikenoired/synapse-sub000/internal/syncmodel"
)

const requestTimeout = 12 * time.Second

// HTTPClient implements API against the sync server's JSON endpoints.
type HTTPClient struct {
	baseURL string
	userID  string
	client  *http.Client
}

func NewHTTPClient(baseURL, userID string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		userID:  userID,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

func (c *HTTPClient) Push(ctx context.Context, req *syncmodel.PushRequest) (*syncmodel.PushResponse, error) {
	resp := &syncmodel.PushResponse{}
	if err := c.post(ctx, "/api/sync/push", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) Pull(ctx context.Context, req *syncmodel.PullRequest) (*syncmodel.PullResponse, error) {
	resp := &syncmodel.PullResponse{}
	if err := c.post(ctx, "/api/sync/pull", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) Bootstrap(ctx context.Context, req *syncmodel.BootstrapRequest) (*syncmodel.BootstrapResponse, error) {
	resp := &syncmodel.BootstrapResponse{}
	if err := c.post(ctx, "/api/sync/initial", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(common.UserIDHeaderName, c.userID)

	resp, err := c.client.Do(req)
	if err != nil {
		return c.mapError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return common.ErrUnauthorized
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s returned %d", common.ErrUnavailable, path, resp.StatusCode)
	default:
		return fmt.Errorf("%s failed: status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// mapError classifies transport failures so the engine can distinguish
// transient connectivity faults from everything else.
func (c *HTTPClient) mapError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	return fmt.Errorf("request error: %w", err)
}
