package storeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/openinstrument/store/internal/storeerrors"
)

// peerRequest pairs the path to hit on a peer with the JSON body to
// send, so one cluster.PeerClient implementation can serve every route
// this package fans requests out over.
type peerRequest struct {
	path string
	body any
}

// HTTPPeerClient is the cluster.PeerClient used by cmd/storeserver: it
// POSTs the same JSON bodies storeapi's own handlers decode, over plain
// HTTP to another storeserver instance's address.
type HTTPPeerClient struct {
	Client *http.Client
	Scheme string // defaults to "http"
}

// NewHTTPPeerClient returns a client with a bounded per-request timeout,
// so one unreachable peer can't stall a whole Scatter call indefinitely.
func NewHTTPPeerClient() *HTTPPeerClient {
	return &HTTPPeerClient{Client: &http.Client{Timeout: 5 * time.Second}, Scheme: "http"}
}

func (c *HTTPPeerClient) Query(ctx context.Context, peer string, req any) (any, error) {
	pr, ok := req.(peerRequest)
	if !ok {
		return nil, fmt.Errorf("storeapi: HTTPPeerClient given unsupported request type %T", req)
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(pr.body); err != nil {
		return nil, fmt.Errorf("%w: encoding request to %s: %s", storeerrors.ErrIOFailure, peer, err)
	}

	scheme := c.Scheme
	if scheme == "" {
		scheme = "http"
	}
	url := fmt.Sprintf("%s://%s%s", scheme, peer, pr.path)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("%w: building request to %s: %s", storeerrors.ErrNetworkFailure, peer, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", storeerrors.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: peer %s returned status %d", storeerrors.ErrNetworkFailure, peer, resp.StatusCode)
	}

	switch pr.path {
	case "/get":
		var out GetResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("%w: decoding %s response from %s: %s", storeerrors.ErrIOFailure, pr.path, peer, err)
		}
		return out, nil
	case "/list":
		var out ListResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("%w: decoding %s response from %s: %s", storeerrors.ErrIOFailure, pr.path, peer, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("storeapi: HTTPPeerClient given unknown path %q", pr.path)
	}
}
