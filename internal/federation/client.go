// Package federation pulls entities from peer registries and the two fixed
// external catalogs into the local registry, tracks per-peer sync state, and
// serves the export side of the protocol.
package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/contracts"
)

// peerClient talks to one peer's export endpoints with the peer's
// configured auth.
type peerClient struct {
	peer    *contracts.PeerRegistry
	httpc   *http.Client
	timeout time.Duration
}

func newPeerClient(peer *contracts.PeerRegistry, timeout time.Duration) *peerClient {
	httpc := &http.Client{Timeout: timeout}

	// OAuth2 client credentials wrap the transport so tokens refresh
	// transparently.
	if peer.Auth.Type == contracts.PeerAuthOAuth2 {
		cfg := clientcredentials.Config{
			ClientID:     peer.Auth.Credentials["client_id"],
			ClientSecret: peer.Auth.Credentials["client_secret"],
			TokenURL:     peer.Auth.Credentials["token_url"],
		}
		if scopes := peer.Auth.Credentials["scopes"]; scopes != "" {
			cfg.Scopes = strings.Fields(scopes)
		}
		httpc = cfg.Client(context.Background())
		httpc.Timeout = timeout
	}

	return &peerClient{peer: peer, httpc: httpc, timeout: timeout}
}

// FetchServers retrieves the peer's exported servers.
func (c *peerClient) FetchServers(ctx context.Context) (*contracts.ServerExportResponse, error) {
	var out contracts.ServerExportResponse
	if err := c.getJSON(ctx, "/api/federation/servers", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchAgents retrieves the peer's exported agents.
func (c *peerClient) FetchAgents(ctx context.Context) (*contracts.AgentExportResponse, error) {
	var out contracts.AgentExportResponse
	if err := c.getJSON(ctx, "/api/federation/agents", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *peerClient) getJSON(ctx context.Context, path string, out interface{}) error {
	endpoint, err := url.JoinPath(c.peer.Endpoint, path)
	if err != nil {
		return apperrors.Wrap(apperrors.KindBadRequest, "invalid peer endpoint", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.KindPeerUnreachable, "building peer request failed", err)
	}

	switch c.peer.Auth.Type {
	case contracts.PeerAuthStaticToken:
		req.Header.Set("Authorization", "Bearer "+c.peer.Auth.Credentials["token"])
	case contracts.PeerAuthAPIKey:
		header := c.peer.Auth.Credentials["header"]
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, c.peer.Auth.Credentials["api_key"])
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.KindPeerUnreachable,
			fmt.Sprintf("peer %s unreachable", c.peer.PeerID), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.Newf(apperrors.KindPeerUnreachable,
			"peer %s returned %d: %s", c.peer.PeerID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.KindPeerUnreachable,
			fmt.Sprintf("decoding peer %s response failed", c.peer.PeerID), err)
	}
	return nil
}
