package immich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mirrorsync/internal/mirror"
)

// Client is a thin client for the photo server's HTTP API. Every call it
// makes is best-effort from the engine's point of view: the sync cycle never
// depends on the API being reachable.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL, authenticating with
// the given API key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Library is the subset of the API's library resource the engine reads.
type Library struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"ownerId"`
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Ping reports whether the server answers its ping endpoint.
func (c *Client) Ping(ctx context.Context) bool {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/server/ping")
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Libraries fetches all external libraries.
func (c *Client) Libraries(ctx context.Context) ([]Library, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/libraries")
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing libraries: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing libraries: unexpected status %s", resp.Status)
	}

	var libraries []Library
	if err := json.NewDecoder(resp.Body).Decode(&libraries); err != nil {
		return nil, fmt.Errorf("decoding libraries response: %w", err)
	}
	return libraries, nil
}

// ScanLibrary triggers a scan of one library.
func (c *Client) ScanLibrary(ctx context.Context, libraryID string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/libraries/"+libraryID+"/scan")
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("triggering scan for library %s: %w", libraryID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("triggering scan for library %s: unexpected status %s", libraryID, resp.Status)
	}
	return nil
}

// WaitUntilReady polls the ping endpoint until the server answers or the
// retries run out. ctx cancellation aborts the wait.
func (c *Client) WaitUntilReady(ctx context.Context, retries int, delay time.Duration, logger mirror.Logger) error {
	for attempt := 1; attempt <= retries; attempt++ {
		if c.Ping(ctx) {
			logger.Info("photo server is ready")
			return nil
		}
		logger.Info("waiting for photo server", "attempt", attempt, "of", retries)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("photo server not reachable after %d attempts", retries)
}
