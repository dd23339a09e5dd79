package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/tarstars/recommendation_tree/golang/rectree/rtl"
)

// apiClient talks to a running rectree server.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

type apiResponse struct {
	Type string  `json:"type"`
	Ret  *string `json:"ret"`
}

// serverError is a non-200 answer; Message is the server's "ret" text.
type serverError struct {
	StatusCode int
	Message    string
}

func (e *serverError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (c *apiClient) push(ctx context.Context, playlistID string) error {
	_, err := c.playlistCall(ctx, "/push/", playlistID)
	return err
}

func (c *apiClient) recommend(ctx context.Context, playlistID string) (*string, error) {
	return c.playlistCall(ctx, "/recommendation/", playlistID)
}

func (c *apiClient) playlistCall(ctx context.Context, route, playlistID string) (*string, error) {
	target := c.baseURL + route + "?" + url.Values{"playlist": {playlistID}}.Encode()
	body, status, err := c.get(ctx, target)
	if err != nil {
		return nil, err
	}
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode %s answer: %w", route, err)
	}
	if status != http.StatusOK {
		serverErr := &serverError{StatusCode: status}
		if resp.Ret != nil {
			serverErr.Message = *resp.Ret
		}
		return nil, serverErr
	}
	return resp.Ret, nil
}

func (c *apiClient) stats(ctx context.Context) (rtl.Stats, error) {
	var stats rtl.Stats
	body, status, err := c.get(ctx, c.baseURL+"/tree/stats")
	if err != nil {
		return stats, err
	}
	if status != http.StatusOK {
		return stats, &serverError{StatusCode: status, Message: string(body)}
	}
	if err := json.Unmarshal(body, &stats); err != nil {
		return stats, fmt.Errorf("decode stats: %w", err)
	}
	return stats, nil
}

func (c *apiClient) render(ctx context.Context, format string, w io.Writer) error {
	body, status, err := c.get(ctx, c.baseURL+"/tree."+format)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &serverError{StatusCode: status, Message: string(body)}
	}
	_, err = w.Write(body)
	return err
}

func (c *apiClient) get(ctx context.Context, target string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("contact server: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read answer: %w", err)
	}
	return body, resp.StatusCode, nil
}
