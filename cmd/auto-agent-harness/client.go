package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// apiClient is a thin JSON-over-HTTP client against the control API a
// running "serve" process exposes. Every CLI subcommand but "serve",
// "update" and "version" goes through one of these instead of touching the
// Registry or Orchestrator directly — the daemon already owns them.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

// do sends a JSON request and decodes a JSON response into out (if
// non-nil), translating the HTTP status into the appropriate cliError
// so callers can simply return what this method returns.
func (c *apiClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return usageErr(fmt.Errorf("encoding request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return usageErr(fmt.Errorf("building request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return runtimeErr(fmt.Errorf("contacting harness at %s: %w", c.baseURL, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		msg := apiErr.Error
		if msg == "" {
			msg = resp.Status
		}
		switch {
		case resp.StatusCode == http.StatusConflict:
			return conflictErr(fmt.Errorf("%s", msg))
		case resp.StatusCode == http.StatusBadRequest:
			return usageErr(fmt.Errorf("%s", msg))
		default:
			return runtimeErr(fmt.Errorf("%s", msg))
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return runtimeErr(fmt.Errorf("decoding response: %w", err))
	}
	return nil
}
