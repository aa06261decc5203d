package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/loykin/firestarter"
	"github.com/loykin/firestarter/internal/process"
)

const defaultAPIURL = "http://127.0.0.1:8735"

// APIClient talks to a firestarter daemon started with 'firestarter serve'
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is a non-2xx answer of the daemon
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// ConfirmRequiredError is returned when a migration must be confirmed first
type ConfirmRequiredError struct {
	Intent string `json:"intent"`
	Prompt string `json:"prompt"`
}

func (e *ConfirmRequiredError) Error() string {
	return fmt.Sprintf("%s requires confirmation: %s", e.Intent, e.Prompt)
}

type StatusResult struct {
	firestarter.Snapshot
	Usage *process.Usage `json:"usage,omitempty"`
}

type DispatchResult struct {
	Intent   string `json:"intent"`
	Accepted bool   `json:"accepted"`
	Done     bool   `json:"done"`
}

type NotificationsResult struct {
	Last          uint64                     `json:"last"`
	Notifications []firestarter.Notification `json:"notifications"`
}

// IsReachable checks if the daemon is running and reachable
func (c *APIClient) IsReachable() bool {
	resp, err := c.client.Get(c.baseURL + "/status")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (c *APIClient) Status() (StatusResult, error) {
	var out StatusResult
	err := c.do(http.MethodGet, "/status", &out)
	return out, err
}

func (c *APIClient) Menu() (firestarter.View, error) {
	var out firestarter.View
	err := c.do(http.MethodGet, "/menu", &out)
	return out, err
}

// Migrations reads the pending migrations of every application.
func (c *APIClient) Migrations() ([]firestarter.AppMigrations, error) {
	var out []firestarter.AppMigrations
	err := c.do(http.MethodGet, "/migrations", &out)
	return out, err
}

func (c *APIClient) Intents() ([]string, error) {
	var out []string
	err := c.do(http.MethodGet, "/intents", &out)
	return out, err
}

// Refresh asks the daemon to rebuild the menu and returns the new view.
func (c *APIClient) Refresh() (firestarter.View, error) {
	var out firestarter.View
	err := c.do(http.MethodPost, "/refresh", &out)
	return out, err
}

func (c *APIClient) Notifications(since uint64) (NotificationsResult, error) {
	var out NotificationsResult
	err := c.do(http.MethodGet, "/notifications?since="+strconv.FormatUint(since, 10), &out)
	return out, err
}

// Dispatch runs an intent. With wait the call returns once the intent
// settled. Migrations answer with *ConfirmRequiredError unless confirm is set.
func (c *APIClient) Dispatch(name string, wait, confirm bool) (DispatchResult, error) {
	q := url.Values{}
	if wait {
		q.Set("wait", "true")
	}
	if confirm {
		q.Set("confirm", "true")
	}
	path := "/intents/" + url.PathEscape(name)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.client.Post(c.baseURL+path, "application/json", nil)
	if err != nil {
		return DispatchResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return DispatchResult{}, err
	}

	if resp.StatusCode == http.StatusConflict {
		var confirmResp struct {
			ConfirmRequiredError
			Confirm bool `json:"confirm_required"`
		}
		if json.Unmarshal(body, &confirmResp) == nil && confirmResp.Confirm {
			return DispatchResult{}, &confirmResp.ConfirmRequiredError
		}
	}
	if resp.StatusCode >= 300 {
		return DispatchResult{}, apiError(resp.StatusCode, body)
	}
	var out DispatchResult
	if err := json.Unmarshal(body, &out); err != nil {
		return DispatchResult{}, err
	}
	return out, nil
}

func (c *APIClient) do(method, path string, out any) error {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, body)
	}
	return json.Unmarshal(body, out)
}

func apiError(status int, body []byte) error {
	var errorResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResp); err != nil || errorResp.Error == "" {
		return &APIError{Status: status, Message: http.StatusText(status)}
	}
	return &APIError{Status: status, Message: errorResp.Error}
}
