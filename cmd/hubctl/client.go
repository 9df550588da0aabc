package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// apiClient talks to the notification API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type notificationView struct {
	ID          string            `json:"notification_id"`
	Type        string            `json:"type"`
	Status      string            `json:"status"`
	Channels    map[string]string `json:"channels"`
	CreatedAt   time.Time         `json:"created_at"`
	DeliveredAt *time.Time        `json:"delivered_at,omitempty"`
	Content     struct {
		Title    string   `json:"title"`
		Priority string   `json:"priority"`
		UserID   string   `json:"user_id"`
		Roles    []string `json:"roles"`
	} `json:"content"`
}

func (c *apiClient) submit(ctx context.Context, path string, body interface{}) (string, error) {
	var resp struct {
		NotificationID string `json:"notification_id"`
	}
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return "", err
	}
	return resp.NotificationID, nil
}

func (c *apiClient) status(ctx context.Context, id string) (*notificationView, error) {
	var n notificationView
	if err := c.do(ctx, http.MethodGet, "/api/v1/notifications/status/"+url.PathEscape(id), nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (c *apiClient) list(ctx context.Context, userID string, limit int) ([]notificationView, error) {
	var resp struct {
		Notifications []notificationView `json:"notifications"`
	}
	path := fmt.Sprintf("/api/v1/notifications/user/%s?limit=%d", url.PathEscape(userID), limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Notifications, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr) //nolint:errcheck
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
