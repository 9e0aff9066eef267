// Package marketplace is a thin client for the rental marketplace's
// REST surface: room management, message deletion, and object-storage
// uploads. The chat core treats these as black boxes.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Room is a chat room binding a tenant and a landlord over a property.
type Room struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	LandlordID string `json:"landlordId"`
	PropertyID string `json:"propertyId"`
}

// Client talks to the marketplace API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a marketplace client. The token is sent as a
// bearer Authorization header.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateRoom finds or creates the chat room for a tenant/landlord/
// property triple. The server deduplicates, so calling it without a
// known room id is safe.
func (c *Client) CreateRoom(ctx context.Context, tenantID, landlordID, propertyID string) (*Room, error) {
	body, _ := json.Marshal(map[string]string{
		"tenantId":   tenantID,
		"landlordId": landlordID,
		"propertyId": propertyID,
	})
	data, err := c.do(ctx, http.MethodPost, "/api/chat/rooms", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	var room Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("create room: decode response: %w", err)
	}
	return &room, nil
}

// DeleteMessage removes a message server-side.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/chat/messages/"+messageID, "", nil)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// DeleteRoom removes an entire room server-side.
func (c *Client) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/chat/rooms/"+roomID, "", nil)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

// Upload stores a file and returns its durable public URL. Size limits
// are enforced by the caller before any network activity.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader, size int64) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("upload: read file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, "/api/storage/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("upload: decode response: %w", err)
	}
	if resp.URL == "" {
		return "", fmt.Errorf("upload: response missing url")
	}
	return resp.URL, nil
}

// do issues one request, retrying once when the server asks us to back
// off.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = io.ReadAll(body)
		if err != nil {
			return nil, err
		}
	}

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			wait := retryAfter(respBody)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		return respBody, nil
	}
}

func retryAfter(body []byte) time.Duration {
	var rl struct {
		RetryAfter float64 `json:"retryAfter"`
	}
	json.Unmarshal(body, &rl)
	wait := time.Duration(rl.RetryAfter * float64(time.Second))
	if wait <= 0 {
		wait = time.Second
	}
	return wait
}
