package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultGraphAPIBase = "https://graph.facebook.com/v19.0"
	defaultHTTPTimeout  = 10 * time.Second
)

// ErrInvalidRecipient indicates the Cloud API rejected the destination.
// Retrying cannot succeed; the dispatcher must give up immediately.
var ErrInvalidRecipient = errors.New("whatsapp: invalid recipient")

// ErrSendFailed wraps transient send failures (network, 5xx, throttling).
var ErrSendFailed = errors.New("whatsapp: send failed")

// Client sends messages through the WhatsApp Cloud API.
type Client struct {
	accessToken   string
	phoneNumberID string
	graphAPIBase  string
	httpClient    *http.Client
}

// NewClient creates a Cloud API client for the given business phone number.
func NewClient(accessToken, phoneNumberID string) *Client {
	return &Client{
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		graphAPIBase:  defaultGraphAPIBase,
		httpClient:    &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// SetGraphAPIBase overrides the Graph API base URL (useful for testing).
func (c *Client) SetGraphAPIBase(base string) {
	c.graphAPIBase = base
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             sendText `json:"text"`
}

type sendText struct {
	Body string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send delivers one text message to the user handle. It performs a single
// attempt; retry policy lives in the dispatcher, not here. The returned
// string is the channel message ID assigned to the outbound message.
func (c *Client) Send(ctx context.Context, userHandle, text string) (string, error) {
	payload := sendRequest{
		MessagingProduct: "whatsapp",
		To:               userHandle,
		Type:             "text",
		Text:             sendText{Body: text},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("whatsapp: marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.graphAPIBase, c.phoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("whatsapp: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrSendFailed, err)
	}

	var sendResp sendResponse
	if err := json.Unmarshal(respBody, &sendResp); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrSendFailed, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if len(sendResp.Messages) > 0 {
			return sendResp.Messages[0].ID, nil
		}
		return "", nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: throttled by provider", ErrSendFailed)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Client errors (bad recipient, expired session window) are terminal.
		if sendResp.Error != nil {
			return "", fmt.Errorf("%w: API error %d: %s", ErrInvalidRecipient, sendResp.Error.Code, sendResp.Error.Message)
		}
		return "", fmt.Errorf("%w: status %d", ErrInvalidRecipient, resp.StatusCode)
	default:
		return "", fmt.Errorf("%w: status %d: %s", ErrSendFailed, resp.StatusCode, string(respBody))
	}
}
