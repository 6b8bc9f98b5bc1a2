package whatsapp

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "wareply/internal/errors"
)

// Client sends messages through the WhatsApp Cloud API.
type Client interface {
	SendText(ctx context.Context, to, text string) (*SendMessageResponse, error)
}

type CloudClient struct {
	baseURL       string
	phoneNumberID string
	accessToken   string
	client        *http.Client
}

func NewClient(baseURL, phoneNumberID, accessToken string, timeout time.Duration) *CloudClient {
	return &CloudClient{
		baseURL:       baseURL,
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		client:        &http.Client{Timeout: timeout},
	}
}

func (c *CloudClient) SendText(ctx context.Context, to, text string) (*SendMessageResponse, error) {
	payload := SendMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             TextBody{Body: text},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		sendErr := fmt.Errorf("send message failed with status %d: %s", resp.StatusCode, string(detail))
		// Server-side and throttling failures are worth retrying,
		// client errors are not
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, apperrors.WrapRetryable(sendErr, apperrors.ErrCodeChannelAPI, "channel API request failed")
		}
		return nil, apperrors.Wrap(sendErr, apperrors.ErrCodeChannelAPI, "channel API rejected message")
	}

	var result SendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// VerifyWebhook checks a Cloud API webhook verification request and
// returns the challenge to echo back. Token comparison is constant
// time.
func VerifyWebhook(mode, token, challenge, expectedToken string) (string, bool) {
	if mode != "subscribe" || expectedToken == "" || challenge == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
		return "", false
	}
	return challenge, true
}
