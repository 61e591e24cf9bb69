package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

const resendEndpoint = "https://api.resend.com/emails"

// ResendMailer отправляет письма через HTTP API Resend.
// Используется как запасной транспорт, когда SMTP недоступен.
type ResendMailer struct {
	apiKey   string
	from     string
	endpoint string
	client   *retryablehttp.Client
}

// NewResendMailer создаёт транспорт с ретраями на уровне HTTP-клиента.
func NewResendMailer(apiKey, from string) *ResendMailer {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil

	return &ResendMailer{
		apiKey:   apiKey,
		from:     from,
		endpoint: resendEndpoint,
		client:   client,
	}
}

type resendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// Send выполняет POST на API Resend.
func (m *ResendMailer) Send(ctx context.Context, msg Message) error {
	if m.apiKey == "" {
		return fmt.Errorf("resend api key is not configured")
	}

	body, err := json.Marshal(resendRequest{
		From:    m.from,
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    plainText(msg.HTML),
	})
	if err != nil {
		return fmt.Errorf("marshal resend request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create resend request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("do resend request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("resend status %d: %s", resp.StatusCode, string(detail))
	}

	return nil
}
