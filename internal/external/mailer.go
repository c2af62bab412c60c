package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"estatecrm/internal/types"
)

// SendInput is the provider-agnostic email send request.
type SendInput struct {
	To       string
	ToName   string
	From     string
	FromName string
	Subject  string
	TextBody string
	HTMLBody string
	// ReferenceID correlates the provider message with the notification
	// that triggered it.
	ReferenceID string
}

// EmailProvider sends one email and returns the provider's message id.
type EmailProvider interface {
	Send(ctx context.Context, input SendInput) (string, error)
}

// MailerConfig holds the configuration for creating an HTTPMailer.
type MailerConfig struct {
	BaseURL string
	APIKey  string
	Logger  types.Logger
}

// HTTPMailer implements EmailProvider against a JSON send endpoint, routed
// through BaseClient for circuit breaking and retries.
type HTTPMailer struct {
	base    *BaseClient
	baseURL string
	apiKey  string
	logger  types.Logger
}

// NewHTTPMailer creates an HTTPMailer.
func NewHTTPMailer(httpClient *http.Client, cfg MailerConfig) *HTTPMailer {
	logger := cfg.Logger
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &HTTPMailer{
		base:    NewBaseClient(httpClient, "mailer", DefaultRetryPolicy(), "EstateCRM/1.0"),
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// NewHTTPMailerWithBase creates an HTTPMailer over a caller-provided
// BaseClient. For tests that need retry control.
func NewHTTPMailerWithBase(base *BaseClient, cfg MailerConfig) *HTTPMailer {
	logger := cfg.Logger
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &HTTPMailer{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

type mailPayload struct {
	From       mailAddress       `json:"from"`
	To         []mailAddress     `json:"to"`
	Subject    string            `json:"subject"`
	Text       string            `json:"text,omitempty"`
	HTML       string            `json:"html,omitempty"`
	CustomArgs map[string]string `json:"custom_args,omitempty"`
}

type mailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type mailResponse struct {
	MessageID string `json:"message_id"`
}

// Send posts the email to the provider. 2xx is success; 4xx maps to
// ErrCodeUpstreamEmail (the request itself is bad and retrying cannot help);
// 429/5xx and transport failures come back from BaseClient already mapped.
func (m *HTTPMailer) Send(ctx context.Context, input SendInput) (string, error) {
	payload := mailPayload{
		From:    mailAddress{Email: input.From, Name: input.FromName},
		To:      []mailAddress{{Email: input.To, Name: input.ToName}},
		Subject: input.Subject,
		Text:    input.TextBody,
		HTML:    input.HTMLBody,
	}
	if input.ReferenceID != "" {
		payload.CustomArgs = map[string]string{"reference_id": input.ReferenceID}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal mail payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build mail send request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out mailResponse
		data, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(data, &out)
		return out.MessageID, nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return "", types.NewAppError(types.ErrCodeUpstreamEmail,
		fmt.Sprintf("email provider rejected send (%d): %s", resp.StatusCode, string(data)), nil)
}

var _ EmailProvider = (*HTTPMailer)(nil)

// LogMailer implements EmailProvider by logging instead of sending. Used in
// development and when no provider is configured.
type LogMailer struct {
	logger types.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger types.Logger) *LogMailer {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &LogMailer{logger: logger}
}

// Send logs the would-be email and succeeds.
func (m *LogMailer) Send(_ context.Context, input SendInput) (string, error) {
	m.logger.Info("email send skipped (log mailer)",
		"to", input.To,
		"subject", input.Subject,
		"reference_id", input.ReferenceID,
	)
	return "log-" + input.ReferenceID, nil
}

var _ EmailProvider = (*LogMailer)(nil)
