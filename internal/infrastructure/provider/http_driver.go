// SPDX-License-Identifier: AGPL-3.0-or-later
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/domain/taxonomy"
)

// HTTPDriverConfig configures a generic HTTP-API dispatch driver, the
// contract placeholder for third-party relays such as Postal, Haraka or
// Mailu: "same contract as SES, untested" per the spec's open question.
type HTTPDriverConfig struct {
	Name         string
	Region       string
	Endpoint     string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// HTTPDriver posts a JSON envelope to a generic relay endpoint,
// authenticating via OAuth2 client-credentials when configured.
type HTTPDriver struct {
	cfg    HTTPDriverConfig
	client *http.Client
}

func NewHTTPDriver(cfg HTTPDriverConfig) *HTTPDriver {
	var client *http.Client
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		ccCfg := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		client = ccCfg.Client(context.Background())
	} else {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPDriver{cfg: cfg, client: client}
}

func (d *HTTPDriver) Name() string              { return d.cfg.Name }
func (d *HTTPDriver) Kind() models.ProviderKind { return models.ProviderKindHTTP }
func (d *HTTPDriver) Region() string            { return d.cfg.Region }

type httpSendRequest struct {
	From    string          `json:"from"`
	To      string          `json:"to"`
	Cc      []string        `json:"cc,omitempty"`
	Bcc     []string        `json:"bcc,omitempty"`
	Subject string          `json:"subject"`
	HTML    string          `json:"html"`
	Text    string          `json:"text"`
	ReplyTo string          `json:"reply_to,omitempty"`
	Headers []models.Header `json:"headers,omitempty"`
}

type httpSendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

func (d *HTTPDriver) Send(ctx context.Context, env Envelope) (Result, error) {
	body := httpSendRequest{
		From: env.From, To: env.To, Cc: env.Cc, Bcc: env.Bcc, Subject: env.Subject,
		HTML: env.HTML, Text: env.Text, ReplyTo: env.ReplyTo, Headers: env.Headers,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, taxonomy.NewProviderError(taxonomy.CodeInvalidPayload, "encode http driver payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, taxonomy.NewProviderError(taxonomy.CodeProviderConfig, "build http driver request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, taxonomy.NewProviderError(taxonomy.CodeNetworkError, "http driver request failed", err)
	}
	defer resp.Body.Close()

	var out httpSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, taxonomy.NewProviderError(taxonomy.CodeUnknownError, "decode http driver response", err)
	}

	if resp.StatusCode >= 500 {
		return Result{}, taxonomy.NewProviderError(taxonomy.CodeProviderServiceUnavail, out.Error, nil)
	}
	if resp.StatusCode >= 400 {
		return Result{}, taxonomy.NewProviderError(taxonomy.CodeProviderMessageRejected, out.Error, nil)
	}
	return Result{MessageID: out.MessageID}, nil
}

func (d *HTTPDriver) VerifyConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.Endpoint, nil)
	if err != nil {
		return taxonomy.NewProviderError(taxonomy.CodeProviderConfig, "build http driver healthcheck", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return taxonomy.NewProviderError(taxonomy.CodeProviderServiceUnavail, "http driver healthcheck failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("http driver healthcheck returned %d", resp.StatusCode)
	}
	return nil
}

func (d *HTTPDriver) GetQuota(ctx context.Context) (Quota, error) {
	return Quota{}, nil
}
