// SPDX-License-Identifier: AGPL-3.0-or-later
package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	mail "github.com/go-mail/mail/v2"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/domain/taxonomy"
	"github.com/btouchard/sendforge/pkg/logger"
)

// SMTPConfig mirrors the teacher's MailConfig shape, scoped to dispatch
// rather than template rendering.
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	TLS                bool
	StartTLS           bool
	InsecureSkipVerify bool
	Timeout            time.Duration
	From               string
	FromName           string
	Region             string
}

// SMTPDriver is the secondary dispatch driver, direct-dialing an SMTP
// relay the way the teacher's SMTPSender does, generalized to the
// envelope/Driver contract instead of a templated Message.
type SMTPDriver struct {
	cfg SMTPConfig
}

func NewSMTPDriver(cfg SMTPConfig) *SMTPDriver {
	return &SMTPDriver{cfg: cfg}
}

func (d *SMTPDriver) Name() string              { return "smtp:" + d.cfg.Host }
func (d *SMTPDriver) Kind() models.ProviderKind { return models.ProviderKindSMTP }
func (d *SMTPDriver) Region() string            { return d.cfg.Region }

func (d *SMTPDriver) Send(ctx context.Context, env Envelope) (Result, error) {
	m := mail.NewMessage()

	from := env.From
	if from == "" {
		from = d.cfg.From
	}
	if from == "" {
		return Result{}, taxonomy.NewProviderError(taxonomy.CodeProviderConfig, "SMTP from address not configured", nil)
	}
	m.SetHeader("From", m.FormatAddress(from, d.cfg.FromName))
	m.SetHeader("To", env.To)
	if len(env.Cc) > 0 {
		m.SetHeader("Cc", env.Cc...)
	}
	if len(env.Bcc) > 0 {
		m.SetHeader("Bcc", env.Bcc...)
	}
	m.SetHeader("Subject", env.Subject)
	for _, h := range env.Headers {
		m.SetHeader(h.Name, h.Value)
	}
	if env.ReplyTo != "" {
		m.SetHeader("Reply-To", env.ReplyTo)
	}
	m.SetBody("text/plain", env.Text)
	m.AddAlternative("text/html", env.HTML)

	d2 := mail.NewDialer(d.cfg.Host, d.cfg.Port, d.cfg.Username, d.cfg.Password)
	if d.cfg.TLS {
		d2.SSL = true
		d2.TLSConfig = &tls.Config{ServerName: d.cfg.Host, InsecureSkipVerify: d.cfg.InsecureSkipVerify}
	} else if d.cfg.StartTLS {
		d2.TLSConfig = &tls.Config{ServerName: d.cfg.Host, InsecureSkipVerify: d.cfg.InsecureSkipVerify}
		d2.StartTLSPolicy = mail.MandatoryStartTLS
	}
	timeout := d.cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	d2.Timeout = timeout

	logger.Logger.Info("dispatching via smtp", "outbox_id", env.OutboxID, "to", env.To, "attempt", env.Attempt)

	done := make(chan error, 1)
	go func() { done <- d2.DialAndSend(m) }()

	select {
	case <-ctx.Done():
		return Result{}, taxonomy.NewProviderError(taxonomy.CodeProviderTimeout, "smtp dial deadline exceeded", ctx.Err())
	case err := <-done:
		if err != nil {
			code := taxonomy.ClassifyErrorMessage(err.Error())
			return Result{}, taxonomy.NewProviderError(code, "smtp dial and send failed", err)
		}
	}

	return Result{MessageID: fmt.Sprintf("smtp-%d", time.Now().UnixNano())}, nil
}

func (d *SMTPDriver) VerifyConnection(ctx context.Context) error {
	d2 := mail.NewDialer(d.cfg.Host, d.cfg.Port, d.cfg.Username, d.cfg.Password)
	closer, err := d2.Dial()
	if err != nil {
		return taxonomy.NewProviderError(taxonomy.CodeProviderServiceUnavail, "smtp dial failed", err)
	}
	return closer.Close()
}

func (d *SMTPDriver) GetQuota(ctx context.Context) (Quota, error) {
	return Quota{}, nil
}
