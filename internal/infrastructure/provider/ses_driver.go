// SPDX-License-Identifier: AGPL-3.0-or-later
package provider

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/domain/taxonomy"
	"github.com/btouchard/sendforge/pkg/logger"
)

// SESDriver dispatches through AWS SES v2, the preferred primary provider
// per §4.5.
type SESDriver struct {
	client *sesv2.Client
	region string
	from   string
}

func NewSESDriver(ctx context.Context, region, from string) (*SESDriver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SESDriver{client: sesv2.NewFromConfig(cfg), region: region, from: from}, nil
}

func (d *SESDriver) Name() string               { return "ses:" + d.region }
func (d *SESDriver) Kind() models.ProviderKind  { return models.ProviderKindSES }
func (d *SESDriver) Region() string             { return d.region }

func (d *SESDriver) Send(ctx context.Context, env Envelope) (Result, error) {
	dest := &types.Destination{ToAddresses: []string{env.To}}
	if len(env.Cc) > 0 {
		dest.CcAddresses = env.Cc
	}
	if len(env.Bcc) > 0 {
		dest.BccAddresses = env.Bcc
	}

	headers := make([]types.MessageHeader, 0, len(env.Headers))
	for _, h := range env.Headers {
		headers = append(headers, types.MessageHeader{Name: &h.Name, Value: &h.Value})
	}

	from := env.From
	if from == "" {
		from = d.from
	}
	input := &sesv2.SendEmailInput{
		FromEmailAddress: &from,
		Destination:      dest,
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: &env.Subject},
				Body: &types.Body{
					Html: &types.Content{Data: &env.HTML},
					Text: &types.Content{Data: &env.Text},
				},
				Headers: headers,
			},
		},
	}
	if env.ReplyTo != "" {
		input.ReplyToAddresses = []string{env.ReplyTo}
	}

	out, err := d.client.SendEmail(ctx, input)
	if err != nil {
		code := taxonomy.ClassifyErrorMessage(err.Error())
		logger.Logger.Warn("ses send failed", "outbox_id", env.OutboxID, "attempt", env.Attempt, "code", code, "error", err)
		return Result{}, taxonomy.NewProviderError(code, "ses SendEmail failed", err)
	}
	return Result{MessageID: *out.MessageId}, nil
}

func (d *SESDriver) VerifyConnection(ctx context.Context) error {
	_, err := d.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return taxonomy.NewProviderError(taxonomy.CodeProviderServiceUnavail, "ses GetAccount failed", err)
	}
	return nil
}

func (d *SESDriver) GetQuota(ctx context.Context) (Quota, error) {
	out, err := d.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return Quota{}, taxonomy.NewProviderError(taxonomy.CodeProviderServiceUnavail, "ses GetAccount failed", err)
	}
	if out.SendQuota == nil {
		return Quota{}, nil
	}
	return Quota{
		Max24Hour:      out.SendQuota.Max24HourSend,
		SentLast24Hour: out.SendQuota.SentLast24Hours,
		MaxSendRate:    out.SendQuota.MaxSendRate,
	}, nil
}
