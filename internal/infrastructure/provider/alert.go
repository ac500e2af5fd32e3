// SPDX-License-Identifier: AGPL-3.0-or-later
package provider

import (
	"fmt"

	"github.com/slack-go/slack"

	"github.com/btouchard/sendforge/pkg/logger"
)

// Alerter pages an operations channel when a dispatch fails with
// CONFIGURATION_ERROR, per the §4.5 error table's "FAILED + alert" action.
type Alerter struct {
	client  *slack.Client
	channel string
}

func NewAlerter(token, channel string) *Alerter {
	if token == "" {
		return nil
	}
	return &Alerter{client: slack.New(token), channel: channel}
}

func (a *Alerter) AlertConfigurationError(companyID, providerName, reason string) {
	if a == nil {
		logger.Logger.Warn("configuration error (no alerter configured)", "company_id", companyID, "provider", providerName, "reason", reason)
		return
	}
	text := fmt.Sprintf(":rotating_light: dispatch configuration error — company=%s provider=%s reason=%s", companyID, providerName, reason)
	if _, _, err := a.client.PostMessage(a.channel, slack.MsgOptionText(text, false)); err != nil {
		logger.Logger.Error("failed to post configuration-error alert to slack", "error", err)
	}
}
