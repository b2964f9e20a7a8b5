// Package notifications carries operator alerts for failures that need a
// human: failed ledger writes, stuck consolidations, empty attestor balance.
package notifications

import (
	"go.uber.org/zap"

	"github.com/devid-org/github-attestation-bot/internal/logging"
)

// Alerter delivers a message to the operator channel.
type Alerter interface {
	NotifyAdmin(subject, body string)
}

// LogAlerter writes alerts to the error log. Deployments that want mail or
// pager delivery drop in their own Alerter.
type LogAlerter struct{}

func (LogAlerter) NotifyAdmin(subject, body string) {
	logging.Error("operator alert",
		zap.String("subject", subject),
		zap.String("body", body),
	)
}
