package dispatcher

import (
	"context"
	"fmt"

	"github.com/credwatch-go/internal/domain/credential"
	"github.com/credwatch-go/internal/domain/notification"
	"github.com/credwatch-go/internal/services/compliance/evaluator"
	"github.com/credwatch-go/pkg/logger"
	"github.com/credwatch-go/pkg/metrics"
	"golang.org/x/time/rate"
)

// Channel is an outbound transport adapter. Send hands a payload off for
// delivery and reports whether the handoff was accepted; delivery retries
// beyond that are the transport's concern.
type Channel interface {
	Send(ctx context.Context, recipient string, payload *notification.Payload) error
}

// Dispatcher fans one credential's due reminders out over the holder's
// enabled channels.
type Dispatcher struct {
	channels map[string]Channel
	limiter  *rate.Limiter
	logger   logger.Logger
}

func New(channels map[string]Channel, limiter *rate.Limiter, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		channels: channels,
		limiter:  limiter,
		logger:   log,
	}
}

// Dispatch sends each due threshold over every enabled channel and returns
// the labels for which all enabled channels accepted the payload. A label
// with any failed handoff is withheld from the result; the next pass
// redelivers it, which may duplicate it on channels that did accept.
func (d *Dispatcher) Dispatch(ctx context.Context, cred *credential.Credential, eval evaluator.Evaluation, due []string, settings *notification.Settings) []string {
	var sent []string

	for _, label := range due {
		payload := BuildPayload(cred, eval, label)

		delivered := true
		for _, channelType := range settings.EnabledChannels() {
			transport, ok := d.channels[channelType]
			if !ok {
				continue
			}
			recipient := settings.RecipientFor(channelType)
			if recipient == "" {
				// Nothing to hand off to; not a transport failure.
				continue
			}

			if d.limiter != nil {
				if err := d.limiter.Wait(ctx); err != nil {
					delivered = false
					break
				}
			}

			if err := transport.Send(ctx, recipient, payload); err != nil {
				d.logger.Warn("reminder handoff failed",
					"credentialId", cred.ID,
					"threshold", label,
					"channel", channelType,
					"error", err,
				)
				metrics.ChannelFailures.WithLabelValues(channelType).Inc()
				delivered = false
				continue
			}
			metrics.RemindersDispatched.WithLabelValues(channelType, label).Inc()
		}

		if delivered {
			sent = append(sent, label)
		}
	}

	return sent
}

// BuildPayload renders the reminder message for one threshold. Criticality
// drives priority only; it never changes whether or where a reminder goes.
func BuildPayload(cred *credential.Credential, eval evaluator.Evaluation, label string) *notification.Payload {
	p := &notification.Payload{
		HolderID:        cred.HolderID,
		CredentialID:    cred.ID,
		CredentialName:  cred.Name,
		Issuer:          cred.Issuer,
		Threshold:       label,
		DaysUntilExpiry: eval.DaysUntilExpiry,
		Criticality:     cred.Criticality,
		Priority:        priorityFor(cred.Criticality),
	}

	if label == credential.LabelExpired {
		p.Subject = "Credential Expired"
		p.Body = fmt.Sprintf("%s expired %s ago", cred.Name, pluralDays(-eval.DaysUntilExpiry))
		if eval.DaysUntilExpiry == 0 {
			p.Body = fmt.Sprintf("%s expires today", cred.Name)
		}
		return p
	}

	p.Subject = "Credential Expiring Soon"
	p.Body = fmt.Sprintf("%s expires in %s", cred.Name, pluralDays(eval.DaysUntilExpiry))
	return p
}

func priorityFor(criticality string) string {
	switch criticality {
	case credential.CriticalityCritical:
		return notification.PriorityUrgent
	case credential.CriticalityHigh:
		return notification.PriorityHigh
	default:
		return notification.PriorityNormal
	}
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
