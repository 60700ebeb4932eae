package channels

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/aws/aws-sdk-go/service/sns"

	"github.com/credwatch-go/internal/compliance/ports"
	"github.com/credwatch-go/internal/domain/notification"
	"github.com/credwatch-go/pkg/resilience"
)

// EmailChannel delivers reminders through SES.
type EmailChannel struct {
	client  *ses.SES
	source  string
	breaker *resilience.CircuitBreaker
}

func NewEmailChannel(sess *session.Session, source string) *EmailChannel {
	return &EmailChannel{
		client:  ses.New(sess),
		source:  source,
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("email")),
	}
}

func (c *EmailChannel) Send(ctx context.Context, recipient string, payload *notification.Payload) error {
	subject := payload.Subject
	if payload.Priority == notification.PriorityUrgent {
		subject = "[URGENT] " + subject
	}

	input := &ses.SendEmailInput{
		Source: aws.String(c.source),
		Destination: &ses.Destination{
			ToAddresses: []*string{aws.String(recipient)},
		},
		Message: &ses.Message{
			Subject: &ses.Content{Data: aws.String(subject)},
			Body: &ses.Body{
				Text: &ses.Content{Data: aws.String(emailBody(payload))},
			},
		},
	}

	return c.breaker.Execute(func() error {
		_, err := c.client.SendEmailWithContext(ctx, input)
		return err
	})
}

func emailBody(p *notification.Payload) string {
	return fmt.Sprintf("%s\n\nCredential: %s\nIssuer: %s\nCriticality: %s\n\nPlease arrange renewal before the expiry date.",
		p.Body, p.CredentialName, p.Issuer, p.Criticality)
}

// SMSChannel delivers reminders through SNS.
type SMSChannel struct {
	client  *sns.SNS
	sender  string
	breaker *resilience.CircuitBreaker
}

func NewSMSChannel(sess *session.Session, sender string) *SMSChannel {
	return &SMSChannel{
		client:  sns.New(sess),
		sender:  sender,
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("sms")),
	}
}

func (c *SMSChannel) Send(ctx context.Context, recipient string, payload *notification.Payload) error {
	input := &sns.PublishInput{
		PhoneNumber: aws.String(recipient),
		Message:     aws.String(payload.Body),
	}
	if c.sender != "" {
		input.MessageAttributes = map[string]*sns.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(c.sender),
			},
		}
	}

	return c.breaker.Execute(func() error {
		_, err := c.client.PublishWithContext(ctx, input)
		return err
	})
}

// InAppChannel writes reminders to the holder's notification feed. The feed
// row is the delivery; there is no external transport behind it.
type InAppChannel struct {
	repo ports.NotificationRepository
}

func NewInAppChannel(repo ports.NotificationRepository) *InAppChannel {
	return &InAppChannel{repo: repo}
}

func (c *InAppChannel) Send(ctx context.Context, recipient string, payload *notification.Payload) error {
	return c.repo.CreateNotification(ctx, notification.NewNotification(payload))
}
