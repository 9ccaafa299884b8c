// Package mailer sends operator notification mails.
package mailer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	appconfig "github.com/nitter-community/nitter-status/internal/config"
	"github.com/nitter-community/nitter-status/internal/pkg/logger"
)

// Mailer delivers a plain-text mail to a single recipient.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SESMailer sends through AWS SES v2.
type SESMailer struct {
	client *sesv2.Client
	from   string
}

// NewSES creates an SES mailer with static credentials.
func NewSES(ctx context.Context, cfg appconfig.MailConfig) (*SESMailer, error) {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &SESMailer{
		client: sesv2.NewFromConfig(awsCfg),
		from:   cfg.From,
	}, nil
}

func (m *SESMailer) Send(ctx context.Context, to, subject, body string) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(m.from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body)},
				},
			},
		},
	}
	if _, err := m.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("sending mail via SES: %w", err)
	}
	return nil
}

// LogMailer logs mails instead of sending them. Used when alert mails are
// disabled and in tests.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, to, subject, body string) error {
	logger.Info("alert mail suppressed", "to", to, "subject", subject, "body", body)
	return nil
}
