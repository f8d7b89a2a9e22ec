package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/BradenHooton/praxis/pkg/logger"
)

// EmailSender delivers a plain-text message
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SESEmailSender sends emails using AWS SES
type SESEmailSender struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewSESEmailSender creates a new AWS SES email sender
func NewSESEmailSender(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESEmailSender, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESEmailSender{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// SendEmail sends a text email through SES
func (s *SESEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("email", pkglogger.SanitizedEmail(to)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("email", pkglogger.SanitizedEmail(to)),
		slog.String("subject", subject),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogEmailSender writes messages to the log instead of delivering them, for
// local development
type LogEmailSender struct {
	logger *slog.Logger
}

func NewLogEmailSender(logger *slog.Logger) *LogEmailSender {
	return &LogEmailSender{logger: logger}
}

func (s *LogEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	s.logger.InfoContext(ctx, "email (not delivered)",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.String("body", body))
	return nil
}

func passwordResetEmail(link string) (string, string) {
	return "Reset your password", fmt.Sprintf(`A password reset was requested for your account.

Open the link below to choose a new password:

%s

The link can be used once and expires soon. If you did not request a reset, you can ignore this email; your password has not changed.
`, link)
}

func verificationEmail(link string) (string, string) {
	return "Verify your email address", fmt.Sprintf(`Thank you for creating an account. Please verify your email address:

%s

If you did not sign up, you can ignore this email.
`, link)
}
