package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// EmailSender delivers a plain-text message
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// sesAPI is the subset of the SES client used here
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESSender sends emails using AWS SES
type SESSender struct {
	client      sesAPI
	fromAddress string
	logger      *slog.Logger
}

// NewSESSender loads the default AWS credential chain for region
func NewSESSender(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESSender, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESSender{
		client:      ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

func (s *SESSender) Send(ctx context.Context, to, subject, body string) error {
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

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("to", pkglogger.SanitizedEmail(to)),
		slog.String("subject", subject),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogSender writes emails to the log instead of sending them. Used for local
// development; the body is only logged outside production.
type LogSender struct {
	logger *slog.Logger
	env    string
}

func NewLogSender(logger *slog.Logger, env string) *LogSender {
	return &LogSender{logger: logger, env: env}
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	pkglogger.FromContext(ctx, s.logger).Info("email (log provider)",
		slog.String("to", pkglogger.SanitizedEmail(to)),
		slog.String("subject", subject),
		pkglogger.RedactedAttr("body", body, s.env))
	return nil
}

// Notifier renders the account security emails
type Notifier struct {
	sender EmailSender
}

func NewNotifier(sender EmailSender) *Notifier {
	return &Notifier{sender: sender}
}

func (n *Notifier) SendDeviceRecoveryCode(ctx context.Context, to, code string, expiresAt time.Time) error {
	body := fmt.Sprintf(`A request was made to link a new device to your account.

Your verification code is: %s

The code expires at %s. If you did not request this, you can ignore this message; your current device stays linked.
`, code, expiresAt.UTC().Format(time.RFC1123))
	return n.sender.Send(ctx, to, "Your device verification code", body)
}

func (n *Notifier) SendAccountLocked(ctx context.Context, to string) error {
	body := `Your account has been locked after too many failed sign-in attempts.

To unlock it, reset your password using the "Forgot password" option. If these attempts were not made by you, we recommend choosing a new password you have not used before.
`
	return n.sender.Send(ctx, to, "Your account has been locked", body)
}

func (n *Notifier) SendPasswordReset(ctx context.Context, to, link string, expiresAt time.Time) error {
	body := fmt.Sprintf(`We received a request to reset your password.

Open this link to choose a new password:
%s

The link expires at %s and can be used once. If you did not request a reset, ignore this message.
`, link, expiresAt.UTC().Format(time.RFC1123))
	return n.sender.Send(ctx, to, "Reset your password", body)
}

func (n *Notifier) SendPasswordChanged(ctx context.Context, to string) error {
	body := `The password for your account was just changed and the account is active.

If you did not make this change, contact support immediately.
`
	return n.sender.Send(ctx, to, "Your password was changed", body)
}

func (n *Notifier) SendAccountUnlocked(ctx context.Context, to string) error {
	body := `Your account has been unlocked by an administrator. You can sign in again from your registered device.
`
	return n.sender.Send(ctx, to, "Your account has been unlocked", body)
}
