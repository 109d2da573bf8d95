package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/logging"
)

// EmailOptions configure the SMTP delivery channel.
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// To is the default notification address, used when a message carries
	// no recipient of its own.
	To      string
	Timeout time.Duration
}

// EmailChannel delivers alerts over SMTP with STARTTLS.
type EmailChannel struct {
	client *mail.Client
	from   string
	to     string
	logger zerolog.Logger
}

// NewEmailChannel dials nothing yet; the connection happens per send.
func NewEmailChannel(opts EmailOptions, logger zerolog.Logger) (*EmailChannel, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("email host is required")
	}
	if opts.From == "" {
		return nil, fmt.Errorf("email from address is required")
	}

	clientOpts := []mail.Option{
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if opts.Port > 0 {
		clientOpts = append(clientOpts, mail.WithPort(opts.Port))
	}
	if opts.Username != "" {
		clientOpts = append(clientOpts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(opts.Username),
			mail.WithPassword(opts.Password),
		)
	}
	if opts.Timeout > 0 {
		clientOpts = append(clientOpts, mail.WithTimeout(opts.Timeout))
	}

	client, err := mail.NewClient(opts.Host, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	return &EmailChannel{
		client: client,
		from:   opts.From,
		to:     opts.To,
		logger: logging.Component(logger, "alert_email"),
	}, nil
}

// Name identifies the channel in config and logs.
func (c *EmailChannel) Name() string {
	return "email"
}

// Send delivers one alert message. The recipient on the message wins over
// the configured default so runtime address changes apply immediately.
func (c *EmailChannel) Send(ctx context.Context, msg Message) error {
	recipient := msg.Recipient
	if recipient == "" {
		recipient = c.to
	}
	if recipient == "" {
		return fmt.Errorf("no notification address configured")
	}

	m := mail.NewMsg()
	if err := m.From(c.from); err != nil {
		return fmt.Errorf("set from address: %w", err)
	}
	if err := m.To(recipient); err != nil {
		return fmt.Errorf("set to address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	if err := c.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	c.logger.Info().Str("to", recipient).Str("subject", msg.Subject).Msg("alert email sent")
	return nil
}

var _ Channel = (*EmailChannel)(nil)
