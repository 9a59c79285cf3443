package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/campaign"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/config"
)

// relaySession is the slice of the SMTP client the adapter drives. Tests
// substitute a recording fake.
type relaySession interface {
	Mail(from string, opts *smtp.MailOptions) error
	Rcpt(to string, opts *smtp.RcptOptions) error
	Data() (io.WriteCloser, error)
	Reset() error
	Quit() error
	Close() error
}

// SMTPRelay delivers email campaigns through an authenticated SMTP relay,
// one message per recipient over a shared connection.
type SMTPRelay struct {
	cfg     *config.SMTPRelayConfig
	timeout time.Duration
	logger  *slog.Logger

	dial func(ctx context.Context) (relaySession, error)
}

// NewSMTPRelay creates the email relay adapter.
func NewSMTPRelay(cfg *config.SMTPRelayConfig, logger *slog.Logger) *SMTPRelay {
	a := &SMTPRelay{
		cfg:     cfg,
		timeout: 30 * time.Second,
		logger:  logger,
	}
	a.dial = a.dialRelay
	return a
}

func (a *SMTPRelay) Name() string {
	return "smtprelay"
}

func (a *SMTPRelay) Channel() campaign.Type {
	return campaign.TypeEmail
}

// SendBatch submits one message per recipient. Per-recipient rejections are
// recorded in the result; connection-level failures abort the batch.
func (a *SMTPRelay) SendBatch(ctx context.Context, job *campaign.Job, batch []campaign.Recipient) (*BatchResult, error) {
	data := job.EmailData
	if data == nil {
		return nil, &BatchError{Provider: a.Name(), Err: errNoPayload(job)}
	}

	session, err := a.dial(ctx)
	if err != nil {
		return nil, &BatchError{Provider: a.Name(), Err: err}
	}
	defer session.Close()

	result := &BatchResult{}
	for _, rcpt := range batch {
		if err := ctx.Err(); err != nil {
			return nil, &BatchError{Provider: a.Name(), Err: err}
		}

		key := rcpt.Key(campaign.TypeEmail)
		if rcpt.Email == "" {
			result.Add(RecipientResult{RecipientKey: key, Error: "recipient has no email address"})
			continue
		}

		if err := a.submit(session, data, rcpt); err != nil {
			a.logger.Warn("relay submission failed", "recipient", rcpt.Email, "error", err)
			result.Add(RecipientResult{RecipientKey: key, Error: err.Error()})
			// Clear the aborted transaction before the next recipient
			session.Reset()
			continue
		}
		result.Add(RecipientResult{RecipientKey: key, Success: true})
	}

	session.Quit()
	return result, nil
}

// submit runs one MAIL/RCPT/DATA transaction.
func (a *SMTPRelay) submit(s relaySession, data *campaign.EmailData, rcpt campaign.Recipient) error {
	if err := s.Mail(data.FromEmail, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := s.Rcpt(rcpt.Email, nil); err != nil {
		return fmt.Errorf("RCPT TO failed: %w", err)
	}

	wc, err := s.Data()
	if err != nil {
		return fmt.Errorf("DATA failed: %w", err)
	}
	if _, err := wc.Write(buildEmailMessage(data, rcpt)); err != nil {
		wc.Close()
		return fmt.Errorf("failed to write message data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("DATA close failed: %w", err)
	}
	return nil
}

// dialRelay connects and authenticates to the configured relay. Port 465
// uses implicit TLS; other ports upgrade with STARTTLS when offered.
func (a *SMTPRelay) dialRelay(ctx context.Context) (relaySession, error) {
	addr := net.JoinHostPort(a.cfg.Host, strconv.Itoa(a.cfg.Port))

	dialer := &net.Dialer{Timeout: a.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connection failed to %s: %w", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(a.timeout))
	}

	tlsConfig := &tls.Config{
		ServerName: a.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}

	if a.cfg.Port == 465 {
		conn = tls.Client(conn, tlsConfig)
	}

	client := smtp.NewClient(conn)

	if a.cfg.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				a.logger.Warn("STARTTLS failed, continuing without encryption",
					"relay", addr,
					"error", err,
				)
			}
		}
	}

	if a.cfg.Username != "" {
		if err := client.Auth(sasl.NewPlainClient("", a.cfg.Username, a.cfg.Password)); err != nil {
			client.Close()
			return nil, fmt.Errorf("authentication failed: %w", err)
		}
	}

	return client, nil
}

// buildEmailMessage renders the MIME message for one recipient.
func buildEmailMessage(data *campaign.EmailData, rcpt campaign.Recipient) []byte {
	from := mail.Address{Name: data.FromName, Address: data.FromEmail}
	to := mail.Address{Name: rcpt.Name, Address: rcpt.Email}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from.String())
	fmt.Fprintf(&b, "To: %s\r\n", to.String())
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", personalize(data.Subject, rcpt)))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(personalize(data.HTMLBody, rcpt))
	b.WriteString("\r\n")
	return []byte(b.String())
}
