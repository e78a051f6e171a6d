package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"stockwatch/internal/config"
)

// EmailChannel delivers notifications as HTML email over SMTP. Port 465 uses
// implicit TLS; other ports use STARTTLS.
type EmailChannel struct {
	cfg config.EmailConfig
}

// NewEmailChannel creates an email channel from configuration.
func NewEmailChannel(cfg config.EmailConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg}
}

// Name implements Channel.
func (c *EmailChannel) Name() string { return "email" }

// Send implements Channel.
func (c *EmailChannel) Send(ctx context.Context, n Notification) error {
	addr := net.JoinHostPort(c.cfg.SMTPServer, strconv.Itoa(c.cfg.SMTPPort))

	client, err := c.connect(ctx, addr)
	if err != nil {
		return fmt.Errorf("smtp connect: %w", err)
	}
	defer func() { _ = client.Close() }()

	auth := smtp.PlainAuth("", c.cfg.Sender, c.cfg.Password, c.cfg.SMTPServer)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(c.cfg.Sender); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(c.cfg.Receiver); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(buildMessage(c.cfg.Sender, c.cfg.Receiver, n)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message: %w", err)
	}

	// Some providers reply abnormally to QUIT after a successful send;
	// the message is already accepted at this point.
	_ = client.Quit()
	return nil
}

func (c *EmailChannel) connect(ctx context.Context, addr string) (*smtp.Client, error) {
	dialer := &net.Dialer{}
	tlsConfig := &tls.Config{ServerName: c.cfg.SMTPServer}

	if c.cfg.SMTPPort == 465 {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(tls.Client(conn, tlsConfig), c.cfg.SMTPServer)
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	client, err := smtp.NewClient(conn, c.cfg.SMTPServer)
	if err != nil {
		return nil, err
	}
	if err := client.StartTLS(tlsConfig); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func buildMessage(from, to string, n Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", n.Title))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(n.HTML)
	b.WriteString("\r\n")
	return []byte(b.String())
}
