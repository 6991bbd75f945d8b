package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"tgtg_watcher/internal/model"
)

const implicitTLSPort = 465

// sendMailHook allows tests to override SMTP sending behavior.
var sendMailHook = sendMail

// Email sends notifications via SMTP.
type Email struct{}

func (e *Email) Name() string { return "email" }

func (e *Email) Enabled(n model.Notifications) bool { return n.Email.Enabled }

// Send mails the HTML rendering of msg to the configured recipient.
func (e *Email) Send(ctx context.Context, acct model.Account, msg Message) error {
	cfg := acct.Notifications.Email
	if cfg.SMTPHost == "" || cfg.SMTPEmail == "" || cfg.Recipient == "" {
		return fmt.Errorf("email: %w", ErrMissingCredentials)
	}
	port := cfg.SMTPPort
	if port == 0 {
		port = implicitTLSPort
	}

	var auth smtp.Auth
	if cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}

	to := strings.Split(cfg.Recipient, ",")
	for i := range to {
		to[i] = strings.TrimSpace(to[i])
	}

	header := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: TooGoodToGo Notification from account %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n",
		cfg.SMTPEmail,
		strings.Join(to, ","),
		acct.Email,
	)
	body := header + strings.ReplaceAll(msg.HTML, "\n", "<br>\r\n")

	addr := net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(port))
	return sendMailHook(ctx, addr, cfg.SMTPHost, auth, cfg.SMTPEmail, to, []byte(body))
}

// sendMail delivers over implicit TLS on port 465 and falls back to
// smtp.SendMail, which upgrades with STARTTLS when offered, on other ports.
func sendMail(ctx context.Context, addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	if !strings.HasSuffix(addr, ":"+strconv.Itoa(implicitTLSPort)) {
		return smtp.SendMail(addr, auth, from, to, msg)
	}

	dialer := &tls.Dialer{Config: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer func() { _ = c.Close() }()

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp mail: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt: %w", err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return c.Quit()
}
