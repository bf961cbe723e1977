package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/auroraid/apiserver/config"
)

const defaultSMTPTimeout = 15 * time.Second

// Sender delivers a rendered mail.
type Sender interface {
	Send(ctx context.Context, mail Mail) error
}

// SMTPSender delivers mail through an SMTP relay, upgrading with STARTTLS.
type SMTPSender struct {
	cfg config.SMTPConfig
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) from() string {
	if s.cfg.From != "" {
		return s.cfg.From
	}
	return s.cfg.Username
}

// Send opens one connection per mail. The whole exchange is bounded by
// SMTP_TIMEOUT.
func (s *SMTPSender) Send(ctx context.Context, mail Mail) error {
	from := s.from()
	if from == "" {
		return errors.New("smtp sender address is not configured")
	}

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	} else if s.cfg.RequireTLS {
		return errors.New("smtp server does not offer STARTTLS")
	}

	if s.cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(mail.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(buildMessage(from, mail, time.Now())); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	return client.Quit()
}

func buildMessage(from string, mail Mail, now time.Time) []byte {
	domain := "localhost"
	if _, host, ok := strings.Cut(from, "@"); ok && host != "" {
		domain = host
	}

	var buf bytes.Buffer
	header := func(key, value string) {
		buf.WriteString(key + ": " + value + "\r\n")
	}
	header("From", from)
	header("To", mail.To)
	header("Subject", mime.QEncoding.Encode("utf-8", mail.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", "<"+uuid.NewString()+"@"+domain+">")
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="UTF-8"`)
	header("Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	_, _ = qp.Write([]byte(mail.HTML))
	_ = qp.Close()
	return buf.Bytes()
}
