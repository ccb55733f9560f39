package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/nkiryanov/gopherauth/internal/models"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SMTPSender delivers emails with plain SMTP, STARTTLS is used when server offers it
type SMTPSender struct {
	addr     string
	auth     smtp.Auth
	from     string
	fromName string

	// smtp.SendMail, replaced in tests
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp from is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return &SMTPSender{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		auth:     auth,
		from:     cfg.From,
		fromName: cfg.FromName,
		sendMail: smtp.SendMail,
	}, nil
}

func (s *SMTPSender) SendOTP(ctx context.Context, to string, username string, code string, otpType models.OTPType, expiresAt time.Time) error {
	return s.send(ctx, otpMessage(to, username, code, otpType, expiresAt))
}

func (s *SMTPSender) SendPasswordReset(ctx context.Context, to string, username string, link string, expiresAt time.Time) error {
	return s.send(ctx, resetMessage(to, username, link, expiresAt))
}

func (s *SMTPSender) SendWelcome(ctx context.Context, to string, username string) error {
	return s.send(ctx, welcomeMessage(to, username))
}

func (s *SMTPSender) send(ctx context.Context, m message) error {
	if strings.TrimSpace(m.to) == "" {
		return fmt.Errorf("to email is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := s.build(m)
	if err := s.sendMail(s.addr, s.auth, s.from, []string{m.to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

func (s *SMTPSender) build(m message) string {
	fromHeader := s.from
	if strings.TrimSpace(s.fromName) != "" {
		fromHeader = fmt.Sprintf("%s <%s>", s.fromName, s.from)
	}

	headers := []string{
		fmt.Sprintf("From: %s", fromHeader),
		fmt.Sprintf("To: %s", m.to),
		fmt.Sprintf("Subject: %s", m.subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
	}

	return strings.Join(headers, "\r\n") + "\r\n\r\n" + m.body
}
