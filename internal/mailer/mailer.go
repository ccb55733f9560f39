// Package mailer delivers codes and reset links to users.
// Failed delivery never invalidates the issued credential: user may request a resend.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/models"
)

type Sender interface {
	SendOTP(ctx context.Context, to string, username string, code string, otpType models.OTPType, expiresAt time.Time) error
	SendPasswordReset(ctx context.Context, to string, username string, link string, expiresAt time.Time) error
	SendWelcome(ctx context.Context, to string, username string) error
}

type message struct {
	to      string
	subject string
	body    string
}

func otpMessage(to string, username string, code string, otpType models.OTPType, expiresAt time.Time) message {
	subject := "Your verification code"
	switch otpType {
	case models.OTPTypeLogin:
		subject = "Your login code"
	case models.OTPTypeReset:
		subject = "Your password reset code"
	}

	return message{
		to:      to,
		subject: subject,
		body: fmt.Sprintf(
			"Hello %s,\n\nYour code is %s.\nIt expires at %s UTC.\n\nIf you did not request it, ignore this email.\n",
			username, code, expiresAt.UTC().Format(time.RFC3339),
		),
	}
}

func resetMessage(to string, username string, link string, expiresAt time.Time) message {
	return message{
		to:      to,
		subject: "Reset your password",
		body: fmt.Sprintf(
			"Hello %s,\n\nFollow the link to set a new password:\n%s\n\nThe link expires at %s UTC.\n",
			username, link, expiresAt.UTC().Format(time.RFC3339),
		),
	}
}

func welcomeMessage(to string, username string) message {
	return message{
		to:      to,
		subject: "Welcome",
		body:    fmt.Sprintf("Hello %s,\n\nYour email is verified. Welcome aboard!\n", username),
	}
}

// Sender used when no delivery configured, every send fails
type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) err() error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}

func (s *disabledSender) SendOTP(context.Context, string, string, string, models.OTPType, time.Time) error {
	return s.err()
}

func (s *disabledSender) SendPasswordReset(context.Context, string, string, string, time.Time) error {
	return s.err()
}

func (s *disabledSender) SendWelcome(context.Context, string, string) error {
	return s.err()
}

// LogSender writes emails to log instead of delivering them. Handy in development
type LogSender struct {
	log logger.Logger
}

func NewLogSender(log logger.Logger) *LogSender {
	return &LogSender{log: log.With("component", "mailer")}
}

func (s *LogSender) send(m message) error {
	s.log.Info("email", "to", m.to, "subject", m.subject, "body", strings.TrimSpace(m.body))
	return nil
}

func (s *LogSender) SendOTP(_ context.Context, to string, username string, code string, otpType models.OTPType, expiresAt time.Time) error {
	return s.send(otpMessage(to, username, code, otpType, expiresAt))
}

func (s *LogSender) SendPasswordReset(_ context.Context, to string, username string, link string, expiresAt time.Time) error {
	return s.send(resetMessage(to, username, link, expiresAt))
}

func (s *LogSender) SendWelcome(_ context.Context, to string, username string) error {
	return s.send(welcomeMessage(to, username))
}
