package mailer

import (
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/models"
)

type sent struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestSender(t *testing.T, fail error) (*SMTPSender, *[]sent) {
	t.Helper()

	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", From: "noreply@example.com", FromName: "Gopher Auth"})
	require.NoError(t, err)

	var outbox []sent
	s.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		outbox = append(outbox, sent{addr: addr, from: from, to: to, msg: string(msg)})
		return fail
	}
	return s, &outbox
}

func Test_SMTPSender(t *testing.T) {
	t.Parallel()

	expiresAt := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	t.Run("config required", func(t *testing.T) {
		_, err := NewSMTPSender(SMTPConfig{From: "noreply@example.com"})
		require.Error(t, err)

		_, err = NewSMTPSender(SMTPConfig{Host: "smtp.example.com"})
		require.Error(t, err)
	})

	t.Run("send otp", func(t *testing.T) {
		s, outbox := newTestSender(t, nil)

		err := s.SendOTP(t.Context(), "gopher@example.com", "gopher", "123456", models.OTPTypeLogin, expiresAt)

		require.NoError(t, err)
		require.Len(t, *outbox, 1)
		m := (*outbox)[0]
		assert.Equal(t, "smtp.example.com:587", m.addr, "default port is used")
		assert.Equal(t, "noreply@example.com", m.from)
		assert.Equal(t, []string{"gopher@example.com"}, m.to)
		assert.Contains(t, m.msg, "From: Gopher Auth <noreply@example.com>\r\n")
		assert.Contains(t, m.msg, "Subject: Your login code\r\n")
		assert.Contains(t, m.msg, "Your code is 123456.")
		assert.Contains(t, m.msg, "2025-01-01T10:00:00Z")
	})

	t.Run("send reset link", func(t *testing.T) {
		s, outbox := newTestSender(t, nil)

		err := s.SendPasswordReset(t.Context(), "gopher@example.com", "gopher", "https://example.com/reset/abc", expiresAt)

		require.NoError(t, err)
		assert.Contains(t, (*outbox)[0].msg, "https://example.com/reset/abc")
	})

	t.Run("empty recipient", func(t *testing.T) {
		s, outbox := newTestSender(t, nil)

		err := s.SendWelcome(t.Context(), " ", "gopher")

		require.Error(t, err)
		assert.Empty(t, *outbox)
	})

	t.Run("delivery error returned", func(t *testing.T) {
		errDown := errors.New("connection refused")
		s, _ := newTestSender(t, errDown)

		err := s.SendWelcome(t.Context(), "gopher@example.com", "gopher")

		require.ErrorIs(t, err, errDown)
	})
}

func Test_OtherSenders(t *testing.T) {
	t.Parallel()

	t.Run("disabled sender fails", func(t *testing.T) {
		s := NewDisabledSender("smtp not configured")

		err := s.SendWelcome(t.Context(), "gopher@example.com", "gopher")

		require.EqualError(t, err, "smtp not configured")
	})

	t.Run("log sender succeeds", func(t *testing.T) {
		s := NewLogSender(logger.NewNoOpLogger())

		require.NoError(t, s.SendOTP(t.Context(), "gopher@example.com", "gopher", "123456", models.OTPTypeVerification, time.Now()))
		require.NoError(t, s.SendPasswordReset(t.Context(), "gopher@example.com", "gopher", "link", time.Now()))
		require.NoError(t, s.SendWelcome(t.Context(), "gopher@example.com", "gopher"))
	})
}
