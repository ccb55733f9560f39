package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/service/cleanup"
)

const (
	defaultListenAddr      = "localhost:8000"
	defaultLoggingLevel    = logger.LevelInfo
	defaultEnvironment     = logger.EnvProduction
	defaultAccessTTL       = 15 * time.Minute
	defaultRefreshTTL      = 7 * 24 * time.Hour
	defaultOTPLength       = 6
	defaultOTPTTL          = 10 * time.Minute
	defaultOTPMaxAttempts  = 5
	defaultOTPCooldown     = time.Minute
	defaultResetTokenTTL   = time.Hour
	defaultOTPSendLimit    = 3
	defaultOTPSendWindow   = 10 * time.Minute
	defaultRateLimitMax    = 100
	defaultRateLimitWindow = 15 * time.Minute
	defaultSMTPPort        = 587
	defaultResetURL        = "http://localhost:3000/reset-password"
)

type Config struct {
	// Default logging level
	LogLevel string

	// Environment: 'dev' or 'prod'. Production logs json and sets secure cookies
	Environment string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to. In-memory storage is used if empty
	DatabaseDSN string

	// Secret keys to sign access and refresh tokens, must differ
	AccessSecret  string
	RefreshSecret string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// One time codes
	OTPLength      int
	OTPTTL         time.Duration
	OTPMaxAttempts int
	OTPCooldown    time.Duration

	ResetTokenTTL time.Duration

	// Reset token is appended to this url in password reset emails
	ResetURL string

	// Redis to count code sends per email. Limiter is disabled if empty
	RedisAddr     string
	OTPSendLimit  int
	OTPSendWindow time.Duration

	// Requests per client ip on every route, limited only if redis is set
	RateLimitMax    int
	RateLimitWindow time.Duration

	// Emails are logged in development and not sent at all otherwise if host is empty
	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// Cron expression of dead credentials cleanup
	CleanupSchedule string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:        defaultLoggingLevel,
		Environment:     defaultEnvironment,
		ListenAddr:      defaultListenAddr,
		AccessTTL:       defaultAccessTTL,
		RefreshTTL:      defaultRefreshTTL,
		OTPLength:       defaultOTPLength,
		OTPTTL:          defaultOTPTTL,
		OTPMaxAttempts:  defaultOTPMaxAttempts,
		OTPCooldown:     defaultOTPCooldown,
		ResetTokenTTL:   defaultResetTokenTTL,
		ResetURL:        defaultResetURL,
		OTPSendLimit:    defaultOTPSendLimit,
		OTPSendWindow:   defaultOTPSendWindow,
		RateLimitMax:    defaultRateLimitMax,
		RateLimitWindow: defaultRateLimitWindow,
		SMTPPort:        defaultSMTPPort,
		CleanupSchedule: cleanup.DefaultSchedule,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = n
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":       setString(&c.ListenAddr),
		"DATABASE_URI":      setString(&c.DatabaseDSN),
		"ACCESS_SECRET":     setString(&c.AccessSecret),
		"REFRESH_SECRET":    setString(&c.RefreshSecret),
		"ACCESS_TTL":        setDuration(&c.AccessTTL),
		"REFRESH_TTL":       setDuration(&c.RefreshTTL),
		"OTP_LENGTH":        setInt(&c.OTPLength),
		"OTP_TTL":           setDuration(&c.OTPTTL),
		"OTP_MAX_ATTEMPTS":  setInt(&c.OTPMaxAttempts),
		"OTP_COOLDOWN":      setDuration(&c.OTPCooldown),
		"RESET_TOKEN_TTL":   setDuration(&c.ResetTokenTTL),
		"RESET_URL":         setString(&c.ResetURL),
		"REDIS_ADDR":        setString(&c.RedisAddr),
		"OTP_SEND_LIMIT":    setInt(&c.OTPSendLimit),
		"OTP_SEND_WINDOW":   setDuration(&c.OTPSendWindow),
		"RATE_LIMIT_MAX":    setInt(&c.RateLimitMax),
		"RATE_LIMIT_WINDOW": setDuration(&c.RateLimitWindow),
		"SMTP_HOST":         setString(&c.SMTPHost),
		"SMTP_PORT":         setInt(&c.SMTPPort),
		"SMTP_USER":         setString(&c.SMTPUser),
		"SMTP_PASS":         setString(&c.SMTPPass),
		"SMTP_FROM":         setString(&c.SMTPFrom),
		"CLEANUP_SCHEDULE":  setString(&c.CleanupSchedule),
		"LOG_LEVEL":         setString(&c.LogLevel),
		"ENVIRONMENT":       setString(&c.Environment),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("gopherauth", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVar(&c.AccessSecret, "access-secret", c.AccessSecret, "Secret key to sign access tokens")
	fs.StringVar(&c.RefreshSecret, "refresh-secret", c.RefreshSecret, "Secret key to sign refresh tokens")
	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "Refresh token lifetime")
	fs.IntVar(&c.OTPLength, "otp-length", c.OTPLength, "Number of digits in one time code")
	fs.DurationVar(&c.OTPTTL, "otp-ttl", c.OTPTTL, "One time code lifetime")
	fs.IntVar(&c.OTPMaxAttempts, "otp-max-attempts", c.OTPMaxAttempts, "Verification attempts per code")
	fs.DurationVar(&c.OTPCooldown, "otp-cooldown", c.OTPCooldown, "Minimal interval between two codes sent to the same email")
	fs.DurationVar(&c.ResetTokenTTL, "reset-token-ttl", c.ResetTokenTTL, "Password reset token lifetime")
	fs.StringVar(&c.ResetURL, "reset-url", c.ResetURL, "Password reset page url")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "Redis address for code send limiter")
	fs.IntVar(&c.OTPSendLimit, "otp-send-limit", c.OTPSendLimit, "Codes allowed per email within send window")
	fs.DurationVar(&c.OTPSendWindow, "otp-send-window", c.OTPSendWindow, "Code send limiter window")
	fs.IntVar(&c.RateLimitMax, "rate-limit-max", c.RateLimitMax, "Requests allowed per client ip within rate limit window")
	fs.DurationVar(&c.RateLimitWindow, "rate-limit-window", c.RateLimitWindow, "Request limiter window")
	fs.StringVar(&c.SMTPHost, "smtp-host", c.SMTPHost, "SMTP host, emails are logged in development if empty")
	fs.IntVar(&c.SMTPPort, "smtp-port", c.SMTPPort, "SMTP port")
	fs.StringVar(&c.SMTPUser, "smtp-user", c.SMTPUser, "SMTP user")
	fs.StringVar(&c.SMTPPass, "smtp-pass", c.SMTPPass, "SMTP password")
	fs.StringVar(&c.SMTPFrom, "smtp-from", c.SMTPFrom, "Sender email address")
	fs.StringVar(&c.CleanupSchedule, "cleanup-schedule", c.CleanupSchedule, "Cron expression of dead credentials cleanup")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	return fs.Parse(args)
}

func (c *Config) Validate() error {
	switch {
	case c.AccessSecret == "" || c.RefreshSecret == "":
		return errors.New("access and refresh secrets are required, generate them with 'gensecret'")
	case c.AccessSecret == c.RefreshSecret:
		return errors.New("access and refresh secrets must differ")
	}
	return nil
}
