package cleanup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gopherauth/internal/metrics"
	"github.com/nkiryanov/gopherauth/internal/service/auth/revocation"
)

type cleanerFunc func(ctx context.Context) revocation.Report

func (f cleanerFunc) Cleanup(ctx context.Context) revocation.Report { return f(ctx) }

func Test_Job(t *testing.T) {
	t.Parallel()

	t.Run("default schedule", func(t *testing.T) {
		_, err := New("", cleanerFunc(func(context.Context) revocation.Report { return revocation.Report{} }), nil, nil)

		require.NoError(t, err)
	})

	t.Run("invalid schedule", func(t *testing.T) {
		_, err := New("every now and then", cleanerFunc(func(context.Context) revocation.Report { return revocation.Report{} }), nil, nil)

		require.Error(t, err)
	})

	t.Run("nil cleaner", func(t *testing.T) {
		_, err := New("@hourly", nil, nil, nil)

		require.Error(t, err)
	})

	t.Run("run once records metrics", func(t *testing.T) {
		m := metrics.New(prometheus.NewRegistry())
		j, err := New("@hourly", cleanerFunc(func(context.Context) revocation.Report {
			return revocation.Report{OTPs: 3, RefreshTokens: 2, Err: errors.New("reset tokens: boom")}
		}), m, nil)
		require.NoError(t, err)

		report := j.RunOnce(t.Context())

		assert.EqualValues(t, 3, report.OTPs)
		assert.Equal(t, 3.0, promtest.ToFloat64(m.CleanupDeletedTotal.WithLabelValues("otp")))
		assert.Equal(t, 2.0, promtest.ToFloat64(m.CleanupDeletedTotal.WithLabelValues("refresh_token")))
		assert.Equal(t, 1.0, promtest.ToFloat64(m.CleanupRunsTotal.WithLabelValues("error")))
	})

	t.Run("run on schedule until context done", func(t *testing.T) {
		var calls atomic.Int32
		j, err := New("@every 1s", cleanerFunc(func(context.Context) revocation.Report {
			calls.Add(1)
			return revocation.Report{}
		}), nil, nil)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan error, 1)
		go func() { done <- j.Run(ctx) }()

		require.Eventually(t, func() bool { return calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("job not stopped after context cancel")
		}
	})
}
