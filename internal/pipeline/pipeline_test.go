package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestParseCronNext(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 34, 56, 0, time.UTC) // Tuesday

	cases := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2026, 3, 10, 12, 35, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 10, 12, 45, 0, 0, time.UTC)},
		{"0 9-17/4 * * *", time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)},
		{"30 2 1 * *", time.Date(2026, 4, 1, 2, 30, 0, 0, time.UTC)},
		{"0 0 * * 0,6", time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			sched, err := ParseCron(tc.expr)
			require.NoError(t, err)
			got, err := sched.Next(base)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseCronRejects(t *testing.T) {
	for _, expr := range []string{"* * * *", "60 * * * *", "*/0 * * * *", "a * * * *", "5-1 * * * *"} {
		_, err := ParseCron(expr)
		assert.ErrorIs(t, err, domain.ErrValidation, expr)
	}
}

type stubArchiver struct {
	ordersErr error
	cutoffs   []time.Time
	auditRuns int
}

func (s *stubArchiver) ArchiveOrders(_ context.Context, before time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, before)
	return 3, s.ordersErr
}

func (s *stubArchiver) ArchiveAudit(context.Context, time.Time) (int64, error) {
	s.auditRuns++
	return 1, nil
}

func TestArchiveJobRun(t *testing.T) {
	arch := &stubArchiver{ordersErr: errors.New("db down")}
	job := NewArchiveJob(arch, 30, discard())
	job.now = func() time.Time { return time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC) }

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, 1, arch.auditRuns, "audit still archived when orders fail")
	assert.Equal(t, []time.Time{time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}, arch.cutoffs)
}

type stubReconciler struct{ calls int }

func (s *stubReconciler) RunReconciler(ctx context.Context, _ time.Duration) error {
	s.calls++
	<-ctx.Done()
	return ctx.Err()
}

func TestOrchestratorStopsCleanly(t *testing.T) {
	rec := &stubReconciler{}
	job := NewArchiveJob(&stubArchiver{}, 30, discard())
	o := NewOrchestrator(job, "0 3 * * *", rec, time.Second, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
	assert.Equal(t, 1, rec.calls)
}

func TestOrchestratorSurfacesBadCron(t *testing.T) {
	job := NewArchiveJob(&stubArchiver{}, 30, discard())
	o := NewOrchestrator(job, "bad", nil, 0, discard())
	err := o.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrValidation)
}
