package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// ArchiveJob moves orders and audit entries older than the retention
// period to cold storage on a schedule.
type ArchiveJob struct {
	archiver      domain.Archiver
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiveJob creates an ArchiveJob.
func NewArchiveJob(archiver domain.Archiver, retentionDays int, logger *slog.Logger) *ArchiveJob {
	return &ArchiveJob{
		archiver:      archiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archive_job")),
		now:           time.Now,
	}
}

// Cutoff returns the boundary of the current run.
func (a *ArchiveJob) Cutoff() time.Time {
	return a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
}

// Run executes one pass. Audit is archived even if orders fail so one bad
// table does not hold back the other.
func (a *ArchiveJob) Run(ctx context.Context) error {
	cutoff := a.Cutoff()
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	orders, errOrders := a.archiver.ArchiveOrders(ctx, cutoff)
	if errOrders != nil {
		errOrders = fmt.Errorf("archiving orders before %v: %w", cutoff, errOrders)
	}
	audit, errAudit := a.archiver.ArchiveAudit(ctx, cutoff)
	if errAudit != nil {
		errAudit = fmt.Errorf("archiving audit before %v: %w", cutoff, errAudit)
	}

	a.logger.Info("archive run complete",
		slog.Int64("orders_archived", orders),
		slog.Int64("audit_archived", audit),
	)
	return errors.Join(errOrders, errAudit)
}

// RunCron runs the job on a 5-field cron schedule (UTC) until ctx ends.
// Failed runs are logged and the schedule continues.
func (a *ArchiveJob) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := ParseCron(cronExpr)
	if err != nil {
		return err
	}
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.Next(a.now().UTC())
		if err != nil {
			return err
		}
		wait := time.Until(next)
		a.logger.Debug("archiver waiting for next run", slog.Time("next_run", next), slog.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField matches one field; a nil set is a wildcard.
type cronField map[int]bool

func (f cronField) matches(v int) bool {
	return f == nil || f[v]
}

// parseCronField accepts "*", "*/n", "a", "a-b", "a-b/n" and comma lists
// of those, within [lo, hi].
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return nil, nil
	}
	set := cronField{}
	for _, part := range strings.Split(field, ",") {
		rng, stepStr, hasStep := strings.Cut(part, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid cron step %q", part)
			}
			step = n
		}

		from, to := lo, hi
		if rng != "*" {
			a, b, isRange := strings.Cut(rng, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return nil, fmt.Errorf("invalid cron value %q: %w", part, err)
			}
			to = from
			if isRange {
				if to, err = strconv.Atoi(b); err != nil {
					return nil, fmt.Errorf("invalid cron value %q: %w", part, err)
				}
			} else if hasStep {
				to = hi
			}
		}
		if from < lo || to > hi || from > to {
			return nil, fmt.Errorf("cron value %q outside %d-%d", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			set[v] = true
		}
	}
	return set, nil
}

// CronSchedule is a parsed 5-field cron expression.
type CronSchedule struct {
	minute, hour, dom, month, dow cronField
}

// ParseCron parses "minute hour day-of-month month day-of-week".
func ParseCron(expr string) (CronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return CronSchedule{}, fmt.Errorf("%w: cron expression %q must have 5 fields, got %d", domain.ErrValidation, expr, len(fields))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	var parsed [5]cronField
	for i, f := range fields {
		var err error
		if parsed[i], err = parseCronField(f, bounds[i][0], bounds[i][1]); err != nil {
			return CronSchedule{}, fmt.Errorf("%w: cron field %d: %v", domain.ErrValidation, i+1, err)
		}
	}
	return CronSchedule{parsed[0], parsed[1], parsed[2], parsed[3], parsed[4]}, nil
}

func (c CronSchedule) matches(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dom.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dow.matches(int(t.Weekday()))
}

// Next returns the first matching minute strictly after after, searching
// up to a year ahead.
func (c CronSchedule) Next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if c.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching cron time within one year")
}
