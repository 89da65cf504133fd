// Package scheduler runs the per-tenant snapshot schedules. A cron ticker
// evaluates every tenant's schedule once per minute; a distributed lease in
// the state store ensures exactly one service instance executes a due job.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openretail/pos-service-layer/infrastructure/logging"
	"github.com/openretail/pos-service-layer/infrastructure/metrics"
	"github.com/openretail/pos-service-layer/internal/eventbus"
	"github.com/openretail/pos-service-layer/internal/stock"
)

// TenantLister enumerates the tenants whose schedules this scheduler covers.
type TenantLister interface {
	ListTenantIDs(ctx context.Context) ([]string, error)
}

// Scheduler drives scheduled snapshots and their retention sweeps.
type Scheduler struct {
	stocks  *stock.Service
	tenants TenantLister
	state   *eventbus.StateStore
	log     *logging.Logger
	cron    *cron.Cron
	now     func() time.Time

	// RunDeadline is the hard per-run deadline; the lease TTL is twice it so
	// an expired run's lease lapses before the next tick can collide with it.
	RunDeadline time.Duration
}

// New creates a scheduler.
func New(stocks *stock.Service, tenants TenantLister, state *eventbus.StateStore, log *logging.Logger) *Scheduler {
	if log == nil {
		log = logging.NewFromEnv("scheduler")
	}
	return &Scheduler{
		stocks:      stocks,
		tenants:     tenants,
		state:       state,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		RunDeadline: 10 * time.Minute,
	}
}

// Start begins the minute tick. Stop with Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc("* * * * *", func() {
		s.Tick(ctx)
	})
	if err != nil {
		return fmt.Errorf("register cron tick: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the tick and waits for a running job to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Tick evaluates every tenant's schedule against the current minute.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().Truncate(time.Minute)

	ids, err := s.tenants.ListTenantIDs(ctx)
	if err != nil {
		s.log.WithError(err).Warn("list tenants for scheduling")
		return
	}

	for _, tenantID := range ids {
		sched, err := s.stocks.GetSchedule(ctx, tenantID)
		if err != nil {
			// Most tenants have no schedule; that is not an error condition.
			continue
		}
		if !sched.Enabled || !Due(sched, now) {
			continue
		}
		s.runTenant(ctx, tenantID, sched, now)
	}
}

// Due reports whether the schedule fires at the given UTC minute. Monthly
// schedules whose day exceeds the month's length fire on the month's last
// day instead.
func Due(sched stock.Schedule, now time.Time) bool {
	if now.Hour() != sched.Hour || now.Minute() != sched.Minute {
		return false
	}
	switch sched.Interval {
	case stock.IntervalDaily:
		return true
	case stock.IntervalWeekly:
		if sched.DayOfWeek == nil {
			return false
		}
		// Schedule weekday is 0=Monday; time.Weekday is 0=Sunday.
		weekday := (int(now.Weekday()) + 6) % 7
		return weekday == *sched.DayOfWeek
	case stock.IntervalMonthly:
		if sched.DayOfMonth == nil {
			return false
		}
		day := *sched.DayOfMonth
		last := lastDayOfMonth(now)
		if day > last {
			day = last
		}
		return now.Day() == day
	}
	return false
}

func lastDayOfMonth(t time.Time) int {
	firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
	return firstOfNext.AddDate(0, 0, -1).Day()
}

func (s *Scheduler) runTenant(ctx context.Context, tenantID string, sched stock.Schedule, now time.Time) {
	leaseKey := fmt.Sprintf("lease:snapshot:%s", tenantID)
	lease, err := s.state.AcquireLease(ctx, leaseKey, 2*s.RunDeadline)
	if err != nil {
		s.log.WithError(err).WithFields(map[string]interface{}{"tenant_id": tenantID}).Warn("acquire snapshot lease")
		return
	}
	if lease == nil {
		// Another instance holds the lease; it will run the job.
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, s.RunDeadline)
	defer cancel()
	defer func() {
		if err := lease.Release(ctx); err != nil {
			s.log.WithError(err).WithFields(map[string]interface{}{"tenant_id": tenantID}).Warn("release snapshot lease")
		}
	}()

	stores, err := s.expandTargets(runCtx, tenantID, sched.TargetStores)
	if err != nil {
		metrics.SnapshotRunsTotal.WithLabelValues("error").Inc()
		s.log.WithError(err).WithFields(map[string]interface{}{"tenant_id": tenantID}).Error("expand snapshot targets")
		return
	}

	for _, storeCode := range stores {
		if _, err := s.stocks.CreateSnapshot(runCtx, tenantID, storeCode, "scheduler"); err != nil {
			metrics.SnapshotRunsTotal.WithLabelValues("error").Inc()
			s.log.WithError(err).WithFields(map[string]interface{}{
				"tenant_id":  tenantID,
				"store_code": storeCode,
			}).Error("scheduled snapshot failed")
			return
		}
	}

	if err := s.stocks.MarkScheduleExecuted(runCtx, tenantID, now); err != nil {
		s.log.WithError(err).WithFields(map[string]interface{}{"tenant_id": tenantID}).Warn("mark schedule executed")
	}

	// Retention sweep. A TTL index covers steady-state eviction; the sweep
	// catches retention changes. retentionDays counts today, so a retention
	// of 3 evaluated on day 5 keeps days 3 through 5.
	cutoff := now.AddDate(0, 0, -(sched.RetentionDays - 1))
	deleted, err := s.stocks.SweepSnapshots(runCtx, tenantID, cutoff)
	if err != nil {
		s.log.WithError(err).WithFields(map[string]interface{}{"tenant_id": tenantID}).Warn("retention sweep failed")
	} else if deleted > 0 {
		s.log.WithFields(map[string]interface{}{
			"tenant_id": tenantID,
			"deleted":   deleted,
		}).Info("retention sweep removed snapshots")
	}

	metrics.SnapshotRunsTotal.WithLabelValues("ok").Inc()
}

func (s *Scheduler) expandTargets(ctx context.Context, tenantID string, targets []string) ([]string, error) {
	for _, t := range targets {
		if t == "all" {
			return s.stocks.ListStoreCodes(ctx, tenantID)
		}
	}
	return targets, nil
}
