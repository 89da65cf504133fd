package scheduler

import (
	"testing"
	"time"

	"github.com/openretail/pos-service-layer/internal/stock"
)

func at(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func intPtr(v int) *int { return &v }

func TestDueDaily(t *testing.T) {
	sched := stock.Schedule{Interval: stock.IntervalDaily, Hour: 2, Minute: 0}

	if !Due(sched, at(2025, 6, 1, 2, 0)) {
		t.Fatal("daily schedule must fire at 02:00")
	}
	if Due(sched, at(2025, 6, 1, 2, 1)) {
		t.Fatal("daily schedule must not fire at 02:01")
	}
	if Due(sched, at(2025, 6, 1, 3, 0)) {
		t.Fatal("daily schedule must not fire at 03:00")
	}
}

func TestDueWeeklyMondayBased(t *testing.T) {
	// dayOfWeek 0 = Monday.
	sched := stock.Schedule{Interval: stock.IntervalWeekly, Hour: 5, Minute: 30, DayOfWeek: intPtr(0)}

	monday := at(2025, 6, 2, 5, 30) // 2025-06-02 is a Monday
	if !Due(sched, monday) {
		t.Fatal("weekly schedule must fire on Monday")
	}
	sunday := at(2025, 6, 1, 5, 30)
	if Due(sched, sunday) {
		t.Fatal("weekly schedule must not fire on Sunday for dayOfWeek 0")
	}
}

func TestDueMonthly(t *testing.T) {
	sched := stock.Schedule{Interval: stock.IntervalMonthly, Hour: 2, Minute: 0, DayOfMonth: intPtr(15)}

	if !Due(sched, at(2025, 6, 15, 2, 0)) {
		t.Fatal("monthly schedule must fire on the 15th")
	}
	if Due(sched, at(2025, 6, 14, 2, 0)) {
		t.Fatal("monthly schedule must not fire on the 14th")
	}
}

func TestDueMonthlyClampsToLastDay(t *testing.T) {
	sched := stock.Schedule{Interval: stock.IntervalMonthly, Hour: 2, Minute: 0, DayOfMonth: intPtr(31)}

	// February 2025 has 28 days; day 31 fires on the 28th.
	if !Due(sched, at(2025, 2, 28, 2, 0)) {
		t.Fatal("day 31 must clamp to Feb 28")
	}
	if Due(sched, at(2025, 2, 27, 2, 0)) {
		t.Fatal("clamped schedule must not fire on the 27th")
	}
	// April has 30 days.
	if !Due(sched, at(2025, 4, 30, 2, 0)) {
		t.Fatal("day 31 must clamp to Apr 30")
	}
	// Months with 31 days fire on the 31st only.
	if Due(sched, at(2025, 5, 30, 2, 0)) {
		t.Fatal("May must fire on the 31st, not the 30th")
	}
	if !Due(sched, at(2025, 5, 31, 2, 0)) {
		t.Fatal("May 31 must fire")
	}
}

func TestDueLeapFebruary(t *testing.T) {
	sched := stock.Schedule{Interval: stock.IntervalMonthly, Hour: 0, Minute: 5, DayOfMonth: intPtr(30)}

	if !Due(sched, at(2024, 2, 29, 0, 5)) {
		t.Fatal("day 30 must clamp to Feb 29 in a leap year")
	}
	if Due(sched, at(2024, 2, 28, 0, 5)) {
		t.Fatal("leap-year clamp must not fire on the 28th")
	}
}
