package circulation

import (
	"math"
	"time"

	"github.com/listenupapp/circulation-server/internal/domain"
)

// DefaultRatePerDay is the late fee per overdue day.
const DefaultRatePerDay = 0.50

// civilDate truncates t to midnight of its calendar day in loc, expressed in
// UTC so that differences are whole multiples of 24h regardless of DST.
func civilDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysLate counts whole calendar days from due to at, in at's location.
// Same-day or earlier returns 0.
func DaysLate(due, at time.Time) int {
	loc := at.Location()
	days := int(civilDate(at, loc).Sub(civilDate(due, loc)).Hours() / 24)
	return max(days, 0)
}

// OverdueDays returns how many days an open lend is past due as of asOf.
// Closed lends are never overdue.
func OverdueDays(l *domain.Lend, asOf time.Time) int {
	if !l.IsOpen() {
		return 0
	}
	return DaysLate(l.DueDate, asOf)
}

// IsOverdue reports whether an open lend's due date is before asOf's date.
func IsOverdue(l *domain.Lend, asOf time.Time) bool {
	return OverdueDays(l, asOf) > 0
}

// ComputeFine returns days x rate rounded to cents, never negative.
func ComputeFine(days int, ratePerDay float64) float64 {
	if days <= 0 || ratePerDay <= 0 {
		return 0
	}
	return RoundCents(float64(days) * ratePerDay)
}

// RoundCents rounds an amount to two decimals.
func RoundCents(amount float64) float64 {
	return math.Round(amount*100) / 100
}

// AccruedFine is the fine an open lend would carry if returned at asOf.
func AccruedFine(l *domain.Lend, asOf time.Time, ratePerDay float64) float64 {
	return ComputeFine(OverdueDays(l, asOf), ratePerDay)
}

// Bucket groups overdue lends by lateness.
type Bucket int

// Overdue buckets.
const (
	BucketNone      Bucket = iota // not overdue
	BucketWeek                    // 1-7 days
	BucketMonth                   // 8-30 days
	BucketOverMonth               // 31+ days
)

// BucketFor places a day count in its bucket.
func BucketFor(days int) Bucket {
	switch {
	case days <= 0:
		return BucketNone
	case days <= 7:
		return BucketWeek
	case days <= 30:
		return BucketMonth
	default:
		return BucketOverMonth
	}
}

// OverdueSummary aggregates the overdue lends at a point in time.
type OverdueSummary struct {
	TotalOverdue      int     `json:"total_overdue"`
	AvgOverdueDays    float64 `json:"avg_overdue_days"`
	Overdue1Week      int     `json:"overdue_1_week"`
	Overdue1Month     int     `json:"overdue_1_month"`
	OverdueOverMonth  int     `json:"overdue_over_month"`
	TotalAccruedFines float64 `json:"total_accrued_fines"`
}

// Summarize counts and buckets the lends that are overdue at asOf.
// Lends that are closed or not yet late are ignored.
func Summarize(lends []*domain.Lend, asOf time.Time, ratePerDay float64) OverdueSummary {
	var (
		sum       OverdueSummary
		totalDays int
		fines     float64
	)
	for _, l := range lends {
		days := OverdueDays(l, asOf)
		switch BucketFor(days) {
		case BucketNone:
			continue
		case BucketWeek:
			sum.Overdue1Week++
		case BucketMonth:
			sum.Overdue1Month++
		case BucketOverMonth:
			sum.OverdueOverMonth++
		}
		sum.TotalOverdue++
		totalDays += days
		fines += ComputeFine(days, ratePerDay)
	}

	if sum.TotalOverdue > 0 {
		sum.AvgOverdueDays = float64(totalDays) / float64(sum.TotalOverdue)
	}
	sum.TotalAccruedFines = RoundCents(fines)
	return sum
}
