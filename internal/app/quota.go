package app

import (
	"fmt"
	"time"

	"recipesnap/pkg/domain"
)

func (a *App) scanLimit(user domain.User) int {
	if user.IsPremium {
		return a.premiumLimit
	}
	return a.freeLimit
}

// sameMonth compares calendar months in UTC. A scan on January 31st and
// one on February 1st fall in different windows regardless of the gap.
func sameMonth(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// admitScan decides whether the user may start an ingestion now. When the
// last scan falls in an earlier month the counter is reset in the store
// before the decision, so a crash after the reset cannot grant a stale
// allowance on retry. The passed user is updated in place to reflect the
// reset. Admins are always admitted but their scans are still counted.
func (a *App) admitScan(user *domain.User, now time.Time) (domain.QuotaSnapshot, error) {
	if user.ScanCount > 0 && !user.LastScanDate.IsZero() && !sameMonth(user.LastScanDate, now) {
		if err := a.store.ResetScanCount(user.ID, now); err != nil {
			return domain.QuotaSnapshot{}, fmt.Errorf("reset scan count: %w", err)
		}
		user.ScanCount = 0
		user.LastScanDate = now
	}
	snap := domain.QuotaSnapshot{
		Count:     user.ScanCount,
		Limit:     a.scanLimit(*user),
		IsPremium: user.IsPremium,
	}
	switch {
	case user.Role == domain.RoleAdmin:
		snap.Admitted = true
		snap.Reason = "admin"
	case user.ScanCount < snap.Limit:
		snap.Admitted = true
	default:
		snap.Reason = "limit"
	}
	return snap, nil
}

// Usage reports the user's current quota standing without writing
// anything. A counter from an earlier month is shown as zero even though
// the durable reset only happens on the next ingestion attempt.
func (a *App) Usage(user domain.User) domain.QuotaSnapshot {
	now := time.Now().UTC()
	count := user.ScanCount
	if !user.LastScanDate.IsZero() && !sameMonth(user.LastScanDate, now) {
		count = 0
	}
	limit := a.scanLimit(user)
	return domain.QuotaSnapshot{
		Admitted:  user.Role == domain.RoleAdmin || count < limit,
		Count:     count,
		Limit:     limit,
		IsPremium: user.IsPremium,
	}
}
