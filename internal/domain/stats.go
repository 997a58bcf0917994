package domain

import "time"

// ComputeStats aggregates usages of c as seen at now.
func ComputeStats(c *Coupon, usages []CouponUsage, now time.Time) *CouponStats {
	stats := &CouponStats{
		CouponID:    c.ID,
		Redemptions: len(usages),
		UsedCount:   c.UsedCount,
		UsageLimit:  c.UsageLimit,
	}
	if c.UsageLimit != nil {
		remaining := max(0, *c.UsageLimit-c.UsedCount)
		stats.RemainingUses = &remaining
	}

	users := make(map[string]struct{})
	weekAgo := now.AddDate(0, 0, -7)
	monthAgo := now.AddDate(0, 0, -30)

	for i := range usages {
		u := &usages[i]
		stats.TotalDiscount += u.DiscountAmount

		if u.UserID != nil {
			users[*u.UserID] = struct{}{}
		} else {
			stats.AnonymousUses++
		}
		if u.UsedAt.After(weekAgo) {
			stats.RedemptionsLast7d++
		}
		if u.UsedAt.After(monthAgo) {
			stats.RedemptionsLast30d++
		}
		if stats.FirstUsedAt == nil || u.UsedAt.Before(*stats.FirstUsedAt) {
			stats.FirstUsedAt = &u.UsedAt
		}
		if stats.LastUsedAt == nil || u.UsedAt.After(*stats.LastUsedAt) {
			stats.LastUsedAt = &u.UsedAt
		}
	}

	stats.UniqueUsers = len(users)
	if stats.Redemptions > 0 {
		stats.AverageDiscount = stats.TotalDiscount / int64(stats.Redemptions)
	}
	return stats
}
