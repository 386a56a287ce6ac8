// Package insights derives the four dashboard insight cards from a status
// snapshot. Every function here is pure: the same snapshot always yields the
// same records.
package insights

import (
	"fmt"
	"math"

	"github.com/tars-dashboard/engine/pkg/models"
)

// Derive computes priority, health, velocity and attention insights and the
// aggregate tier for s. A nil snapshot is treated as an empty one.
func Derive(s *models.StatusSnapshot) models.InsightSet {
	if s == nil {
		s = &models.StatusSnapshot{}
	}
	set := models.InsightSet{
		Priority:  Priority(s),
		Health:    Health(s.SystemStatus),
		Velocity:  Velocity(s),
		Attention: Attention(s),
	}
	set.Aggregate = Aggregate(set.Priority, set.Health, set.Velocity, set.Attention)
	return set
}

// Priority reports the most pressing queue. Rules are checked in order and
// the first match wins.
func Priority(s *models.StatusSnapshot) models.InsightRecord {
	switch {
	case s.EmailsIn > 3:
		return record(fmt.Sprintf("%d unread", s.EmailsIn), "Inbox needs attention", models.TierHigh)
	case s.Tasks > 5:
		return record(fmt.Sprintf("%d active", s.Tasks), "Task backlog growing", models.TierMedium)
	case s.Tasks > 0:
		return record(fmt.Sprintf("%d active", s.Tasks), "On top of priorities", models.TierLow)
	default:
		return record("Clear", "No urgent items", models.TierLow)
	}
}

// Health summarises the share of services reporting online and names the
// first non-online service in display order.
func Health(status map[string]string) models.InsightRecord {
	total := len(status)
	if total == 0 {
		return record("Unknown", "Status unavailable", models.TierMedium)
	}

	online := 0
	for _, v := range status {
		if v == models.ServiceStatusOnline {
			online++
		}
	}
	pct := int(math.Round(100 * float64(online) / float64(total)))

	culprit := ""
	for _, key := range models.OrderedServiceKeys(status) {
		if status[key] != models.ServiceStatusOnline {
			culprit = models.ServiceName(key)
			break
		}
	}

	value := fmt.Sprintf("%d%%", pct)
	switch {
	case pct == 100:
		return record("100%", "All systems operational", models.TierLow)
	case pct >= 80:
		ctx := "Minor issues"
		if culprit != "" {
			ctx = culprit + " degraded"
		}
		return record(value, ctx, models.TierMedium)
	default:
		ctx := "Multiple issues"
		if culprit != "" {
			ctx = culprit + " offline"
		}
		return record(value, ctx, models.TierHigh)
	}
}

// Velocity estimates daily memory growth as a tenth of the total, at least one.
func Velocity(s *models.StatusSnapshot) models.InsightRecord {
	growth := s.Memories / 10
	if growth < 1 {
		growth = 1
	}
	value := fmt.Sprintf("+%d today", growth)
	if s.Deployments > 0 {
		return record(value, fmt.Sprintf("%d deployments", s.Deployments), models.TierLow)
	}
	return record(value, "Learning actively", models.TierLow)
}

// Attention counts emails beyond two and tasks beyond three as stale.
func Attention(s *models.StatusSnapshot) models.InsightRecord {
	total := max(0, s.EmailsIn-2) + max(0, s.Tasks-3)
	switch {
	case total == 0:
		return record("Clear", "Nothing pending", models.TierLow)
	case total <= 2:
		return record(fmt.Sprintf("%d items", total), "Needs review soon", models.TierMedium)
	default:
		return record(fmt.Sprintf("%d items", total), "Attention required", models.TierHigh)
	}
}

// Aggregate returns the most urgent tier among records, or low if none.
func Aggregate(records ...models.InsightRecord) models.Tier {
	tier := models.TierLow
	for _, r := range records {
		if r.Tier.Rank() > tier.Rank() {
			tier = r.Tier
		}
	}
	return tier
}

func record(value, context string, tier models.Tier) models.InsightRecord {
	return models.InsightRecord{Value: value, Context: context, Tier: tier}
}
