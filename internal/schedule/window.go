// Package schedule decides whether a campaign may place calls at a given
// instant, based on its configured calling hours, days and timezone.
package schedule

import (
	"time"

	"github.com/acme/voiceagent/internal/domain"
)

// WithinCallingWindow reports whether now falls inside the campaign's
// calling window evaluated in the campaign's timezone. Hours restrict only
// when both bounds are set and are inclusive on both ends. An empty day set
// allows every day. Pure function of the campaign config and now.
func WithinCallingWindow(c *domain.Campaign, now time.Time) bool {
	local := now.In(campaignLocation(c.Timezone))

	if c.CallingHoursStart != nil && c.CallingHoursEnd != nil {
		secs := local.Hour()*3600 + local.Minute()*60 + local.Second()
		if secs < c.CallingHoursStart.Seconds() || secs > c.CallingHoursEnd.Seconds() {
			return false
		}
	}

	if len(c.CallingDays) > 0 {
		day := MondayIndex(local.Weekday())
		allowed := false
		for _, d := range c.CallingDays {
			if d == day {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	return true
}

// MondayIndex maps a Go weekday to the Monday=0 .. Sunday=6 convention used
// by campaign calling-day configuration.
func MondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// campaignLocation resolves an IANA name, defaulting to UTC when the name is
// empty or unknown. Unknown names are caught by validation before a campaign
// can run, so the fallback only matters for stale rows.
func campaignLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
