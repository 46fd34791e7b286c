package incident

import (
	"strings"
	"time"
)

// ChannelName returns the incident channel name for a ticket on the day of
// now: incident-<key lower>-<YYYYMMDD>.
func ChannelName(ticketKey string, now time.Time) string {
	return "incident-" + strings.ToLower(strings.TrimSpace(ticketKey)) + "-" + now.Format("20060102")
}
