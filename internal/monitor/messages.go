package monitor

import (
	"fmt"
	"strconv"
	"strings"

	"statusbot/internal/probe"
	"statusbot/internal/tier"
	"statusbot/internal/util"
)

// DownMessage is sent to down subscribers when a target stops answering.
func DownMessage(name, contact string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\U0001F6A8 <b>%s</b> is down!", util.HTMLEscape(name))
	if contact = strings.TrimSpace(contact); contact != "" {
		sb.WriteString("\n\n")
		sb.WriteString(util.HTMLEscape(contact))
	}
	return sb.String()
}

// StatusMessage reports a reachable target moving to a new latency tier.
func StatusMessage(name string, t tier.Tier, result probe.Result) string {
	return fmt.Sprintf(
		"⚠️ <b>%s</b>:\nOnline: %t\nInternet Speed: %s\nAverage ping: %sms",
		util.HTMLEscape(name),
		result.Reachable,
		t.Icon(),
		FormatLatency(result.AverageLatency),
	)
}

// FormatLatency renders milliseconds with at most two decimals and no
// trailing zeros.
func FormatLatency(ms float64) string {
	return strconv.FormatFloat(ms, 'f', -1, 64)
}
