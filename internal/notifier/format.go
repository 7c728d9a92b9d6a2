package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"
)

var titles = map[Type]string{
	TypeRequest:      "No backend available",
	TypeHealthChange: "Backend health changed",
	TypeError:        "Request failed",
}

// Format renders p as a Telegram HTML message.
func Format(p Payload, requestID string, at time.Time) string {
	var b strings.Builder

	title, ok := titles[p.Type]
	if !ok {
		title = "Notification"
	}
	fmt.Fprintf(&b, "<b>[%s] %s</b>\n", html.EscapeString(string(p.Type)), title)

	line := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "%s: %s\n", label, html.EscapeString(value))
	}

	if p.Type == TypeHealthChange {
		state := "DOWN"
		if p.Healthy {
			state = "UP"
		}
		line("State", state)
	}
	line("Backend", p.BackendURL)
	line("Version", p.Version)
	if p.StatusCode != 0 {
		line("Status", fmt.Sprint(p.StatusCode))
	}
	if p.ResponseTime > 0 {
		line("Response time", p.ResponseTime.Round(time.Millisecond).String())
	}
	line("Client", p.ClientIP)
	if p.Method != "" || p.Path != "" {
		line("Request", strings.TrimSpace(p.Method+" "+p.Path))
	}
	line("Message", p.Message)
	line("Error", p.Error)
	if requestID != "" {
		fmt.Fprintf(&b, "Request ID: <code>%s</code>\n", html.EscapeString(requestID))
	}
	fmt.Fprintf(&b, "Time: %s", at.UTC().Format(time.RFC3339))

	return b.String()
}
