package tools

import (
	"context"
	"fmt"
	"time"
)

// CurrentTimeName is the name the model uses to ask for the time.
const CurrentTimeName = "current_time"

// RegisterCurrentTime adds the current_time tool. loc is the default
// zone when the model does not name one; now is the time source.
func RegisterCurrentTime(r *Registry, loc *time.Location, now func() time.Time) {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}

	r.Register(&Tool{
		Name:        CurrentTimeName,
		Description: "Get the current date and time in ISO 8601 format. Use this whenever the user asks about the current date, time or day of the week.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": fmt.Sprintf("IANA time zone name such as Asia/Tokyo or UTC (default %s)", loc),
				},
			},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			zone := loc
			if name, _ := args["timezone"].(string); name != "" {
				z, err := time.LoadLocation(name)
				if err != nil {
					return "", fmt.Errorf("unknown timezone %q", name)
				}
				zone = z
			}
			t := now().In(zone)
			return fmt.Sprintf("%s (%s, %s)", t.Format(time.RFC3339), t.Weekday(), zone), nil
		},
	})
}
