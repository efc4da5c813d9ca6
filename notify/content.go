// Package notify turns tracking events into human-readable notification
// content. Delivery (push, sound, UI toast) is owned by the host; this
// package only decides what to say.
package notify

import (
	"fmt"

	"github.com/theoremus-urban-solutions/sector-control/tracking"
)

// Content is one notification: a short title and a body line.
type Content struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	// Sound is set when the host should play an alert sound, subject to
	// the user's sound preference.
	Sound bool `json:"sound"`
}

// ForEvent builds notification content for an event. The second return is
// false for events that do not notify the driver.
func ForEvent(e tracking.Event) (Content, bool) {
	switch e.Type {
	case tracking.EventSectorEntered:
		return Content{
			Title: "Entered " + e.SectorName,
			Body:  fmt.Sprintf("Average-speed check, limit %.0f km/h. Current speed %.0f km/h.", e.SpeedLimit, e.CurrentSpeed),
		}, true
	case tracking.EventSectorProgress:
		body := fmt.Sprintf("%.0f%% through, average %.0f km/h.", e.ThresholdCrossed*100, e.AverageSpeed)
		if e.Exceeding {
			if e.RecommendedSpeed != nil {
				body += fmt.Sprintf(" Slow to %.0f km/h to stay under the limit.", *e.RecommendedSpeed)
			} else {
				body += " Average cannot drop below the limit anymore."
			}
		}
		return Content{Title: e.SectorName, Body: body, Sound: e.Exceeding}, true
	case tracking.EventSectorExited:
		verdict := "under the limit"
		if e.Exceeded {
			verdict = "over the limit"
		}
		return Content{
			Title: "Left " + e.SectorName,
			Body:  fmt.Sprintf("Final average %.0f km/h, %s.", e.AverageSpeed, verdict),
			Sound: e.Exceeded,
		}, true
	case tracking.EventSpeedViolation:
		return Content{
			Title: "Slow down",
			Body:  fmt.Sprintf("%.0f km/h in a %.0f km/h sector.", e.CurrentSpeed, e.SpeedLimit),
			Sound: true,
		}, true
	case tracking.EventAverageViolation:
		body := fmt.Sprintf("Average %.0f km/h exceeds the %.0f km/h limit.", e.AverageSpeed, e.SpeedLimit)
		if e.RecommendedSpeed != nil {
			body += fmt.Sprintf(" Hold %.0f km/h to recover.", *e.RecommendedSpeed)
		}
		return Content{Title: e.SectorName, Body: body, Sound: true}, true
	case tracking.EventSectorApproaching:
		return Content{
			Title: e.SectorName + " ahead",
			Body:  fmt.Sprintf("Average-speed check in %s, limit %.0f km/h.", distanceLabel(e.WarnDistanceMeters), e.SpeedLimit),
		}, true
	}
	return Content{}, false
}

func distanceLabel(meters float64) string {
	if meters >= 1000 {
		return fmt.Sprintf("%.0f km", meters/1000)
	}
	return fmt.Sprintf("%.0f m", meters)
}
