package watch

import (
	"strings"
	"time"
)

const (
	activitySlots  = 5
	activityWindow = 10 * time.Second
)

// Activity lights one slot per event seen in the last activityWindow.
type Activity struct {
	recent []time.Time
	last   time.Time
}

func (a *Activity) Record(at time.Time) {
	a.last = at
	a.recent = append(a.recent, at)
	if len(a.recent) > activitySlots {
		a.recent = a.recent[len(a.recent)-activitySlots:]
	}
}

// Prune drops events that fell out of the window.
func (a *Activity) Prune(now time.Time) {
	keep := a.recent[:0]
	for _, t := range a.recent {
		if now.Sub(t) < activityWindow {
			keep = append(keep, t)
		}
	}
	a.recent = keep
}

func (a Activity) Lit() int {
	return len(a.recent)
}

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := range activitySlots {
		if i < len(a.recent) {
			b.WriteString(theme.ActivityOn.Render("●"))
		} else {
			b.WriteString(theme.ActivityOff.Render("○"))
		}
	}
	return b.String()
}

func (a Activity) Last() time.Time {
	return a.last
}
