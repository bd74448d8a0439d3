// Package watch implements the agentbridge system watch TUI: live health,
// in-flight requests, and the event stream from the ops API.
package watch

import "github.com/charmbracelet/lipgloss"

const whatsappGreen = lipgloss.Color("#25D366")

// Theme holds every style used by the watch TUI.
type Theme struct {
	Succeeded lipgloss.Style
	Running   lipgloss.Style
	Failed    lipgloss.Style
	Waiting   lipgloss.Style
	Cancelled lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	ActivityOn  lipgloss.Style
	ActivityOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("#7F848E"))
	return Theme{
		Succeeded: lipgloss.NewStyle().Foreground(whatsappGreen),
		Running:   lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")),
		Failed:    lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75")),
		Waiting:   dim,
		Cancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("#D19A66")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(whatsappGreen),
		Title:     lipgloss.NewStyle().Bold(true).Padding(0, 1),
		Dim:       dim,
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		ActivityOn:  lipgloss.NewStyle().Foreground(whatsappGreen),
		ActivityOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#3E4451")),
	}
}

// ForStatus returns the style for a request status.
func (t Theme) ForStatus(status string) lipgloss.Style {
	switch status {
	case "succeeded":
		return t.Succeeded
	case "running":
		return t.Running
	case "queued":
		return t.Waiting
	case "timed_out", "cancelled", "abandoned":
		return t.Cancelled
	default:
		return t.Failed
	}
}
