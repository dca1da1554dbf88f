package ui

import (
	"strings"

	"factorio-server-manager/notify"

	"github.com/charmbracelet/lipgloss"
)

// Terminal palette.
const (
	ColorAccent  = lipgloss.Color("12")
	ColorMuted   = lipgloss.Color("8")
	ColorSuccess = lipgloss.Color("10")
	ColorWarning = lipgloss.Color("11")
	ColorError   = lipgloss.Color("9")
	ColorSpinner = lipgloss.Color("205")
)

// Colorize applies the given color to the text using lipgloss.
func Colorize(text string, color lipgloss.Color) string {
	return lipgloss.NewStyle().Foreground(color).Render(text)
}

// StatusColor picks a color from the status marker a message starts with.
func StatusColor(text string) (lipgloss.Color, bool) {
	switch {
	case strings.HasPrefix(text, notify.MarkFailure):
		return ColorError, true
	case strings.HasPrefix(text, notify.MarkSuccess):
		return ColorSuccess, true
	case strings.HasPrefix(text, notify.MarkRunning):
		return ColorWarning, true
	}
	return "", false
}

// RenderStatus colors the first line of a reporter message by its marker.
func RenderStatus(text string) string {
	color, ok := StatusColor(text)
	if !ok {
		return text
	}
	first, rest, found := strings.Cut(text, "\n")
	out := Colorize(first, color)
	if found {
		out += "\n" + rest
	}
	return out
}
