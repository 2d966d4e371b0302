package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color scheme
var (
	PrimaryColor   = "#7C3AED" // Vibrant purple
	SecondaryColor = "#2563EB" // Deep blue

	SuccessColor = "#10B981" // Emerald green
	ErrorColor   = "#EF4444" // Red
	WarningColor = "#F59E0B" // Amber
	InfoColor    = "#3B82F6" // Blue

	HeaderColor  = "#F9FAFB"
	TextColor    = "#E5E7EB"
	DimTextColor = "#9CA3AF"
	BorderColor  = "#374151"
)

// Symbols
const (
	SuccessSymbol = "✓"
	ErrorSymbol   = "✗"
	InfoSymbol    = "ℹ"
	WarningSymbol = "⚠"
	BulletSymbol  = "•"
)

// Style definitions
var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(HeaderColor)).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(SuccessColor))

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ErrorColor))

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(WarningColor))

	InfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(InfoColor))

	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(DimTextColor))

	KeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(SecondaryColor)).
			Bold(true)

	TitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(PrimaryColor)).
			Bold(true)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(BorderColor)).
			Padding(0, 1)
)

// Plain disables styling, for scripts and CI.
var Plain = IsCI()

// IsCI reports whether we run inside a CI environment
func IsCI() bool {
	return os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != "" || os.Getenv("TRAVIS") != ""
}

func render(style lipgloss.Style, s string) string {
	if Plain {
		return s
	}
	return style.Render(s)
}

// Success prints a success line.
func Success(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, render(SuccessStyle, SuccessSymbol+" "+fmt.Sprintf(format, args...)))
}

// Warn prints a warning line.
func Warn(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, render(WarningStyle, WarningSymbol+" "+fmt.Sprintf(format, args...)))
}

// Error prints an error line.
func Error(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, render(ErrorStyle, ErrorSymbol+" "+fmt.Sprintf(format, args...)))
}

// KeyValue prints "key: value" with the key highlighted.
func KeyValue(w io.Writer, key, value string) {
	fmt.Fprintf(w, "%s %s\n", render(KeyStyle, key+":"), value)
}

// Box renders lines inside a bordered box under a title.
func Box(title string, lines ...string) string {
	body := strings.Join(lines, "\n")
	if Plain {
		return title + "\n" + body
	}
	return BoxStyle.Render(TitleStyle.Render(title) + "\n" + body)
}

// Members formats a set for display, one bullet per member.
func Members(members []string) string {
	if len(members) == 0 {
		return render(DimStyle, "(empty set)")
	}
	lines := make([]string, len(members))
	for i, m := range members {
		lines[i] = BulletSymbol + " " + m
	}
	return strings.Join(lines, "\n")
}
