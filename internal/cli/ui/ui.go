// Package ui provides the flam CLI design system: styles, colors,
// symbols, and a terminal color check. All CLI visual output should use
// these definitions for consistency.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Brand

// BrandEmoji is flam's brand mark. No command prints it at present.
const BrandEmoji = "⏱️" // ⏱️

// Colors — ANSI 4-bit for maximum terminal compatibility.
// lipgloss handles degradation automatically.
var (
	ColorGreen  = lipgloss.Color("2")
	ColorYellow = lipgloss.Color("3")
	ColorRed    = lipgloss.Color("1")
)

// Semantic styles — the design system.
var (
	StyleBoldRed = lipgloss.NewStyle().Bold(true).Foreground(ColorRed)

	// Status, used to colorize job state in table output (jobs list/stats).
	StyleSuccess = lipgloss.NewStyle().Foreground(ColorGreen)
	StyleWarning = lipgloss.NewStyle().Foreground(ColorYellow)
	StyleError   = lipgloss.NewStyle().Foreground(ColorRed)

	// Hints
	StyleHint = lipgloss.NewStyle().Faint(true)
)

// Unicode status symbols — reliable across modern terminals.
const (
	SymbolCheck   = "✓"
	SymbolCross   = "✗"
	SymbolWarning = "⚠"
	SymbolDot     = "●"
	SymbolArrow   = "→"
)

// ColorEnabledFd returns whether the given fd supports color.
// Respects the NO_COLOR environment variable (https://no-color.org/).
func ColorEnabledFd(fd uintptr) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
