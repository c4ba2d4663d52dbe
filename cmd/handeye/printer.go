package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/banshee-data/handeye/internal/geometry"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
)

// success prints a line in green with a checkmark prefix.
func success(w io.Writer, format string, a ...any) {
	green.Fprintf(w, "✓ %s\n", fmt.Sprintf(format, a...))
}

// warning prints a line in yellow with a warning prefix.
func warning(w io.Writer, format string, a ...any) {
	yellow.Fprintf(w, "⚠️  %s\n", fmt.Sprintf(format, a...))
}

// step prints a progress line in cyan.
func step(w io.Writer, format string, a ...any) {
	cyan.Fprintf(w, "→ %s\n", fmt.Sprintf(format, a...))
}

func heading(w io.Writer, title string) {
	bold.Fprintf(w, "%s\n", title)
}

func printError(w io.Writer, err error) {
	red.Fprintf(w, "Error: %v\n", err)
}

// qualityColor maps a residual grade to a colour.
func qualityColor(q geometry.Quality) *color.Color {
	switch q {
	case geometry.QualityExcellent, geometry.QualityGood:
		return green
	case geometry.QualityFair:
		return yellow
	default:
		return red
	}
}
