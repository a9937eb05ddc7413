package main

import (
	"fmt"
	"os"
)

// ANSI escapes for stderr status lines, suppressed by --no-color.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// tagged writes one status line to stderr with a colored sigil prefix.
func tagged(color, sigil, format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(color, sigil+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { tagged(colorGreen, "✓", format, args...) }

func printError(format string, args ...any) { tagged(colorRed, "✗", format, args...) }

func printWarning(format string, args ...any) { tagged(colorYellow, "⚠", format, args...) }

func printStep(format string, args ...any) { tagged(colorCyan, "→", format, args...) }

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), val)
}
