package main

import (
	"fmt"
	"io"
	"os"
)

// Status lines go to stderr so that --json output on stdout stays clean.
var statusOut io.Writer = os.Stderr

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

func statusLine(color, glyph, format string, args ...any) {
	fmt.Fprintln(statusOut, colorize(color, glyph+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { statusLine(colorGreen, "✓", format, args...) }
func printError(format string, args ...any) { statusLine(colorRed, "✗", format, args...) }

// printWarning flags degraded results: unreadable or corrupted shipments,
// unresolved references, a truncated candidate list.
func printWarning(format string, args ...any) { statusLine(colorYellow, "⚠", format, args...) }

// printStep is for neutral notes such as an empty carton list.
func printStep(format string, args ...any) { statusLine(colorCyan, "→", format, args...) }

// printStatus prints one "label: value" row of `shipview status`.
func printStatus(label, format string, args ...any) {
	fmt.Fprintf(statusOut, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}
