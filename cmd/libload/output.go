package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

// stdout and stderr are swapped in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(stdout, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(colorCyan, "→ "+msg))
}

// printPackages lists packages, marking the current one.
func printPackages(pkgs []string, current string) {
	if len(pkgs) == 0 {
		fmt.Fprintln(stdout, colorize(colorDim, "no packages"))
		return
	}
	for _, p := range pkgs {
		if p == current {
			fmt.Fprintf(stdout, "%s %s\n", colorize(colorGreen, "*"), colorize(colorBold, p))
			continue
		}
		fmt.Fprintf(stdout, "  %s\n", p)
	}
}

func printLogEntry(e logEntry) {
	status := colorize(colorGreen, "0")
	if e.ExitStatus != 0 || e.Error != "" {
		status = colorize(colorRed, fmt.Sprint(e.ExitStatus))
	}
	fmt.Fprintf(stdout, "%s [%s] $ %s\n", colorize(colorDim, e.CreatedAt), status, e.Command)
	for _, out := range []string{e.Stdout, e.Stderr, e.Error} {
		if out = strings.TrimSpace(out); out != "" {
			fmt.Fprintln(stdout, "    "+strings.ReplaceAll(out, "\n", "\n    "))
		}
	}
}
