package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/dudu/moodface/internal/pipeline"
)

// messageType selects the colour used for CLI text
type messageType int

const (
	defaultMessage messageType = iota
	successMessage
	errorMessage
	statusMessage
)

const (
	defaultColor = "\x1b[0m"
	statusColor  = "\x1b[36m"
	successColor = "\x1b[32m"
	errorColor   = "\x1b[31m"
)

// colorEnabled is false when stdout is redirected
var colorEnabled = term.IsTerminal(int(os.Stdout.Fd()))

// decorate wraps s in the colour for msgType
func decorate(s string, msgType messageType) string {
	if !colorEnabled {
		return s
	}
	switch msgType {
	case defaultMessage:
		s = defaultColor + s
	case statusMessage:
		s = statusColor + s
	case successMessage:
		s = successColor + s
	case errorMessage:
		s = errorColor + s
	default:
		return s
	}
	return s + defaultColor
}

// resultColor maps a pipeline outcome to a message type
func resultColor(res pipeline.Result) messageType {
	switch {
	case res.State == pipeline.Ranked:
		return successMessage
	case res.Reason() == pipeline.ReasonNoFaceDetected:
		return statusMessage
	default:
		return errorMessage
	}
}

// printResult writes a human readable result block
func printResult(w io.Writer, source string, res pipeline.Result) {
	fmt.Fprintf(w, "%s  %s\n", source, decorate(res.Status(), resultColor(res)))

	if res.Failure != nil && res.Reason() != pipeline.ReasonNoFaceDetected {
		fmt.Fprintf(w, "  %s\n", decorate(res.Failure.Error(), defaultMessage))
		return
	}

	for _, p := range res.Predictions {
		bar := strings.Repeat("█", int(p.Probability/5))
		fmt.Fprintf(w, "  %s %-10s %6.2f%% %s\n", p.Glyph(), p.Emotion, p.Probability, bar)
	}
}
