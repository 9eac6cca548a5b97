package reporter

import (
	"io"
	"os"

	"github.com/ppiankov/pgokache/internal/model"
)

// ANSI escape codes for confidence and status colors.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

var confidenceColor = map[model.Confidence]string{
	model.ConfidenceHigh:   colorRed,
	model.ConfidenceMedium: colorYellow,
	model.ConfidenceLow:    colorCyan,
}

// isTTY returns true if the writer is a terminal.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

type painter bool

func (p painter) paint(color, s string) string {
	if !p || color == "" {
		return s
	}
	return color + s + colorReset
}
