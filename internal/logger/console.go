// Package logger provides logging implementations for sdssfit runs.
//
// The logger package offers leveled logging of fit progress at the run,
// per-spectrum, and summary levels. Implementations are thread-safe and
// support console and file destinations.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/astrid/sdssfit/internal/models"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ConsoleLogger logs fit progress to a writer with timestamps and thread
// safety. All output is prefixed with [HH:MM:SS] timestamps. It supports log
// level filtering (trace, debug, info, warn, error, case-insensitive) and
// enables color automatically when writing to a TTY.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided
// io.Writer. If writer is nil, messages are silently discarded. If logLevel
// is empty or invalid it defaults to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// DisableColor forces plain output regardless of TTY detection, for the
// --no-color flag.
func (cl *ConsoleLogger) DisableColor() {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	cl.colorOutput = false
}

// isTerminal checks if the writer is a terminal that supports colors.
// Honors NO_COLOR through the color library's package-level detection.
func isTerminal(w io.Writer) bool {
	if w == nil {
		return false
	}

	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// normalizeLogLevel converts a log level string to lowercase and validates
// it. Returns "info" for empty or unknown levels.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if validLevels[normalized] {
		return normalized
	}

	return "info"
}

// ValidLogLevel reports whether level names one of the supported levels.
func ValidLogLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug", "info", "warn", "error":
		return true
	}
	return false
}

// shouldLog checks if a message at the given level should be logged.
func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// logLevelToInt converts a log level string to its numeric value.
func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// LogTrace logs a trace-level message (most verbose).
// Format: "[HH:MM:SS] [TRACE] <message>"
func (cl *ConsoleLogger) LogTrace(message string) {
	cl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil {
		return
	}
	if !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	var formatted string
	if cl.colorOutput {
		formatted = fmt.Sprintf("[%s] [%s] %s\n", ts, colorizeLevel(level), message)
	} else {
		formatted = fmt.Sprintf("[%s] [%s] %s\n", ts, level, message)
	}

	cl.writer.Write([]byte(formatted))
}

// colorizeLevel applies the level's ANSI color to the level tag.
func colorizeLevel(level string) string {
	switch strings.ToUpper(level) {
	case "TRACE":
		return color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		return color.New(color.FgCyan).Sprint(level)
	case "INFO":
		return color.New(color.FgBlue).Sprint(level)
	case "WARN":
		return color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		return color.New(color.FgRed).Sprint(level)
	default:
		return level
	}
}

// LogRunStart logs the beginning of a fit run at INFO level.
// Format: "[HH:MM:SS] Fitting <count> spectra (<nthreads> workers)"
func (cl *ConsoleLogger) LogRunStart(total, nthreads int) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	header := runHeader(total)

	var message string
	if cl.colorOutput {
		message = fmt.Sprintf("[%s] %s (%d workers)\n", ts, color.New(color.Bold).Sprint(header), nthreads)
	} else {
		message = fmt.Sprintf("[%s] %s (%d workers)\n", ts, header, nthreads)
	}

	cl.writer.Write([]byte(message))
}

// LogInputResult logs the outcome of one spectrum at INFO level for
// failures and DEBUG for successes and skips.
// Format: "[HH:MM:SS] [done/total] <file>: <status> (<duration>)"
func (cl *ConsoleLogger) LogInputResult(result models.InputResult, done, total int) {
	if cl.writer == nil {
		return
	}

	level := "debug"
	if result.Status == models.StatusFailed {
		level = "info"
	}
	if !cl.shouldLog(level) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	statusText := result.Status
	if cl.colorOutput {
		switch result.Status {
		case models.StatusFitted:
			statusText = color.New(color.FgGreen).Sprint(result.Status)
		case models.StatusSkipped:
			statusText = color.New(color.FgYellow).Sprint(result.Status)
		case models.StatusFailed:
			statusText = color.New(color.FgRed).Sprint(result.Status)
		}
	}

	detail := ""
	if result.Reason != "" {
		detail = fmt.Sprintf(" [%s]", result.Reason)
	} else if result.Err != nil {
		detail = fmt.Sprintf(": %v", firstLine(result.Err.Error()))
	}

	message := fmt.Sprintf("[%s] %s %s: %s%s (%s)\n",
		ts, counter(done, total), result.Input, statusText, detail, formatDuration(result.Duration))
	cl.writer.Write([]byte(message))
}

// LogProgress logs a progress line with a bar, counts, and the mean time per
// fitted spectrum so far.
// Format: "[HH:MM:SS] Progress: [=====     ] 12/24 (50%) - Avg: 3.2s/spectrum"
func (cl *ConsoleLogger) LogProgress(done, total int, avgPerInput time.Duration) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	bar := fmt.Sprintf("%d done", done)
	if total > 0 {
		bar = renderProgressBar(done, total, 10)
	}

	avgStr := ""
	if avgPerInput > 0 {
		avgStr = fmt.Sprintf(" - Avg: %s/spectrum", formatDuration(avgPerInput))
	}

	progressMsg := fmt.Sprintf("Progress: %s%s", bar, avgStr)
	if cl.colorOutput {
		if total > 0 && done >= total {
			progressMsg = color.New(color.FgGreen).Sprint(progressMsg)
		} else {
			progressMsg = color.New(color.FgCyan).Sprint(progressMsg)
		}
	}

	cl.writer.Write([]byte(fmt.Sprintf("[%s] %s\n", ts, progressMsg)))
}

// runHeader words the run-start line. A zero total is a queue drain whose
// size is unknown up front.
func runHeader(total int) string {
	switch {
	case total <= 0:
		return "Fitting queued spectra"
	case total == 1:
		return "Fitting 1 spectrum"
	}
	return fmt.Sprintf("Fitting %d spectra", total)
}

// counter renders "[done/total]", or "[done]" when the total is unknown.
func counter(done, total int) string {
	if total <= 0 {
		return fmt.Sprintf("[%d]", done)
	}
	return fmt.Sprintf("[%d/%d]", done, total)
}

// renderProgressBar builds "[====      ] done/total (perc%)".
func renderProgressBar(done, total, width int) string {
	if width < 1 {
		width = 10
	}

	perc := 0
	if total > 0 {
		perc = (done * 100) / total
		if perc > 100 {
			perc = 100
		}
		if perc < 0 {
			perc = 0
		}
	}

	filled := (perc * width) / 100
	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < width; i++ {
		if i < filled {
			b.WriteString("=")
		} else {
			b.WriteString(" ")
		}
	}
	b.WriteString("]")

	return fmt.Sprintf("%s %d/%d (%d%%)", b.String(), done, total, perc)
}

// LogSummary logs the run summary with final statistics at INFO level.
func (cl *ConsoleLogger) LogSummary(summary models.RunSummary) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	durationStr := formatDuration(summary.Duration)

	var output string
	if cl.colorOutput {
		header := color.New(color.Bold).Sprint("=== Fit Summary ===")
		output = fmt.Sprintf("[%s] %s\n", ts, header)
		output += fmt.Sprintf("[%s] Spectra: %d\n", ts, summary.Total)
		output += fmt.Sprintf("[%s] %s\n", ts, color.New(color.FgGreen).Sprintf("Fitted: %d", summary.Fitted))
		output += fmt.Sprintf("[%s] Skipped: %d\n", ts, summary.Skipped)
		if summary.Failed > 0 {
			output += fmt.Sprintf("[%s] %s\n", ts, color.New(color.FgRed).Sprintf("Failed: %d", summary.Failed))
		} else {
			output += fmt.Sprintf("[%s] Failed: %d\n", ts, summary.Failed)
		}
		if len(summary.MissingIDs) > 0 {
			output += fmt.Sprintf("[%s] %s\n", ts,
				color.New(color.FgYellow).Sprintf("Unmatched target IDs: %d", len(summary.MissingIDs)))
		}
		output += fmt.Sprintf("[%s] Duration: %s\n", ts, durationStr)

		if summary.Failed > 0 && len(summary.FailedInputs) > 0 {
			output += fmt.Sprintf("[%s] %s\n", ts, color.New(color.FgRed).Sprint("Failed spectra:"))
			for _, failed := range summary.FailedInputs {
				name := color.New(color.FgRed).Sprint(failed.Input)
				output += fmt.Sprintf("[%s]   - %s: %s\n", ts, name, firstLine(errText(failed.Err)))
			}
		}
	} else {
		output = fmt.Sprintf("[%s] === Fit Summary ===\n", ts)
		output += fmt.Sprintf("[%s] Spectra: %d\n", ts, summary.Total)
		output += fmt.Sprintf("[%s] Fitted: %d\n", ts, summary.Fitted)
		output += fmt.Sprintf("[%s] Skipped: %d\n", ts, summary.Skipped)
		output += fmt.Sprintf("[%s] Failed: %d\n", ts, summary.Failed)
		if len(summary.MissingIDs) > 0 {
			output += fmt.Sprintf("[%s] Unmatched target IDs: %d\n", ts, len(summary.MissingIDs))
		}
		output += fmt.Sprintf("[%s] Duration: %s\n", ts, durationStr)

		if summary.Failed > 0 && len(summary.FailedInputs) > 0 {
			output += fmt.Sprintf("[%s] Failed spectra:\n", ts)
			for _, failed := range summary.FailedInputs {
				output += fmt.Sprintf("[%s]   - %s: %s\n", ts, failed.Input, firstLine(errText(failed.Err)))
			}
		}
	}

	cl.writer.Write([]byte(output))
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatDuration converts a time.Duration to a compact human-readable
// string. Examples: "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		remainder := d % time.Hour
		if remainder == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		minutes := remainder / time.Minute
		remainder = remainder % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, remainder/time.Second)
	case d >= time.Minute:
		minutes := d / time.Minute
		remainder := d % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm%ds", minutes, remainder/time.Second)
	case d >= time.Second:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
}

// firstLine truncates a message to its first line for compact display.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// NoOpLogger discards all log messages. Useful for tests and for the
// --dry-run path where only the resolution report should print.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// LogTrace is a no-op implementation.
func (n *NoOpLogger) LogTrace(message string) {}

// LogDebug is a no-op implementation.
func (n *NoOpLogger) LogDebug(message string) {}

// LogInfo is a no-op implementation.
func (n *NoOpLogger) LogInfo(message string) {}

// LogWarn is a no-op implementation.
func (n *NoOpLogger) LogWarn(message string) {}

// LogError is a no-op implementation.
func (n *NoOpLogger) LogError(message string) {}

// LogRunStart is a no-op implementation.
func (n *NoOpLogger) LogRunStart(total, nthreads int) {}

// LogInputResult is a no-op implementation.
func (n *NoOpLogger) LogInputResult(result models.InputResult, done, total int) {}

// LogProgress is a no-op implementation.
func (n *NoOpLogger) LogProgress(done, total int, avgPerInput time.Duration) {}

// LogSummary is a no-op implementation.
func (n *NoOpLogger) LogSummary(summary models.RunSummary) {}
