package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/astrid/sdssfit/internal/models"
)

// FileLogger logs fit runs to files under the log directory. It creates
// timestamped per-run log files, per-spectrum detail logs, and maintains a
// latest.log symlink pointing to the most recent run. It is thread-safe and
// supports the same level filtering as ConsoleLogger.
type FileLogger struct {
	logDir     string
	runLog     *os.File
	runFile    string
	spectraDir string
	logLevel   string
	mu         sync.Mutex
}

// NewFileLogger creates a FileLogger writing to .sdssfit/logs/ in the
// current working directory with the default "info" level.
func NewFileLogger() (*FileLogger, error) {
	return NewFileLoggerWithDirAndLevel(filepath.Join(".sdssfit", "logs"), "info")
}

// NewFileLoggerWithDir creates a FileLogger with a custom log directory.
func NewFileLoggerWithDir(logDir string) (*FileLogger, error) {
	return NewFileLoggerWithDirAndLevel(logDir, "info")
}

// NewFileLoggerWithDirAndLevel creates a FileLogger with a custom log
// directory and level. It creates the directory if needed, opens a
// run-YYYYMMDD-HHMMSS.log file, and points latest.log at it.
func NewFileLoggerWithDirAndLevel(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	spectraDir := filepath.Join(logDir, "spectra")
	if err := os.MkdirAll(spectraDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spectra log directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", timestamp))

	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	logger := &FileLogger{
		logDir:     logDir,
		runLog:     file,
		runFile:    runFile,
		spectraDir: spectraDir,
		logLevel:   normalizeLogLevel(logLevel),
	}

	logger.writeRunLog("=== sdssfit Run Log ===\n")
	logger.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return logger, nil
}

// RunLogPath returns the path of the current run log file.
func (fl *FileLogger) RunLogPath() string {
	return fl.runFile
}

// shouldLog checks if a message at the given level should be logged.
func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(fl.logLevel)
}

// LogTrace logs a trace-level message (most verbose).
func (fl *FileLogger) LogTrace(message string) {
	fl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (fl *FileLogger) LogDebug(message string) {
	fl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (fl *FileLogger) LogInfo(message string) {
	fl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (fl *FileLogger) LogWarn(message string) {
	fl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (fl *FileLogger) LogError(message string) {
	fl.logWithLevel("ERROR", message)
}

func (fl *FileLogger) logWithLevel(level string, message string) {
	if !fl.shouldLog(strings.ToLower(level)) {
		return
	}

	formatted := fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("15:04:05"), level, message)
	fl.writeRunLog(formatted)
}

// LogRunStart logs the beginning of a fit run at INFO level.
func (fl *FileLogger) LogRunStart(total, nthreads int) {
	if !fl.shouldLog("info") {
		return
	}

	fl.writeRunLog(fmt.Sprintf("[%s] %s (%d workers)\n",
		time.Now().Format("15:04:05"), runHeader(total), nthreads))
}

// LogInputResult appends the per-spectrum outcome to the run log and writes
// a detail file with the engine output under logs/spectra/.
func (fl *FileLogger) LogInputResult(result models.InputResult, done, total int) {
	if fl.shouldLog("debug") {
		detail := ""
		if result.Reason != "" {
			detail = fmt.Sprintf(" [%s]", result.Reason)
		} else if result.Err != nil {
			detail = fmt.Sprintf(": %v", firstLine(result.Err.Error()))
		}
		fl.writeRunLog(fmt.Sprintf("[%s] %s %s: %s%s (%.1fs)\n",
			time.Now().Format("15:04:05"), counter(done, total),
			result.Input, result.Status, detail, result.Duration.Seconds()))
	}

	// Skips carry nothing worth a detail file.
	if result.Status == models.StatusSkipped {
		return
	}
	if err := fl.writeSpectrumLog(result); err != nil {
		fl.logWithLevel("WARN", fmt.Sprintf("could not write spectrum log: %v", err))
	}
}

// writeSpectrumLog writes the detailed per-spectrum record.
func (fl *FileLogger) writeSpectrumLog(result models.InputResult) error {
	stem := strings.TrimSuffix(filepath.Base(result.Input), filepath.Ext(result.Input))
	path := filepath.Join(fl.spectraDir, stem+".log")

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create spectrum log file: %w", err)
	}
	defer file.Close()

	content := fmt.Sprintf("=== %s ===\n", result.Input)
	content += fmt.Sprintf("Status: %s\n", result.Status)
	content += fmt.Sprintf("Duration: %.1fs\n", result.Duration.Seconds())
	if result.TablePath != "" {
		content += fmt.Sprintf("Table: %s\n", result.TablePath)
	}
	content += "\n"

	for _, row := range result.Rows {
		content += fmt.Sprintf("target %s: vrad=%.3f+-%.3f teff=%.0f logg=%.2f feh=%.2f alpha=%.2f vsini=%.1f chisq=%.3f sn=%.1f\n",
			row.TargetID, row.Vrad, row.VradErr, row.Teff, row.Logg, row.Feh, row.Alpha, row.Vsini, row.Chisq, row.SN)
		if !row.Success {
			content += fmt.Sprintf("  fit failed: %s\n", row.Error)
		}
	}

	if result.Err != nil {
		content += fmt.Sprintf("\nError:\n%v\n", result.Err)
	}

	content += fmt.Sprintf("\nCompleted at: %s\n", time.Now().Format(time.RFC3339))

	if _, err := file.WriteString(content); err != nil {
		return fmt.Errorf("failed to write spectrum log: %w", err)
	}
	return nil
}

// LogProgress is a no-op for the file logger; progress lines are
// console-only.
func (fl *FileLogger) LogProgress(done, total int, avgPerInput time.Duration) {
}

// LogSummary logs the run summary with final statistics at INFO level.
func (fl *FileLogger) LogSummary(summary models.RunSummary) {
	if !fl.shouldLog("info") {
		return
	}

	ts := time.Now().Format("15:04:05")

	status := "SUCCESS"
	if summary.Failed > 0 {
		if summary.Fitted == 0 {
			status = "FAILED"
		} else {
			status = "PARTIAL"
		}
	}

	message := fmt.Sprintf(
		"\n[%s] === FIT SUMMARY ===\n"+
			"[%s] Spectra:      %d\n"+
			"[%s] Fitted:       %d\n"+
			"[%s] Skipped:      %d\n"+
			"[%s] Failed:       %d\n"+
			"[%s] Total time:   %.1fs\n"+
			"[%s] Status:       %s\n"+
			"[%s] Completed at: %s\n",
		ts,
		ts, summary.Total,
		ts, summary.Fitted,
		ts, summary.Skipped,
		ts, summary.Failed,
		ts, summary.Duration.Seconds(),
		ts, status,
		ts, time.Now().Format(time.RFC3339),
	)

	if len(summary.MissingIDs) > 0 {
		message += fmt.Sprintf("[%s] Unmatched target IDs: %s\n", ts, strings.Join(summary.MissingIDs, ", "))
	}

	fl.writeRunLog(message)
}

// Close flushes and closes the run log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		if err := fl.runLog.Sync(); err != nil {
			return fmt.Errorf("failed to sync run log: %w", err)
		}
		if err := fl.runLog.Close(); err != nil {
			return fmt.Errorf("failed to close run log: %w", err)
		}
		fl.runLog = nil
	}

	return nil
}

// writeRunLog is a thread-safe helper to write to the run log file.
func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		// Flush after each write so tail -f works during long runs.
		fl.runLog.Sync()
	}
}
