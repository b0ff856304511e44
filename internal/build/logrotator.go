package build

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
)

// logFilename is the fixed name of the active log file inside the log
// directory; rotated copies get numeric suffixes and are not compressed.
const logFilename = "rpcoreping.log"

// RotatingLogWriter is an io.Writer feeding a jrick/logrotate rotator
// through a pipe. Unlike a bare rotator it is fully constructed by
// NewRotatingLogWriter: there is no uninitialized state, so every Write goes
// to the rotator or fails loudly with the pipe's error.
type RotatingLogWriter struct {
	pipe    *io.PipeWriter
	rotator *rotator.Rotator
}

// NewRotatingLogWriter creates the log directory if needed, opens the
// rotator on <logDir>/rpcoreping.log with the given size (MB) and file-count
// limits, and starts the rotator goroutine. maxLogFiles of 0 disables
// pruning of rotated files; rotated files are not compressed.
func NewRotatingLogWriter(
	logDir string, maxLogFiles, maxLogFileSize int,
) (*RotatingLogWriter, error) {
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile := filepath.Join(logDir, logFilename)

	// The rotator takes its threshold in KB; the knob is in MB.
	r, err := rotator.New(
		logFile, int64(maxLogFileSize*1024), false, maxLogFiles,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create file rotator: %w", err)
	}

	// Feed the rotator from a pipe so callers get a plain io.Writer.
	// Errors are reported to stderr since the rotator itself is the log
	// destination.
	pr, pw := io.Pipe()
	go func() {
		if err := r.Run(pr); err != nil {
			_, _ = fmt.Fprintf(
				os.Stderr, "failed to run file rotator: %v\n", err,
			)
		}
	}()

	return &RotatingLogWriter{
		pipe:    pw,
		rotator: r,
	}, nil
}

// Write writes the byte slice to the log rotator pipe.
func (r *RotatingLogWriter) Write(b []byte) (int, error) {
	return r.pipe.Write(b)
}

// Close closes the pipe writer, which signals the rotator goroutine to
// flush and exit.
func (r *RotatingLogWriter) Close() error {
	return r.pipe.Close()
}
