package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
)

// logFileName is the active file inside the log directory; rotated copies
// are renamed alongside it with a timestamp suffix.
const logFileName = "vntsd.log"

// rotatingWriter is an io.Writer over a directory of log files: it writes
// to logFileName until that file would cross maxSize, then renames it out
// of the way and opens a fresh one.
type rotatingWriter struct {
	dir     string
	maxSize datasize.ByteSize

	mu   sync.Mutex
	file *os.File
	size int64
}

// newRotatingWriter creates dir if needed and opens (or resumes) its
// active log file.
func newRotatingWriter(dir string, maxSize datasize.ByteSize) (*rotatingWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory %q: %w", dir, err)
	}

	w := &rotatingWriter{dir: dir, maxSize: maxSize}
	if err := w.openCurrent(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *rotatingWriter) openCurrent() error {
	path := filepath.Join(w.dir, logFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stating log file %q: %w", path, err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write appends p to the active log file, rotating first if p would push
// the file past maxSize. A single write is never split across two files.
func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size > 0 && w.size+int64(len(p)) > int64(w.maxSize.Bytes()) {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// rotate closes the active file, renames it with a timestamp suffix, and
// opens a fresh one in its place.
func (w *rotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing rotated log file: %w", err)
	}

	current := filepath.Join(w.dir, logFileName)
	rolled := filepath.Join(w.dir, fmt.Sprintf("vntsd-%s.log", time.Now().Format("20060102-150405.000000000")))
	if err := os.Rename(current, rolled); err != nil {
		return fmt.Errorf("rotating log file: %w", err)
	}

	return w.openCurrent()
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
