package logging

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// RotatingWriter appends to a file and shifts it to name.1, name.2, ...
// once a write would push it past maxSize. At most maxFiles files are kept,
// the live one included.
type RotatingWriter struct {
	mu       sync.Mutex
	name     string
	maxSize  int64
	maxFiles int
	f        *os.File
	size     int64
}

func NewRotatingWriter(name string, maxSize int64, maxFiles int) (*RotatingWriter, error) {
	if maxFiles < 1 {
		maxFiles = 1
	}
	w := &RotatingWriter{name: name, maxSize: maxSize, maxFiles: maxFiles}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var rotErr error
	if w.maxSize > 0 && w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		rotErr = w.rotate()
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	if err != nil {
		return n, err
	}
	// the entry is kept in the live file; the next write retries the rotation
	return n, rotErr
}

func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Sync()
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.size = fi.Size()
	return nil
}

// rotate shifts the backups and reopens name. The live file is reopened
// even when shifting fails, so a failed rotation never leaves the writer
// without a file.
func (w *RotatingWriter) rotate() error {
	var result *multierror.Error
	if err := w.f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		result = multierror.Append(result, err)
	}
	if err := w.shift(); err != nil {
		result = multierror.Append(result, fmt.Errorf("rotate %s: %w", w.name, err))
	}
	if err := w.open(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (w *RotatingWriter) shift() error {
	if w.maxFiles == 1 {
		return os.Truncate(w.name, 0)
	}
	oldest := backupName(w.name, w.maxFiles-1)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return err
	}
	for i := w.maxFiles - 2; i >= 1; i-- {
		if err := os.Rename(backupName(w.name, i), backupName(w.name, i+1)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return os.Rename(w.name, backupName(w.name, 1))
}

func backupName(name string, n int) string { return fmt.Sprintf("%s.%d", name, n) }
