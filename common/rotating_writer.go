package common

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const maxRotatedFileCount = 7

// DailyRotatingWriter appends to <dir>/<prefix><date><suffix>, switching files
// when the date changes and keeping the newest maxRotatedFileCount files.
type DailyRotatingWriter struct {
	mu          sync.Mutex
	dir         string
	prefix      string
	suffix      string
	currentDate string
	file        *os.File
}

func NewDailyRotatingWriter(dir, prefix, suffix string) (*DailyRotatingWriter, error) {
	w := &DailyRotatingWriter{
		dir:    dir,
		prefix: prefix,
		suffix: suffix,
	}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *DailyRotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return 0, err
	}
	return w.file.Write(p)
}

func (w *DailyRotatingWriter) CurrentPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return filepath.Join(w.dir, w.prefix+w.currentDate+w.suffix)
}

func (w *DailyRotatingWriter) rotateIfNeeded() error {
	today := time.Now().Format("2006-01-02")
	if w.currentDate == today && w.file != nil {
		return nil
	}

	if w.file != nil {
		w.file.Close()
	}

	file, err := os.OpenFile(
		filepath.Join(w.dir, w.prefix+today+w.suffix),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY,
		0644,
	)
	if err != nil {
		return err
	}

	w.file = file
	w.currentDate = today

	cleanupOldFiles(w.dir, w.prefix, w.suffix)

	return nil
}

func (w *DailyRotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}

var _ io.WriteCloser = (*DailyRotatingWriter)(nil)

// cleanupOldFiles relies on the date in the file name sorting chronologically.
func cleanupOldFiles(dir, prefix, suffix string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, suffix) {
			names = append(names, name)
		}
	}

	if len(names) <= maxRotatedFileCount {
		return
	}

	sort.Strings(names)

	for i := 0; i < len(names)-maxRotatedFileCount; i++ {
		os.Remove(filepath.Join(dir, names[i]))
	}
}
