package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const backupStamp = "20060102-150405.000000"

// FileRotator is an io.Writer over Config.FilePath. Before a write would
// take the file past Config.MaxSize megabytes, the file is renamed to a
// timestamped backup, optionally gzipped, and a fresh file is started.
type FileRotator struct {
	path       string
	limit      int64
	maxBackups int
	compress   bool

	mu      sync.Mutex
	file    *os.File
	written int64
	now     func() time.Time
}

// NewFileRotator opens or creates cfg.FilePath for appending.
func NewFileRotator(cfg *Config) (*FileRotator, error) {
	r := &FileRotator{
		path:       cfg.FilePath,
		limit:      cfg.MaxSize << 20,
		maxBackups: cfg.MaxBackups,
		compress:   cfg.Compress,
		now:        time.Now,
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRotator) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.file, r.written = f, info.Size()
	return nil
}

// Write implements io.Writer. A single write larger than the limit still
// goes to one file.
func (r *FileRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	if r.limit > 0 && r.written > 0 && r.written+int64(len(p)) > r.limit {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}
	n, err := r.file.Write(p)
	r.written += int64(n)
	return n, err
}

// split returns the directory, the file name without extension, and the
// extension of the active log.
func (r *FileRotator) split() (dir, stem, ext string) {
	dir, base := filepath.Split(r.path)
	ext = filepath.Ext(base)
	return filepath.Clean(dir), strings.TrimSuffix(base, ext), ext
}

func (r *FileRotator) rotate() error {
	err := r.file.Close()
	r.file = nil
	if err != nil {
		return fmt.Errorf("close current log: %w", err)
	}

	dir, stem, ext := r.split()
	backup := filepath.Join(dir, stem+"-"+r.now().Format(backupStamp)+ext)
	if err := os.Rename(r.path, backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}
	if r.compress {
		if err := gzipFile(backup); err != nil {
			// The backup stays uncompressed; logging cannot report on itself.
			fmt.Fprintf(os.Stderr, "henkan: compress %s: %v\n", backup, err)
		}
	}
	if err := r.open(); err != nil {
		return err
	}
	r.prune()
	return nil
}

// gzipFile writes path.gz and removes path. On failure path is left alone.
func gzipFile(path string) (err error) {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst := path + ".gz"
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(dst)
		}
	}()

	zw := gzip.NewWriter(out)
	zw.Name = filepath.Base(path)
	if _, err = io.Copy(zw, src); err != nil {
		return err
	}
	if err = zw.Close(); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

func (r *FileRotator) prune() {
	if r.maxBackups <= 0 {
		return
	}
	backups, err := r.backups()
	if err != nil {
		return
	}
	for len(backups) > r.maxBackups {
		os.Remove(backups[0])
		backups = backups[1:]
	}
}

// backups lists rotated files oldest first. Backup names embed a
// fixed-width timestamp, so lexical order is age order.
func (r *FileRotator) backups() ([]string, error) {
	dir, stem, ext := r.split()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	prefix := stem + "-"
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		if !strings.HasSuffix(name, ext) && !strings.HasSuffix(name, ext+".gz") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	slices.Sort(out)
	return out, nil
}

// LogFiles returns the active log followed by its backups, oldest first.
func (r *FileRotator) LogFiles() ([]string, error) {
	backups, err := r.backups()
	return append([]string{r.path}, backups...), err
}

// Sync flushes the active file.
func (r *FileRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.file.Sync()
}

// Close closes the active file. A later Write reopens it.
func (r *FileRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
