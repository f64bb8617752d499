package media

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// Spool is the scratch directory holding downloaded media and cut windows.
type Spool struct {
	dir string
}

func NewSpool(dir string) *Spool {
	return &Spool{dir: dir}
}

func (s *Spool) Dir() string { return s.dir }

// Create opens a new uniquely named file in the spool. pattern follows
// os.CreateTemp.
func (s *Spool) Create(pattern string) (*os.File, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating spool dir: %w", err)
	}
	f, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("creating spool file: %w", err)
	}
	return f, nil
}

// TempDir creates a directory in the spool for one job's intermediate files.
func (s *Spool) TempDir(pattern string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating spool dir: %w", err)
	}
	return os.MkdirTemp(s.dir, pattern)
}

// Release removes paths, ignoring ones already gone.
func (s *Spool) Release(logger *slog.Logger, paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			logger.Warn("failed to remove spool entry", "path", p, "error", err)
		}
	}
}

// Usage returns the bytes and file count currently in the spool.
func (s *Spool) Usage() (int64, int, error) {
	var total int64
	var files int
	err := filepath.WalkDir(s.dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		files++
		return nil
	})
	if os.IsNotExist(err) {
		return 0, 0, nil
	}
	return total, files, err
}

// Cleanup removes everything in the spool and logs how much was freed.
func (s *Spool) Cleanup(logger *slog.Logger) (int64, error) {
	size, files, err := s.Usage()
	if err != nil {
		return 0, fmt.Errorf("measuring spool: %w", err)
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return 0, fmt.Errorf("removing spool: %w", err)
	}
	logger.Info("media spool removed",
		"dir", s.dir,
		"files", files,
		"freed", humanize.Bytes(uint64(size)),
	)
	return size, nil
}
