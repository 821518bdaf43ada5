package capture

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/focus/internal/focus"
)

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// IsImage reports whether path has a supported image extension.
func IsImage(path string) bool {
	_, ok := imageTypes[strings.ToLower(filepath.Ext(path))]
	return ok
}

// MediaType returns the MIME type for an image path, defaulting to image/png.
func MediaType(path string) string {
	if mt, ok := imageTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mt
	}
	return "image/png"
}

// listImages returns image files directly inside dir. A missing dir is empty.
func listImages(dir string) ([]fs.FileInfo, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read capture dir: %w", err)
	}

	var (
		infos []fs.FileInfo
		paths []string
	)
	for _, e := range entries {
		if !e.Type().IsRegular() || !IsImage(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed since ReadDir
		}
		infos = append(infos, info)
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return infos, paths, nil
}

// Recover enqueues image files left in dir by an earlier run, keyed by their
// modification time. Returns how many were queued.
func Recover(q *Queue, dir string, logger *slog.Logger) (int, error) {
	infos, paths, err := listImages(dir)
	if err != nil {
		return 0, err
	}

	n := 0
	for i, path := range paths {
		if err := q.Enqueue(focus.Capture{Path: path, Timestamp: infos[i].ModTime()}); err != nil {
			if logger != nil {
				logger.Warn("skip orphaned capture", "path", path, "error", err)
			}
			continue
		}
		n++
	}
	if logger != nil && n > 0 {
		logger.Info("recovered orphaned captures", "count", n, "dir", dir)
	}
	return n, nil
}

// CleanupOldImages removes image files in dir last modified before now - maxAge.
func CleanupOldImages(dir string, maxAge time.Duration, now time.Time) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	infos, paths, err := listImages(dir)
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-maxAge)
	removed := 0
	for i, path := range paths {
		if !infos[i].ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
		removed++
	}
	return removed, nil
}
