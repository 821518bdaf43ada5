package report

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/hpungsan/focus/internal/errors"
)

// ValidateName checks that name is a plain .md or .html file name, so the
// report always lands directly in the exports directory.
func ValidateName(name string) error {
	if name == "" {
		return errors.NewInvalidRequest("file name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return errors.NewInvalidRequest("file name must not contain a directory")
	}
	switch filepath.Ext(name) {
	case ".md", ".html":
	default:
		return errors.NewInvalidRequest("file name must have .md or .html extension")
	}
	return nil
}

// Write stores content as dir/name through a temp file and rename, so an
// existing report is never left half-written. Neither dir nor the final
// file may be a symlink. Returns the written path.
func Write(dir, name string, content []byte) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to create exports directory: %w", err))
	}
	if info, err := os.Lstat(dir); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return "", errors.NewInvalidRequest("exports directory must not be a symlink")
	}

	path := filepath.Join(dir, name)
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return "", errors.NewInvalidRequest("path must not be a symlink")
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to create report file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(content); err != nil {
		return "", errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return "", errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to close report file: %w", err))
	}
	file = nil

	// Windows refuses to rename over an existing file
	if runtime.GOOS == "windows" {
		if _, err := os.Stat(path); err == nil {
			return "", errors.NewInvalidRequest("report already exists; overwriting is not supported on Windows")
		}
	}
	if err := os.Rename(tempPath, path); err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to finalize report: %w", err))
	}

	success = true
	return path, nil
}
