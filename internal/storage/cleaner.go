package storage

import (
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Prune removes output directories under root whose newest file is older
// than retention. Only directories named by a hex digest are considered.
// It returns the names of the directories it removed.
func Prune(root string, retention time.Duration, now time.Time) ([]string, error) {
	if retention <= 0 {
		return nil, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	threshold := now.Add(-retention)
	var removed []string
	var errs []error

	for _, entry := range entries {
		if !entry.IsDir() || !isDigestName(entry.Name()) {
			continue
		}

		dir := filepath.Join(root, entry.Name())
		newest, err := newestModTime(dir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if newest.After(threshold) {
			continue
		}

		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, entry.Name())
	}
	return removed, errors.Join(errs...)
}

func isDigestName(name string) bool {
	if len(name) == 0 || len(name)%2 != 0 {
		return false
	}
	_, err := hex.DecodeString(name)
	return err == nil
}

func newestModTime(dir string) (time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}, err
	}

	var newest time.Time
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest, nil
}
