package storage

import (
	"errors"
	"io/fs"
	"path/filepath"
)

// DiskUsageBytes sums the size of the given files and directory trees.
// Empty and missing paths count as zero. SQLite keeps -wal and -shm files
// next to the database; callers pass them explicitly.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
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
			return nil
		})
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// MetastoreFiles returns the database path and its WAL side files.
func MetastoreFiles(dbPath string) []string {
	return []string{dbPath, dbPath + "-wal", dbPath + "-shm"}
}
