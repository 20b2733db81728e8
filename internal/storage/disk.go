package storage

import (
	"fmt"
	"os"
)

// sqliteSidecars are the files SQLite keeps next to the main database. In WAL
// mode committed pages live in -wal until a checkpoint copies them back.
var sqliteSidecars = []string{"-wal", "-shm", "-journal"}

// DatabaseFiles returns the main database file and its sidecar paths.
func DatabaseFiles(dbPath string) []string {
	files := []string{dbPath}
	for _, suffix := range sqliteSidecars {
		files = append(files, dbPath+suffix)
	}
	return files
}

// DiskUsageBytes returns the bytes used on disk by the database at dbPath,
// including its WAL and shared-memory files. Files that do not exist count as 0.
func DiskUsageBytes(dbPath string) (int64, error) {
	if dbPath == "" {
		return 0, nil
	}
	var total int64
	for _, p := range DatabaseFiles(dbPath) {
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("stat %s: %w", p, err)
		}
		if info.IsDir() {
			return 0, fmt.Errorf("%s is a directory, not a database file", p)
		}
		total += info.Size()
	}
	return total, nil
}

// DiskUsageBytes returns the on-disk size of this storage's database,
// WAL and shared-memory files included.
func (s *SQLiteStorage) DiskUsageBytes() (int64, error) {
	return DiskUsageBytes(s.path)
}
