package reliability

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/aristath/arena-engine/internal/database"
	"github.com/rs/zerolog"
)

// BackupService snapshots the engine's live databases to disk. It is kept
// deliberately name-driven (map[string]*database.DB) rather than hardcoding
// a fixed set of databases, since a deployment may run with just the
// arena database alone or alongside other sqlite-backed stores.
type BackupService struct {
	databases map[string]*database.DB
	log       zerolog.Logger
}

// NewBackupService constructs a backup service over the given named databases.
func NewBackupService(databases map[string]*database.DB, log zerolog.Logger) *BackupService {
	return &BackupService{databases: databases, log: log.With().Str("component", "backup").Logger()}
}

// GetDatabaseNames returns the configured database names, sorted for
// deterministic archive ordering. includeCache controls whether a database
// named "cache" is included; includeClientData controls "client_data".
func (s *BackupService) GetDatabaseNames(includeCache, includeClientData bool) []string {
	names := make([]string, 0, len(s.databases))
	for name := range s.databases {
		if name == "cache" && !includeCache {
			continue
		}
		if name == "client_data" && !includeClientData {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BackupDatabase writes a consistent point-in-time copy of the named
// database to destPath using SQLite's VACUUM INTO, which is safe to run
// against a live WAL-mode database without blocking concurrent writers.
func (s *BackupService) BackupDatabase(name, destPath string) error {
	db, ok := s.databases[name]
	if !ok {
		return fmt.Errorf("unknown database %q", name)
	}

	if _, err := os.Stat(destPath); err == nil {
		if err := os.Remove(destPath); err != nil {
			return fmt.Errorf("failed to clear stale backup at %s: %w", destPath, err)
		}
	}

	if _, err := db.Conn().Exec(fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
		return fmt.Errorf("vacuum into %s: %w", destPath, err)
	}
	return nil
}

// CopyFile copies src to dst, overwriting any existing file at dst.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return nil
}
