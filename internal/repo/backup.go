package repo

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/guardrailstack/guardrail-monitor/internal/models"
	"github.com/guardrailstack/guardrail-monitor/internal/utils"
)

// verifiedSuffix marks backups that passed integrity verification. The backup
// pipeline writes the marker only after checksum validation succeeds.
const verifiedSuffix = ".verified"

// FilesystemBackupLocator resolves the most recent verified backup archive for
// an environment from a local directory. Archives are named
// "<environment>-<timestamp>.tar.gz"; only those with a sibling ".verified"
// marker are eligible.
type FilesystemBackupLocator struct {
	dir string
}

// NewFilesystemBackupLocator constructs a locator over the given directory.
func NewFilesystemBackupLocator(dir string) *FilesystemBackupLocator {
	return &FilesystemBackupLocator{dir: dir}
}

// LatestVerified returns the newest verified backup for the environment, or
// nil when none exists. An absent backup is an expected response, not an error.
func (l *FilesystemBackupLocator) LatestVerified(ctx context.Context, environment string) (*models.BackupRef, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, utils.NewAppError("backup.locate", "read backup directory", err)
	}

	var latest *models.BackupRef
	prefix := environment + "-"
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".tar.gz") {
			continue
		}
		if _, err := os.Stat(filepath.Join(l.dir, name+verifiedSuffix)); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if latest == nil || info.ModTime().After(latest.CreatedAt) {
			latest = &models.BackupRef{
				Name:      name,
				Path:      filepath.Join(l.dir, name),
				CreatedAt: info.ModTime(),
			}
		}
	}
	return latest, nil
}
