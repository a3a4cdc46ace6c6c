// Package backupname computes the destination path for an existing file
// being displaced by a backup policy, in meaning ported from
// original_source's src/utility/backup.rs.
package backupname

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/arvgrant/cpx/pkg/cliopts"
)

// For computes the backup path for destination under mode. It returns
// ("", nil) when mode is BackupNone, meaning no backup should be taken.
func For(destination string, mode cliopts.BackupMode) (string, error) {
	switch mode {
	case cliopts.BackupNone:
		return "", nil
	case cliopts.BackupSimple:
		return addSuffix(destination), nil
	case cliopts.BackupNumbered:
		n, err := findMaxBackupNumber(destination)
		if err != nil {
			return "", err
		}
		return formatNumbered(destination, n+1), nil
	case cliopts.BackupExisting:
		n, err := findMaxBackupNumber(destination)
		if err != nil {
			return "", err
		}
		if n > 0 {
			return formatNumbered(destination, n+1), nil
		}
		return addSuffix(destination), nil
	default:
		return addSuffix(destination), nil
	}
}

// addSuffix implements the `simple` mode: X -> X~.
func addSuffix(path string) string {
	return path + "~"
}

// formatNumbered implements the `numbered` mode: X -> X.~N~.
func formatNumbered(path string, n int) string {
	return path + ".~" + strconv.Itoa(n) + "~"
}

// findMaxBackupNumber scans path's directory for siblings named
// "<base>.~N~" and returns the largest N found, or 0 if none exist.
func findMaxBackupNumber(path string) (int, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	prefix := base + ".~"

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	max := 0
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, "~") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, prefix), "~")
		n, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max, nil
}
