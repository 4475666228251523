package yaml

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// QuarantineDirName is the directory under the data dir that holds rejected files.
const QuarantineDirName = "quarantine"

// Quarantine moves filePath into <dataDir>/quarantine with a timestamp and
// reason suffix, and returns the new path.
func Quarantine(dataDir, filePath, reason string) (string, error) {
	dir := filepath.Join(dataDir, QuarantineDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}
	if reason == "" {
		reason = "corrupt"
	}

	name := fmt.Sprintf("%s.%s.%s", filepath.Base(filePath), time.Now().Format("20060102T150405.000"), reason)
	dst := filepath.Join(dir, name)
	if err := os.Rename(filePath, dst); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return dst, nil
}
