package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrDetectUnsupported is returned where there is no statfs to ask.
var ErrDetectUnsupported = errors.New("filesystem detection is unsupported on this platform")

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// CheckLocalFilesystem reports an error when path (or its nearest existing
// parent) lives on a network filesystem. The panel database, the PID file and
// the reload flag all rely on local locking and visibility semantics.
func CheckLocalFilesystem(path, what string) error {
	return checkLocalFilesystemWithDetector(path, what, detectFilesystemType)
}

func checkLocalFilesystemWithDetector(path, what string, detector func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("%s path is empty", what)
	}

	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve %s path %q: %w", what, path, err)
	}

	fsType, err := detector(inspectPath)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf(
			"%s path %q is on network filesystem %q; the panel and the bot share it through local file locking. Point state.path and bot.* paths at local disk",
			what,
			path,
			fsType,
		)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	normalized := strings.TrimSpace(strings.ToLower(fsType))
	_, found := networkFilesystems[normalized]
	return found
}
