package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// NetworkFilesystemError reports a SQLite path on a network mount, where
// file locking is unreliable.
type NetworkFilesystemError struct {
	Path   string
	FSType string
}

func (e *NetworkFilesystemError) Error() string {
	return fmt.Sprintf("step database %q is on network filesystem %q; SQLite requires a local filesystem for reliable locking. Set state.path to a local file, or use state.driver: postgres", e.Path, e.FSType)
}

var networkFSTypes = []string{"afpfs", "cifs", "nfs", "nfs4", "smb2", "smbfs", "webdav"}

// CheckLocalFilesystem returns a *NetworkFilesystemError when the SQLite
// file at path, or the nearest directory that would hold it, lives on a
// network mount.
func CheckLocalFilesystem(path string) error {
	return checkLocalFilesystem(path, statfsType)
}

func checkLocalFilesystem(path string, fsTypeOf func(string) (string, error)) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("sqlite path is empty")
	}
	existing, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}
	fsType, err := fsTypeOf(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if isNetworkFS(fsType) {
		return &NetworkFilesystemError{Path: path, FSType: fsType}
	}
	return nil
}

// existingAncestor walks up from path until something exists. The database
// file and its directory may both still be missing on first start.
func existingAncestor(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(p)
		switch {
		case err == nil:
			return p, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing ancestor of %q", path)
		}
		p = parent
	}
}

func isNetworkFS(fsType string) bool {
	fsType = strings.ToLower(strings.TrimSpace(fsType))
	for _, t := range networkFSTypes {
		if fsType == t {
			return true
		}
	}
	return false
}
