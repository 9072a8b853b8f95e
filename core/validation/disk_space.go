package validation

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// DiskSpace is the capacity of the filesystem holding a path.
type DiskSpace struct {
	Path  string
	Total uint64
	Free  uint64
}

// UsedPercent is the share of Total in use, 0 to 100.
func (d DiskSpace) UsedPercent() float64 {
	if d.Total == 0 {
		return 0
	}
	return float64(d.Total-d.Free) / float64(d.Total) * 100
}

func (d DiskSpace) String() string {
	return fmt.Sprintf("%s free of %s", humanize.IBytes(d.Free), humanize.IBytes(d.Total))
}

// DiskSpaceError reports less free space than required.
type DiskSpaceError struct {
	Path      string
	Required  uint64
	Available uint64
}

func (e *DiskSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space at %s: need %s, have %s",
		e.Path, humanize.IBytes(e.Required), humanize.IBytes(e.Available))
}

// GetDiskSpace reports the filesystem holding path. A path that does not
// exist yet is resolved through its nearest existing parent.
func GetDiskSpace(path string) (DiskSpace, error) {
	dir, err := existingDir(path)
	if err != nil {
		return DiskSpace{}, err
	}
	total, free, err := getDiskSpace(dir)
	if err != nil {
		return DiskSpace{}, fmt.Errorf("failed to get disk space for %s: %w", dir, err)
	}
	return DiskSpace{Path: dir, Total: total, Free: free}, nil
}

// CheckDiskSpace returns a *DiskSpaceError when path has less than required bytes free.
func CheckDiskSpace(path string, required uint64) (DiskSpace, error) {
	space, err := GetDiskSpace(path)
	if err != nil {
		return DiskSpace{}, err
	}
	if space.Free < required {
		return space, &DiskSpaceError{Path: space.Path, Required: required, Available: space.Free}
	}
	return space, nil
}

func existingDir(path string) (string, error) {
	path = filepath.Clean(path)
	for {
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return path, nil
			}
			return filepath.Dir(path), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("cannot access path %s: %w", path, err)
		}
		parent := filepath.Dir(path)
		if parent == path {
			return "", fmt.Errorf("no existing parent for %s", path)
		}
		path = parent
	}
}
