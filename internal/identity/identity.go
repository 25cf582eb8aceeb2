// Package identity reports the on-disk identity of files so that a tailer can
// tell a file that grew apart from a different file now living at the same
// path.
package identity

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// ID identifies a physical file independently of the path used to reach it.
// On Unix it is the device and inode number; on Windows the volume serial
// number and file index.
type ID struct {
	Dev uint64 `json:"dev"`
	Ino uint64 `json:"ino"`
}

// IsZero reports whether id is the zero value (no file).
func (id ID) IsZero() bool { return id == ID{} }

func (id ID) String() string { return fmt.Sprintf("%d:%d", id.Dev, id.Ino) }

// Info is a point-in-time view of a file.
type Info struct {
	ID      ID
	Size    int64
	ModTime time.Time
	Dir     bool
}

// ErrDirectory is returned by Lookup when a directory occupies the path.
var ErrDirectory = errors.New("is a directory")

// Lookup returns the identity and size of the file at path. A missing path is
// reported as ok == false with a nil error; err is reserved for failures such
// as permission errors or a directory in place of the file, which callers
// should treat as transient.
func Lookup(path string) (info Info, ok bool, err error) {
	info, err = stat(path)
	if err != nil {
		if isAbsent(err) {
			return Info{}, false, nil
		}
		return Info{}, false, fmt.Errorf("identity: stat %s: %w", path, err)
	}
	if info.Dir {
		return Info{}, false, fmt.Errorf("identity: stat %s: %w", path, ErrDirectory)
	}
	return info, true, nil
}

// Of returns the identity and current size of an already open file. Unlike
// Lookup it keeps working after the file has been renamed or unlinked.
func Of(f *os.File) (Info, error) {
	info, err := fstat(f)
	if err != nil {
		return Info{}, fmt.Errorf("identity: fstat %s: %w", f.Name(), err)
	}
	return info, nil
}
