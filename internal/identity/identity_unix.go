//go:build unix

package identity

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

func stat(path string) (Info, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return Info{}, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	return fromStat(&st), nil
}

func fstat(f *os.File) (Info, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return Info{}, &os.PathError{Op: "fstat", Path: f.Name(), Err: err}
	}
	return fromStat(&st), nil
}

func fromStat(st *unix.Stat_t) Info {
	return Info{
		ID:      ID{Dev: uint64(st.Dev), Ino: uint64(st.Ino)},
		Size:    st.Size,
		ModTime: time.Unix(st.Mtim.Unix()),
		Dir:     st.Mode&unix.S_IFMT == unix.S_IFDIR,
	}
}

// isAbsent treats a missing parent directory the same as a missing file.
func isAbsent(err error) bool {
	return errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ENOTDIR)
}
