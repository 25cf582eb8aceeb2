//go:build !windows

package tailer

import "os"

func openShared(path string) (*os.File, error) {
	return os.Open(path)
}
