//go:build linux

package probe

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

func preadFull(f *os.File, buf []byte, off int64) error {
	n, err := unix.Pread(int(f.Fd()), buf, off)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func pwriteFull(f *os.File, buf []byte, off int64) error {
	n, err := unix.Pwrite(int(f.Fd()), buf, off)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}
