//go:build linux

package lock

import "golang.org/x/sys/unix"

// Open file description locks belong to the open file rather than the
// process, so two descriptors opened by the same process still conflict.

func wholeFile(typ int16) *unix.Flock_t {
	return &unix.Flock_t{Type: typ, Whence: 0, Start: 0, Len: 0}
}

func lockWait(fd int) error {
	return unix.FcntlFlock(uintptr(fd), unix.F_OFD_SETLKW, wholeFile(unix.F_WRLCK))
}

// tryLock fails with EAGAIN or EACCES while another holder has the file.
func tryLock(fd int) error {
	return unix.FcntlFlock(uintptr(fd), unix.F_OFD_SETLK, wholeFile(unix.F_WRLCK))
}

func unlock(fd int) error {
	return unix.FcntlFlock(uintptr(fd), unix.F_OFD_SETLK, wholeFile(unix.F_UNLCK))
}
