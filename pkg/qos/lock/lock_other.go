//go:build !linux

package lock

import "golang.org/x/sys/unix"

func lockWait(fd int) error { return unix.Flock(fd, unix.LOCK_EX) }

// tryLock fails with EWOULDBLOCK, which is EAGAIN on these platforms.
func tryLock(fd int) error { return unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB) }

func unlock(fd int) error { return unix.Flock(fd, unix.LOCK_UN) }
