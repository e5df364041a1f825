//go:build linux

package resctrl

import "golang.org/x/sys/unix"

type systemMounter struct{}

func (systemMounter) Mount(target, options string) error {
	return unix.Mount("resctrl", target, "resctrl", 0, options)
}

func (systemMounter) Unmount(target string) error {
	return unix.Unmount(target, 0)
}
