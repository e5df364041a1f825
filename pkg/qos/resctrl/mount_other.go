//go:build !linux

package resctrl

import "errors"

var errUnsupported = errors.New("resctrl: mounting requires linux")

type systemMounter struct{}

func (systemMounter) Mount(string, string) error { return errUnsupported }

func (systemMounter) Unmount(string) error { return errUnsupported }
