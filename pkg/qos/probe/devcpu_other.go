//go:build !linux

package probe

import (
	"errors"
	"os"
)

var errUnsupported = errors.New("probe: /dev/cpu access requires linux")

func preadFull(*os.File, []byte, int64) error { return errUnsupported }

func pwriteFull(*os.File, []byte, int64) error { return errUnsupported }
