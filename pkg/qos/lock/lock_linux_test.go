//go:build linux

package lock_test

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/jamesainslie/rdtcap/pkg/qos/lock"
	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
)

const holderEnv = "RDTCAP_LOCK_HOLDER"

// TestLockHolderProcess is not a real test. It runs in a child process and
// holds a classic POSIX record lock, as lockf(3) does, until stdin closes.
func TestLockHolderProcess(t *testing.T) {
	path := os.Getenv(holderEnv)
	if path == "" {
		t.Skip("helper process only")
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		os.Exit(2)
	}
	lk := unix.Flock_t{Type: unix.F_WRLCK}
	if err := unix.FcntlFlock(f.Fd(), unix.F_SETLKW, &lk); err != nil {
		os.Exit(3)
	}
	os.Stdout.WriteString("locked\n")
	io.Copy(io.Discard, os.Stdin) //nolint:errcheck
	os.Exit(0)
}

// startHolder launches a child that holds a POSIX lock on path until the
// test ends.
func startHolder(t *testing.T, path string) {
	t.Helper()

	cmd := exec.Command(os.Args[0], "-test.run=^TestLockHolderProcess$")
	cmd.Env = append(os.Environ(), holderEnv+"="+path)
	stdin, err := cmd.StdinPipe()
	require.NoError(t, err)
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		stdin.Close()
		cmd.Wait() //nolint:errcheck
	})

	line, err := bufio.NewReader(stdout).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "locked\n", line)
}

func TestDual_ExcludesPOSIXLockHolder(t *testing.T) {
	path := lockPath(t)
	startHolder(t, path)

	d, err := lock.New(path, lock.WithTimeout(100*time.Millisecond))
	require.NoError(t, err)

	g, err := d.Acquire(context.Background())
	assert.Nil(t, g)
	assert.ErrorIs(t, err, qoserr.ErrFatal)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDual_AcquiresAfterPOSIXHolderExits(t *testing.T) {
	path := lockPath(t)

	cmd := exec.Command(os.Args[0], "-test.run=^TestLockHolderProcess$")
	cmd.Env = append(os.Environ(), holderEnv+"="+path)
	stdin, err := cmd.StdinPipe()
	require.NoError(t, err)
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	line, err := bufio.NewReader(stdout).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "locked\n", line)

	d, err := lock.New(path, lock.WithTimeout(5*time.Second))
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		stdin.Close()
	}()

	g, err := d.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, g.Release())
	require.NoError(t, cmd.Wait())
}
