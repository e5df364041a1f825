// Package lock implements the two-tier lock that serializes every library
// entry point: an advisory file lock shared with cooperating processes,
// then an in-process lock shared between goroutines. Tiers are taken in
// that order and released in reverse.
//
// On Linux the file tier is an open file description record lock over the
// whole file, so it conflicts with lockf(3) and fcntl(2) locks taken by
// other tools on the same path.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jamesainslie/rdtcap/pkg/logging"
	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
)

// DefaultPath is the well-known lock file shared by every process that
// drives the platform QoS hardware.
const DefaultPath = "/var/lock/libpqos"

// pollInterval is how often a bounded acquisition retries the file lock.
const pollInterval = 5 * time.Millisecond

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("lock closed")

// Dual composes the cross-process and in-process tiers.
type Dual struct {
	path    string
	timeout time.Duration
	observe func(time.Duration)

	// sem is the in-process tier. A one-slot channel rather than a
	// sync.Mutex so acquisition can honour a deadline.
	sem chan struct{}

	mu     sync.Mutex
	closed bool
}

// Option configures a Dual.
type Option func(*Dual)

// WithTimeout bounds each acquisition. Zero waits forever.
func WithTimeout(d time.Duration) Option {
	return func(l *Dual) { l.timeout = d }
}

// WithWaitObserver reports how long each successful acquisition waited.
func WithWaitObserver(fn func(time.Duration)) Option {
	return func(l *Dual) { l.observe = fn }
}

// New prepares a dual lock on path, creating the lock file if needed.
// Failure to create the file is ErrFatal.
func New(path string, opts ...Option) (*Dual, error) {
	if path == "" {
		path = DefaultPath
	}

	f, err := openLockFile(path)
	if err != nil {
		return nil, err
	}
	f.Close()

	d := &Dual{path: path, sem: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Path returns the lock file path.
func (d *Dual) Path() string { return d.path }

// Acquire takes both tiers. It fails with ErrFatal when either tier cannot
// be taken before the configured timeout or ctx expires; nothing is held
// on failure.
func (d *Dual) Acquire(ctx context.Context) (*Guard, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: %w", qoserr.ErrFatal, ErrClosed)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	log := logging.Get("lock")

	// Each acquisition uses its own open file description so the file tier
	// also excludes other goroutines of this process.
	f, err := openLockFile(d.path)
	if err != nil {
		return nil, err
	}
	if err := lockFile(ctx, f); err != nil {
		f.Close()
		log.Error("file lock not acquired", "path", d.path, "err", err)
		return nil, fmt.Errorf("%w: acquire %s: %w", qoserr.ErrFatal, d.path, err)
	}

	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		unlockFile(f) //nolint:errcheck
		f.Close()
		log.Error("in-process lock not acquired", "err", ctx.Err())
		return nil, fmt.Errorf("%w: acquire in-process lock: %w", qoserr.ErrFatal, ctx.Err())
	}

	wait := time.Since(start)
	if d.observe != nil {
		d.observe(wait)
	}
	log.Debug("lock acquired", "path", d.path, "wait", wait)

	return &Guard{owner: d, file: f}, nil
}

// Close stops further acquisitions. Held guards remain valid until
// released.
func (d *Dual) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Guard is a held dual lock.
type Guard struct {
	owner *Dual
	file  *os.File
	once  sync.Once
	err   error
}

// Release drops the in-process tier then the file tier. Both are always
// attempted; repeated calls return the first result.
func (g *Guard) Release() error {
	g.once.Do(func() {
		<-g.owner.sem

		var errs []error
		if err := unlockFile(g.file); err != nil {
			errs = append(errs, fmt.Errorf("unlock %s: %w", g.owner.path, err))
		}
		if err := g.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", g.owner.path, err))
		}
		g.err = errors.Join(errs...)
		if g.err != nil {
			logging.Get("lock").Warn("lock release incomplete", "err", g.err)
		}
	})
	return g.err
}

func openLockFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("%w: open lock file: %w", qoserr.ErrFatal, err)
	}
	return f, nil
}

// lockFile takes an exclusive lock on f, polling while ctx can expire.
func lockFile(ctx context.Context, f *os.File) error {
	fd := int(f.Fd())
	if ctx.Done() == nil {
		return retryEINTR(func() error { return lockWait(fd) })
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		err := retryEINTR(func() error { return tryLock(fd) })
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EACCES) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func unlockFile(f *os.File) error {
	return unlock(int(f.Fd()))
}

func retryEINTR(fn func() error) error {
	for {
		err := fn()
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}
