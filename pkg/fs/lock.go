package fs

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by [File.Lock] when a conflicting lock is held.
var ErrWouldBlock = errors.New("lock would block")

// LockMode selects between shared and exclusive locks.
type LockMode int

const (
	// LockShared allows any number of concurrent shared holders but excludes
	// exclusive holders.
	LockShared LockMode = iota + 1

	// LockExclusive excludes every other holder.
	LockExclusive
)

func (m LockMode) String() string {
	switch m {
	case LockShared:
		return "shared"
	case LockExclusive:
		return "exclusive"
	default:
		return fmt.Sprintf("LockMode(%d)", int(m))
	}
}

// flockNonBlocking takes a non-blocking flock(2) on fd.
//
// flock applies to the open file description, so two handles opened
// separately conflict even inside one process. That is what lets the cache
// treat goroutines and processes the same way.
func flockNonBlocking(flock func(fd int, how int) error, fd int, mode LockMode) error {
	how := unix.LOCK_SH
	if mode == LockExclusive {
		how = unix.LOCK_EX
	}

	err := flockRetryEINTR(flock, fd, how|unix.LOCK_NB)
	if err == nil {
		return nil
	}

	if isWouldBlock(err) {
		return ErrWouldBlock
	}

	return fmt.Errorf("flock: %w", err)
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN)
}

// flockRetryEINTR wraps flock, retrying on EINTR.
//
// EINTR means the syscall was interrupted by a signal before it could
// complete; it needs to be retried. Retries are capped so a signal storm
// cannot spin forever.
func flockRetryEINTR(flock func(fd int, how int) error, fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error
	for range maxEINTRRetries {
		err = flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
