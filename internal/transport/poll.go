package transport

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// CanRead reports whether the connection is readable within timeout. An
// exceptional condition on the descriptor closes the transport and is
// returned as an error.
func (t *Transport) CanRead(timeout time.Duration) (bool, error) {
	return t.poll(unix.POLLIN, timeout)
}

// CanWrite reports whether the connection is writable within timeout, with
// the same closed-on-exception behavior as CanRead.
func (t *Transport) CanWrite(timeout time.Duration) (bool, error) {
	return t.poll(unix.POLLOUT, timeout)
}

// poll waits for readiness on the raw descriptor. Readiness is checked at
// the TCP layer even after a TLS upgrade; the deadline-driven Read/Write
// paths handle TLS record buffering themselves.
func (t *Transport) poll(events int16, timeout time.Duration) (bool, error) {
	if t.tcp == nil {
		return false, ErrNotConnected
	}

	rc, err := t.tcp.SyscallConn()
	if err != nil {
		t.Close()
		return false, ioErr("poll", err)
	}

	ms := int(timeout / time.Millisecond)
	if ms < 0 {
		ms = 0
	}

	var ready bool
	var pollErr error
	ctlErr := rc.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: events | unix.POLLPRI}}
		for {
			n, perr := unix.Poll(fds, ms)
			if perr == unix.EINTR {
				continue
			}
			if perr != nil {
				pollErr = perr
				return
			}
			if n == 0 {
				return
			}
			if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL|unix.POLLPRI) != 0 {
				pollErr = errors.New("exceptional condition on socket")
				return
			}
			ready = fds[0].Revents&events != 0
			return
		}
	})

	if ctlErr != nil {
		t.Close()
		return false, ioErr("poll", ctlErr)
	}
	if pollErr != nil {
		t.Close()
		return false, ioErr("poll", pollErr)
	}
	return ready, nil
}
