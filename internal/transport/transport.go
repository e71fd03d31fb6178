// Package transport owns one raw client connection: TCP connect, optional
// TLS upgrade, readiness polling, bounded blocking and non-blocking reads
// and writes, and a bounded reconnect-and-retry policy for transient I/O
// failures after the connection has already proven itself.
package transport

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "transport")

var (
	// ErrInvalidArgument reports a malformed constructor or call argument.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotConnected reports an operation attempted without a live
	// connection.
	ErrNotConnected = errors.New("no active connection")
)

// Error is a transport I/O failure carrying the underlying cause.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func ioErr(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

// healthInterval bounds one readiness wait when no read timeout is
// configured, so an unbounded read still rechecks connection health.
const healthInterval = 500 * time.Millisecond

// Options configure a Transport.
//
// A zero timeout means block indefinitely on that phase; negative values
// fail construction. Retries is the reconnect budget applied to reads and
// writes once the connection has completed at least one successful I/O.
type Options struct {
	Host string
	Port int

	// BindAddr/BindPort optionally pin the local endpoint.
	BindAddr string
	BindPort int

	// Secure requests TLS immediately on connect. SkipVerify disables
	// certificate chain and hostname verification.
	Secure     bool
	SkipVerify bool

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	Retries int
}

// Transport is a single-connection TCP/TLS client. It is not safe for
// concurrent use; the owning client serializes all calls.
type Transport struct {
	opts Options

	conn  net.Conn     // live connection, a *tls.Conn once upgraded
	tcp   *net.TCPConn // raw descriptor, kept for readiness polling
	bw    *bufio.Writer
	isTLS bool

	// hadIO is set after the first successful read or write since the
	// last connect. Reconnection is only permitted once it is set, so a
	// server that immediately rejects every connection cannot trap us in
	// a reconnect loop.
	hadIO bool

	localAddr  net.Addr
	remoteAddr net.Addr
}

// New validates the options and returns an unconnected Transport.
func New(opts Options) (*Transport, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("%w: host must not be empty", ErrInvalidArgument)
	}
	if opts.Port < 1 || opts.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidArgument, opts.Port)
	}
	if opts.ConnectTimeout < 0 {
		return nil, fmt.Errorf("%w: connect timeout must be >= 0", ErrInvalidArgument)
	}
	if opts.ReadTimeout < 0 {
		return nil, fmt.Errorf("%w: read timeout must be >= 0", ErrInvalidArgument)
	}
	if opts.Retries < 0 {
		return nil, fmt.Errorf("%w: retries must be >= 0", ErrInvalidArgument)
	}
	if opts.BindAddr != "" && net.ParseIP(opts.BindAddr) == nil {
		return nil, fmt.Errorf("%w: bind address %q", ErrInvalidArgument, opts.BindAddr)
	}
	return &Transport{opts: opts}, nil
}

// Connected reports whether a live connection is held.
func (t *Transport) Connected() bool { return t.conn != nil }

// IsTLS reports whether the connection has been upgraded to TLS.
func (t *Transport) IsTLS() bool { return t.isTLS }

// LocalAddr returns the local endpoint of the live connection, nil when
// disconnected.
func (t *Transport) LocalAddr() net.Addr { return t.localAddr }

// RemoteAddr returns the remote endpoint of the live connection, nil when
// disconnected.
func (t *Transport) RemoteAddr() net.Addr { return t.remoteAddr }

// Connect closes any prior connection and establishes a new one, binding
// the local endpoint first when requested and performing the TLS handshake
// immediately in secure mode. Any failure closes the partially opened
// connection.
func (t *Transport) Connect() error {
	t.Close()

	dialer := net.Dialer{
		Timeout:   t.opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	if t.opts.BindAddr != "" || t.opts.BindPort != 0 {
		dialer.LocalAddr = &net.TCPAddr{
			IP:   net.ParseIP(t.opts.BindAddr),
			Port: t.opts.BindPort,
		}
	}

	addr := net.JoinHostPort(t.opts.Host, strconv.Itoa(t.opts.Port))
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return ioErr("connect", err)
	}

	t.conn = conn
	t.tcp, _ = conn.(*net.TCPConn)
	t.isTLS = false
	t.hadIO = false

	if t.opts.Secure {
		if err := t.StartTLS(); err != nil {
			// StartTLS already closed the connection.
			return err
		}
	}

	t.localAddr = t.conn.LocalAddr()
	t.remoteAddr = t.conn.RemoteAddr()
	t.bw = bufio.NewWriter(t.conn)

	log.WithFields(logrus.Fields{
		"local":  t.localAddr,
		"remote": t.remoteAddr,
		"tls":    t.isTLS,
	}).Debug("socket connected")
	return nil
}

// serverName picks the hostname used for SNI and certificate verification.
// When verifying a literal IP address, a best-effort reverse lookup supplies
// a verifiable name, falling back to the IP itself.
func (t *Transport) serverName() string {
	host := t.opts.Host
	if t.opts.SkipVerify {
		return host
	}
	if net.ParseIP(host) == nil {
		return host
	}
	names, err := net.LookupAddr(host)
	if err != nil || len(names) == 0 || names[0] == "" {
		return host
	}
	return strings.TrimSuffix(names[0], ".")
}

// StartTLS upgrades the existing connection to TLS. It is a no-op when the
// connection already speaks TLS; handshake failure closes the connection.
func (t *Transport) StartTLS() error {
	if t.conn == nil {
		return ErrNotConnected
	}
	if t.isTLS {
		return nil
	}

	cfg := &tls.Config{
		ServerName:         t.serverName(),
		InsecureSkipVerify: t.opts.SkipVerify,
	}
	log.WithField("sni", cfg.ServerName).Debug("starting TLS upgrade")

	tlsConn := tls.Client(t.conn, cfg)
	if t.opts.ConnectTimeout > 0 {
		tlsConn.SetDeadline(time.Now().Add(t.opts.ConnectTimeout))
	}
	if err := tlsConn.Handshake(); err != nil {
		t.Close()
		return ioErr("tls", err)
	}
	tlsConn.SetDeadline(time.Time{})

	t.conn = tlsConn
	t.isTLS = true
	t.localAddr = t.conn.LocalAddr()
	t.remoteAddr = t.conn.RemoteAddr()
	t.bw = bufio.NewWriter(t.conn)
	return nil
}

// Close releases the connection and clears transport state. It is safe to
// call repeatedly; the transport may be reused via Connect afterwards.
func (t *Transport) Close() {
	if t.bw != nil {
		t.bw.Flush() // best effort
		t.bw = nil
	}
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.tcp = nil
	t.isTLS = false
	t.hadIO = false
	t.localAddr = nil
	t.remoteAddr = nil
}

// reconnect tears the connection down and dials again so the caller can
// retry the failed operation. Reconnection is refused unless the previous
// connection completed at least one successful read or write.
func (t *Transport) reconnect(op string, cause error) bool {
	prior := t.hadIO
	t.Close()
	if !prior {
		return false
	}

	log.WithField("op", op).Warn("socket stale, reconnecting and retrying")
	log.WithField("op", op).Debugf("socket error: %v", cause)

	if err := t.Connect(); err != nil {
		log.Debugf("socket reconnect failed: %v", err)
		return false
	}
	return true
}

// readTimeout resolves a per-call override against the configured read
// timeout. Zero or negative selects the configured value.
func (t *Transport) readTimeout(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return t.opts.ReadTimeout
}

// Read reads up to maxBytes bytes.
//
// In non-blocking mode it returns immediately with whatever is available,
// or an empty slice when nothing is. In blocking mode it waits up to the
// given timeout (the configured read timeout when timeout <= 0; forever,
// with periodic health checks, when both are unset) and returns an empty
// slice when the wait elapses. A peer close is a hard error. Hard errors
// trigger at most Retries transparent reconnect-and-retry cycles, and only
// after the connection has completed some prior successful I/O.
func (t *Transport) Read(maxBytes int, blocking bool, timeout time.Duration) ([]byte, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("%w: maxBytes must be > 0", ErrInvalidArgument)
	}
	if t.conn == nil {
		// Mirrors a closed descriptor: an empty read, never a block.
		return nil, nil
	}

	wait := t.readTimeout(timeout)
	buf := make([]byte, maxBytes)

	for attempts := t.opts.Retries + 1; attempts > 0; attempts-- {
		data, err := t.readOnce(buf, blocking, wait)
		if err == nil {
			return data, nil
		}

		log.Warn("socket read failed")
		log.Debugf("socket read error: %v", err)

		if attempts > 1 && t.reconnect("read", err) {
			continue
		}
		t.Close()
		return nil, ioErr("read", err)
	}
	return nil, ioErr("read", errors.New("retries exhausted"))
}

// readOnce performs a single logical receive against the live connection.
// A nil error with a nil slice means "nothing available yet".
func (t *Transport) readOnce(buf []byte, blocking bool, wait time.Duration) ([]byte, error) {
	if t.conn == nil {
		return nil, ErrNotConnected
	}

	if !blocking {
		// A single receive with an already-expired deadline: data that is
		// buffered comes back, otherwise the would-block condition maps to
		// an empty result.
		t.conn.SetReadDeadline(time.Now())
		n, err := t.conn.Read(buf)
		t.conn.SetReadDeadline(time.Time{})
		return t.finishRead(buf, n, err)
	}

	if wait > 0 {
		t.conn.SetReadDeadline(time.Now().Add(wait))
		n, err := t.conn.Read(buf)
		t.conn.SetReadDeadline(time.Time{})
		return t.finishRead(buf, n, err)
	}

	// No deadline configured: wait in bounded slices so connection health
	// is rechecked rather than blocking forever in one call.
	for {
		t.conn.SetReadDeadline(time.Now().Add(healthInterval))
		n, err := t.conn.Read(buf)
		t.conn.SetReadDeadline(time.Time{})
		if isTimeout(err) {
			if _, herr := t.CanRead(0); herr != nil {
				return nil, fmt.Errorf("socket closed: %w", herr)
			}
			continue
		}
		return t.finishRead(buf, n, err)
	}
}

// finishRead normalizes the result of one receive. A would-block or timed
// out receive degrades to an empty read; a peer close or any other failure
// is a hard error.
func (t *Transport) finishRead(buf []byte, n int, err error) ([]byte, error) {
	if n > 0 {
		t.hadIO = true
		return buf[:n], nil
	}
	switch {
	case err == nil:
		return nil, nil
	case isTimeout(err):
		return nil, nil
	case errors.Is(err, io.EOF):
		return nil, errors.New("connection lost during read")
	}
	return nil, err
}

// Write sends data in full, honoring the same deadline semantics as Read
// and the same gated reconnect policy. With flush set, buffered output is
// forced to the wire before returning.
func (t *Transport) Write(data []byte, flush bool, timeout time.Duration) (int, error) {
	if t.conn == nil {
		return 0, ErrNotConnected
	}
	if len(data) == 0 {
		return 0, nil
	}

	wait := t.readTimeout(timeout)

	for attempts := t.opts.Retries + 1; attempts > 0; attempts-- {
		n, err := t.writeOnce(data, flush, wait)
		if err == nil {
			if n > 0 {
				t.hadIO = true
			}
			return n, nil
		}

		log.Warn("socket write failed")
		log.Debugf("socket write error: %v", err)

		if attempts > 1 && t.reconnect("write", err) {
			continue
		}
		t.Close()
		return 0, ioErr("write", err)
	}
	return 0, ioErr("write", errors.New("retries exhausted"))
}

func (t *Transport) writeOnce(data []byte, flush bool, wait time.Duration) (int, error) {
	if t.conn == nil {
		return 0, ErrNotConnected
	}

	if wait > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(wait))
		defer t.conn.SetWriteDeadline(time.Time{})
	}

	n, err := t.bw.Write(data)
	if err == nil && flush {
		err = t.bw.Flush()
	}
	if err != nil {
		if isTimeout(err) {
			return n, errors.New("timed out during write")
		}
		if errors.Is(err, io.ErrShortWrite) || errors.Is(err, io.EOF) {
			return n, errors.New("connection lost during write")
		}
		return n, err
	}
	return n, nil
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
